// Package dialect maps abstract tuning operations onto the platform's
// concrete command codes, argument layouts and core-mask encoding.
package dialect

import (
	"errors"
	"fmt"

	"smudbg/log"
	"smudbg/smu/platform"
	"smudbg/smu/smuio"
)

// Margin (curve-optimizer offset) bounds, shared by every dialect.
const (
	MarginMin = -60
	MarginMax = 10
)

// Frequency-limit sanity bounds in MHz.
const (
	FmaxMin = 400
	FmaxMax = 8000
)

// Command codes. Get-margin has no universal code; the per-platform table
// picks one, and unknown platforms brute-force the whole list.
const (
	CMD_GET_FMAX          uint32 = 0x6E
	CMD_SET_FMAX_LEGACY   uint32 = 0x5C
	CMD_SET_FMAX_COMBINED uint32 = 0x70

	CMD_SET_MARGIN_LEGACY   uint32 = 0x76
	CMD_SET_MARGIN_COMBINED uint32 = 0x06

	CMD_GET_MARGIN_ZEN3       uint32 = 0x7C
	CMD_GET_MARGIN_ZEN45      uint32 = 0xD5
	CMD_GET_MARGIN_SP         uint32 = 0xA3
	CMD_GET_MARGIN_PHOENIX    uint32 = 0xE1
	CMD_GET_MARGIN_CEZANNE    uint32 = 0xC3
	CMD_GET_MARGIN_LEGACY     uint32 = 0x77
	CMD_GET_MARGIN_LEGACY_ALT uint32 = 0x78
)

// marginFallbackCmds is the brute-force order for platforms with no known
// get-margin command.
var marginFallbackCmds = []uint32{
	CMD_GET_MARGIN_ZEN45,
	CMD_GET_MARGIN_ZEN3,
	CMD_GET_MARGIN_SP,
	CMD_GET_MARGIN_PHOENIX,
	CMD_GET_MARGIN_CEZANNE,
	CMD_GET_MARGIN_LEGACY,
	CMD_GET_MARGIN_LEGACY_ALT,
}

var (
	// ErrOutOfRange rejects a value before any hardware write happens.
	ErrOutOfRange = errors.New("value out of supported range")

	// ErrUnsupportedPlatform means no command variant produced an in-range
	// answer, even after the brute-force fallback.
	ErrUnsupportedPlatform = errors.New("no dialect mapping answered for this platform")
)

// Descriptor is the data table entry that replaces per-platform branching:
// adding a platform is a table addition, not new control flow.
type Descriptor struct {
	GetMarginCmd uint32 // 0 = unknown, use the fallback list
	SetMarginCmd uint32
	Combined     bool // single combined set argument instead of {mask, margin}
	GetFmaxCmd   uint32
	SetFmaxCmd   uint32
	ChipletMask  bool
}

// Lookup returns the dialect descriptor for a codename.
func Lookup(cn platform.Codename) Descriptor {
	d := Descriptor{
		SetMarginCmd: CMD_SET_MARGIN_LEGACY,
		GetFmaxCmd:   CMD_GET_FMAX,
		SetFmaxCmd:   CMD_SET_FMAX_LEGACY,
		ChipletMask:  !cn.FlatCoreIndex(),
	}
	switch cn {
	case platform.CastlePeak, platform.Matisse, platform.Vermeer,
		platform.Milan, platform.Chagall:
		d.GetMarginCmd = CMD_GET_MARGIN_ZEN3
	case platform.Raphael, platform.GraniteRidge, platform.StormPeak,
		platform.StrixPoint, platform.StrixHalo, platform.HawkPoint,
		platform.Rembrandt:
		d.GetMarginCmd = CMD_GET_MARGIN_ZEN45
		d.SetMarginCmd = CMD_SET_MARGIN_COMBINED
		d.SetFmaxCmd = CMD_SET_FMAX_COMBINED
		d.Combined = true
	case platform.ShimadaPeak:
		// Get uses the ShimadaPeak-specific code; set stays on the legacy
		// {mask, margin} pair.
		d.GetMarginCmd = CMD_GET_MARGIN_SP
	case platform.Phoenix:
		d.GetMarginCmd = CMD_GET_MARGIN_PHOENIX
	case platform.Cezanne:
		d.GetMarginCmd = CMD_GET_MARGIN_CEZANNE
	}
	return d
}

// Resolver executes tuning operations on the primary mailbox. It performs
// no retries of its own; timeouts and I/O errors propagate unchanged.
type Resolver struct {
	id *platform.Identity
	d  Descriptor
	mb *smuio.Mailbox
}

// NewResolver binds the platform's dialect to its primary mailbox.
func NewResolver(id *platform.Identity, mb *smuio.Mailbox) *Resolver {
	return &Resolver{id: id, d: Lookup(id.Codename), mb: mb}
}

// Descriptor exposes the resolved dialect table entry.
func (r *Resolver) Descriptor() Descriptor {
	return r.d
}

// EncodeCoreMask encodes a physical core index for the platform's topology
// class. Distinct cores always produce distinct masks within a family.
func (r *Resolver) EncodeCoreMask(core int) (uint32, error) {
	if core < 0 {
		return 0, fmt.Errorf("%w: core %d", ErrOutOfRange, core)
	}
	if phys := r.id.Topology.PhysCores; phys > 0 && uint32(core) >= phys {
		return 0, fmt.Errorf("%w: core %d of %d", ErrOutOfRange, core, phys)
	}
	if !r.d.ChipletMask {
		return uint32(core), nil
	}
	chiplet := core / 8
	local := core % 8
	return uint32((chiplet<<8 | local) << 20), nil
}

// EncodeCombinedMargin folds a core mask and a margin into the single
// combined set argument.
func EncodeCombinedMargin(mask uint32, margin int) uint32 {
	return (mask & 0xFFF00000) | (uint32(uint16(int16(margin))) & 0xFFFF)
}

// DecodeCombinedMargin recovers the signed margin from a combined value.
func DecodeCombinedMargin(v uint32) int {
	return int(int16(v & 0xFFFF))
}

func (r *Resolver) exchange(code uint32, args smuio.Args) (smuio.Args, error) {
	st, out, err := r.mb.Exchange(code, args)
	if err != nil {
		return out, err
	}
	if err := smuio.StatusErr(st); err != nil {
		return out, fmt.Errorf("cmd 0x%02X: %w", code, err)
	}
	return out, nil
}

// FrequencyLimit reads the all-core frequency limit in MHz.
func (r *Resolver) FrequencyLimit() (uint32, error) {
	out, err := r.exchange(r.d.GetFmaxCmd, smuio.Args{})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// SetFrequencyLimit writes the all-core frequency limit in MHz.
func (r *Resolver) SetFrequencyLimit(mhz uint32) error {
	if mhz < FmaxMin || mhz > FmaxMax {
		return fmt.Errorf("%w: %d MHz", ErrOutOfRange, mhz)
	}
	_, err := r.exchange(r.d.SetFmaxCmd, smuio.Args{mhz})
	return err
}

// SetMargin applies a per-core margin. The range check happens before
// anything reaches the hardware; applying a margin changes live
// clock/voltage behavior.
func (r *Resolver) SetMargin(core, margin int) error {
	if margin < MarginMin || margin > MarginMax {
		return fmt.Errorf("%w: margin %d", ErrOutOfRange, margin)
	}
	mask, err := r.EncodeCoreMask(core)
	if err != nil {
		return err
	}

	var args smuio.Args
	if r.d.Combined {
		args[0] = EncodeCombinedMargin(mask, margin)
	} else {
		args[0] = mask
		args[1] = uint32(int32(margin))
	}
	if _, err := r.exchange(r.d.SetMarginCmd, args); err != nil {
		return err
	}
	log.Debugf("core %d margin set to %d", core, margin)
	return nil
}

// tryGetMargin issues one get-margin command and interprets args[0] first as
// a direct signed value, then as the signed low 16 bits of the combined
// format; the first in-range interpretation wins. inRange is false when the
// command resolved but produced nothing usable.
func (r *Resolver) tryGetMargin(cmd, arg0 uint32) (margin int, inRange bool, err error) {
	st, out, err := r.mb.Exchange(cmd, smuio.Args{arg0})
	if err != nil {
		return 0, false, err
	}
	if st != smuio.RSP_OK {
		return 0, false, nil
	}
	if v := int(int32(out[0])); v >= MarginMin && v <= MarginMax {
		return v, true, nil
	}
	if v := DecodeCombinedMargin(out[0]); v >= MarginMin && v <= MarginMax {
		return v, true, nil
	}
	return 0, false, nil
}

// Margin reads a per-core margin. A zero answer is accepted as genuine only
// after every command/format attempt produced no nonzero in-range result;
// an early stale zero must not mask the true value from a later, correct
// attempt.
func (r *Resolver) Margin(core int) (int, error) {
	mask, err := r.EncodeCoreMask(core)
	if err != nil {
		return 0, err
	}
	variants := [2]uint32{mask, uint32(core)}
	gotZero := false

	if r.d.GetMarginCmd != 0 {
		// Known platform: only its command is trusted. Other command IDs
		// can return stale in-range garbage that hides the real value.
		for _, arg0 := range variants {
			m, ok, err := r.tryGetMargin(r.d.GetMarginCmd, arg0)
			if err != nil {
				return 0, err
			}
			if ok && m != 0 {
				return m, nil
			}
			if ok {
				gotZero = true
			}
		}
		if gotZero {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: get-margin 0x%02X", ErrUnsupportedPlatform, r.d.GetMarginCmd)
	}

	for _, arg0 := range variants {
		for _, cmd := range marginFallbackCmds {
			m, ok, err := r.tryGetMargin(cmd, arg0)
			if err != nil {
				return 0, err
			}
			if ok && m != 0 {
				return m, nil
			}
			if ok {
				gotZero = true
			}
		}
	}
	if gotZero {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: get-margin fallback exhausted", ErrUnsupportedPlatform)
}
