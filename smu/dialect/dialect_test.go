package dialect

import (
	"errors"
	"testing"
	"time"

	"smudbg/smu/platform"
	"smudbg/smu/smuio"
)

var testTriple = smuio.Triple{Cmd: 0x03B10524, Rsp: 0x03B10570, Arg: 0x03B10A40}

// countingGateway records writes so tests can assert nothing reached the
// hardware.
type countingGateway struct {
	smuio.Gateway
	writes int
}

func (cg *countingGateway) WriteRegister(addr, value uint32) error {
	cg.writes++
	return cg.Gateway.WriteRegister(addr, value)
}

func simFor(cn platform.Codename, phys uint32, profile smuio.SimProfile) (*countingGateway, *Resolver) {
	box := &smuio.SimBox{Triple: testTriple, Profile: profile}
	cg := &countingGateway{Gateway: smuio.NewSimGateway(smuio.DriverInfo{}, box)}

	mb := smuio.NewMailbox(cg, testTriple)
	mb.SetSleep(func(time.Duration) {})
	mb.SetPollBudget(64, 0)

	id := &platform.Identity{
		Codename: cn,
		Topology: platform.Topology{PhysCores: phys},
	}
	return cg, NewResolver(id, mb)
}

func legacyProfile() smuio.SimProfile {
	return smuio.SimProfile{
		GetFmaxCmd:   CMD_GET_FMAX,
		SetFmaxCmd:   CMD_SET_FMAX_LEGACY,
		GetMarginCmd: CMD_GET_MARGIN_ZEN3,
		SetMarginCmd: CMD_SET_MARGIN_LEGACY,
	}
}

func combinedProfile() smuio.SimProfile {
	return smuio.SimProfile{
		GetFmaxCmd:   CMD_GET_FMAX,
		SetFmaxCmd:   CMD_SET_FMAX_COMBINED,
		GetMarginCmd: CMD_GET_MARGIN_ZEN45,
		SetMarginCmd: CMD_SET_MARGIN_COMBINED,
		Combined:     true,
	}
}

func TestEncodeCoreMaskChiplet(t *testing.T) {
	_, r := simFor(platform.Matisse, 16, legacyProfile())

	cases := []struct {
		core int
		want uint32
	}{
		{0, 0x00000000},
		{7, 0x00700000},
		{8, 0x10000000},
		{9, 0x10100000},
		{15, 0x10700000},
	}
	for _, tc := range cases {
		got, err := r.EncodeCoreMask(tc.core)
		if err != nil {
			t.Fatalf("core %d: %v", tc.core, err)
		}
		if got != tc.want {
			t.Fatalf("core %d: mask 0x%08X, want 0x%08X", tc.core, got, tc.want)
		}
	}

	seen := make(map[uint32]int)
	for core := 0; core < 16; core++ {
		mask, err := r.EncodeCoreMask(core)
		if err != nil {
			t.Fatalf("core %d: %v", core, err)
		}
		if prev, dup := seen[mask]; dup {
			t.Fatalf("cores %d and %d collide on mask 0x%08X", prev, core, mask)
		}
		seen[mask] = core
	}
}

func TestEncodeCoreMaskMonolithic(t *testing.T) {
	_, r := simFor(platform.Cezanne, 8, legacyProfile())
	for core := 0; core < 8; core++ {
		mask, err := r.EncodeCoreMask(core)
		if err != nil {
			t.Fatalf("core %d: %v", core, err)
		}
		if mask != uint32(core) {
			t.Fatalf("core %d: mask 0x%X, want raw index", core, mask)
		}
	}
}

func TestEncodeCoreMaskBounds(t *testing.T) {
	_, r := simFor(platform.Matisse, 12, legacyProfile())
	if _, err := r.EncodeCoreMask(12); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("core 12 of 12: err = %v, want ErrOutOfRange", err)
	}
	if _, err := r.EncodeCoreMask(-1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("core -1: err = %v, want ErrOutOfRange", err)
	}

	// Unknown core count disables the bound check entirely.
	_, r = simFor(platform.Matisse, 0, legacyProfile())
	if _, err := r.EncodeCoreMask(63); err != nil {
		t.Fatalf("bound check should be off with unknown topology: %v", err)
	}
}

// On combined-dialect parts the set argument keeps only bits 20-31 of the
// mask, so the mask encoding must put the core identity there. Each core
// must yield a distinct set argument.
func TestCombinedSetArgKeepsCoreIdentity(t *testing.T) {
	for _, cn := range []platform.Codename{platform.StrixPoint, platform.StrixHalo, platform.Raphael} {
		_, r := simFor(cn, 12, combinedProfile())
		seen := make(map[uint32]int)
		for core := 0; core < 12; core++ {
			mask, err := r.EncodeCoreMask(core)
			if err != nil {
				t.Fatalf("%s core %d: %v", cn, core, err)
			}
			arg := EncodeCombinedMargin(mask, -20)
			if prev, dup := seen[arg]; dup {
				t.Fatalf("%s: cores %d and %d share set argument 0x%08X", cn, prev, core, arg)
			}
			seen[arg] = core
		}
	}
}

func TestCombinedMarginRoundTrip(t *testing.T) {
	const mask = 0x10100000
	for margin := MarginMin; margin <= MarginMax; margin++ {
		v := EncodeCombinedMargin(mask, margin)
		if v&0xFFF00000 != mask {
			t.Fatalf("margin %d: mask bits clobbered: 0x%08X", margin, v)
		}
		if got := DecodeCombinedMargin(v); got != margin {
			t.Fatalf("margin %d decoded as %d (0x%08X)", margin, got, v)
		}
	}
}

func TestSetMarginRejectedBeforeAnyWrite(t *testing.T) {
	for _, margin := range []int{MarginMax + 1, MarginMin - 1, 100, -100} {
		cg, r := simFor(platform.Matisse, 16, legacyProfile())
		err := r.SetMargin(0, margin)
		if !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("margin %d: err = %v, want ErrOutOfRange", margin, err)
		}
		if cg.writes != 0 {
			t.Fatalf("margin %d: %d register writes reached the hardware", margin, cg.writes)
		}
	}
}

func TestSetGetMarginLegacy(t *testing.T) {
	_, r := simFor(platform.Matisse, 16, legacyProfile())

	if err := r.SetMargin(2, -15); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := r.Margin(2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != -15 {
		t.Fatalf("margin = %d, want -15", got)
	}
}

func TestSetGetMarginCombined(t *testing.T) {
	_, r := simFor(platform.Raphael, 16, combinedProfile())

	if err := r.SetMargin(9, -20); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := r.Margin(9)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != -20 {
		t.Fatalf("margin = %d, want -20", got)
	}
}

// An untouched core must read back as a genuine zero, not as an error, once
// every attempt agreed on zero.
func TestMarginZeroAfterExhaustion(t *testing.T) {
	_, r := simFor(platform.Matisse, 16, legacyProfile())
	got, err := r.Margin(5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 0 {
		t.Fatalf("margin = %d, want 0", got)
	}
}

func TestMarginUnsupportedPlatform(t *testing.T) {
	// The box serves no get-margin command at all, so every attempt comes
	// back UnknownCmd.
	profile := legacyProfile()
	profile.GetMarginCmd = 0
	_, r := simFor(platform.Matisse, 16, profile)

	if _, err := r.Margin(0); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("err = %v, want ErrUnsupportedPlatform", err)
	}
}

// Unknown codenames have no table entry and fall back to brute force.
func TestMarginBruteForceFallback(t *testing.T) {
	profile := smuio.SimProfile{
		GetMarginCmd: CMD_GET_MARGIN_LEGACY,
		SetMarginCmd: CMD_SET_MARGIN_LEGACY,
	}
	_, r := simFor(platform.Unknown, 0, profile)
	if r.Descriptor().GetMarginCmd != 0 {
		t.Fatalf("unknown codename should have no get-margin command")
	}

	if err := r.SetMargin(3, -10); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := r.Margin(3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != -10 {
		t.Fatalf("margin = %d, want -10", got)
	}
}

func TestFrequencyLimitRoundTrip(t *testing.T) {
	_, r := simFor(platform.Matisse, 16, legacyProfile())

	if err := r.SetFrequencyLimit(4400); err != nil {
		t.Fatalf("set: %v", err)
	}
	mhz, err := r.FrequencyLimit()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if mhz != 4400 {
		t.Fatalf("fmax = %d, want 4400", mhz)
	}
}

func TestSetFrequencyLimitBounds(t *testing.T) {
	cg, r := simFor(platform.Matisse, 16, legacyProfile())
	for _, mhz := range []uint32{0, FmaxMin - 1, FmaxMax + 1} {
		if err := r.SetFrequencyLimit(mhz); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("%d MHz: err = %v, want ErrOutOfRange", mhz, err)
		}
	}
	if cg.writes != 0 {
		t.Fatalf("%d register writes reached the hardware", cg.writes)
	}
}

func TestLookupDialects(t *testing.T) {
	cases := []struct {
		cn       platform.Codename
		get      uint32
		combined bool
		chiplet  bool
	}{
		{platform.Matisse, CMD_GET_MARGIN_ZEN3, false, true},
		{platform.Vermeer, CMD_GET_MARGIN_ZEN3, false, true},
		{platform.Raphael, CMD_GET_MARGIN_ZEN45, true, true},
		{platform.StrixPoint, CMD_GET_MARGIN_ZEN45, true, true},
		{platform.StrixHalo, CMD_GET_MARGIN_ZEN45, true, true},
		{platform.ShimadaPeak, CMD_GET_MARGIN_SP, false, true},
		{platform.Phoenix, CMD_GET_MARGIN_PHOENIX, false, false},
		{platform.Cezanne, CMD_GET_MARGIN_CEZANNE, false, false},
		{platform.Unknown, 0, false, true},
	}
	for _, tc := range cases {
		d := Lookup(tc.cn)
		if d.GetMarginCmd != tc.get {
			t.Fatalf("%s: get cmd 0x%02X, want 0x%02X", tc.cn, d.GetMarginCmd, tc.get)
		}
		if d.Combined != tc.combined {
			t.Fatalf("%s: combined = %v", tc.cn, d.Combined)
		}
		if d.ChipletMask != tc.chiplet {
			t.Fatalf("%s: chiplet mask = %v", tc.cn, d.ChipletMask)
		}
	}
}
