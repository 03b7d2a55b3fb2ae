// Package discover recovers mailbox register addresses by scanning, for
// boards and firmware revisions whose offsets are not known up front.
package discover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smudbg/config"
	"smudbg/log"
	"smudbg/smu/smuio"
)

const (
	// CMD_PROBE is the deliberately unknown command code used to elicit
	// RSP_UNKNOWN_CMD from a live command register.
	CMD_PROBE uint32 = 0xFF

	// Echo validation writes patterns derived from this base into argument
	// slot 0 and expects pattern+1 back.
	echoPattern uint32 = 0xFAFAFAFA

	// All echo rounds must pass; one coincidental match is not a mailbox.
	echoRounds = 3

	maxPairsPerRange = 64

	// MaxDiscovered bounds the validated-mailbox list per scan.
	MaxDiscovered = 32

	// settleDelay gives the firmware time to react to a bare command write
	// during phase 1, where no response polling happens yet.
	settleDelay = 10 * time.Millisecond
)

var (
	// ErrRiskNotAcknowledged gates scanning: writing arbitrary command
	// codes into unidentified registers can destabilize the firmware, so
	// the operator has to opt in explicitly.
	ErrRiskNotAcknowledged = errors.New("discovery scan requires explicit risk acknowledgement")

	// ErrNoProbeValue means the firmware version probe value is missing,
	// leaving phase 2 with nothing to match argument registers against.
	ErrNoProbeValue = errors.New("no firmware version value to probe with")
)

// Discovered is a fully validated mailbox triple.
type Discovered struct {
	Triple smuio.Triple

	// Range records which scan window produced the triple.
	Range config.ScanRange
}

type pair struct {
	cmd uint32
	rsp uint32
}

// Scanner runs discovery scans. Candidates are transient; only triples that
// pass both the unknown-command test and the echo validation survive a pass.
type Scanner struct {
	gw smuio.Gateway

	// version is the raw firmware version; phase 2 looks for an argument
	// register holding it after a GetVersion call.
	version uint32

	// AcknowledgeRisk must be set by the operator before Scan will run.
	AcknowledgeRisk bool

	pollAttempts int
	pollInterval time.Duration
	sleep        func(time.Duration)

	results []Discovered
}

// NewScanner builds a scanner probing with the given firmware version value.
func NewScanner(gw smuio.Gateway, version uint32) *Scanner {
	return &Scanner{
		gw:           gw,
		version:      version,
		pollAttempts: smuio.DefaultPollAttempts,
		pollInterval: smuio.DefaultPollInterval,
		sleep:        time.Sleep,
	}
}

// SetPollBudget overrides the per-phase budget of the transient mailboxes
// the scanner drives.
func (sc *Scanner) SetPollBudget(attempts int, interval time.Duration) {
	sc.pollAttempts = attempts
	sc.pollInterval = interval
}

// SetSleep swaps all scan delays; tests use a no-op.
func (sc *Scanner) SetSleep(fn func(time.Duration)) {
	sc.sleep = fn
}

// Results returns the validated mailboxes from the most recent scan.
func (sc *Scanner) Results() []Discovered {
	return sc.results
}

func (sc *Scanner) mailbox(t smuio.Triple) *smuio.Mailbox {
	mb := smuio.NewMailbox(sc.gw, t)
	mb.SetPollBudget(sc.pollAttempts, sc.pollInterval)
	mb.SetSleep(sc.sleep)
	return mb
}

// Scan runs both discovery phases over the given windows. The result list
// resets at the start of each scan and is capped at MaxDiscovered.
// Cancellation is honored between addresses and pairs; an exchange already
// in flight runs to completion or timeout, since the hardware has been
// signaled.
func (sc *Scanner) Scan(ctx context.Context, ranges []config.ScanRange) ([]Discovered, error) {
	if !sc.AcknowledgeRisk {
		return nil, ErrRiskNotAcknowledged
	}
	if sc.version == 0 {
		return nil, ErrNoProbeValue
	}

	sc.results = sc.results[:0]
	for _, r := range ranges {
		if err := sc.scanRange(ctx, r); err != nil {
			return sc.results, err
		}
	}
	log.Infof("discovery: %d validated mailbox(es)", len(sc.results))
	return sc.results, nil
}

func (sc *Scanner) scanRange(ctx context.Context, r config.ScanRange) error {
	log.Infof("discovery: scanning 0x%08X-0x%08X step %d offset 0x%X",
		r.Start, r.End, r.Step, r.RspOffset)

	pairs, err := sc.findPairs(ctx, r)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		log.Infof("discovery: no command/response pairs in range 0x%08X", r.Start)
		return nil
	}

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(sc.results) >= MaxDiscovered {
			return nil
		}
		argAddr, found := sc.findArgAddr(r, p)
		if !found {
			continue
		}
		triple := smuio.Triple{Cmd: p.cmd, Rsp: p.rsp, Arg: argAddr}
		sc.results = append(sc.results, Discovered{Triple: triple, Range: r})
		log.Infof("discovery: validated mailbox CMD 0x%08X RSP 0x%08X ARG 0x%08X",
			triple.Cmd, triple.Rsp, triple.Arg)
	}
	return nil
}

// findPairs is phase 1: elicit RSP_UNKNOWN_CMD with a probe write, then
// confirm each candidate response address with GetVersion.
func (sc *Scanner) findPairs(ctx context.Context, r config.ScanRange) ([]pair, error) {
	var pairs []pair
	for addr := r.Start; addr <= r.End && len(pairs) < maxPairsPerRange; addr += r.Step {
		if err := ctx.Err(); err != nil {
			return pairs, err
		}

		regVal, err := sc.gw.ReadRegister(addr)
		if err != nil {
			continue
		}
		if regVal == smuio.UnmappedValue {
			continue
		}

		if err := sc.gw.WriteRegister(addr, CMD_PROBE); err != nil {
			continue
		}
		sc.sleep(settleDelay)

		for rspAddr := addr + r.RspOffset; rspAddr <= r.End; rspAddr += r.Step {
			rspVal, err := sc.gw.ReadRegister(rspAddr)
			if err != nil {
				break
			}
			if rspVal != smuio.RSP_UNKNOWN_CMD {
				continue
			}
			if !sc.confirmPair(addr, rspAddr) {
				continue
			}
			pairs = append(pairs, pair{cmd: addr, rsp: rspAddr})
			log.Infof("discovery: command/response pair CMD 0x%08X RSP 0x%08X", addr, rspAddr)
		}
	}
	return pairs, nil
}

// confirmPair requires GetVersion through the candidate pair to resolve OK,
// weeding out registers that merely happened to hold the unknown-command
// value.
func (sc *Scanner) confirmPair(cmdAddr, rspAddr uint32) bool {
	if err := sc.gw.WriteRegister(cmdAddr, smuio.CMD_GET_VERSION); err != nil {
		return false
	}
	sc.sleep(settleDelay)
	rspVal, err := sc.gw.ReadRegister(rspAddr)
	if err != nil {
		return false
	}
	return rspVal == smuio.RSP_OK
}

// findArgAddr is phase 2: GetVersion with no argument address loads the
// firmware version into the hardware's argument register, then the window
// past the response address is searched for that value and echo-validated.
func (sc *Scanner) findArgAddr(r config.ScanRange, p pair) (uint32, bool) {
	mb := sc.mailbox(smuio.Triple{Cmd: p.cmd, Rsp: p.rsp, Arg: smuio.ArgUnknown})
	st, _, err := mb.Exchange(smuio.CMD_GET_VERSION, smuio.Args{})
	if err != nil || st != smuio.RSP_OK {
		log.Warnf("discovery: pair CMD 0x%08X: version populate failed (%s, %v)",
			p.cmd, smuio.StatusText(st), err)
		return 0, false
	}

	for candidate := p.rsp + 4; candidate <= r.End; candidate += r.Step {
		val, err := sc.gw.ReadRegister(candidate)
		if err != nil {
			return 0, false
		}
		if val != sc.version {
			continue
		}
		if sc.validateEcho(p, candidate) {
			return candidate, true
		}
	}
	return 0, false
}

// validateEcho runs the 3-round argument round-trip test: write a distinct
// pattern into slot 0, issue TestMessage, require pattern+1 back. The rounds
// are conjunctive; a single failure rejects the candidate, since one value
// match can be coincidence. Only slot 0 is written: the candidate is
// unverified, and slots 1-5 of a false candidate can sit on another
// mailbox's live registers.
func (sc *Scanner) validateEcho(p pair, argAddr uint32) bool {
	mb := sc.mailbox(smuio.Triple{Cmd: p.cmd, Rsp: p.rsp, Arg: argAddr})
	for round := 0; round < echoRounds; round++ {
		testVal := echoPattern + uint32(round)
		st, out, err := mb.ExchangeArgs(smuio.CMD_TEST_MESSAGE, smuio.Args{testVal}, 1)
		if err != nil || st != smuio.RSP_OK {
			return false
		}
		if out[0] != testVal+1 {
			return false
		}
	}
	return true
}

// String renders a discovered triple for operator output.
func (d Discovered) String() string {
	return fmt.Sprintf("CMD 0x%08X RSP 0x%08X ARG 0x%08X", d.Triple.Cmd, d.Triple.Rsp, d.Triple.Arg)
}
