package discover

import (
	"context"
	"errors"
	"testing"
	"time"

	"smudbg/config"
	"smudbg/smu/smuio"
)

const simVersion uint32 = 0x002E3600

var (
	simTriple = smuio.Triple{Cmd: 0x03B10524, Rsp: 0x03B10570, Arg: 0x03B10A40}
	simRange  = config.ScanRange{Start: 0x03B10500, End: 0x03B10AFF, Step: 4, RspOffset: 0x4C}
)

func simScanner(profile smuio.SimProfile, extra ...*smuio.SimBox) (*smuio.SimGateway, *Scanner) {
	profile.Version = simVersion
	boxes := append([]*smuio.SimBox{{Triple: simTriple, Profile: profile}}, extra...)
	gw := smuio.NewSimGateway(smuio.DriverInfo{}, boxes...)

	sc := NewScanner(gw, simVersion)
	sc.AcknowledgeRisk = true
	sc.SetSleep(func(time.Duration) {})
	sc.SetPollBudget(64, 0)
	return gw, sc
}

func TestScanRequiresAcknowledgement(t *testing.T) {
	_, sc := simScanner(smuio.SimProfile{})
	sc.AcknowledgeRisk = false

	if _, err := sc.Scan(context.Background(), []config.ScanRange{simRange}); !errors.Is(err, ErrRiskNotAcknowledged) {
		t.Fatalf("err = %v, want ErrRiskNotAcknowledged", err)
	}
}

func TestScanRequiresProbeValue(t *testing.T) {
	gw, _ := simScanner(smuio.SimProfile{})
	sc := NewScanner(gw, 0)
	sc.AcknowledgeRisk = true

	if _, err := sc.Scan(context.Background(), []config.ScanRange{simRange}); !errors.Is(err, ErrNoProbeValue) {
		t.Fatalf("err = %v, want ErrNoProbeValue", err)
	}
}

func TestScanFindsMailbox(t *testing.T) {
	_, sc := simScanner(smuio.SimProfile{})

	found, err := sc.Scan(context.Background(), []config.ScanRange{simRange})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d mailboxes, want 1", len(found))
	}
	if found[0].Triple != simTriple {
		t.Fatalf("triple = %+v, want %+v", found[0].Triple, simTriple)
	}
	if got := sc.Results(); len(got) != 1 || got[0].Triple != simTriple {
		t.Fatalf("results not retained: %+v", got)
	}
}

// A pair whose version confirmation fails must never make it to phase 2.
func TestScanRejectsFailedConfirmation(t *testing.T) {
	_, sc := simScanner(smuio.SimProfile{FailVersion: true})

	found, err := sc.Scan(context.Background(), []config.ScanRange{simRange})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("found %d mailboxes, want 0", len(found))
	}
}

// One good echo round is not enough; all rounds must pass.
func TestScanRejectsPartialEcho(t *testing.T) {
	_, sc := simScanner(smuio.SimProfile{EchoLimit: 1})

	found, err := sc.Scan(context.Background(), []config.ScanRange{simRange})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("found %d mailboxes, want 0 after a failed echo round", len(found))
	}
}

// A second mailbox that answers the version probe but never echoes is a
// coincidental match and must be filtered out by the echo rounds. Its
// candidate window sits 12 bytes below the genuine response register, so
// this also guards against echo probing trampling neighboring mailboxes:
// writing the full argument block at the decoy's candidate would zero the
// genuine RSP register and knock the genuine mailbox out of the scan.
func TestScanRejectsDecoyMailbox(t *testing.T) {
	decoy := &smuio.SimBox{
		Triple:  smuio.Triple{Cmd: 0x03B10508, Rsp: 0x03B10560, Arg: 0x03B10564},
		Profile: smuio.SimProfile{Version: simVersion, EchoLimit: -1},
	}
	gw, sc := simScanner(smuio.SimProfile{}, decoy)

	found, err := sc.Scan(context.Background(), []config.ScanRange{simRange})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("found %d mailboxes, want only the genuine one", len(found))
	}
	if found[0].Triple != simTriple {
		t.Fatalf("triple = %+v, want %+v", found[0].Triple, simTriple)
	}

	// The genuine mailbox must come out of the scan still answering.
	mb := smuio.NewMailbox(gw, simTriple)
	mb.SetSleep(func(time.Duration) {})
	mb.SetPollBudget(64, 0)
	st, out, err := mb.Exchange(smuio.CMD_GET_VERSION, smuio.Args{})
	if err != nil || st != smuio.RSP_OK || out[0] != simVersion {
		t.Fatalf("mailbox unresponsive after scan: status %s out %v err %v",
			smuio.StatusText(st), out, err)
	}
}

func TestScanHonorsCancellation(t *testing.T) {
	_, sc := simScanner(smuio.SimProfile{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	found, err := sc.Scan(ctx, []config.ScanRange{simRange})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(found) != 0 {
		t.Fatalf("cancelled scan reported %d results", len(found))
	}
}

func TestScanResetsBetweenRuns(t *testing.T) {
	_, sc := simScanner(smuio.SimProfile{})
	ranges := []config.ScanRange{simRange}

	if _, err := sc.Scan(context.Background(), ranges); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	found, err := sc.Scan(context.Background(), ranges)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("second scan accumulated stale results: %d", len(found))
	}
}
