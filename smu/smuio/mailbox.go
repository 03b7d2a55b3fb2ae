package smuio

import (
	"fmt"
	"sync"
	"time"

	"smudbg/log"
)

// Poll budget defaults. Worst case per phase is maxAttempts * pollInterval
// (8192 * 100us ~ 0.82s); a full exchange has two poll phases.
const (
	DefaultPollAttempts = 8192
	DefaultPollInterval = 100 * time.Microsecond
)

// Mailbox runs single request/response exchanges against one register
// triple. The protocol has no request identifiers and no pipelining, so a
// mutex keeps all exchanges on one logical timeline per triple.
type Mailbox struct {
	gw     Gateway
	triple Triple

	attempts int
	interval time.Duration
	sleep    func(time.Duration)

	mu sync.Mutex
}

// NewMailbox returns a mailbox with the default poll budget.
func NewMailbox(gw Gateway, t Triple) *Mailbox {
	return &Mailbox{
		gw:       gw,
		triple:   t,
		attempts: DefaultPollAttempts,
		interval: DefaultPollInterval,
		sleep:    time.Sleep,
	}
}

// SetPollBudget overrides the per-phase retry count and poll spacing.
func (mb *Mailbox) SetPollBudget(attempts int, interval time.Duration) {
	mb.attempts = attempts
	mb.interval = interval
}

// SetSleep swaps the inter-poll delay; tests use a no-op to run timeout
// scenarios without real time passing.
func (mb *Mailbox) SetSleep(fn func(time.Duration)) {
	mb.sleep = fn
}

// Triple reports the addresses this mailbox is bound to.
func (mb *Mailbox) Triple() Triple {
	return mb.triple
}

// pollNonzero reads the response register until it holds a nonzero value or
// the attempt budget runs out. Zero means a command is still in flight.
func (mb *Mailbox) pollNonzero() (uint32, error) {
	for i := 0; i < mb.attempts; i++ {
		val, err := mb.gw.ReadRegister(mb.triple.Rsp)
		if err != nil {
			return 0, fmt.Errorf("%w: read rsp 0x%08X: %v", ErrRegisterIO, mb.triple.Rsp, err)
		}
		if val != 0 {
			return val, nil
		}
		mb.sleep(mb.interval)
	}
	return RSP_TIMEOUT, nil
}

// Exchange runs one full exchange: wait-ready, clear, write args, trigger,
// wait-response. It returns the vendor status and, on RSP_OK with a known
// argument base, the six response argument slots. Register I/O failures
// abort immediately and are reported as an error distinct from any status.
func (mb *Mailbox) Exchange(code uint32, args Args) (uint32, Args, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.exchangeLocked(code, args, NumArgs)
}

// ExchangeArgs writes only the first nargs argument slots before
// triggering. Discovery probes unverified argument bases with it: a full
// six-slot write against a mere candidate can land on live registers past
// the candidate window.
func (mb *Mailbox) ExchangeArgs(code uint32, args Args, nargs int) (uint32, Args, error) {
	if nargs < 0 {
		nargs = 0
	}
	if nargs > NumArgs {
		nargs = NumArgs
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.exchangeLocked(code, args, nargs)
}

func (mb *Mailbox) exchangeLocked(code uint32, args Args, nargs int) (uint32, Args, error) {
	var out Args

	// WAIT_READY: a zero response register means a previous command has not
	// resolved yet. Each phase has its own budget; retries never span phases.
	st, err := mb.pollNonzero()
	if err != nil {
		return 0, out, err
	}
	if st == RSP_TIMEOUT {
		log.Debugf("mailbox 0x%08X: stale transaction never resolved", mb.triple.Cmd)
		return RSP_TIMEOUT, out, nil
	}

	// CLEAR
	if err := mb.gw.WriteRegister(mb.triple.Rsp, 0); err != nil {
		return 0, out, fmt.Errorf("%w: clear rsp 0x%08X: %v", ErrRegisterIO, mb.triple.Rsp, err)
	}

	// WRITE_ARGS
	if mb.triple.Arg != ArgUnknown {
		for i := 0; i < nargs; i++ {
			addr := mb.triple.Arg + uint32(i*4)
			if err := mb.gw.WriteRegister(addr, args[i]); err != nil {
				return 0, out, fmt.Errorf("%w: write arg%d 0x%08X: %v", ErrRegisterIO, i, addr, err)
			}
		}
	}

	// TRIGGER: the command write is what the hardware interprets as
	// "execute now".
	if err := mb.gw.WriteRegister(mb.triple.Cmd, code); err != nil {
		return 0, out, fmt.Errorf("%w: write cmd 0x%08X: %v", ErrRegisterIO, mb.triple.Cmd, err)
	}

	// WAIT_RESPONSE
	st, err = mb.pollNonzero()
	if err != nil {
		return 0, out, err
	}
	if st == RSP_TIMEOUT {
		return RSP_TIMEOUT, out, nil
	}

	if st == RSP_OK && mb.triple.Arg != ArgUnknown {
		for i := 0; i < NumArgs; i++ {
			addr := mb.triple.Arg + uint32(i*4)
			val, err := mb.gw.ReadRegister(addr)
			if err != nil {
				return 0, out, fmt.Errorf("%w: read arg%d 0x%08X: %v", ErrRegisterIO, i, addr, err)
			}
			out[i] = val
		}
	}

	return st, out, nil
}

// MailboxSet is the per-kind mailbox collection a platform exposes.
type MailboxSet struct {
	boxes map[Kind]*Mailbox
}

// NewMailboxSet binds a mailbox to each known triple.
func NewMailboxSet(gw Gateway, triples map[Kind]Triple) *MailboxSet {
	boxes := make(map[Kind]*Mailbox, len(triples))
	for kind, t := range triples {
		boxes[kind] = NewMailbox(gw, t)
	}
	return &MailboxSet{boxes: boxes}
}

// Get returns the mailbox for a kind, or nil if the platform has none.
func (ms *MailboxSet) Get(kind Kind) *Mailbox {
	return ms.boxes[kind]
}

// SetPollBudget applies one retry budget to every mailbox in the set.
func (ms *MailboxSet) SetPollBudget(attempts int, interval time.Duration) {
	for _, mb := range ms.boxes {
		mb.SetPollBudget(attempts, interval)
	}
}

// Run executes one transaction on the selected mailbox kind.
func (ms *MailboxSet) Run(code uint32, kind Kind, args Args) (uint32, Args, error) {
	mb := ms.boxes[kind]
	if mb == nil {
		return 0, Args{}, fmt.Errorf("no %s mailbox on this platform", kind)
	}
	return mb.Exchange(code, args)
}
