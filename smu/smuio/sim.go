package smuio

import (
	"fmt"
	"sync"
)

// SimProfile shapes how a simulated mailbox answers commands. Command codes
// left zero are not served and fall through to RSP_UNKNOWN_CMD.
type SimProfile struct {
	Version      uint32 // value CMD_GET_VERSION deposits in arg slot 0
	GetFmaxCmd   uint32
	SetFmaxCmd   uint32
	GetMarginCmd uint32
	SetMarginCmd uint32
	Combined     bool // margin set/get use the single combined argument

	Hang        bool // response register never leaves zero
	FailVersion bool // CMD_GET_VERSION resolves with RSP_FAILED
	EchoLimit   int  // >0: echo rounds that behave before the slot goes stale
}

// SimBox is one simulated mailbox: a triple plus the behavior behind it.
type SimBox struct {
	Triple  Triple
	Profile SimProfile

	fmax      uint32
	margins   map[uint32]int32
	echoCount int
}

// SimGateway is a deterministic in-memory Gateway. Unbacked addresses read
// as UnmappedValue, matching real unmapped register space. It exists as
// non-test code: tests in every core package and the tool's --sim mode run
// against it.
type SimGateway struct {
	mu    sync.Mutex
	regs  map[uint32]uint32
	boxes []*SimBox

	table []byte
	info  DriverInfo

	readFail  map[uint32]bool
	tableFail bool
}

// NewSimGateway builds a gateway with the given identification and mailboxes.
func NewSimGateway(info DriverInfo, boxes ...*SimBox) *SimGateway {
	gw := &SimGateway{
		regs:     make(map[uint32]uint32),
		info:     info,
		readFail: make(map[uint32]bool),
	}
	for _, box := range boxes {
		box.margins = make(map[uint32]int32)
		gw.boxes = append(gw.boxes, box)
		gw.regs[box.Triple.Cmd] = 0
		if box.Profile.Hang {
			gw.regs[box.Triple.Rsp] = 0
		} else {
			gw.regs[box.Triple.Rsp] = RSP_OK // idle mailboxes retain their last status
		}
		for i := uint32(0); i < NumArgs; i++ {
			gw.regs[box.Triple.Arg+i*4] = 0
		}
	}
	return gw
}

// SetTable installs the telemetry table bytes.
func (gw *SimGateway) SetTable(table []byte) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.table = table
}

// SetFmax seeds a box's frequency limit.
func (box *SimBox) SetFmax(mhz uint32) {
	box.fmax = mhz
}

// Preload plants a raw register value, e.g. a decoy that coincidentally
// matches a firmware version during discovery.
func (gw *SimGateway) Preload(addr, value uint32) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.regs[addr] = value
}

// FailReads makes reads of addr return a gateway error.
func (gw *SimGateway) FailReads(addr uint32) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.readFail[addr] = true
}

// FailTable toggles telemetry snapshot failures.
func (gw *SimGateway) FailTable(fail bool) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.tableFail = fail
}

func (gw *SimGateway) ReadRegister(addr uint32) (uint32, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.readFail[addr] {
		return 0, fmt.Errorf("simulated read fault at 0x%08X", addr)
	}
	if val, ok := gw.regs[addr]; ok {
		return val, nil
	}
	return UnmappedValue, nil
}

func (gw *SimGateway) WriteRegister(addr, value uint32) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.regs[addr] = value
	for _, box := range gw.boxes {
		if addr == box.Triple.Cmd {
			gw.execute(box, value)
		}
	}
	return nil
}

func (gw *SimGateway) ReadTelemetryTable(buf []byte) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.tableFail {
		return fmt.Errorf("simulated telemetry fault")
	}
	if gw.table == nil {
		return fmt.Errorf("no telemetry table configured")
	}
	if len(buf) > len(gw.table) {
		return fmt.Errorf("telemetry read of %d bytes exceeds table of %d", len(buf), len(gw.table))
	}
	copy(buf, gw.table)
	return nil
}

func (gw *SimGateway) Identify() (DriverInfo, error) {
	return gw.info, nil
}

// execute resolves a triggered command synchronously, the way the real
// firmware does between two polls.
func (gw *SimGateway) execute(box *SimBox, code uint32) {
	p := box.Profile
	if p.Hang {
		gw.regs[box.Triple.Rsp] = 0
		return
	}

	arg0 := gw.regs[box.Triple.Arg]
	status := RSP_OK

	switch {
	case code == CMD_TEST_MESSAGE:
		box.echoCount++
		if p.EchoLimit == 0 || box.echoCount <= p.EchoLimit {
			gw.regs[box.Triple.Arg] = arg0 + 1
		}
	case code == CMD_GET_VERSION:
		if p.FailVersion {
			status = RSP_FAILED
			break
		}
		gw.regs[box.Triple.Arg] = p.Version
	case p.GetFmaxCmd != 0 && code == p.GetFmaxCmd:
		gw.regs[box.Triple.Arg] = box.fmax
	case p.SetFmaxCmd != 0 && code == p.SetFmaxCmd:
		box.fmax = arg0
	case p.SetMarginCmd != 0 && code == p.SetMarginCmd:
		if p.Combined {
			box.margins[arg0&0xFFF00000] = int32(int16(arg0 & 0xFFFF))
		} else {
			box.margins[arg0] = int32(gw.regs[box.Triple.Arg+4])
		}
	case p.GetMarginCmd != 0 && code == p.GetMarginCmd:
		if p.Combined {
			m := box.margins[arg0&0xFFF00000]
			gw.regs[box.Triple.Arg] = (arg0 & 0xFFF00000) | uint32(uint16(int16(m)))
		} else {
			gw.regs[box.Triple.Arg] = uint32(box.margins[arg0])
		}
	default:
		status = RSP_UNKNOWN_CMD
	}

	gw.regs[box.Triple.Rsp] = status
}
