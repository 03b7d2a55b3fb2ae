// Package smuio talks to the supervisory control processor: raw register
// access through the kernel driver and the mailbox request/response protocol
// on top of it.
package smuio

import "errors"

// Vendor response codes as read from the response register. RSP_TIMEOUT is
// synthesized locally when a poll budget runs out.
const (
	RSP_OK              uint32 = 0x01
	RSP_FAILED          uint32 = 0xFF
	RSP_UNKNOWN_CMD     uint32 = 0xFE
	RSP_REJECTED_PREREQ uint32 = 0xFD
	RSP_REJECTED_BUSY   uint32 = 0xFC
	RSP_TIMEOUT         uint32 = 0xFB
)

// Well-known command codes shared by every mailbox revision.
const (
	CMD_TEST_MESSAGE uint32 = 0x01 // echoes arg0+1 back into arg slot 0
	CMD_GET_VERSION  uint32 = 0x02 // firmware version in arg0
)

const (
	// NumArgs is the fixed argument block size of every mailbox.
	NumArgs = 6

	// ArgUnknown marks a triple whose argument base has not been discovered.
	ArgUnknown uint32 = 0xFFFFFFFF

	// UnmappedValue is what an unbacked register region reads as.
	UnmappedValue uint32 = 0xFFFFFFFF
)

// Kind selects one of the control processor's mailboxes.
type Kind int

const (
	Primary   Kind = iota // RSMU
	Secondary             // MP1
	Tertiary              // HSMP
)

func (k Kind) String() string {
	switch k {
	case Primary:
		return "RSMU"
	case Secondary:
		return "MP1"
	case Tertiary:
		return "HSMP"
	default:
		return "unknown"
	}
}

// Triple is one mailbox's register addresses. Arg may be ArgUnknown.
type Triple struct {
	Cmd uint32
	Rsp uint32
	Arg uint32
}

// Args is the fixed-size argument block of a request or response.
type Args [NumArgs]uint32

// DriverInfo is the process-wide identification the driver exposes.
type DriverInfo struct {
	FWVersion    string
	IFVersion    int
	CodenameID   int
	TableVersion uint32
	TableBytes   uint32
}

// Gateway is the register access contract the rest of the tool is written
// against. The driver implements it for real hardware, SimGateway for tests
// and dry runs.
type Gateway interface {
	ReadRegister(addr uint32) (uint32, error)
	WriteRegister(addr, value uint32) error
	ReadTelemetryTable(buf []byte) error
	Identify() (DriverInfo, error)
}

var (
	// ErrRegisterIO means the gateway/driver itself failed, as opposed to a
	// transaction that completed with an unsuccessful status.
	ErrRegisterIO = errors.New("register I/O failed")

	// ErrProtocolTimeout means the busy flag never cleared within the
	// configured poll budget.
	ErrProtocolTimeout = errors.New("mailbox transaction timed out")
)

// StatusText names a vendor response code.
func StatusText(st uint32) string {
	switch st {
	case RSP_OK:
		return "OK"
	case RSP_FAILED:
		return "Failed"
	case RSP_UNKNOWN_CMD:
		return "UnknownCmd"
	case RSP_REJECTED_PREREQ:
		return "RejectedPrereq"
	case RSP_REJECTED_BUSY:
		return "RejectedBusy"
	case RSP_TIMEOUT:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// StatusErr maps a completed transaction's status to an error. RSP_OK maps
// to nil, RSP_TIMEOUT to ErrProtocolTimeout.
func StatusErr(st uint32) error {
	switch st {
	case RSP_OK:
		return nil
	case RSP_TIMEOUT:
		return ErrProtocolTimeout
	default:
		return &StatusError{Status: st}
	}
}

// StatusError is a transaction that resolved with a non-OK vendor status.
type StatusError struct {
	Status uint32
}

func (e *StatusError) Error() string {
	return "mailbox status 0x" + hexByte(e.Status) + " (" + StatusText(e.Status) + ")"
}

func hexByte(v uint32) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[(v>>4)&0xF], digits[v&0xF]})
}
