package boot

import "fmt"

// Reason categorizes a Fault. Reason values are a plain enumeration, not
// Status bits: the wire-visible members map onto their Status bit through
// StatusOf; the internal members (ReasonTimeout, ReasonCRC, ReasonEmpty,
// ReasonFull) only describe parser/internal failures, which never appear
// on the wire.
type Reason int

const (
	ReasonValidation Reason = iota
	ReasonInvalidRequest
	ReasonFlashWrite
	ReasonFlashErase
	ReasonFWSize
	ReasonFWVer
	ReasonHWVer
	ReasonSignature
	ReasonTimeout
	ReasonCRC
	ReasonEmpty
	ReasonFull
)

func (r Reason) String() string {
	switch r {
	case ReasonValidation:
		return "validation error"
	case ReasonInvalidRequest:
		return "invalid request"
	case ReasonFlashWrite:
		return "flash write error"
	case ReasonFlashErase:
		return "flash erase error"
	case ReasonFWSize:
		return "firmware size error"
	case ReasonFWVer:
		return "firmware version error"
	case ReasonHWVer:
		return "hardware version error"
	case ReasonSignature:
		return "signature error"
	case ReasonTimeout:
		return "timeout"
	case ReasonCRC:
		return "CRC error"
	case ReasonEmpty:
		return "no data"
	case ReasonFull:
		return "buffer full"
	default:
		return "unknown error"
	}
}

// Fault is the bootloader's tagged error type, carrying a Reason drawn
// from the same taxonomy as the wire Status bitmask.
type Fault struct {
	Reason  Reason
	Message string
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Reason.String()
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

// NewFault builds a Fault with the given reason and message.
func NewFault(reason Reason, message string) *Fault {
	return &Fault{Reason: reason, Message: message}
}

// IsTimeout reports whether err is a Fault with ReasonTimeout.
func IsTimeout(err error) bool {
	f, ok := err.(*Fault)
	return ok && f.Reason == ReasonTimeout
}

// IsCRC reports whether err is a Fault with ReasonCRC.
func IsCRC(err error) bool {
	f, ok := err.(*Fault)
	return ok && f.Reason == ReasonCRC
}

// StatusOf maps a Reason onto the wire Status bitmask it corresponds to.
// Internal-only reasons (timeout, CRC, empty, full) have no wire
// representation and map to StatusValidation as a conservative default —
// callers at the framing layer never surface those as message responses
// in the first place.
func StatusOf(r Reason) Status {
	switch r {
	case ReasonValidation:
		return StatusValidation
	case ReasonInvalidRequest:
		return StatusInvalidRequest
	case ReasonFlashWrite:
		return StatusFlashWrite
	case ReasonFlashErase:
		return StatusFlashErase
	case ReasonFWSize:
		return StatusFWSize
	case ReasonFWVer:
		return StatusFWVer
	case ReasonHWVer:
		return StatusHWVer
	case ReasonSignature:
		return StatusSignature
	default:
		return StatusValidation
	}
}
