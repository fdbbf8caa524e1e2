// Package frame implements the byte-at-a-time receive parser described in
// the bootloader's framing layer: it recovers one fixed-header message
// (plus optional payload) from an otherwise unstructured byte stream,
// enforces an inter-byte idle timeout, and validates header/payload
// integrity before handing a frame to the caller.
//
// The parser is single-threaded and cooperative,
// package's zmodemIO.ReadByte/getHeader style of consuming one byte per
// call rather than blocking on a full read.
package frame

import "github.com/zigamiklosic/go-bootloader/internal/crc"

// HeaderSize is the fixed size, in bytes, of every message header.
const HeaderSize = 8

// Preamble is the 16-bit little-endian value every frame must begin with.
const Preamble = 0x07B0

// Mode is the parser's current position within a frame.
type Mode int

const (
	// ModeIdle means no bytes of a frame have been accepted yet.
	ModeIdle Mode = iota
	// ModeRcvHeader means the parser is accumulating the 8-byte header.
	ModeRcvHeader
	// ModeRcvPayload means the header was accepted and the parser is
	// accumulating the declared payload.
	ModeRcvPayload
)

// Status describes the outcome of feeding a byte (or checking idleness)
// into the parser.
type Status int

const (
	// StatusPending means no frame is ready yet; keep feeding bytes.
	StatusPending Status = iota
	// StatusOK means a complete, CRC-valid frame is available.
	StatusOK
	// StatusCRCError means a complete frame arrived but its CRC did not match.
	StatusCRCError
	// StatusTimeout means the inter-byte idle timeout fired mid-frame.
	StatusTimeout
	// StatusFull means the buffer would have overflowed; the caller must
	// clear the platform's receive FIFO.
	StatusFull
)

// Result is returned by FeedByte and CheckIdle. On StatusOK, Header and
// Payload are copies taken out of the parser's internal buffer, so they
// stay valid after later calls to FeedByte or Reset.
type Result struct {
	Status  Status
	Header  []byte
	Payload []byte
}

// Parser recovers frames from a byte stream one byte at a time.
type Parser struct {
	mode       Mode
	buf        []byte
	bufIdx     int
	lastByteTS uint32
}

// New creates a Parser with the given receive buffer capacity (RX_BUF in
// spec terms). bufSize must be at least HeaderSize.
func New(bufSize int) *Parser {
	if bufSize < HeaderSize {
		bufSize = HeaderSize
	}
	return &Parser{buf: make([]byte, bufSize)}
}

// Reset returns the parser to ModeIdle and discards any partially received
// frame.
func (p *Parser) Reset() {
	p.mode = ModeIdle
	p.bufIdx = 0
}

// Mode reports the parser's current mode.
func (p *Parser) Mode() Mode { return p.mode }

// CheckIdle reports StatusTimeout (and resets the parser) if the parser is
// mid-frame and now-lastByteTS has reached idleTimeoutMs. It is the only
// way to notice a stalled sender that never sends another byte.
func (p *Parser) CheckIdle(now, idleTimeoutMs uint32) Result {
	if p.mode == ModeIdle {
		return Result{Status: StatusPending}
	}
	if now-p.lastByteTS >= idleTimeoutMs {
		p.Reset()
		return Result{Status: StatusTimeout}
	}
	return Result{Status: StatusPending}
}

// FeedByte accepts one received byte and advances the parser state machine.
// now is the platform's millisecond tick, used both to refresh the idle
// deadline and to evaluate it.
func (p *Parser) FeedByte(now, idleTimeoutMs uint32, b byte) Result {
	if p.mode != ModeIdle {
		if now-p.lastByteTS >= idleTimeoutMs {
			p.Reset()
			// fall through: this byte starts a fresh frame below
		}
	}

	if p.bufIdx >= len(p.buf) {
		p.Reset()
		return Result{Status: StatusFull}
	}

	if p.mode == ModeIdle {
		p.mode = ModeRcvHeader
	}

	p.buf[p.bufIdx] = b
	p.bufIdx++
	p.lastByteTS = now

	switch p.mode {
	case ModeRcvHeader:
		if p.bufIdx == HeaderSize {
			return p.onHeaderComplete()
		}
	case ModeRcvPayload:
		length := payloadLength(p.buf)
		if p.bufIdx == HeaderSize+int(length) {
			return p.finish()
		}
	}

	return Result{Status: StatusPending}
}

func (p *Parser) onHeaderComplete() Result {
	preamble := uint16(p.buf[0]) | uint16(p.buf[1])<<8
	if preamble != Preamble {
		// Garbage tolerance: neither accept nor reset. The idle timeout
		// is the only mechanism that recovers from a bad preamble.
		return Result{Status: StatusPending}
	}

	length := payloadLength(p.buf)
	if length == 0 {
		return p.finish()
	}

	if HeaderSize+int(length) > len(p.buf) {
		p.Reset()
		return Result{Status: StatusFull}
	}

	p.mode = ModeRcvPayload
	return Result{Status: StatusPending}
}

func (p *Parser) finish() Result {
	header := p.buf[0:HeaderSize]
	length := payloadLength(header)
	payload := p.buf[HeaderSize : HeaderSize+int(length)]

	ok := verifyCRC(header, payload)

	// Copy out before Reset invalidates the backing indices.
	hdrCopy := append([]byte(nil), header...)
	var payloadCopy []byte
	if length > 0 {
		payloadCopy = append([]byte(nil), payload...)
	}

	p.Reset()

	if !ok {
		return Result{Status: StatusCRCError}
	}
	return Result{Status: StatusOK, Header: hdrCopy, Payload: payloadCopy}
}

func payloadLength(header []byte) uint16 {
	return uint16(header[2]) | uint16(header[3])<<8
}

// verifyCRC recomputes the message CRC-8 as the
// XOR of independent per-field CRCs over length, source, command, status,
// and payload — not a single pass over the concatenated bytes.
func verifyCRC(header, payload []byte) bool {
	want := header[7]
	got := crc.CRC8(header[2:4]) ^ crc.CRC8(header[4:5]) ^ crc.CRC8(header[5:6]) ^ crc.CRC8(header[6:7])
	if len(payload) > 0 {
		got ^= crc.CRC8(payload)
	}
	return got == want
}

// ComputeCRC computes the on-wire message CRC-8 for a header (length,
// source, command, status fields at indices 2..6) and payload, using the
// same XOR-of-per-field-CRCs composition as verifyCRC. It is exported so
// callers assembling outgoing messages can stamp the CRC byte.
func ComputeCRC(length uint16, source, command, status byte, payload []byte) byte {
	lengthBytes := []byte{byte(length), byte(length >> 8)}
	crc8 := crc.CRC8(lengthBytes) ^ crc.CRC8([]byte{source}) ^ crc.CRC8([]byte{command}) ^ crc.CRC8([]byte{status})
	if len(payload) > 0 {
		crc8 ^= crc.CRC8(payload)
	}
	return crc8
}
