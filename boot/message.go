package boot

import (
	"fmt"

	"github.com/zigamiklosic/go-bootloader/boot/internal/frame"
)

// Message is the decoded form of one on-wire frame: an 8-byte
// header followed by an optional payload. Encode/DecodeMessage are explicit
// little-endian codecs rather than a memory-mapped struct overlay, per
// Go gives no layout control over struct fields, so the
// wire format is expressed as byte-slice views instead.
type Message struct {
	Source  Source
	Command byte
	Status  Status
	Payload []byte
}

// Encode serializes m into a complete on-wire frame, computing and
// stamping the CRC-8 byte.
func (m Message) Encode() []byte {
	length := uint16(len(m.Payload))
	crc8 := frame.ComputeCRC(length, byte(m.Source), m.Command, byte(m.Status), m.Payload)

	buf := make([]byte, frame.HeaderSize+len(m.Payload))
	preamble := uint16(frame.Preamble)
	buf[0] = byte(preamble)
	buf[1] = byte(preamble >> 8)
	buf[2] = byte(length)
	buf[3] = byte(length >> 8)
	buf[4] = byte(m.Source)
	buf[5] = m.Command
	buf[6] = byte(m.Status)
	buf[7] = crc8
	copy(buf[frame.HeaderSize:], m.Payload)
	return buf
}

// DecodeMessage reconstructs a Message from a header+payload pair as
// produced by a successful frame.Parser result. It assumes the caller has
// already validated the CRC (frame.Parser only returns StatusOK once it
// has).
func DecodeMessage(header, payload []byte) (Message, error) {
	if len(header) != frame.HeaderSize {
		return Message{}, fmt.Errorf("boot: decode message: header must be %d bytes, got %d", frame.HeaderSize, len(header))
	}
	return Message{
		Source:  Source(header[4]),
		Command: header[5],
		Status:  Status(header[6]),
		Payload: payload,
	}, nil
}

// RecvMessage drives the same frame.Parser the loader side uses, but from
// the manager's perspective: it polls next for one byte at a time (next
// returns ok=false when none is available yet) until a complete message
// arrives, a CRC/framing fault occurs, or timeoutMS elapses with no frame
// in progress. nowMS reports the platform's millisecond tick.
func RecvMessage(next func() (byte, bool), nowMS func() uint32, timeoutMS uint32) (Message, error) {
	p := frame.New(frame.HeaderSize + DataPayloadSize)
	deadline := nowMS() + timeoutMS

	for {
		now := nowMS()
		b, ok := next()
		if !ok {
			if p.Mode() == frame.ModeIdle && now >= deadline {
				return Message{}, NewFault(ReasonTimeout, "no response")
			}
			if idle := p.CheckIdle(now, timeoutMS); idle.Status == frame.StatusTimeout {
				return Message{}, NewFault(ReasonTimeout, "idle timeout mid-frame")
			}
			continue
		}

		result := p.FeedByte(now, timeoutMS, b)
		switch result.Status {
		case frame.StatusOK:
			return DecodeMessage(result.Header, result.Payload)
		case frame.StatusCRCError:
			return Message{}, NewFault(ReasonCRC, "response failed CRC")
		case frame.StatusTimeout:
			return Message{}, NewFault(ReasonTimeout, "idle timeout mid-frame")
		case frame.StatusFull:
			return Message{}, NewFault(ReasonFull, "response exceeded buffer")
		}
	}
}

// responseCommand maps each request command to its *_RSP counterpart
// (the symmetric request/response table).
func responseCommand(cmd byte) (byte, bool) {
	switch cmd {
	case CmdConnect:
		return CmdConnectRsp, true
	case CmdPrepare:
		return CmdPrepareRsp, true
	case CmdFlash:
		return CmdFlashRsp, true
	case CmdExit:
		return CmdExitRsp, true
	case CmdInfo:
		return CmdInfoRsp, true
	default:
		return 0, false
	}
}
