package boot

import (
	"encoding/binary"

	"github.com/zigamiklosic/go-bootloader/internal/crc"
	"github.com/zigamiklosic/go-bootloader/platform"
)

// HandoffSize is the fixed size, in bytes, of the handoff region.
const HandoffSize = 32

// LayoutVersion is the handoff region layout version this build writes on
// every InitHandoff call.
const LayoutVersion = 1

const (
	hoOffCRC           = 0x00
	hoOffLayoutVersion = 0x01
	// reserved [6]byte at 0x02..0x08
	hoOffBootVersion = 0x08
	hoOffBootReason  = 0x0C
	hoOffBootCount   = 0x0D
	// reserved [18]byte at 0x0E..0x20
)

// Handoff is the 32-byte CRC-protected structure shared with the resident
// application across reset.
type Handoff struct {
	LayoutVersion byte
	BootVersion   uint32
	BootReason    BootReason
	BootCount     byte
}

// decodeHandoff parses a raw 32-byte handoff region.
func decodeHandoff(buf [32]byte) Handoff {
	return Handoff{
		LayoutVersion: buf[hoOffLayoutVersion],
		BootVersion:   binary.LittleEndian.Uint32(buf[hoOffBootVersion:]),
		BootReason:    BootReason(buf[hoOffBootReason]),
		BootCount:     buf[hoOffBootCount],
	}
}

// encode serializes h and stamps its CRC-8, computed over every byte from
// LayoutVersion (inclusive) through the end of the struct — only the CRC
// byte itself is excluded, not the whole ctrl sub-block.
func (h Handoff) encode() [32]byte {
	var buf [32]byte
	buf[hoOffLayoutVersion] = h.LayoutVersion
	binary.LittleEndian.PutUint32(buf[hoOffBootVersion:], h.BootVersion)
	buf[hoOffBootReason] = byte(h.BootReason)
	buf[hoOffBootCount] = h.BootCount
	buf[hoOffCRC] = crc.CRC8(buf[hoOffLayoutVersion:])
	return buf
}

// handoffCRCValid reports whether a raw region's stored CRC-8 matches the
// CRC recomputed over bytes [1:32).
func handoffCRCValid(buf [32]byte) bool {
	return buf[hoOffCRC] == crc.CRC8(buf[hoOffLayoutVersion:])
}

// InitHandoff implements the reset-time handoff handling: CRC
// check (reset to defaults on mismatch), saturating boot-count increment,
// layout/boot-version rewrite, CRC recompute, and — if boot counting is
// enabled and the count has reached cfg.BootCountLimit — forcing
// BootReasonCom and reporting the trip, so that the resident header can be
// erased and the loader can't jump back into a malfunctioning image.
//
// It returns the handoff state that was written, and whether the boot
// count limit tripped (the caller erases the resident header via
// platform.FlashErase on the header region when tripped is true — Handoff
// itself never touches the image header, keeping the two regions'
// invariants independent).
func InitHandoff(region platform.HandoffRegion, cfg Config, bootVersion uint32) (Handoff, bool) {
	raw := region.Read()

	var h Handoff
	if handoffCRCValid(raw) {
		h = decodeHandoff(raw)
		if h.BootCount < 255 {
			h.BootCount++
		}
	} else {
		h = Handoff{BootCount: 0, BootReason: BootReasonNone}
	}

	h.LayoutVersion = LayoutVersion
	h.BootVersion = bootVersion

	tripped := false
	if cfg.BootCountingEnabled && h.BootCount >= cfg.BootCountLimit {
		h.BootReason = BootReasonCom
		tripped = true
	}

	region.Write(h.encode())
	return h, tripped
}

// ClearBootOK resets boot_reason to NONE and boot_count to 0 — the side
// effect of a successful EXIT transition.
func ClearBootOK(region platform.HandoffRegion) {
	raw := region.Read()
	h := decodeHandoff(raw)
	h.BootReason = BootReasonNone
	h.BootCount = 0
	region.Write(h.encode())
}

// SetBootReasonCom sets boot_reason=COM without touching boot_count —
// used when a CONNECT arrives in IDLE.
func SetBootReasonCom(region platform.HandoffRegion) {
	raw := region.Read()
	h := decodeHandoff(raw)
	h.BootReason = BootReasonCom
	region.Write(h.encode())
}

// ReadBootReason reads the current boot_reason without mutating anything.
func ReadBootReason(region platform.HandoffRegion) BootReason {
	return decodeHandoff(region.Read()).BootReason
}
