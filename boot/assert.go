package boot

import (
	"fmt"

	"github.com/zigamiklosic/go-bootloader/boot/internal/frame"
)

// init enforces the wire format's structural invariants at program
// startup rather than trusting them to hold implicitly: Go gives no
// struct-packing guarantee equivalent to a C sizeof() check, so the
// encoded byte lengths are verified directly against the sizes every
// offset table in header.go/handoff.go/message.go assumes. A mismatch
// here means a codec was edited without updating its size constant, and
// every downstream length check (CRC ranges, payload framing, flash
// layout) would silently misbehave — so this fails loudly instead.
func init() {
	if got := len(Header{}.Encode()); got != HeaderSize {
		panic(fmt.Sprintf("boot: Header.Encode() produced %d bytes, want HeaderSize=%d", got, HeaderSize))
	}
	if got := len(Handoff{}.encode()); got != HandoffSize {
		panic(fmt.Sprintf("boot: Handoff.encode() produced %d bytes, want HandoffSize=%d", got, HandoffSize))
	}
	if frame.HeaderSize != 8 {
		panic(fmt.Sprintf("boot: frame.HeaderSize=%d, want 8", frame.HeaderSize))
	}
	p := frame.New(HeaderSize)
	if p.Mode() != frame.ModeIdle {
		panic("boot: newly constructed frame.Parser is not in ModeIdle")
	}
}
