package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zigamiklosic/go-bootloader/boot/internal/frame"
)

// TestStructuralInvariants_HoldIndependentlyOfInit re-checks the same
// wire-size invariants init() enforces at startup, so a future edit that
// breaks one fails a normal test run and not just a panic buried in
// package initialization.
func TestStructuralInvariants_HoldIndependentlyOfInit(t *testing.T) {
	t.Parallel()

	assert.Len(t, Header{}.Encode(), HeaderSize)
	assert.Len(t, Handoff{}.encode(), HandoffSize)
	assert.Equal(t, 8, frame.HeaderSize)
	assert.Equal(t, frame.ModeIdle, frame.New(HeaderSize).Mode())
}
