package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandoffRegion struct {
	data [32]byte
}

func (f *fakeHandoffRegion) Read() [32]byte     { return f.data }
func (f *fakeHandoffRegion) Write(d [32]byte)   { f.data = d }

func TestInitHandoff_BlankRegion_StartsAtCountZero(t *testing.T) {
	t.Parallel()

	region := &fakeHandoffRegion{}
	cfg := DefaultConfig()

	h, tripped := InitHandoff(region, cfg, 0x00010203)

	require.False(t, tripped)
	assert.Equal(t, byte(0), h.BootCount)
	assert.Equal(t, BootReasonNone, h.BootReason)
	assert.True(t, handoffCRCValid(region.data))
}

func TestInitHandoff_ValidRegion_IncrementsCount(t *testing.T) {
	t.Parallel()

	region := &fakeHandoffRegion{}
	cfg := DefaultConfig()

	InitHandoff(region, cfg, 1)
	h, tripped := InitHandoff(region, cfg, 1)

	require.False(t, tripped)
	assert.Equal(t, byte(1), h.BootCount)
}

func TestInitHandoff_CorruptRegion_ResetsToDefaults(t *testing.T) {
	t.Parallel()

	region := &fakeHandoffRegion{data: [32]byte{0xFF, 0xFF, 0xFF, 0xFF}}
	cfg := DefaultConfig()

	h, tripped := InitHandoff(region, cfg, 1)

	require.False(t, tripped)
	assert.Equal(t, byte(0), h.BootCount)
}

func TestInitHandoff_BootCountSaturates(t *testing.T) {
	t.Parallel()

	region := &fakeHandoffRegion{}
	cfg := DefaultConfig()
	cfg.BootCountingEnabled = false

	var h Handoff
	for i := 0; i < 300; i++ {
		h, _ = InitHandoff(region, cfg, 1)
	}
	assert.Equal(t, byte(255), h.BootCount)
}

func TestInitHandoff_LimitTrips_ForcesBootReasonCom(t *testing.T) {
	t.Parallel()

	region := &fakeHandoffRegion{}
	cfg := DefaultConfig()
	cfg.BootCountingEnabled = true
	cfg.BootCountLimit = 3

	// The first call always starts a blank region at count 0 rather than
	// incrementing (an invalid CRC resets, it doesn't count as a boot),
	// so it takes 4 calls for the count to reach a limit of 3: 0, 1, 2, 3.
	var tripped bool
	var h Handoff
	for i := 0; i < 4; i++ {
		h, tripped = InitHandoff(region, cfg, 1)
	}

	assert.True(t, tripped)
	assert.Equal(t, BootReasonCom, h.BootReason)
}

func TestClearBootOK_ResetsReasonAndCount(t *testing.T) {
	t.Parallel()

	region := &fakeHandoffRegion{}
	cfg := DefaultConfig()
	cfg.BootCountingEnabled = true
	cfg.BootCountLimit = 100

	InitHandoff(region, cfg, 1)
	SetBootReasonCom(region)
	require.Equal(t, BootReasonCom, ReadBootReason(region))

	ClearBootOK(region)

	assert.Equal(t, BootReasonNone, ReadBootReason(region))
	assert.Equal(t, byte(0), decodeHandoff(region.data).BootCount)
}

func TestSetBootReasonCom_LeavesBootCountUntouched(t *testing.T) {
	t.Parallel()

	region := &fakeHandoffRegion{}
	cfg := DefaultConfig()

	InitHandoff(region, cfg, 1)
	InitHandoff(region, cfg, 1)
	before := decodeHandoff(region.data).BootCount

	SetBootReasonCom(region)

	assert.Equal(t, before, decodeHandoff(region.data).BootCount)
}
