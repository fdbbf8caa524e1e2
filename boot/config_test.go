package boot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_HasSaneDefaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Greater(t, cfg.RXBufSize, 0)
	assert.False(t, cfg.BootCountingEnabled)
	assert.False(t, cfg.SignatureRequired)
}

func TestWithConfig_Overrides(t *testing.T) {
	t.Parallel()

	o := defaultRunOptions()
	custom := DefaultConfig()
	custom.AppSizeMax = 1024

	WithConfig(custom)(&o)
	assert.Equal(t, uint32(1024), o.cfg.AppSizeMax)
}

func TestWithContext_SetsContext(t *testing.T) {
	t.Parallel()

	o := defaultRunOptions()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	WithContext(ctx)(&o)
	assert.Equal(t, ctx, o.ctx)
}

func TestWithLogger_SetsLogger(t *testing.T) {
	t.Parallel()

	o := defaultRunOptions()
	logger := NewConsoleLogger()

	WithLogger(logger)(&o)
	require.Equal(t, logger, o.logger)
}

func TestWithCallbacks_MergesIntoDefaults(t *testing.T) {
	t.Parallel()

	o := defaultRunOptions()
	var called bool
	WithCallbacks(Callbacks{OnConnect: func(Message) { called = true }})(&o)

	o.callbacks.OnConnect(Message{})
	assert.True(t, called)

	require.NotPanics(t, func() {
		o.callbacks.OnExit(Message{})
	})
}
