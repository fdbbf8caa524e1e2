package boot

import "context"

// Config bundles every tunable named constant from the original firmware's
// boot_cfg.h, exposed as a struct rather than preprocessor
// defines so a host application can override them per build.
type Config struct {
	// RXBufSize is the byte-parser receive buffer size, including the
	// 8-byte header.
	RXBufSize int

	// IdleTimeoutMS is how long the frame parser waits for the next byte
	// of an in-progress frame, whatever the FSM state, before giving up
	// and resetting.
	IdleTimeoutMS uint32
	// PrepareIdleTimeoutMS is the idle timeout while in PREPARE.
	PrepareIdleTimeoutMS uint32
	// FlashIdleTimeoutMS is the idle timeout while in FLASH.
	FlashIdleTimeoutMS uint32
	// ExitIdleTimeoutMS is the idle timeout while in EXIT.
	ExitIdleTimeoutMS uint32

	// JumpToAppTimeoutMS is how long the FSM stays in IDLE, counted from
	// its entry into IDLE, before it makes its one attempt to post-validate
	// and jump to the resident application.
	JumpToAppTimeoutMS uint32
	// WaitAtStartupMS is the startup back-door window: when boot_reason is
	// NONE and the resident image post-validates, Run services incoming
	// frames for this long, so a host tool can send CONNECT, before it
	// jumps.
	WaitAtStartupMS uint32

	// AppSizeMax bounds the image size a PREPARE message may declare.
	AppSizeMax uint32
	// SWVerLimit and HWVerLimit bound the software/hardware version
	// fields a header may declare.
	SWVerLimit uint32
	HWVerLimit uint32

	// BootCountingEnabled turns on the boot-count-limit safety net in
	// InitHandoff.
	BootCountingEnabled bool
	// BootCountLimit is the number of consecutive unconfirmed boots
	// before the loader force-erases the resident header.
	BootCountLimit byte

	// SignatureRequired, when true, rejects any image whose header
	// SignatureType is SignatureNone during PreValidate.
	SignatureRequired bool

	// BootVersion is stamped into the handoff region on every InitHandoff
	// call, identifying the loader build that ran that reset.
	BootVersion uint32
}

// DefaultConfig returns the constants' documented defaults, matching
// original_source/inc/boot_cfg.h.
func DefaultConfig() Config {
	return Config{
		RXBufSize:            8 + DataPayloadSize, // frame header(8) + largest payload, a FLASH chunk (DataPayloadSize)
		IdleTimeoutMS:        100,
		PrepareIdleTimeoutMS: 500,
		FlashIdleTimeoutMS:   1000,
		ExitIdleTimeoutMS:    100,
		JumpToAppTimeoutMS:   1000,
		WaitAtStartupMS:      0,
		AppSizeMax:           256 * 1024,
		SWVerLimit:           0xFFFFFFFF,
		HWVerLimit:           0xFFFFFFFF,
		BootCountingEnabled:  false,
		BootCountLimit:       5,
		SignatureRequired:    false,
		BootVersion:          1,
	}
}

// Option configures a Run invocation, following the functional-options
// pattern used throughout the bootloader core.
type Option func(*runOptions)

type runOptions struct {
	cfg       Config
	callbacks Callbacks
	ctx       context.Context
	logger    Logger
}

func defaultRunOptions() runOptions {
	return runOptions{
		cfg:       DefaultConfig(),
		callbacks: defaultCallbacks(),
		ctx:       context.Background(),
		logger:    NoopLogger{},
	}
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(o *runOptions) { o.cfg = cfg }
}

// WithCallbacks merges the given callbacks over the defaults; only
// non-nil fields in cb replace the corresponding default no-op.
func WithCallbacks(cb Callbacks) Option {
	return func(o *runOptions) { o.callbacks = mergeCallbacks(o.callbacks, cb) }
}

// WithContext sets the context used to cancel Run's loop.
func WithContext(ctx context.Context) Option {
	return func(o *runOptions) { o.ctx = ctx }
}

// WithLogger sets the logger Run reports progress and faults to.
func WithLogger(logger Logger) Option {
	return func(o *runOptions) { o.logger = logger }
}
