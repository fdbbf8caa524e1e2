package boot

import (
	"context"

	"github.com/zigamiklosic/go-bootloader/boot/internal/frame"
	"github.com/zigamiklosic/go-bootloader/platform"
)

// Run is the bootloader's cooperative entry loop. On every reset it first
// runs InitHandoff — the CRC check, saturating boot-count increment, and
// boot-count-limit trip of spec §4.6 — before anything else touches the
// handoff region or the resident header. It then runs the startup
// back-door (runEntryDispatch): if boot_reason is still NONE and the
// resident image post-validates clean, it services incoming frames for
// up to cfg.WaitAtStartupMS, then re-checks boot_reason once more and jumps
// if it's still NONE. Once that one-shot phase is done (or skipped), Run
// falls into its forever-loop: drain one byte from the platform's receive
// path into the frame parser, dispatch a completed frame through the FSM,
// run the FSM's per-tick activity, and repeat. It returns only when ctx is
// cancelled or a jump attempt fails to return control (at which point the
// platform is in an unspecified state and the caller should treat a
// returning Run as fatal).
func Run(ctx context.Context, p platform.Platform, handoff platform.HandoffRegion, opts ...Option) error {
	o := defaultRunOptions()
	o.ctx = ctx
	for _, opt := range opts {
		opt(&o)
	}

	if _, tripped := InitHandoff(handoff, o.cfg, o.cfg.BootVersion); tripped {
		if err := p.FlashErase(ResidentHeaderAddr, uint32(HeaderSize)); err != nil {
			o.logger.Error("erase resident header after boot-count trip failed: %v", err)
		}
	}

	parser := frame.New(o.cfg.RXBufSize)
	fsm := NewFSM(p, handoff, o.cfg, o.callbacks, o.logger)

	lastByteTS := p.NowMS()

	if done, err := runEntryDispatch(o.ctx, p, handoff, fsm, parser, o.cfg, o.logger, &lastByteTS); done {
		return err
	}

	for {
		select {
		case <-o.ctx.Done():
			return o.ctx.Err()
		default:
		}

		now := p.NowMS()

		if b, ok := p.RXByte(); ok {
			lastByteTS = now
			result := parser.FeedByte(now, o.cfg.IdleTimeoutMS, b)
			if err := dispatchFrameResult(fsm, now, result, p); err != nil {
				o.logger.Error("frame dispatch error: %v", err)
			}
		} else {
			if result := parser.CheckIdle(now, o.cfg.IdleTimeoutMS); result.Status == frame.StatusTimeout {
				o.logger.Debug("frame parser timed out mid-frame")
			}
		}

		fsm.Tick(now, now-lastByteTS)
	}
}

// runEntryDispatch implements the startup back-door: with boot_reason
// still NONE and the resident image post-validating clean, it keeps
// servicing incoming frames — so a CONNECT arriving during the wait can
// flip boot_reason to COM via SetBootReasonCom — for up to
// cfg.WaitAtStartupMS, then re-checks boot_reason one more time before
// jumping. It returns (true, err) when Run should return immediately,
// either because ctx was cancelled or the jump attempt itself failed to
// return control, and (false, nil) to fall through into the main loop.
func runEntryDispatch(ctx context.Context, p platform.Platform, handoff platform.HandoffRegion, fsm *FSM, parser *frame.Parser, cfg Config, logger Logger, lastByteTS *uint32) (bool, error) {
	if ReadBootReason(handoff) != BootReasonNone {
		return false, nil
	}
	if PostValidate(p, ResidentHeaderAddr) != StatusOK {
		return false, nil
	}

	deadline := p.NowMS() + cfg.WaitAtStartupMS
	for p.NowMS() < deadline {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		default:
		}

		now := p.NowMS()
		b, ok := p.RXByte()
		if !ok {
			continue
		}
		*lastByteTS = now
		result := parser.FeedByte(now, cfg.IdleTimeoutMS, b)
		if err := dispatchFrameResult(fsm, now, result, p); err != nil {
			logger.Error("frame dispatch error: %v", err)
		}
		if ReadBootReason(handoff) != BootReasonNone {
			return false, nil
		}
	}

	if ReadBootReason(handoff) != BootReasonNone {
		return false, nil
	}
	return tryStartupJump(p, handoff, logger)
}

// tryStartupJump re-reads the resident header and jumps to it, clearing the
// handoff's boot-OK state first. A failure at any step falls through to the
// main loop rather than returning an error — only a jump that tears down
// peripherals and then fails to transfer control is treated as fatal.
func tryStartupJump(p platform.Platform, handoff platform.HandoffRegion, logger Logger) (bool, error) {
	raw := make([]byte, HeaderSize)
	if err := p.FlashRead(ResidentHeaderAddr, raw); err != nil {
		return false, nil
	}
	hdr, err := DecodeHeader(raw)
	if err != nil {
		return false, nil
	}

	ClearBootOK(handoff)
	if err := p.DeinitForJump(); err != nil {
		logger.Error("deinit for jump failed: %v", err)
		return false, nil
	}
	if err := p.Jump(hdr.ImageAddr); err != nil {
		logger.Error("jump failed: %v", err)
		return false, nil
	}
	return true, nil
}

// dispatchFrameResult reacts to one frame.Result: on StatusOK it decodes
// and hands the message to the FSM and transmits the response; on
// StatusCRCError/StatusFull/StatusTimeout it reports the fault through the
// Logger but never halts the loop — malformed input must never panic the
// loader.
func dispatchFrameResult(fsm *FSM, now uint32, result frame.Result, p platform.Platform) error {
	switch result.Status {
	case frame.StatusPending:
		return nil
	case frame.StatusOK:
		msg, err := DecodeMessage(result.Header, result.Payload)
		if err != nil {
			return err
		}
		rsp := fsm.Handle(now, msg)
		if rsp.Command == 0 && rsp.Source == 0 {
			// Non-FSM-driving request/response traffic.
			return nil
		}
		return p.TxAll(rsp.Encode())
	case frame.StatusCRCError:
		return NewFault(ReasonCRC, "frame CRC mismatch")
	case frame.StatusFull:
		p.ClearRX()
		return NewFault(ReasonFull, "receive buffer overflow")
	case frame.StatusTimeout:
		return NewFault(ReasonTimeout, "frame parser idle timeout")
	default:
		return nil
	}
}
