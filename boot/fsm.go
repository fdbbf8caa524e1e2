package boot

import (
	"encoding/binary"

	"github.com/zigamiklosic/go-bootloader/platform"
)

// FSM drives the upgrade state machine: every transition
// is coupled to a destructive flash operation and a single response
// message. FSM is not safe for concurrent use; Run drives it from one
// goroutine.
type FSM struct {
	state     State
	enteredAt uint32
	flashCtx  FlashContext

	platform  platform.Platform
	handoff   platform.HandoffRegion
	cfg       Config
	callbacks Callbacks
	logger    Logger

	triedJump   bool
	jumpPending bool
}

// NewFSM constructs an FSM in state IDLE.
func NewFSM(p platform.Platform, handoff platform.HandoffRegion, cfg Config, cb Callbacks, logger Logger) *FSM {
	if logger == nil {
		logger = NoopLogger{}
	}
	f := &FSM{
		platform:  p,
		handoff:   handoff,
		cfg:       cfg,
		callbacks: mergeCallbacks(defaultCallbacks(), cb),
		logger:    logger,
	}
	f.enterIdle(p.NowMS())
	return f
}

// State returns the FSM's current state.
func (f *FSM) State() State { return f.state }

func (f *FSM) enterIdle(now uint32) {
	f.state = StateIdle
	f.enteredAt = now
	f.flashCtx = FlashContext{}
	f.platform.DecryptReset()
	f.triedJump = false
	f.jumpPending = false
}

func (f *FSM) emit(ev Event) {
	f.callbacks.OnEvent(ev)
}

// eraseResidentHeader erases just the resident header region, leaving any
// already-written payload bytes in place but unreachable: a
// post-validation failure recovers by erasing only the header, not the
// whole image.
func (f *FSM) eraseResidentHeader() {
	if err := f.platform.FlashErase(ResidentHeaderAddr, uint32(HeaderSize)); err != nil {
		f.logger.Error("erase resident header failed: %v", err)
	}
}

func (f *FSM) goIdle(now uint32, eraseHeader bool) {
	if eraseHeader {
		f.eraseResidentHeader()
	}
	f.enterIdle(now)
}

// Tick runs the per-state activity side effects: idle-timeout-driven
// header erasure in PREPARE/FLASH/EXIT, and the IDLE-state "try to leave"
// one-shot post-validation + jump attempt after the jump-to-app idle
// timeout. now is the platform's current
// millisecond tick; lastByteAgeMS is how long it has been since the frame
// parser last accepted a byte (used by the FLASH idle check, which keys
// off received-byte recency rather than state age).
func (f *FSM) Tick(now uint32, lastByteAgeMS uint32) {
	age := now - f.enteredAt

	switch f.state {
	case StatePrepare:
		if age >= f.cfg.PrepareIdleTimeoutMS {
			f.goIdle(now, true)
		}
	case StateFlash:
		if lastByteAgeMS >= f.cfg.FlashIdleTimeoutMS {
			f.goIdle(now, true)
		}
	case StateExit:
		if age >= f.cfg.ExitIdleTimeoutMS {
			f.goIdle(now, true)
		}
	case StateIdle:
		if f.jumpPending {
			f.jumpPending = false
			f.triedJump = true
			f.tryJump()
		} else if !f.triedJump && age >= f.cfg.JumpToAppTimeoutMS {
			f.triedJump = true
			f.tryJump()
		}
	}
}

func (f *FSM) tryJump() {
	status := PostValidate(f.platform, ResidentHeaderAddr)
	if status != StatusOK {
		return
	}

	raw := make([]byte, HeaderSize)
	if err := f.platform.FlashRead(ResidentHeaderAddr, raw); err != nil {
		return
	}
	hdr, err := DecodeHeader(raw)
	if err != nil {
		return
	}

	ClearBootOK(f.handoff)

	if err := f.platform.DeinitForJump(); err != nil {
		f.logger.Error("deinit for jump failed: %v", err)
		return
	}
	// Jump does not return on success (platform.Platform's documented
	// contract); a returning call means the jump itself failed.
	if err := f.platform.Jump(hdr.ImageAddr); err != nil {
		f.logger.Error("jump failed: %v", err)
	}
}

// Handle dispatches one decoded message through the FSM, returning the
// response Message the caller must transmit. Handle never returns a
// second response for the same input.
func (f *FSM) Handle(now uint32, msg Message) Message {
	switch msg.Command {
	case CmdConnect:
		return f.handleConnect(now)
	case CmdPrepare:
		return f.handlePrepare(now, msg)
	case CmdFlash:
		return f.handleFlash(now, msg)
	case CmdExit:
		return f.handleExit(now)
	case CmdInfo:
		return f.handleInfo(now)
	default:
		// Request messages from the loader side and response messages
		// from the manager side are accepted but do not drive the FSM
		
		return Message{}
	}
}

func (f *FSM) respond(cmd byte, status Status) Message {
	rsp, _ := responseCommand(cmd)
	return Message{Source: SourceBootLoader, Command: rsp, Status: status}
}

func (f *FSM) handleConnect(now uint32) Message {
	f.callbacks.OnConnect(Message{Command: CmdConnect})
	if f.state != StateIdle {
		f.goIdle(now, true)
		f.emit(Event{State: f.state, Command: CmdConnect, Status: StatusInvalidRequest})
		return f.respond(CmdConnect, StatusInvalidRequest)
	}

	SetBootReasonCom(f.handoff)
	f.state = StatePrepare
	f.enteredAt = now
	f.emit(Event{State: f.state, Command: CmdConnect, Status: StatusOK})
	return f.respond(CmdConnect, StatusOK)
}

func (f *FSM) handlePrepare(now uint32, msg Message) Message {
	f.callbacks.OnPrepare(msg)
	if f.state != StatePrepare {
		return f.respond(CmdPrepare, StatusInvalidRequest)
	}

	residentRaw := make([]byte, HeaderSize)
	residentValid := false
	var residentHdr Header
	if err := f.platform.FlashRead(ResidentHeaderAddr, residentRaw); err == nil && HeaderCRCValid(residentRaw) {
		if h, err := DecodeHeader(residentRaw); err == nil {
			residentHdr = h
			residentValid = true
		}
	}

	hdr, status := PreValidate(msg.Payload, residentHdr, residentValid, f.platform, f.cfg, false)
	if status != StatusOK {
		f.goIdle(now, false)
		f.emit(Event{State: StateIdle, Command: CmdPrepare, Status: status})
		return f.respond(CmdPrepare, status)
	}

	eraseSize := uint32(HeaderSize) + hdr.ImageSize
	if err := FlashPrepare(f.platform, hdr.ImageAddr, eraseSize); err != nil {
		f.goIdle(now, true)
		f.emit(Event{State: StateIdle, Command: CmdPrepare, Status: StatusFlashErase})
		return f.respond(CmdPrepare, StatusFlashErase)
	}

	if err := f.platform.FlashWrite(hdr.ImageAddr, msg.Payload); err != nil {
		f.goIdle(now, true)
		f.emit(Event{State: StateIdle, Command: CmdPrepare, Status: StatusFlashWrite})
		return f.respond(CmdPrepare, StatusFlashWrite)
	}

	f.flashCtx = FlashContext{
		WorkingAddr:  hdr.ImageAddr + uint32(HeaderSize),
		FlashedBytes: 0,
		ImageSize:    hdr.ImageSize,
	}
	f.state = StateFlash
	f.enteredAt = now
	f.emit(Event{State: f.state, Command: CmdPrepare, Status: StatusOK})
	return f.respond(CmdPrepare, StatusOK)
}

func (f *FSM) handleFlash(now uint32, msg Message) Message {
	f.callbacks.OnFlash(msg)
	if f.state != StateFlash {
		f.goIdle(now, true)
		f.emit(Event{State: StateIdle, Command: CmdFlash, Status: StatusInvalidRequest})
		return f.respond(CmdFlash, StatusInvalidRequest)
	}

	residentRaw := make([]byte, HeaderSize)
	encType := EncTypeNone
	if err := f.platform.FlashRead(ResidentHeaderAddr, residentRaw); err == nil {
		if hdr, err := DecodeHeader(residentRaw); err == nil {
			encType = hdr.EncType
		}
	}

	if err := FlashChunk(f.platform, &f.flashCtx, encType, msg.Payload); err != nil {
		f.goIdle(now, true)
		f.emit(Event{State: StateIdle, Command: CmdFlash, Status: StatusFlashWrite})
		return f.respond(CmdFlash, StatusFlashWrite)
	}

	if f.flashCtx.Done() {
		f.state = StateExit
		f.enteredAt = now
	}
	f.emit(Event{State: f.state, Command: CmdFlash, Status: StatusOK})
	return f.respond(CmdFlash, StatusOK)
}

func (f *FSM) handleExit(now uint32) Message {
	f.callbacks.OnExit(Message{Command: CmdExit})
	if f.state != StateExit {
		f.goIdle(now, false)
		f.emit(Event{State: StateIdle, Command: CmdExit, Status: StatusInvalidRequest})
		return f.respond(CmdExit, StatusInvalidRequest)
	}

	status := PostValidate(f.platform, ResidentHeaderAddr)
	if status != StatusOK {
		f.goIdle(now, true)
		f.emit(Event{State: StateIdle, Command: CmdExit, Status: StatusValidation})
		return f.respond(CmdExit, StatusValidation)
	}

	// Handle only prepares the jump; it must not perform it. Run's
	// dispatchFrameResult transmits this response only after Handle
	// returns, and Jump does not return on success, so jumping here would
	// tear the device away before EXIT_RSP ever reaches the wire. Setting
	// jumpPending makes the next Tick perform the jump instead, once Run
	// has had a chance to drain the response (spec.md §4.4's respond,
	// wait a few ms, then jump ordering).
	ClearBootOK(f.handoff)
	f.enterIdle(now)
	f.jumpPending = true
	f.emit(Event{State: StateIdle, Command: CmdExit, Status: StatusOK})

	return f.respond(CmdExit, StatusOK)
}

// handleInfo answers with the loader's own version as payload: a 4-byte
// little-endian encoding of cfg.BootVersion. The resident application's
// GitSHA is a separate diagnostic detail, not the wire-mandated field, and
// is deliberately not returned here.
func (f *FSM) handleInfo(now uint32) Message {
	f.callbacks.OnInfo(Message{Command: CmdInfo})
	if f.state != StateIdle {
		return f.respond(CmdInfo, StatusInvalidRequest)
	}

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, f.cfg.BootVersion)

	f.emit(Event{State: f.state, Command: CmdInfo, Status: StatusOK})
	rsp := f.respond(CmdInfo, StatusOK)
	rsp.Payload = payload
	return rsp
}
