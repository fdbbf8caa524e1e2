package boot

// Event carries diagnostic detail from the dispatcher to OnEvent.
type Event struct {
	State   State
	Command byte
	Status  Status
	Detail  string
}

// Callbacks is the bootloader's weak-callback bag: a struct of optional
// hooks rather than a required interface, so a caller implements only the
// directions it cares about. The loader role populates the request-side
// hooks (OnConnect, OnPrepare, ...); the manager role populates the
// response-side hooks (OnConnectResp, ...); both share no-op defaults for
// the direction they don't use.
type Callbacks struct {
	OnConnect     func(msg Message)
	OnConnectResp func(msg Message)
	OnPrepare     func(msg Message)
	OnPrepareResp func(msg Message)
	OnFlash       func(msg Message)
	OnFlashResp   func(msg Message)
	OnExit        func(msg Message)
	OnExitResp    func(msg Message)
	OnInfo        func(msg Message)
	OnInfoResp    func(msg Message)

	// OnEvent is called for each CONNECT, FLASH and EXIT the FSM handles,
	// for each PREPARE and INFO accepted in the right state, and for every
	// response passed to DispatchResponse. The wrong-state PREPARE and INFO
	// rejections and Tick's timeout-driven returns to IDLE do not call it.
	OnEvent func(ev Event)
}

// defaultCallbacks returns a Callbacks with every hook set to a no-op, so
// dispatch code never needs a nil check.
func defaultCallbacks() Callbacks {
	noop := func(Message) {}
	return Callbacks{
		OnConnect:     noop,
		OnConnectResp: noop,
		OnPrepare:     noop,
		OnPrepareResp: noop,
		OnFlash:       noop,
		OnFlashResp:   noop,
		OnExit:        noop,
		OnExitResp:    noop,
		OnInfo:        noop,
		OnInfoResp:    noop,
		OnEvent:       func(Event) {},
	}
}

// DispatchResponse invokes the response-side hook matching msg.Command (one
// of the *_RSP command bytes), plus OnEvent — the manager role's
// counterpart to FSM.Handle's request-side dispatch. Hooks left nil are
// skipped rather than requiring the caller to merge in no-op defaults.
func DispatchResponse(cb Callbacks, msg Message) {
	switch msg.Command {
	case CmdConnectRsp:
		if cb.OnConnectResp != nil {
			cb.OnConnectResp(msg)
		}
	case CmdPrepareRsp:
		if cb.OnPrepareResp != nil {
			cb.OnPrepareResp(msg)
		}
	case CmdFlashRsp:
		if cb.OnFlashResp != nil {
			cb.OnFlashResp(msg)
		}
	case CmdExitRsp:
		if cb.OnExitResp != nil {
			cb.OnExitResp(msg)
		}
	case CmdInfoRsp:
		if cb.OnInfoResp != nil {
			cb.OnInfoResp(msg)
		}
	}
	if cb.OnEvent != nil {
		cb.OnEvent(Event{Command: msg.Command, Status: msg.Status})
	}
}

// mergeCallbacks returns base with every non-nil field of override copied
// over it.
func mergeCallbacks(base, override Callbacks) Callbacks {
	if override.OnConnect != nil {
		base.OnConnect = override.OnConnect
	}
	if override.OnConnectResp != nil {
		base.OnConnectResp = override.OnConnectResp
	}
	if override.OnPrepare != nil {
		base.OnPrepare = override.OnPrepare
	}
	if override.OnPrepareResp != nil {
		base.OnPrepareResp = override.OnPrepareResp
	}
	if override.OnFlash != nil {
		base.OnFlash = override.OnFlash
	}
	if override.OnFlashResp != nil {
		base.OnFlashResp = override.OnFlashResp
	}
	if override.OnExit != nil {
		base.OnExit = override.OnExit
	}
	if override.OnExitResp != nil {
		base.OnExitResp = override.OnExitResp
	}
	if override.OnInfo != nil {
		base.OnInfo = override.OnInfo
	}
	if override.OnInfoResp != nil {
		base.OnInfoResp = override.OnInfoResp
	}
	if override.OnEvent != nil {
		base.OnEvent = override.OnEvent
	}
	return base
}
