package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCallbacks_AllHooksCallable(t *testing.T) {
	t.Parallel()

	cb := defaultCallbacks()
	require.NotPanics(t, func() {
		cb.OnConnect(Message{})
		cb.OnConnectResp(Message{})
		cb.OnPrepare(Message{})
		cb.OnPrepareResp(Message{})
		cb.OnFlash(Message{})
		cb.OnFlashResp(Message{})
		cb.OnExit(Message{})
		cb.OnExitResp(Message{})
		cb.OnInfo(Message{})
		cb.OnInfoResp(Message{})
		cb.OnEvent(Event{})
	})
}

func TestMergeCallbacks_OverridesOnlySetFields(t *testing.T) {
	t.Parallel()

	var called string
	override := Callbacks{
		OnConnect: func(Message) { called = "connect" },
	}

	merged := mergeCallbacks(defaultCallbacks(), override)
	merged.OnConnect(Message{})
	assert.Equal(t, "connect", called)

	require.NotPanics(t, func() {
		merged.OnPrepare(Message{})
	})
}

func TestMergeCallbacks_OnEventOverride(t *testing.T) {
	t.Parallel()

	var gotEvent Event
	override := Callbacks{OnEvent: func(ev Event) { gotEvent = ev }}
	merged := mergeCallbacks(defaultCallbacks(), override)

	merged.OnEvent(Event{Command: CmdConnect, Status: StatusOK})
	assert.Equal(t, CmdConnect, gotEvent.Command)
}

func TestDispatchResponse_RoutesByCommand(t *testing.T) {
	t.Parallel()

	var gotConnect, gotFlash Message
	var gotEvent Event
	cb := Callbacks{
		OnConnectResp: func(m Message) { gotConnect = m },
		OnFlashResp:   func(m Message) { gotFlash = m },
		OnEvent:       func(ev Event) { gotEvent = ev },
	}

	DispatchResponse(cb, Message{Command: CmdConnectRsp, Status: StatusOK})
	assert.Equal(t, CmdConnectRsp, gotConnect.Command)
	assert.Equal(t, Message{}, gotFlash)
	assert.Equal(t, CmdConnectRsp, gotEvent.Command)

	DispatchResponse(cb, Message{Command: CmdFlashRsp, Status: StatusFWSize})
	assert.Equal(t, CmdFlashRsp, gotFlash.Command)
	assert.Equal(t, StatusFWSize, gotEvent.Status)
}

func TestDispatchResponse_NilHooksDoNotPanic(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		DispatchResponse(Callbacks{}, Message{Command: CmdPrepareRsp})
	})
}
