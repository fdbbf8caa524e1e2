package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zigamiklosic/go-bootloader/boot/internal/frame"
)

func TestMessage_Encode_ProducesParsableFrame(t *testing.T) {
	t.Parallel()

	m := Message{
		Source:  SourceManager,
		Command: CmdConnect,
		Status:  StatusOK,
		Payload: nil,
	}

	encoded := m.Encode()
	assert.Len(t, encoded, frame.HeaderSize)
	assert.Equal(t, byte(0xB0), encoded[0])
	assert.Equal(t, byte(0x07), encoded[1])
}

func TestMessage_Encode_WithPayload(t *testing.T) {
	t.Parallel()

	m := Message{
		Source:  SourceManager,
		Command: CmdPrepare,
		Status:  StatusOK,
		Payload: []byte{0x01, 0x02, 0x03},
	}

	encoded := m.Encode()
	assert.Len(t, encoded, frame.HeaderSize+3)
}

func TestDecodeMessage_RoundTripsThroughParser(t *testing.T) {
	t.Parallel()

	m := Message{
		Source:  SourceBootLoader,
		Command: CmdFlashRsp,
		Status:  StatusFlashWrite,
		Payload: []byte{0xAA},
	}
	encoded := m.Encode()

	p := frame.New(64)
	var result frame.Result
	for i, b := range encoded {
		result = p.FeedByte(uint32(i), 100, b)
	}
	require.Equal(t, frame.StatusOK, result.Status)

	decoded, err := DecodeMessage(result.Header, result.Payload)
	require.NoError(t, err)
	assert.Equal(t, m.Source, decoded.Source)
	assert.Equal(t, m.Command, decoded.Command)
	assert.Equal(t, m.Status, decoded.Status)
	assert.Equal(t, m.Payload, decoded.Payload)
}

func TestDecodeMessage_WrongHeaderSizeErrors(t *testing.T) {
	t.Parallel()

	_, err := DecodeMessage(make([]byte, 4), nil)
	assert.Error(t, err)
}

func TestResponseCommand_KnownCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  byte
		want byte
	}{
		{CmdConnect, CmdConnectRsp},
		{CmdPrepare, CmdPrepareRsp},
		{CmdFlash, CmdFlashRsp},
		{CmdExit, CmdExitRsp},
		{CmdInfo, CmdInfoRsp},
	}
	for _, tt := range tests {
		got, ok := responseCommand(tt.cmd)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got)
	}
}

func TestResponseCommand_UnknownCommand(t *testing.T) {
	t.Parallel()

	_, ok := responseCommand(0xFF)
	assert.False(t, ok)
}

// byteFeeder replays a fixed byte slice through RecvMessage's next
// callback, standing in for a real transport's RXByte.
type byteFeeder struct {
	data []byte
	pos  int
	now  uint32
}

func (f *byteFeeder) next() (byte, bool) {
	f.now++
	if f.pos >= len(f.data) {
		return 0, false
	}
	b := f.data[f.pos]
	f.pos++
	return b, true
}

func (f *byteFeeder) nowMS() uint32 { return f.now }

func TestRecvMessage_DecodesCompleteFrame(t *testing.T) {
	t.Parallel()

	m := Message{Source: SourceBootLoader, Command: CmdConnectRsp, Status: StatusOK}
	feeder := &byteFeeder{data: m.Encode()}

	got, err := RecvMessage(feeder.next, feeder.nowMS, 100)
	require.NoError(t, err)
	assert.Equal(t, m.Source, got.Source)
	assert.Equal(t, m.Command, got.Command)
	assert.Equal(t, m.Status, got.Status)
}

func TestRecvMessage_NoBytesEverTimesOut(t *testing.T) {
	t.Parallel()

	feeder := &byteFeeder{data: nil}
	_, err := RecvMessage(feeder.next, feeder.nowMS, 5)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestRecvMessage_CorruptCRCReportsFault(t *testing.T) {
	t.Parallel()

	m := Message{Source: SourceBootLoader, Command: CmdConnectRsp, Status: StatusOK}
	encoded := m.Encode()
	encoded[len(encoded)-1] ^= 0xFF // flip the CRC byte

	feeder := &byteFeeder{data: encoded}
	_, err := RecvMessage(feeder.next, feeder.nowMS, 100)
	require.Error(t, err)
	assert.True(t, IsCRC(err))
}
