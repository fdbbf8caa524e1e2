package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFault_Error_WithAndWithoutMessage(t *testing.T) {
	t.Parallel()

	bare := NewFault(ReasonTimeout, "")
	assert.Equal(t, "timeout", bare.Error())

	withMsg := NewFault(ReasonCRC, "header mismatch")
	assert.Contains(t, withMsg.Error(), "header mismatch")
}

func TestIsTimeout_MatchesOnlyTimeoutFaults(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTimeout(NewFault(ReasonTimeout, "")))
	assert.False(t, IsTimeout(NewFault(ReasonCRC, "")))
	assert.False(t, IsTimeout(nil))
}

func TestIsCRC_MatchesOnlyCRCFaults(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCRC(NewFault(ReasonCRC, "")))
	assert.False(t, IsCRC(NewFault(ReasonTimeout, "")))
}

func TestStatusOf_MapsWireReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason Reason
		want   Status
	}{
		{ReasonValidation, StatusValidation},
		{ReasonInvalidRequest, StatusInvalidRequest},
		{ReasonFlashWrite, StatusFlashWrite},
		{ReasonFlashErase, StatusFlashErase},
		{ReasonFWSize, StatusFWSize},
		{ReasonFWVer, StatusFWVer},
		{ReasonHWVer, StatusHWVer},
		{ReasonSignature, StatusSignature},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.reason))
	}
}

func TestStatusOf_InternalReasonsDefaultToValidation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusValidation, StatusOf(ReasonTimeout))
	assert.Equal(t, StatusValidation, StatusOf(ReasonCRC))
}

func TestStatus_String_CombinesBits(t *testing.T) {
	t.Parallel()

	s := StatusFWSize | StatusFWVer
	assert.Equal(t, "FW_SIZE|FW_VER", s.String())
}

func TestStatus_String_OK(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OK", StatusOK.String())
}
