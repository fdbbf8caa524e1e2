package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC8_KnownAnswers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "single_zero_byte", data: []byte{0x00}},
		{name: "single_byte", data: []byte{0x42}},
		{name: "ascending_run", data: []byte{0x01, 0x02, 0x03, 0x04, 0x05}},
		{name: "all_ff", data: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CRC8(tt.data)
			assert.Equal(t, referenceCRC8(tt.data), got)
		})
	}
}

func TestCRC8_Deterministic(t *testing.T) {
	t.Parallel()

	data := []byte("bootloader-header-region")
	first := CRC8(data)
	second := CRC8(data)
	require.Equal(t, first, second)
}

func TestCRC8_DifferentDataDifferentResult(t *testing.T) {
	t.Parallel()

	a := CRC8([]byte{0x01, 0x02, 0x03})
	b := CRC8([]byte{0x01, 0x02, 0x04})
	assert.NotEqual(t, a, b)
}

func TestCRC32_KnownAnswers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "single_byte", data: []byte{0x7A}},
		{name: "payload_like", data: []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CRC32(tt.data)
			assert.Equal(t, referenceCRC32(tt.data), got)
		})
	}
}

func TestCRC32_LargePayload(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(i)
	}

	got := CRC32(payload)
	assert.Equal(t, referenceCRC32(payload), got)
}

// referenceCRC8 and referenceCRC32 are direct transcriptions of
// app_sign_tool.py's calc_crc8/calc_crc32, kept separate from the
// production implementation so a regression in one doesn't mask itself.
func referenceCRC8(data []byte) byte {
	const poly = 0x07
	crc := byte(0xB6)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 == 0x80 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func referenceCRC32(data []byte) uint32 {
	const poly = 0x04C11DB7
	crc := uint32(0x10101010)
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 32; i++ {
			if crc&0x80000000 == 0x80000000 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
