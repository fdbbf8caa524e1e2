package boot

import (
	"encoding/binary"
	"fmt"

	"github.com/zigamiklosic/go-bootloader/internal/crc"
)

// HeaderSize is the fixed size, in bytes, of the on-flash application
// header.
const HeaderSize = 256

// Field offsets within the 256-byte header, confirmed against
// original_source/app_sign_tool/src/app_sign_tool.py's APP_HEADER_*_ADDR
// constants — the conceptual ctrl/data grouping isn't a contiguous memory
// layout, so these offsets are authoritative over that grouping.
const (
	offCRC           = 0x00
	offVersion       = 0x01
	offImageType     = 0x02
	offSWVer         = 0x08
	offHWVer         = 0x0C
	offImageSize     = 0x10
	offImageAddr     = 0x14
	offImageCRC      = 0x18
	offEncType       = 0x1C
	offSignatureType = 0x1D
	offSignature     = 0x1E
	signatureLen     = 64
	offHash          = 0x5E
	hashLen          = 32
	offGitSHA        = 0x7E
	gitSHALen        = 8
)

// Header is the resident application header: addresses, sizes, versions,
// optional signature, and the CRC-8 that protects all of it.
type Header struct {
	Version       byte
	ImageType     ImageType
	SignatureType SignatureType
	EncType       EncType

	ImageAddr uint32
	ImageSize uint32 // bytes of payload, excluding the header itself
	ImageCRC  uint32
	SWVer     uint32
	HWVer     uint32

	Signature [signatureLen]byte
	Hash      [hashLen]byte
	GitSHA    [gitSHALen]byte
}

// Encode serializes h into its 256-byte on-flash form and stamps the
// CRC-8 byte at offset 0.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)

	buf[offVersion] = h.Version
	buf[offImageType] = byte(h.ImageType)
	binary.LittleEndian.PutUint32(buf[offSWVer:], h.SWVer)
	binary.LittleEndian.PutUint32(buf[offHWVer:], h.HWVer)
	binary.LittleEndian.PutUint32(buf[offImageSize:], h.ImageSize)
	binary.LittleEndian.PutUint32(buf[offImageAddr:], h.ImageAddr)
	binary.LittleEndian.PutUint32(buf[offImageCRC:], h.ImageCRC)
	buf[offEncType] = byte(h.EncType)
	buf[offSignatureType] = byte(h.SignatureType)
	copy(buf[offSignature:offSignature+signatureLen], h.Signature[:])
	copy(buf[offHash:offHash+hashLen], h.Hash[:])
	copy(buf[offGitSHA:offGitSHA+gitSHALen], h.GitSHA[:])

	buf[offCRC] = crc.CRC8(buf[1:HeaderSize])
	return buf
}

// DecodeHeader parses a 256-byte on-flash region into a Header. It does
// not itself validate the CRC — call HeaderCRCValid on the raw bytes
// before trusting the result.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("boot: decode header: expected %d bytes, got %d", HeaderSize, len(buf))
	}

	var h Header
	h.Version = buf[offVersion]
	h.ImageType = ImageType(buf[offImageType])
	h.SWVer = binary.LittleEndian.Uint32(buf[offSWVer:])
	h.HWVer = binary.LittleEndian.Uint32(buf[offHWVer:])
	h.ImageSize = binary.LittleEndian.Uint32(buf[offImageSize:])
	h.ImageAddr = binary.LittleEndian.Uint32(buf[offImageAddr:])
	h.ImageCRC = binary.LittleEndian.Uint32(buf[offImageCRC:])
	h.EncType = EncType(buf[offEncType])
	h.SignatureType = SignatureType(buf[offSignatureType])
	copy(h.Signature[:], buf[offSignature:offSignature+signatureLen])
	copy(h.Hash[:], buf[offHash:offHash+hashLen])
	copy(h.GitSHA[:], buf[offGitSHA:offGitSHA+gitSHALen])

	return h, nil
}

// HeaderCRCValid reports whether the CRC-8 stored at offset 0 of a raw
// 256-byte header region matches the CRC recomputed over bytes [1:256).
func HeaderCRCValid(buf []byte) bool {
	if len(buf) != HeaderSize {
		return false
	}
	return buf[offCRC] == crc.CRC8(buf[1:HeaderSize])
}
