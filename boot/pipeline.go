package boot

import (
	"crypto/sha256"

	"github.com/zigamiklosic/go-bootloader/internal/crc"
	"github.com/zigamiklosic/go-bootloader/platform"
)

// HeaderAddr and ResidentHeaderAddr are the fixed flash offsets of the
// incoming and resident image headers. A real target's memory map would
// make these build-time constants; here they are exported so platform
// implementations and CLIs agree on layout.
const (
	HeaderAddr         uint32 = 0x00000000
	ResidentHeaderAddr uint32 = 0x00010000
)

// FlashContext tracks the in-progress write invariants: the address
// the next FLASH chunk lands at, how many image bytes have been written so
// far, and the image's declared total size.
type FlashContext struct {
	WorkingAddr  uint32
	FlashedBytes uint32
	ImageSize    uint32
}

// Done reports whether every declared image byte has been written.
func (c FlashContext) Done() bool {
	return c.FlashedBytes >= c.ImageSize
}

// PreValidate runs the six pre-validation checks on the header carried in
// a PREPARE payload before any erase: header CRC, size bound, software
// version bound and downgrade check against the resident header, hardware
// version bound, declared signature/hash verification, and image type.
// Every failing predicate ORs into a single Status bitmask; a clean
// header returns StatusOK. downgradeAllowed controls whether sw_ver must
// exceed the resident header's sw_ver; when it is false and residentValid
// is true, a sw_ver not above the resident one reports StatusFWVer.
func PreValidate(raw []byte, residentHdr Header, residentValid bool, p platform.Platform, cfg Config, downgradeAllowed bool) (Header, Status) {
	var status Status

	if !HeaderCRCValid(raw) {
		status |= StatusValidation
	}

	hdr, err := DecodeHeader(raw)
	if err != nil {
		return Header{}, status | StatusValidation
	}

	if hdr.ImageSize > cfg.AppSizeMax {
		status |= StatusFWSize
	}

	if hdr.SWVer > cfg.SWVerLimit {
		status |= StatusFWVer
	}
	if !downgradeAllowed && residentValid && hdr.SWVer <= residentHdr.SWVer {
		status |= StatusFWVer
	}

	if hdr.HWVer > cfg.HWVerLimit {
		status |= StatusHWVer
	}

	if hdr.SignatureType == SignatureTypeECDSA {
		if !verifyDeclaredSignature(hdr, p) {
			status |= StatusSignature
		}
	} else if hdr.SignatureType != SignatureTypeNone {
		status |= StatusValidation
	} else if cfg.SignatureRequired {
		status |= StatusSignature
	}

	if hdr.ImageType != ImageTypeApp {
		status |= StatusValidation
	}

	return hdr, status
}

// verifyDeclaredSignature checks the header's own hash/signature pair, the
// declared half of signature validation: it verifies hdr.Signature against
// hdr.Hash under the platform's held public key, without recomputing the
// hash from a payload (the payload isn't written yet at PREPARE time). The
// payload itself is re-hashed and re-verified after writing, in
// PostValidate.
func verifyDeclaredSignature(hdr Header, p platform.Platform) bool {
	return p.VerifySignature(hdr.Hash, hdr.Signature)
}

// PostValidate re-reads and re-CRCs the just-flashed resident header, then
// verifies the written image payload against whichever of the two
// checksum paths the header's SignatureType selects: CRC32
// fallback for SignatureNone, or a SHA-256 digest re-check plus
// platform.VerifySignature for SignatureECDSA. Any other SignatureType value
// is rejected with StatusSignature (PreValidate should already have
// caught this, but PostValidate does not trust that it ran).
func PostValidate(p platform.Platform, addr uint32) Status {
	raw := make([]byte, HeaderSize)
	if err := p.FlashRead(addr, raw); err != nil {
		return StatusFlashErase
	}
	if !HeaderCRCValid(raw) {
		return StatusValidation
	}

	resident, err := DecodeHeader(raw)
	if err != nil {
		return StatusValidation
	}

	payload := make([]byte, resident.ImageSize)
	if err := p.FlashRead(addr+uint32(HeaderSize), payload); err != nil {
		return StatusFlashErase
	}

	switch resident.SignatureType {
	case SignatureTypeNone:
		if crc.CRC32(payload) != resident.ImageCRC {
			return StatusSignature
		}
	case SignatureTypeECDSA:
		digest := sha256.Sum256(payload)
		if digest != resident.Hash {
			return StatusSignature
		}
		if !p.VerifySignature(digest, resident.Signature) {
			return StatusSignature
		}
	default:
		return StatusSignature
	}

	return StatusOK
}

// FlashPrepare erases size bytes starting at addr, one page at a time,
// kicking the watchdog after each page rather than blocking through one
// giant erase call. The FSM calls it from its PREPARE handler.
func FlashPrepare(p platform.Platform, addr, size uint32) error {
	pageSize := p.PageSize()
	if pageSize == 0 {
		return NewFault(ReasonFlashErase, "platform reports zero page size")
	}

	for erased := uint32(0); erased < size; erased += pageSize {
		chunk := pageSize
		if remaining := size - erased; remaining < chunk {
			chunk = remaining
		}
		if err := p.FlashErase(addr+erased, chunk); err != nil {
			return NewFault(ReasonFlashErase, err.Error())
		}
		p.KickWatchdog()
	}
	return nil
}

// FlashChunk writes one FLASH-message payload at ctx.WorkingAddr,
// decrypting first if the resident header's EncType calls for it, then
// advances ctx in place. A chunk that would push FlashedBytes past
// ImageSize — a chunk arriving after completion, or one whose length
// simply overshoots — is rejected before anything is written, preserving
// the flashed_bytes ≤ image_size invariant.
func FlashChunk(p platform.Platform, ctx *FlashContext, encType EncType, payload []byte) error {
	if ctx.FlashedBytes+uint32(len(payload)) > ctx.ImageSize {
		return NewFault(ReasonFlashWrite, "chunk overshoots declared image size")
	}

	data := payload
	if encType == EncTypeAESCTR {
		decrypted := make([]byte, len(payload))
		if err := p.DecryptStream(payload, decrypted, len(payload)); err != nil {
			return NewFault(ReasonFlashWrite, err.Error())
		}
		data = decrypted
	}

	if err := p.FlashWrite(ctx.WorkingAddr, data); err != nil {
		return NewFault(ReasonFlashWrite, err.Error())
	}

	ctx.WorkingAddr += uint32(len(data))
	ctx.FlashedBytes += uint32(len(data))
	p.KickWatchdog()
	return nil
}
