// Package signing implements the post-build header-fill/sign/CRC pipeline
// of original_source/app_sign_tool/src/app_sign_tool.py: padding, size
// fill, optional ECDSA signing, optional AES-CTR encryption, CRC32 image
// checksum, and the final header CRC8 stamp. It is developer/CLI tooling
// around the bootloader core, not part of the loader's runtime decision
// path (an external
// collaborator).
package signing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/zigamiklosic/go-bootloader/boot"
	"github.com/zigamiklosic/go-bootloader/internal/crc"
)

// PadBlockSize is the block size application images are padded to before
// their size is stamped into the header, matching app_sign_tool.py's
// PAD_BLOCK_SIZE_BYTE.
const PadBlockSize = 64

// BuildOptions controls what BuildImage does beyond the minimal
// header-fill-and-CRC pass.
type BuildOptions struct {
	ImageAddr uint32
	SWVer     uint32
	HWVer     uint32
	GitSHA    [8]byte

	Sign       bool
	SigningKey *ecdsa.PrivateKey

	Encrypt bool
	AESKey  [32]byte
	AESIV   [16]byte
}

// BuildImage pads app to a PadBlockSize boundary, fills the header's size/
// version/address fields, optionally signs and/or encrypts the payload,
// computes the CRC32 image checksum, and stamps the header CRC8 — the
// same ordered pipeline as app_sign_tool.py's main(): pad, size, sign,
// encrypt, image CRC, header CRC. It returns the complete
// header-then-payload image ready to write to flash.
func BuildImage(app []byte, opts BuildOptions) ([]byte, error) {
	padded := padTo(app, PadBlockSize)

	hdr := boot.Header{
		Version:   1,
		ImageType: boot.ImageTypeApp,
		ImageAddr: opts.ImageAddr,
		ImageSize: uint32(len(padded)),
		SWVer:     opts.SWVer,
		HWVer:     opts.HWVer,
		GitSHA:    opts.GitSHA,
	}

	payload := padded

	if opts.Sign {
		if opts.SigningKey == nil {
			return nil, fmt.Errorf("signing: Sign requested but SigningKey is nil")
		}
		digest := sha256.Sum256(payload)
		sig, err := signDigest(opts.SigningKey, digest)
		if err != nil {
			return nil, fmt.Errorf("signing: sign payload: %w", err)
		}
		hdr.Hash = digest
		hdr.Signature = sig
		hdr.SignatureType = boot.SignatureTypeECDSA
	}

	if opts.Encrypt {
		encrypted, err := aesCTR(payload, opts.AESKey, opts.AESIV)
		if err != nil {
			return nil, fmt.Errorf("signing: encrypt payload: %w", err)
		}
		payload = encrypted
		hdr.EncType = boot.EncTypeAESCTR
	}

	// Image CRC is computed after crypting, matching app_sign_tool.py's
	// ordering note ("after crypting of the image").
	hdr.ImageCRC = crc.CRC32(payload)

	headerBytes := hdr.Encode()
	image := make([]byte, 0, len(headerBytes)+len(payload))
	image = append(image, headerBytes...)
	image = append(image, payload...)
	return image, nil
}

// padTo right-pads data with zero bytes to the next multiple of blockSize,
// matching app_sign_tool.py's PAD_VALUE=0x00 padding.
func padTo(data []byte, blockSize int) []byte {
	rem := len(data) % blockSize
	if rem == 0 {
		return data
	}
	padding := blockSize - rem
	out := make([]byte, len(data)+padding)
	copy(out, data)
	return out
}

// signDigest ECDSA-signs digest and packs (r, s) into the header's fixed
// 64-byte signature field (32 bytes each), matching the fixed-width
// sigencode_string the original tool uses rather than ASN.1 DER.
func signDigest(key *ecdsa.PrivateKey, digest [32]byte) ([64]byte, error) {
	var out [64]byte
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return out, err
	}
	r.FillBytes(out[0:32])
	s.FillBytes(out[32:64])
	return out, nil
}

func aesCTR(plain []byte, key [32]byte, iv [16]byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, plain)
	return out, nil
}

// VerifySignature checks the (r, s) packed in hdr.Signature against
// digest and the given public key — the tool-side counterpart of the
// core's own PreValidate/PostValidate checks, usable by bootsim inspect
// to report whether an image it didn't build itself would pass.
func VerifySignature(pub *ecdsa.PublicKey, digest [32]byte, signature [64]byte) bool {
	r := new(big.Int).SetBytes(signature[0:32])
	s := new(big.Int).SetBytes(signature[32:64])
	return ecdsa.Verify(pub, digest[:], r, s)
}
