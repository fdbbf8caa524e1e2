// Package memimage is an in-RAM test double for platform.Platform and
// platform.HandoffRegion: a byte slice standing in for non-volatile flash,
// a millisecond clock the caller advances explicitly, and stdlib crypto
// primitives standing in for the external ECDSA/AES-CTR collaborators
// named out of scope for the core. It backs both the boot/ test suite
// and the bootsim CLI's simulated device.
package memimage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"math/big"
)

// DefaultPageSize matches the original firmware's flash erase granularity
// on the reference part (original_source/inc/boot_cfg.h).
const DefaultPageSize = 2048

// FaultMode injects a failure into the next matching operation, used by
// tests exercising §4's error propagation paths.
type FaultMode int

const (
	FaultNone FaultMode = iota
	FaultFlashWrite
	FaultFlashErase
	FaultFlashRead
)

// Image is an in-RAM flash region plus a clock that moves only when
// AdvanceClock is called, and the
// collaborator state (watchdog kicks, decryptor, jump target) a real
// platform.Platform implementation would own.
type Image struct {
	mem      []byte
	pageSize uint32
	now      uint32

	handoff [32]byte

	watchdogKicks int
	txBuf         []byte
	rxQueue       []byte

	publicKey [64]byte
	ecdsaKey  *ecdsa.PrivateKey
	ctrKey    [32]byte
	ctrNonce  [16]byte

	fault     FaultMode
	faultAddr uint32

	jumped     bool
	jumpTarget uint32
	deinited   bool
}

// New builds an Image of size bytes, erased to 0xFF, with the given page
// size (DefaultPageSize if zero).
func New(size uint32, pageSize uint32) *Image {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Image{mem: mem, pageSize: pageSize}
}

// WithECDSAKey generates a P-256 key pair standing in for a secp256k1
// public key (documented curve substitution, see DESIGN.md) and stores
// the public key's coordinates as the 64-byte blob platform.PublicKey()
// returns.
func (img *Image) WithECDSAKey() *Image {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return img.WithECDSAPrivateKey(key)
}

// WithECDSAPrivateKey installs an explicit P-256 key pair, for callers
// (tests, mostly) that need to sign against a known key rather than
// WithECDSAKey's randomly generated one.
func (img *Image) WithECDSAPrivateKey(key *ecdsa.PrivateKey) *Image {
	img.ecdsaKey = key

	var blob [64]byte
	x := key.PublicKey.X.Bytes()
	y := key.PublicKey.Y.Bytes()
	copy(blob[32-len(x):32], x)
	copy(blob[64-len(y):64], y)
	img.publicKey = blob
	return img
}

// WithAESKey sets the AES-CTR key/nonce pair DecryptStream uses.
func (img *Image) WithAESKey(key [32]byte, nonce [16]byte) *Image {
	img.ctrKey = key
	img.ctrNonce = nonce
	return img
}

// InjectFault arms a one-shot failure for the next operation touching addr
// under the given mode.
func (img *Image) InjectFault(mode FaultMode, addr uint32) {
	img.fault = mode
	img.faultAddr = addr
}

// AdvanceClock moves the simulated millisecond clock forward.
func (img *Image) AdvanceClock(deltaMS uint32) { img.now += deltaMS }

// QueueRX appends bytes the next RXByte calls will return, standing in for
// a serial link's incoming stream.
func (img *Image) QueueRX(data []byte) { img.rxQueue = append(img.rxQueue, data...) }

// TakeTX drains and returns everything written via TxAll so far.
func (img *Image) TakeTX() []byte {
	out := img.txBuf
	img.txBuf = nil
	return out
}

// WatchdogKicks reports how many times KickWatchdog has been called.
func (img *Image) WatchdogKicks() int { return img.watchdogKicks }

// Jumped reports whether Jump was called, and with what address.
func (img *Image) Jumped() (bool, uint32) { return img.jumped, img.jumpTarget }

// RawAt returns a view of size bytes at addr, for test assertions.
func (img *Image) RawAt(addr, size uint32) []byte {
	return img.mem[addr : addr+size]
}

// --- platform.Platform ---

func (img *Image) NowMS() uint32 { return img.now }

func (img *Image) RXByte() (byte, bool) {
	if len(img.rxQueue) == 0 {
		return 0, false
	}
	b := img.rxQueue[0]
	img.rxQueue = img.rxQueue[1:]
	return b, true
}

func (img *Image) ClearRX() { img.rxQueue = nil }

func (img *Image) TxAll(data []byte) error {
	img.txBuf = append(img.txBuf, data...)
	return nil
}

func (img *Image) FlashRead(addr uint32, buf []byte) error {
	if img.consumeFault(FaultFlashRead, addr) {
		return errors.New("memimage: injected flash read fault")
	}
	if int(addr)+len(buf) > len(img.mem) {
		return errors.New("memimage: read out of range")
	}
	copy(buf, img.mem[addr:int(addr)+len(buf)])
	return nil
}

func (img *Image) FlashWrite(addr uint32, data []byte) error {
	if img.consumeFault(FaultFlashWrite, addr) {
		return errors.New("memimage: injected flash write fault")
	}
	if int(addr)+len(data) > len(img.mem) {
		return errors.New("memimage: write out of range")
	}
	copy(img.mem[addr:int(addr)+len(data)], data)
	return nil
}

func (img *Image) FlashErase(addr, size uint32) error {
	if img.consumeFault(FaultFlashErase, addr) {
		return errors.New("memimage: injected flash erase fault")
	}
	if int(addr)+int(size) > len(img.mem) {
		return errors.New("memimage: erase out of range")
	}
	for i := addr; i < addr+size; i++ {
		img.mem[i] = 0xFF
	}
	return nil
}

func (img *Image) PageSize() uint32 { return img.pageSize }

func (img *Image) KickWatchdog() { img.watchdogKicks++ }

func (img *Image) PublicKey() [64]byte { return img.publicKey }

func (img *Image) VerifySignature(digest [32]byte, signature [64]byte) bool {
	if img.ecdsaKey == nil {
		return false
	}
	r := new(big.Int).SetBytes(signature[0:32])
	s := new(big.Int).SetBytes(signature[32:64])
	return ecdsa.Verify(&img.ecdsaKey.PublicKey, digest[:], r, s)
}

func (img *Image) DecryptReset() {}

func (img *Image) DecryptStream(in []byte, out []byte, size int) error {
	var zero [32]byte
	if img.ctrKey == zero {
		copy(out[:size], in[:size])
		return nil
	}
	block, err := aes.NewCipher(img.ctrKey[:])
	if err != nil {
		return err
	}
	stream := cipher.NewCTR(block, img.ctrNonce[:])
	stream.XORKeyStream(out[:size], in[:size])
	return nil
}

func (img *Image) DeinitForJump() error {
	img.deinited = true
	return nil
}

func (img *Image) Jump(addr uint32) error {
	img.jumped = true
	img.jumpTarget = addr
	return nil
}

// --- platform.HandoffRegion ---

func (img *Image) Read() [32]byte   { return img.handoff }
func (img *Image) Write(d [32]byte) { img.handoff = d }

func (img *Image) consumeFault(mode FaultMode, addr uint32) bool {
	if img.fault == mode && img.faultAddr == addr {
		img.fault = FaultNone
		return true
	}
	return false
}
