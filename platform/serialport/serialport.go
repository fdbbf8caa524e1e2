// Package serialport implements platform.Platform's transport and timing
// surface (NowMS, RXByte, ClearRX, TxAll) over a real serial link, for use
// by cmd/bootmgr; cmd/bootsim does not use it. Flash storage, watchdog, and
// crypto capabilities still come from a platform/memimage.Image — a real
// upgrade run pairs this package's Port (manager side) against an actual
// device, or against a memimage-backed loader for a local, still-serial,
// end-to-end demo.
package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/zigamiklosic/go-bootloader/platform"
)

// Port is a platform.Platform-shaped adapter over go.bug.st/serial,
// grounded on bigbag-papyrix-flasher's internal/serial.Port: same
// Open/Close/Write/Read/Flush shape, adapted from its byte-slice API to
// the bootloader's single-byte RXByte/TxAll contract.
type Port struct {
	port     serial.Port
	portName string
	baudRate int

	rxBuf [1]byte
	start time.Time
}

// Open opens portName at baudRate, 8 data bits, no parity, one stop bit —
// the framing the bootloader's wire protocol assumes — with a short read
// timeout so RXByte never blocks the cooperative loop for long.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	sp, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", portName, err)
	}
	if err := sp.SetReadTimeout(5 * time.Millisecond); err != nil {
		sp.Close()
		return nil, fmt.Errorf("serialport: set read timeout: %w", err)
	}

	return &Port{port: sp, portName: portName, baudRate: baudRate, start: time.Time{}}, nil
}

// Close closes the underlying serial port.
func (p *Port) Close() error {
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}

// PortName returns the opened device path.
func (p *Port) PortName() string { return p.portName }

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int { return p.baudRate }

// NowMS returns milliseconds since the first NowMS call, standing in for the
// platform's free-running tick.
func (p *Port) NowMS() uint32 {
	if p.start.IsZero() {
		p.start = time.Now()
		return 0
	}
	return uint32(time.Since(p.start).Milliseconds())
}

// RXByte reads at most one byte without blocking past the port's
// configured read timeout; a timeout with zero bytes read is reported as
// "no byte available" rather than an error.
func (p *Port) RXByte() (byte, bool) {
	n, err := p.port.Read(p.rxBuf[:])
	if err != nil || n == 0 {
		return 0, false
	}
	return p.rxBuf[0], true
}

// ClearRX discards the port's input buffer.
func (p *Port) ClearRX() {
	p.port.ResetInputBuffer()
}

// TxAll writes the full contents of data, blocking until the driver
// accepts it.
func (p *Port) TxAll(data []byte) error {
	_, err := p.port.Write(data)
	return err
}

// ListPorts enumerates available serial devices.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Target composes a real serial Port's transport (NowMS, RXByte, ClearRX,
// TxAll) with a storage delegate's flash/watchdog/crypto/jump surface,
// satisfying platform.Platform as a whole. This lets a loader run the
// actual FSM over a real serial link while the loader's own
// flash and crypto capabilities stay wherever the delegate (typically a
// platform/memimage.Image standing in for a second simulated device, or a
// thin forwarder over a debug/SWD bridge) puts them.
type Target struct {
	*Port
	storage platform.Platform
}

// NewTarget pairs port for transport with storage for every other
// capability.
func NewTarget(port *Port, storage platform.Platform) *Target {
	return &Target{Port: port, storage: storage}
}

func (t *Target) FlashRead(addr uint32, buf []byte) error            { return t.storage.FlashRead(addr, buf) }
func (t *Target) FlashWrite(addr uint32, data []byte) error          { return t.storage.FlashWrite(addr, data) }
func (t *Target) FlashErase(addr, size uint32) error                 { return t.storage.FlashErase(addr, size) }
func (t *Target) PageSize() uint32                                   { return t.storage.PageSize() }
func (t *Target) KickWatchdog()                                      { t.storage.KickWatchdog() }
func (t *Target) PublicKey() [64]byte                                { return t.storage.PublicKey() }
func (t *Target) VerifySignature(digest [32]byte, sig [64]byte) bool { return t.storage.VerifySignature(digest, sig) }
func (t *Target) DecryptReset()                                      { t.storage.DecryptReset() }
func (t *Target) DecryptStream(in, out []byte, size int) error       { return t.storage.DecryptStream(in, out, size) }
func (t *Target) DeinitForJump() error                               { return t.storage.DeinitForJump() }
func (t *Target) Jump(addr uint32) error                             { return t.storage.Jump(addr) }
