// Command bootmgr plays the manager role: it drives a loader through
// CONNECT → PREPARE → FLASH×N → EXIT, either over a real serial link or
// in-process against a simulated loader for demos. It is the PC-side
// counterpart to cmd/bootsim's device-side loop.
package main

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zigamiklosic/go-bootloader/boot"
	"github.com/zigamiklosic/go-bootloader/internal/signing"
	"github.com/zigamiklosic/go-bootloader/platform/memimage"
	"github.com/zigamiklosic/go-bootloader/platform/serialport"
)

// flashChunkSize matches boot.DataPayloadSize so a default flash matches
// the wire protocol's largest allowed FLASH payload and boot.Config's
// default RXBufSize (frame header + DataPayloadSize) with no headroom to
// spare against a real, unbuffered loader.
const flashChunkSize = boot.DataPayloadSize

// responseTimeoutMS bounds how long the manager waits for a loader's
// response to any one request before treating the link as stalled.
const responseTimeoutMS = 2000

var mgrLogger = boot.NewConsoleLogger()

// responseCallbacks builds the manager role's response-side Callbacks —
// the counterpart to the loader role's request-side hooks in boot.FSM —
// logging each *_RSP through the same Logger the rest of the CLI uses.
func responseCallbacks() boot.Callbacks {
	logRsp := func(label string) func(boot.Message) {
		return func(msg boot.Message) {
			mgrLogger.Debug("%s status=%s", label, msg.Status)
		}
	}
	return boot.Callbacks{
		OnConnectResp: logRsp("CONNECT_RSP"),
		OnPrepareResp: logRsp("PREPARE_RSP"),
		OnFlashResp:   logRsp("FLASH_RSP"),
		OnExitResp:    logRsp("EXIT_RSP"),
		OnInfoResp:    logRsp("INFO_RSP"),
	}
}

var (
	portFlag       string
	baudFlag       int
	chunkSizeFlag  int
	simulateFlag   bool
	signKeyFlag    string
	encryptFlag    bool
)

func main() {
	root := &cobra.Command{
		Use:   "bootmgr",
		Short: "Drive a bootloader device through an upgrade",
	}

	flashCmd := &cobra.Command{
		Use:   "flash <image.bin>",
		Short: "Flash an image to a connected or simulated device",
		Args:  cobra.ExactArgs(1),
		RunE:  runFlash,
	}
	flashCmd.Flags().StringVarP(&portFlag, "port", "p", "", "serial port (ignored with --simulate)")
	flashCmd.Flags().IntVarP(&baudFlag, "baud", "b", 115200, "baud rate")
	flashCmd.Flags().IntVar(&chunkSizeFlag, "chunk-size", flashChunkSize, "FLASH payload chunk size")
	flashCmd.Flags().BoolVar(&simulateFlag, "simulate", false, "drive an in-process simulated loader instead of a real port")
	flashCmd.Flags().StringVar(&signKeyFlag, "sign-key", "", "PEM ECDSA private key to sign the image before flashing")
	flashCmd.Flags().BoolVar(&encryptFlag, "encrypt", false, "AES-CTR encrypt the image payload before flashing")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	root.AddCommand(flashCmd, listCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runFlash(cmd *cobra.Command, args []string) error {
	imagePath := args[0]
	app, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("bootmgr: read image: %w", err)
	}

	opts := signing.BuildOptions{ImageAddr: 0x00010000}
	if signKeyFlag != "" {
		key, err := loadECDSAKey(signKeyFlag)
		if err != nil {
			return fmt.Errorf("bootmgr: load signing key: %w", err)
		}
		opts.Sign = true
		opts.SigningKey = key
	}
	opts.Encrypt = encryptFlag

	image, err := signing.BuildImage(app, opts)
	if err != nil {
		return fmt.Errorf("bootmgr: build image: %w", err)
	}

	restore, err := watchTerminalResize()
	if err != nil {
		return fmt.Errorf("bootmgr: set up terminal: %w", err)
	}
	defer restore()

	if !simulateFlag {
		if portFlag == "" {
			return fmt.Errorf("bootmgr: --port is required without --simulate")
		}
		return runSerialFlash(image)
	}
	return runSimulatedFlash(image)
}

// runSerialFlash drives the manager-role CONNECT/PREPARE/FLASH×N/EXIT
// sequence over a real serial link against a live loader.
func runSerialFlash(image []byte) error {
	port, err := serialport.Open(portFlag, baudFlag)
	if err != nil {
		return fmt.Errorf("bootmgr: open %s: %w", portFlag, err)
	}
	defer port.Close()

	header := image[:boot.HeaderSize]
	payload := image[boot.HeaderSize:]

	hdr, err := boot.DecodeHeader(header)
	if err != nil {
		return fmt.Errorf("bootmgr: decode header: %w", err)
	}

	cb := responseCallbacks()
	send := func(msg boot.Message) (boot.Message, error) {
		if err := port.TxAll(msg.Encode()); err != nil {
			return boot.Message{}, fmt.Errorf("bootmgr: send command 0x%02X: %w", msg.Command, err)
		}
		rsp, err := boot.RecvMessage(port.RXByte, port.NowMS, responseTimeoutMS)
		if err != nil {
			return rsp, err
		}
		boot.DispatchResponse(cb, rsp)
		return rsp, nil
	}

	connectRsp, err := send(boot.Message{Source: boot.SourceManager, Command: boot.CmdConnect})
	if err != nil {
		return fmt.Errorf("bootmgr: CONNECT: %w", err)
	}
	if connectRsp.Status != boot.StatusOK {
		return fmt.Errorf("bootmgr: CONNECT failed: %s", connectRsp.Status)
	}

	prepareRsp, err := send(boot.Message{Source: boot.SourceManager, Command: boot.CmdPrepare, Payload: header})
	if err != nil {
		return fmt.Errorf("bootmgr: PREPARE: %w", err)
	}
	if prepareRsp.Status != boot.StatusOK {
		return fmt.Errorf("bootmgr: PREPARE failed: %s", prepareRsp.Status)
	}

	bar := progressbar.NewOptions(len(payload),
		progressbar.OptionSetDescription("Flashing "+port.PortName()),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	for offset := 0; offset < len(payload); offset += chunkSizeFlag {
		end := offset + chunkSizeFlag
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]

		rsp, err := send(boot.Message{Source: boot.SourceManager, Command: boot.CmdFlash, Payload: chunk})
		if err != nil {
			return fmt.Errorf("bootmgr: FLASH chunk at offset %d: %w", offset, err)
		}
		if rsp.Status != boot.StatusOK {
			return fmt.Errorf("bootmgr: FLASH chunk at offset %d failed: %s", offset, rsp.Status)
		}
		bar.Add(len(chunk))
	}

	exitRsp, err := send(boot.Message{Source: boot.SourceManager, Command: boot.CmdExit})
	if err != nil {
		return fmt.Errorf("bootmgr: EXIT: %w", err)
	}
	if exitRsp.Status != boot.StatusOK {
		return fmt.Errorf("bootmgr: EXIT failed: %s", exitRsp.Status)
	}

	fmt.Printf("flashed image addr=0x%08X size=%d sw_ver=%d over %s\n",
		hdr.ImageAddr, hdr.ImageSize, hdr.SWVer, port.PortName())
	return nil
}

// runSimulatedFlash exercises the full manager-role sequence
// (CONNECT → PREPARE → FLASH×N → EXIT) against an in-process
// memimage.Image loader, without requiring real hardware.
func runSimulatedFlash(image []byte) error {
	header := image[:boot.HeaderSize]
	payload := image[boot.HeaderSize:]

	hdr, err := boot.DecodeHeader(header)
	if err != nil {
		return fmt.Errorf("bootmgr: decode header: %w", err)
	}

	loaderImg := memimage.New(1<<20, memimage.DefaultPageSize)

	cb := responseCallbacks()
	send := func(msg boot.Message) boot.Message {
		fsm := loaderFSM(loaderImg)
		rsp := fsm.Handle(loaderImg.NowMS(), msg)
		boot.DispatchResponse(cb, rsp)
		return rsp
	}

	connectRsp := send(boot.Message{Source: boot.SourceManager, Command: boot.CmdConnect})
	if connectRsp.Status != boot.StatusOK {
		return fmt.Errorf("bootmgr: CONNECT failed: %s", connectRsp.Status)
	}

	prepareRsp := send(boot.Message{Source: boot.SourceManager, Command: boot.CmdPrepare, Payload: header})
	if prepareRsp.Status != boot.StatusOK {
		return fmt.Errorf("bootmgr: PREPARE failed: %s", prepareRsp.Status)
	}

	bar := progressbar.NewOptions(len(payload),
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	for offset := 0; offset < len(payload); offset += chunkSizeFlag {
		end := offset + chunkSizeFlag
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]

		rsp := send(boot.Message{Source: boot.SourceManager, Command: boot.CmdFlash, Payload: chunk})
		if rsp.Status != boot.StatusOK {
			return fmt.Errorf("bootmgr: FLASH chunk at offset %d failed: %s", offset, rsp.Status)
		}
		bar.Add(len(chunk))
	}

	exitRsp := send(boot.Message{Source: boot.SourceManager, Command: boot.CmdExit})
	if exitRsp.Status != boot.StatusOK {
		return fmt.Errorf("bootmgr: EXIT failed: %s", exitRsp.Status)
	}

	jumped, target := loaderImg.Jumped()
	fmt.Printf("flashed image addr=0x%08X size=%d sw_ver=%d jumped=%v target=0x%08X\n",
		hdr.ImageAddr, hdr.ImageSize, hdr.SWVer, jumped, target)
	return nil
}

// loaderFSM builds an FSM bound to img on its first call, caches it in
// sharedFSM, and returns that same FSM on every later call, so FSM state
// carries across the simulated CONNECT/PREPARE/FLASH/EXIT steps as it does
// inside one boot.Run loop. Later calls ignore their img argument.
var sharedFSM *boot.FSM

func loaderFSM(img *memimage.Image) *boot.FSM {
	if sharedFSM == nil {
		sharedFSM = boot.NewFSM(img, img, boot.DefaultConfig(), boot.Callbacks{}, boot.NoopLogger{})
	}
	return sharedFSM
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serialport.ListPorts()
	if err != nil {
		return fmt.Errorf("bootmgr: list ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func loadECDSAKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// watchTerminalResize puts stdout into raw mode for the duration of a
// flash so the progress bar owns cursor control and stray Ctrl-C/resize
// escape sequences don't leak onto the line; a no-op when stdout isn't a
// TTY (e.g. piped output, CI).
func watchTerminalResize() (func(), error) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { term.Restore(fd, oldState) }, nil
}
