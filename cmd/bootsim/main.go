// Command bootsim runs the bootloader core against a simulated flash and
// serial pair, or inspects an already-built image header. It plays the
// loader role against cmd/bootmgr's manager role.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zigamiklosic/go-bootloader/boot"
	"github.com/zigamiklosic/go-bootloader/platform/memimage"
)

var (
	flashSizeFlag uint32
	pageSizeFlag  uint32
	profileFlag   string
	verboseFlag   bool
)

func main() {
	root := &cobra.Command{
		Use:   "bootsim",
		Short: "Run or inspect the bootloader core against a simulated device",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the loader core against an in-RAM flash image",
		RunE:  runRun,
	}
	runCmd.Flags().Uint32Var(&flashSizeFlag, "flash-size", 1<<20, "simulated flash size in bytes")
	runCmd.Flags().Uint32Var(&pageSizeFlag, "page-size", memimage.DefaultPageSize, "simulated flash erase page size")
	runCmd.Flags().StringVar(&profileFlag, "profile", "", "optional YAML device profile overriding boot.Config defaults")
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	inspectCmd := &cobra.Command{
		Use:   "inspect <image.bin>",
		Short: "Parse and print an application header",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bootsim dev")
		},
	}

	root.AddCommand(runCmd, inspectCmd, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (boot.Config, error) {
	cfg := boot.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("bootsim: read profile: %w", err)
	}

	if v.IsSet("rx_buf_size") {
		cfg.RXBufSize = v.GetInt("rx_buf_size")
	}
	if v.IsSet("idle_timeout_ms") {
		cfg.IdleTimeoutMS = v.GetUint32("idle_timeout_ms")
	}
	if v.IsSet("prepare_idle_timeout_ms") {
		cfg.PrepareIdleTimeoutMS = v.GetUint32("prepare_idle_timeout_ms")
	}
	if v.IsSet("flash_idle_timeout_ms") {
		cfg.FlashIdleTimeoutMS = v.GetUint32("flash_idle_timeout_ms")
	}
	if v.IsSet("exit_idle_timeout_ms") {
		cfg.ExitIdleTimeoutMS = v.GetUint32("exit_idle_timeout_ms")
	}
	if v.IsSet("jump_to_app_timeout_ms") {
		cfg.JumpToAppTimeoutMS = v.GetUint32("jump_to_app_timeout_ms")
	}
	if v.IsSet("app_size_max") {
		cfg.AppSizeMax = v.GetUint32("app_size_max")
	}
	if v.IsSet("boot_counting_enabled") {
		cfg.BootCountingEnabled = v.GetBool("boot_counting_enabled")
	}
	if v.IsSet("boot_count_limit") {
		cfg.BootCountLimit = byte(v.GetUint32("boot_count_limit"))
	}
	if v.IsSet("signature_required") {
		cfg.SignatureRequired = v.GetBool("signature_required")
	}

	return cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(profileFlag)
	if err != nil {
		return err
	}

	logger := boot.NewConsoleLogger()

	img := memimage.New(flashSizeFlag, pageSizeFlag).WithECDSAKey()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Fprintf(os.Stderr, "bootsim: simulated flash %d bytes, page size %d\n", flashSizeFlag, pageSizeFlag)

	return boot.Run(ctx, img, img,
		boot.WithConfig(cfg),
		boot.WithLogger(logger),
	)
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("bootsim: read image: %w", err)
	}
	if len(data) < boot.HeaderSize {
		return fmt.Errorf("bootsim: image too short to contain a header")
	}

	header := data[:boot.HeaderSize]
	valid := boot.HeaderCRCValid(header)
	hdr, err := boot.DecodeHeader(header)
	if err != nil {
		return fmt.Errorf("bootsim: decode header: %w", err)
	}

	fmt.Printf("version:        %d\n", hdr.Version)
	fmt.Printf("image type:     %d\n", hdr.ImageType)
	fmt.Printf("image addr:     0x%08X\n", hdr.ImageAddr)
	fmt.Printf("image size:     %d\n", hdr.ImageSize)
	fmt.Printf("image crc:      0x%08X\n", hdr.ImageCRC)
	fmt.Printf("sw version:     %d\n", hdr.SWVer)
	fmt.Printf("hw version:     %d\n", hdr.HWVer)
	fmt.Printf("enc type:       %d\n", hdr.EncType)
	fmt.Printf("signature type: %d\n", hdr.SignatureType)
	fmt.Printf("git sha:        %x\n", hdr.GitSHA)
	fmt.Printf("header crc ok:  %v\n", valid)

	return nil
}
