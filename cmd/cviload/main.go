package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bigbag/cviload/internal/board"
	"github.com/bigbag/cviload/internal/detect"
	"github.com/bigbag/cviload/internal/download"
	"github.com/bigbag/cviload/internal/logging"
	"github.com/bigbag/cviload/internal/payload"
	"github.com/bigbag/cviload/internal/protocol"
	"github.com/bigbag/cviload/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	logLevelFlag  string
	configFlag    string
	handshakeFlag string
	outputFlag    string
	payloadFlag   string
	timeoutFlag   time.Duration
)

var logger = zerolog.Nop()

func main() {
	rootCmd := &cobra.Command{
		Use:   "cviload",
		Short: "Load boot images into CVITek / Sophgo SoCs over the USB ROM loader",
		Long: `cviload talks to the mask ROM USB download mode of CV181x / SG200x SoCs
(Milk-V Duo S and friends). It sends the download handshake, a generated
boot header and the boot image, then lets the ROM boot from RAM.

The default Milk-V Duo S board profile is embedded in this tool.
Use --config to override any of its settings with a TOML file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logging.Init("cviload", logging.LevelFromEnv(logLevelFlag))
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error (env "+logging.EnvLevel+")")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Board profile TOML applied over the embedded default")

	// Run command
	runCmd := &cobra.Command{
		Use:   "run <payload>",
		Short: "Download a boot image to the device",
		Long: `Download a boot image through the ROM loader.

The sequence is:
  - Handshake (keep-download) to enter download mode
  - Boot header at RAM offset 0, boot flag, break
  - Handshake again after the device re-enumerates
  - Payload at RAM offset 0, boot flag, break

Payloads ending in .xz, .lz4 or .zst are decompressed first.`,
		Args: cobra.ExactArgs(1),
		RunE: runDownload,
	}
	runCmd.Flags().StringVar(&handshakeFlag, "handshake", "", "Handshake blob sent to enter download mode (required)")
	_ = runCmd.MarkFlagRequired("handshake")
	addTimeoutFlag(runCmd.Flags())

	// Header command
	headerCmd := &cobra.Command{
		Use:   "header <payload>",
		Short: "Write the boot header for a payload",
		Args:  cobra.ExactArgs(1),
		RunE:  runHeader,
	}
	headerCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file (required)")
	_ = headerCmd.MarkFlagRequired("output")

	// Inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect <header.bin>",
		Short: "Decode and verify a boot header",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	inspectCmd.Flags().StringVar(&payloadFlag, "payload", "", "Also check the header against this payload")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	// Wait command
	waitCmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for the ROM loader to enumerate and print its port",
		RunE:  runWait,
	}
	addTimeoutFlag(waitCmd.Flags())

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cviload %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(runCmd, headerCmd, inspectCmd, listCmd, waitCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addTimeoutFlag(fs *pflag.FlagSet) {
	fs.DurationVarP(&timeoutFlag, "timeout", "t", 0, "Device discovery timeout (profile default if zero)")
}

// loadProfile returns the embedded profile or the --config overlay.
func loadProfile() (board.Profile, error) {
	p := board.Default()
	if configFlag != "" {
		var err error
		p, err = board.Load(configFlag)
		if err != nil {
			return board.Profile{}, err
		}
		logger.Info().Str("path", configFlag).Str("profile", p.Name).Msg("loaded board profile")
	}
	if timeoutFlag > 0 {
		p.DiscoveryTimeout = timeoutFlag
		if err := p.Validate(); err != nil {
			return board.Profile{}, err
		}
	}
	return p, nil
}

func newLocator() *detect.Locator {
	return detect.NewLocator(detect.SystemEnumerator(), detect.WithLogger(logger))
}

func runDownload(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	image, err := payload.Read(args[0])
	if err != nil {
		return err
	}
	handshake, err := os.ReadFile(handshakeFlag)
	if err != nil {
		return fmt.Errorf("failed to read handshake file: %w", err)
	}

	fmt.Printf("Board:     %s (%04x:%04x)\n", profile.Name, profile.VendorID, profile.ProductID)
	fmt.Printf("Payload:   %s (%s)\n", args[0], humanize.IBytes(uint64(len(image))))
	fmt.Printf("Handshake: %s (%s)\n", handshakeFlag, humanize.IBytes(uint64(len(handshake))))
	fmt.Printf("Waiting up to %v for the device...\n", profile.DiscoveryTimeout)

	var (
		bar     *progressbar.ProgressBar
		current download.State
	)
	onProgress := func(p download.Progress) {
		if p.State != download.StateHeaderSent && p.State != download.StatePayloadSent {
			fmt.Printf("%s: ok\n", p.State)
			return
		}
		if bar == nil || p.State != current {
			current = p.State
			fmt.Printf("\nSending %s (%s)...\n", describeChunks(p.State), humanize.IBytes(uint64(p.Total)))
			bar = progressbar.NewOptions(p.Chunks,
				progressbar.OptionSetDescription("Sending"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionThrottle(100),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(p.Chunk)
		if p.Chunk == p.Chunks {
			_ = bar.Finish()
		}
	}

	loader := download.New(profile, newLocator(), download.SerialOpener(),
		download.WithLogger(logger),
		download.WithProgressCallback(onProgress),
	)

	if err := loader.Run(handshake, image); err != nil {
		printFailure(err)
		return err
	}

	fmt.Println("\nDownload complete!")
	fmt.Println("Done!")
	return nil
}

func describeChunks(s download.State) string {
	if s == download.StateHeaderSent {
		return "boot header"
	}
	return "payload"
}

func printFailure(err error) {
	var phaseErr *download.PhaseError
	if errors.As(err, &phaseErr) {
		fmt.Printf("\nFailed at stage %s\n", phaseErr.State)
	}

	var mismatch *protocol.ChecksumMismatchError
	if errors.As(err, &mismatch) {
		fmt.Printf("  command:  %s (0x%02X) at 0x%X\n", protocol.CommandName(mismatch.Command), mismatch.Command, mismatch.Address)
		fmt.Printf("  expected: 0x%04X\n", mismatch.Expected)
		fmt.Printf("  actual:   0x%04X\n", mismatch.Actual)
	}

	switch {
	case errors.Is(err, detect.ErrNotFound):
		fmt.Println("  Is the board powered and connected in USB download mode?")
	case serial.IsTimeout(err):
		fmt.Println("  The ROM loader stopped answering; power-cycle the board and retry.")
	}
}

func runWait(cmd *cobra.Command, args []string) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	fmt.Printf("Waiting up to %v for %04x:%04x...\n", profile.DiscoveryTimeout, profile.VendorID, profile.ProductID)
	port, err := newLocator().Locate(profile.VendorID, profile.ProductID, profile.DiscoveryTimeout, profile.PollInterval)
	if err != nil {
		return err
	}

	fmt.Println(port)
	return nil
}
