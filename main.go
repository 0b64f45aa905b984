// arduflash
// Firmware and FX cartridge flasher for Arduboy-style boards.
// Cobra CLI + tcell modal progress view, plain output when piped.
//
// Build:
//
//	go build -o arduflash .
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"arduflash/config"
	"arduflash/flash"
	"arduflash/operation"
	"arduflash/transfer"
)

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid --log-level %q", level)
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

func main() {
	var (
		cfgPath, logLevel string
		plain, multi      bool
		sess              *session
	)

	root := &cobra.Command{
		Use:           "arduflash",
		Short:         "Arduboy firmware and FX cartridge flasher",
		Long:          "Flash, verify and back up sketches and FX flash carts over the Caterina/Cathy3K bootloader",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := flash.Check(); err != nil {
				return err
			}
			log, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			sess = newSession(cfg, log, plain, multi)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug|info|warn|error")
	root.PersistentFlags().BoolVar(&plain, "plain", false, "plain line output instead of the terminal view")
	root.PersistentFlags().BoolVarP(&multi, "multi", "m", false, "run on every attached device in turn")

	ctx := context.Background()

	// Scan (read-only)
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List attached devices without resetting them",
		RunE: func(_ *cobra.Command, _ []string) error {
			handles, err := sess.locator.List()
			if err != nil {
				return err
			}
			if len(handles) == 0 {
				fmt.Println("  <none detected>")
				return nil
			}
			fmt.Printf("  %-18s  %-10s  %-12s  %-11s  %s\n", "Port", "ID", "Model", "Mode", "Serial")
			for _, h := range handles {
				mode := "sketch"
				if h.Bootloader {
					mode = "bootloader"
				}
				fmt.Printf("  %-18s  %-10s  %-12s  %-11s  %s\n", h.Port, h.ID(), h.Model, mode, h.Serial)
			}
			return nil
		},
	}
	root.AddCommand(scanCmd)

	// Flash
	var flashIn string
	flashCmd := &cobra.Command{
		Use:   "flash",
		Short: "Write a sketch (.hex or .bin) to the onboard flash",
		RunE: func(_ *cobra.Command, _ []string) error {
			fw := &transfer.FirmwareFile{Path: flashIn}
			if err := sess.load(ctx, fw.Load()); err != nil {
				return err
			}
			return sess.run(ctx, "Flash firmware", transfer.FlashFirmware(fw.Image, sess.options()))
		},
	}
	flashCmd.Flags().StringVarP(&flashIn, "input", "i", "", "sketch file (.hex or .bin)")
	must(flashCmd.MarkFlagRequired("input"))
	root.AddCommand(flashCmd)

	// Verify
	var verifyIn string
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the onboard flash against a sketch or backup",
		RunE: func(_ *cobra.Command, _ []string) error {
			fw := &transfer.FirmwareFile{Path: verifyIn, AllowBootloader: true}
			if err := sess.load(ctx, fw.Load()); err != nil {
				return err
			}
			return sess.run(ctx, "Verify firmware", transfer.VerifyFirmware(fw.Image, sess.options()))
		},
	}
	verifyCmd.Flags().StringVarP(&verifyIn, "input", "i", "", "sketch or backup file (.hex or .bin)")
	must(verifyCmd.MarkFlagRequired("input"))
	root.AddCommand(verifyCmd)

	// Backup
	var backupOut string
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Read the whole onboard flash to a .bin file",
		RunE: func(_ *cobra.Command, _ []string) error {
			opts := sess.options()
			op := sess.saveTo(backupOut, func(w io.Writer) operation.DeviceBound {
				return transfer.BackupFirmware(w, opts)
			})
			return sess.run(ctx, "Backup firmware", op)
		},
	}
	backupCmd.Flags().StringVarP(&backupOut, "output", "o", "", "output .bin file")
	must(backupCmd.MarkFlagRequired("output"))
	root.AddCommand(backupCmd)

	// FX cartridge
	fxCmd := &cobra.Command{
		Use:   "fx",
		Short: "FX flash cartridge utilities",
	}

	var (
		fxIn    string
		fxBlock int
	)
	fxWrite := &cobra.Command{
		Use:   "write",
		Short: "Write a cartridge image to the FX flash",
		RunE: func(_ *cobra.Command, _ []string) error {
			df := &transfer.DataFile{Path: fxIn}
			if err := sess.load(ctx, df.Load()); err != nil {
				return err
			}
			return sess.run(ctx, "Write FX", transfer.WriteFX(df.Data, fxBlock, sess.options()))
		},
	}
	fxWrite.Flags().StringVarP(&fxIn, "input", "i", "", "cartridge image (.bin)")
	fxWrite.Flags().IntVar(&fxBlock, "block", 0, "first 64 KiB block to write")
	must(fxWrite.MarkFlagRequired("input"))

	var (
		fxOut             string
		fxStart, fxBlocks int
	)
	fxBackup := &cobra.Command{
		Use:   "backup",
		Short: "Read blocks of the FX flash to a .bin file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if fxBlocks <= 0 {
				return errors.New("--count must be at least 1")
			}
			opts := sess.options()
			op := sess.saveTo(fxOut, func(w io.Writer) operation.DeviceBound {
				return transfer.BackupFX(w, fxStart, fxBlocks, opts)
			})
			return sess.run(ctx, "Backup FX", op)
		},
	}
	fxBackup.Flags().StringVarP(&fxOut, "output", "o", "", "output .bin file")
	fxBackup.Flags().IntVar(&fxStart, "block", 0, "first 64 KiB block to read")
	fxBackup.Flags().IntVar(&fxBlocks, "count", 0, "number of 64 KiB blocks to read")
	must(fxBackup.MarkFlagRequired("output"))
	must(fxBackup.MarkFlagRequired("count"))

	fxCmd.AddCommand(fxWrite)
	fxCmd.AddCommand(fxBackup)
	root.AddCommand(fxCmd)

	err := root.Execute()
	if errors.Is(err, errFailed) {
		os.Exit(1)
	}
	must(err)
}
