// Package transfer holds the concrete operations run by the executor:
// loading images from disk, and writing, reading and verifying the onboard
// and FX flash of a device.
package transfer

import (
	"github.com/rs/zerolog"

	"arduflash/bootloader"
	"arduflash/operation"
)

// Status texts shown while an operation runs.
const (
	StatusIdentify    = "Checking bootloader..."
	StatusWriteFlash  = "Writing firmware..."
	StatusVerifyFlash = "Verifying firmware..."
	StatusReadFlash   = "Reading firmware..."
	StatusWriteFX     = "Writing FX flash..."
	StatusVerifyFX    = "Verifying FX flash..."
	StatusReadFX      = "Reading FX flash..."
	StatusStartSketch = "Starting sketch..."
	statusLoading     = "Loading "
)

// Options are shared by the device operations.
type Options struct {
	// Verify reads back everything written and compares it.
	Verify bool
	// Exit leaves the bootloader once the operation completes so the new
	// sketch starts.
	Exit bool
	Log  zerolog.Logger
}

// DefaultOptions verifies and exits.
func DefaultOptions() Options {
	return Options{Verify: true, Exit: true, Log: zerolog.Nop()}
}

func (o Options) client(dev *operation.Device) *bootloader.Client {
	return bootloader.New(dev.Conn, bootloader.WithLogger(o.Log.With().Str("port", dev.Handle.Port).Logger()))
}

// identify checks the bootloader before any memory command is sent.
func identify(c *bootloader.Client, r operation.Reporter, log zerolog.Logger) error {
	r.Status(StatusIdentify)
	id, err := c.Identify()
	if err != nil {
		return err
	}
	log.Debug().Str("bootloader", id).Msg("identified")
	return nil
}

func (o Options) finish(c *bootloader.Client, r operation.Reporter) error {
	if !o.Exit {
		return nil
	}
	r.Status(StatusStartSketch)
	return c.Exit()
}

// progress counts steps against a fixed total.
type progress struct {
	r     operation.Reporter
	done  int
	total int
}

func newProgress(r operation.Reporter, total int) *progress {
	p := &progress{r: r, total: total}
	r.Progress(0, total)
	return p
}

func (p *progress) step() {
	p.done++
	p.r.Progress(p.done, p.total)
}
