// Package operation runs one device transfer at a time on a background
// goroutine and relays its progress, status and outcome to an Observer.
//
// # Overview
//
// A unit of work is one of two variants:
//   - Simple: needs no device, receives only a Reporter
//   - DeviceBound: receives the resolved, opened target plus a Reporter
//
// The Executor resolves the target for device-bound work, runs the operation
// on a worker goroutine and delivers every event to the Observer on the
// goroutine that called Run, in emission order. Exactly one OnComplete call
// ends every run.
//
//	exec := operation.New(locator, operation.WithLogger(log))
//	err := exec.Run(ctx, operation.DeviceBound(writeFirmware), view)
//
// # Concurrency
//
// One executor runs one operation at a time. A second Run while one is active
// returns ErrOperationInProgress and leaves the active run untouched. Runs
// cannot be cancelled once started.
package operation

import (
	"context"
	"io"

	"arduflash/device"
)

// Reporter is handed to every operation to publish progress and status.
// Implementations must not be used after the operation returns.
type Reporter interface {
	// Progress reports current out of total units. Current must never
	// decrease and total must stay the same within one run. A total of zero
	// means the amount of work is not known up front.
	Progress(current, total int)

	// Status reports the current phase as free text.
	Status(text string)
}

// Device is the resolved and opened target passed to device-bound work.
type Device struct {
	Handle device.Handle
	Conn   io.ReadWriter
}

// Operation is the tagged union of Simple and DeviceBound.
type Operation interface {
	mode() Mode
}

// Simple is work that needs no device, such as loading an image from disk.
type Simple func(ctx context.Context, r Reporter) error

// DeviceBound is work performed against one attached target.
type DeviceBound func(ctx context.Context, dev *Device, r Reporter) error

func (Simple) mode() Mode      { return ModeSimple }
func (DeviceBound) mode() Mode { return ModeDevice }

// Mode tells how an operation is dispatched.
type Mode int

const (
	ModeSimple Mode = iota
	ModeDevice
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeDevice:
		return "device-bound"
	default:
		return "unknown"
	}
}

// Locator resolves attached targets. device.Locator implements it.
type Locator interface {
	FindSingle(ctx context.Context) (device.Handle, error)
	FindAll(ctx context.Context) ([]device.Handle, error)
}
