// Package device finds the attached target and owns its serial link.
//
// A Handle is only an identity: the locator never keeps a port open. The
// executor calls Handle.Open for the duration of one operation and closes the
// returned connection on every exit path.
package device

import (
	"errors"
	"fmt"
	"io"
)

// OpenFunc opens the link behind a handle.
type OpenFunc func() (io.ReadWriteCloser, error)

// Handle identifies one attached target.
type Handle struct {
	Port       string
	Model      string
	VID        string
	PID        string
	Serial     string
	Bootloader bool

	open OpenFunc
}

// NewHandle builds a handle for port with a custom opener. Locators use it to
// attach their transport; tests use it to attach fakes.
func NewHandle(port string, open OpenFunc) Handle {
	return Handle{Port: port, Bootloader: true, open: open}
}

// DisplayName returns a human readable identity, e.g.
// "Arduino Leonardo (bootloader) on /dev/ttyACM0 [2341:0036]".
func (h Handle) DisplayName() string {
	model := h.Model
	if model == "" {
		model = "device"
	}
	mode := "application"
	if h.Bootloader {
		mode = "bootloader"
	}
	name := fmt.Sprintf("%s (%s) on %s", model, mode, h.Port)
	if h.VID != "" || h.PID != "" {
		name += fmt.Sprintf(" [%s:%s]", h.VID, h.PID)
	}
	return name
}

// Open opens the link to the target. The caller owns the returned connection
// and must close it.
func (h Handle) Open() (io.ReadWriteCloser, error) {
	if h.open == nil {
		return nil, &TransportError{Port: h.Port, Op: "open", Err: fmt.Errorf("handle has no transport")}
	}
	rw, err := h.open()
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &TransportError{Port: h.Port, Op: "open", Err: err}
	}
	return rw, nil
}

// ID returns the VID:PID pair in the form used by the configuration.
func (h Handle) ID() string {
	return h.VID + ":" + h.PID
}
