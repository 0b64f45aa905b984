package device

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// ErrNoDeviceFound is returned when no target shows up before the locator's
// wait expires.
var ErrNoDeviceFound = errors.New("no device found")

// AmbiguousDeviceError is returned when more than one target is attached and
// the caller asked for exactly one.
type AmbiguousDeviceError struct {
	Ports []string
}

func (e *AmbiguousDeviceError) Error() string {
	return fmt.Sprintf("ambiguous device: %d candidates attached (%s); use multi-device mode or unplug the extras",
		len(e.Ports), strings.Join(e.Ports, ", "))
}

// TransportError indicates the serial link failed: the port could not be
// opened, or it dropped mid-transfer.
type TransportError struct {
	Port string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport error on %s: %v", e.Port, e.Err)
	}
	return fmt.Sprintf("transport error on %s during %s: %v", e.Port, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Disconnected reports whether the underlying error means the device went
// away, as opposed to a configuration or permission problem.
func (e *TransportError) Disconnected() bool {
	if e.Err == nil {
		return false
	}
	var portErr *serial.PortError
	if errors.As(e.Err, &portErr) {
		return disconnectCode(portErr.Code())
	}
	var portErrVal serial.PortError
	if errors.As(e.Err, &portErrVal) {
		return disconnectCode(portErrVal.Code())
	}
	msg := strings.ToLower(e.Err.Error())
	return strings.Contains(msg, "device not configured") ||
		strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof")
}

func disconnectCode(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}
