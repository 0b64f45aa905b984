package device

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ErrReadTimeout is returned when the device sends nothing within the read
// timeout.
var ErrReadTimeout = errors.New("read timeout")

// ErrPortBusy means another flasher process holds the port.
var ErrPortBusy = errors.New("port in use by another process")

// resetBaud is the line rate that makes a Caterina sketch jump into its
// bootloader when the port is closed.
const resetBaud = 1200

// Conn is an open serial line to a bootloader. Every error it returns is a
// *TransportError.
type Conn struct {
	name string
	port serial.Port
	lock *portLock
}

// OpenSerial opens name as 8N1 at baud. The port is locked for the lifetime
// of the connection so two flasher processes cannot interleave commands.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*Conn, error) {
	lock, err := lockPort(name)
	if err != nil {
		return nil, &TransportError{Port: name, Op: "lock", Err: err}
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		lock.release()
		return nil, &TransportError{Port: name, Op: "open", Err: err}
	}

	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			_ = port.Close()
			lock.release()
			return nil, &TransportError{Port: name, Op: "configure", Err: err}
		}
	}
	// Stale bytes from a previous session would desync the first response.
	_ = port.ResetInputBuffer()

	return &Conn{name: name, port: port, lock: lock}, nil
}

// Read reads into p. A read that returns no data within the timeout fails
// with ErrReadTimeout instead of returning (0, nil).
func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if err != nil {
		return n, &TransportError{Port: c.name, Op: "read", Err: err}
	}
	if n == 0 && len(p) > 0 {
		return 0, &TransportError{Port: c.name, Op: "read", Err: ErrReadTimeout}
	}
	return n, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := c.port.Write(p[written:])
		written += n
		if err != nil {
			return written, &TransportError{Port: c.name, Op: "write", Err: err}
		}
		if n == 0 {
			return written, &TransportError{Port: c.name, Op: "write", Err: fmt.Errorf("short write: %d of %d bytes", written, len(p))}
		}
	}
	return written, nil
}

// Close closes the port and releases its lock.
func (c *Conn) Close() error {
	err := c.port.Close()
	c.lock.release()
	if err != nil {
		return &TransportError{Port: c.name, Op: "close", Err: err}
	}
	return nil
}

// Touch1200 opens name at 1200 baud with DTR low and closes it, which reboots
// an application-mode board into its bootloader. The board drops off the bus
// and reappears, usually under a different product id.
func Touch1200(name string) error {
	port, err := serial.Open(name, &serial.Mode{BaudRate: resetBaud})
	if err != nil {
		return &TransportError{Port: name, Op: "reset", Err: err}
	}
	if err := port.SetDTR(false); err != nil {
		_ = port.Close()
		return &TransportError{Port: name, Op: "reset", Err: err}
	}
	if err := port.Close(); err != nil {
		return &TransportError{Port: name, Op: "reset", Err: err}
	}
	return nil
}
