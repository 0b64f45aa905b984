package device

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial/enumerator"
)

// ID is a USB vendor/product pair with a display model name.
type ID struct {
	VID   string `yaml:"vid"`
	PID   string `yaml:"pid"`
	Model string `yaml:"model"`
}

func (id ID) String() string {
	return id.VID + ":" + id.PID
}

func (id ID) matches(vid, pid string) bool {
	return strings.EqualFold(id.VID, strings.TrimPrefix(strings.ToLower(vid), "0x")) &&
		strings.EqualFold(id.PID, strings.TrimPrefix(strings.ToLower(pid), "0x"))
}

// Config controls how the locator recognizes targets and how long it waits.
type Config struct {
	// BootloaderIDs match devices that are ready to accept commands.
	BootloaderIDs []ID
	// ApplicationIDs match devices running a sketch; they are reset into
	// the bootloader with a 1200 baud touch.
	ApplicationIDs []ID

	// Wait bounds how long FindSingle and FindAll poll for a bootloader.
	Wait time.Duration
	// PollInterval is the delay between two enumerations.
	PollInterval time.Duration
	// ResetSettle is how long to leave the bus alone after a 1200 baud
	// touch while the board re-enumerates.
	ResetSettle time.Duration

	// Baud and ReadTimeout are applied when a handle is opened.
	Baud        int
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings for Leonardo/Micro class boards.
func DefaultConfig() Config {
	return Config{
		BootloaderIDs: []ID{
			{VID: "2341", PID: "0036", Model: "Arduino Leonardo"},
			{VID: "2341", PID: "0037", Model: "Arduino Micro"},
			{VID: "2A03", PID: "0036", Model: "Genuino Leonardo"},
			{VID: "2A03", PID: "0037", Model: "Genuino Micro"},
			{VID: "1B4F", PID: "9205", Model: "SparkFun Pro Micro 5V"},
			{VID: "1B4F", PID: "9207", Model: "SparkFun LilyPad USB"},
			{VID: "239A", PID: "000E", Model: "Adafruit ItsyBitsy 5V"},
		},
		ApplicationIDs: []ID{
			{VID: "2341", PID: "8036", Model: "Arduino Leonardo"},
			{VID: "2341", PID: "8037", Model: "Arduino Micro"},
			{VID: "2A03", PID: "8036", Model: "Genuino Leonardo"},
			{VID: "2A03", PID: "8037", Model: "Genuino Micro"},
			{VID: "1B4F", PID: "9206", Model: "SparkFun Pro Micro 5V"},
			{VID: "1B4F", PID: "9208", Model: "SparkFun LilyPad USB"},
			{VID: "239A", PID: "800E", Model: "Adafruit ItsyBitsy 5V"},
		},
		Wait:         10 * time.Second,
		PollInterval: 250 * time.Millisecond,
		ResetSettle:  500 * time.Millisecond,
		Baud:         57600,
		ReadTimeout:  2 * time.Second,
	}
}

// EnumerateFunc lists the serial ports currently present.
type EnumerateFunc func() ([]*enumerator.PortDetails, error)

// ResetFunc asks an application-mode device on port to reboot into its
// bootloader.
type ResetFunc func(port string) error

// DialFunc opens a serial port for a handle.
type DialFunc func(port string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error)

// Locator finds attached targets on the serial ports. It never keeps a port
// open: handles are opened by their user.
type Locator struct {
	cfg       Config
	enumerate EnumerateFunc
	reset     ResetFunc
	dial      DialFunc
	log       zerolog.Logger
}

// LocatorOption customizes a Locator.
type LocatorOption func(*Locator)

// WithEnumerator replaces the serial port enumeration.
func WithEnumerator(fn EnumerateFunc) LocatorOption {
	return func(l *Locator) {
		l.enumerate = fn
	}
}

// WithResetter replaces the 1200 baud touch.
func WithResetter(fn ResetFunc) LocatorOption {
	return func(l *Locator) {
		l.reset = fn
	}
}

// WithDialer replaces how handles open their port.
func WithDialer(fn DialFunc) LocatorOption {
	return func(l *Locator) {
		l.dial = fn
	}
}

// WithLogger sets the locator's logger.
func WithLogger(log zerolog.Logger) LocatorOption {
	return func(l *Locator) {
		l.log = log
	}
}

// NewLocator creates a locator over the system's serial ports.
func NewLocator(cfg Config, opts ...LocatorOption) *Locator {
	l := &Locator{
		cfg:       cfg,
		enumerate: enumerator.GetDetailedPortsList,
		reset:     Touch1200,
		dial: func(port string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
			return OpenSerial(port, baud, readTimeout)
		},
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cfg.PollInterval <= 0 {
		l.cfg.PollInterval = DefaultConfig().PollInterval
	}
	return l
}

// List returns every recognized device, in bootloader or application mode,
// sorted by port name. It does not wait and does not reset anything.
func (l *Locator) List() ([]Handle, error) {
	ports, err := l.enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var out []Handle
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		h, ok := l.classify(p)
		if !ok {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func (l *Locator) classify(p *enumerator.PortDetails) (Handle, bool) {
	h := Handle{
		Port:   p.Name,
		VID:    strings.ToUpper(p.VID),
		PID:    strings.ToUpper(p.PID),
		Serial: p.SerialNumber,
	}
	for _, id := range l.cfg.BootloaderIDs {
		if id.matches(p.VID, p.PID) {
			h.Model = id.Model
			h.Bootloader = true
			h.open = l.opener(p.Name)
			return h, true
		}
	}
	for _, id := range l.cfg.ApplicationIDs {
		if id.matches(p.VID, p.PID) {
			h.Model = id.Model
			return h, true
		}
	}
	return Handle{}, false
}

func (l *Locator) opener(port string) OpenFunc {
	return func() (io.ReadWriteCloser, error) {
		return l.dial(port, l.cfg.Baud, l.cfg.ReadTimeout)
	}
}

// FindSingle waits for exactly one target in bootloader mode. Devices running
// a sketch are reset into the bootloader once. More than one recognized
// device fails with AmbiguousDeviceError; nothing within the wait fails with
// ErrNoDeviceFound.
func (l *Locator) FindSingle(ctx context.Context) (Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Wait)
	defer cancel()

	resetDone := map[string]bool{}
	for {
		handles, err := l.List()
		if err != nil {
			return Handle{}, err
		}

		if len(handles) > 1 {
			ports := make([]string, len(handles))
			for i, h := range handles {
				ports[i] = h.Port
			}
			return Handle{}, &AmbiguousDeviceError{Ports: ports}
		}

		if len(handles) == 1 {
			h := handles[0]
			if h.Bootloader {
				l.log.Debug().Str("device", h.DisplayName()).Msg("bootloader found")
				return h, nil
			}
			if !resetDone[h.Port] {
				resetDone[h.Port] = true
				l.resetDevice(h)
				if err := l.pause(ctx, l.cfg.ResetSettle); err != nil {
					return Handle{}, fmt.Errorf("%w within %s", ErrNoDeviceFound, l.cfg.Wait)
				}
			}
		}

		if err := l.pause(ctx, l.cfg.PollInterval); err != nil {
			return Handle{}, fmt.Errorf("%w within %s", ErrNoDeviceFound, l.cfg.Wait)
		}
	}
}

// FindAll resets every application-mode device and waits until as many
// bootloaders are present as devices were seen, or the wait expires. The
// bootloaders found by then are returned sorted by port name.
func (l *Locator) FindAll(ctx context.Context) ([]Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Wait)
	defer cancel()

	initial, err := l.List()
	if err != nil {
		return nil, err
	}
	reset := false
	for _, h := range initial {
		if !h.Bootloader {
			l.resetDevice(h)
			reset = true
		}
	}
	if reset {
		if err := l.pause(ctx, l.cfg.ResetSettle); err != nil {
			return nil, fmt.Errorf("%w within %s", ErrNoDeviceFound, l.cfg.Wait)
		}
	}

	var boot []Handle
	for {
		handles, err := l.List()
		if err != nil {
			return nil, err
		}
		boot = boot[:0]
		for _, h := range handles {
			if h.Bootloader {
				boot = append(boot, h)
			}
		}
		if len(boot) > 0 && len(boot) >= len(initial) {
			return boot, nil
		}

		if err := l.pause(ctx, l.cfg.PollInterval); err != nil {
			break
		}
	}

	if len(boot) == 0 {
		return nil, fmt.Errorf("%w within %s", ErrNoDeviceFound, l.cfg.Wait)
	}
	l.log.Warn().
		Int("expected", len(initial)).
		Int("found", len(boot)).
		Msg("not every device entered its bootloader")
	return boot, nil
}

func (l *Locator) resetDevice(h Handle) {
	l.log.Info().Str("device", h.DisplayName()).Msg("resetting device into bootloader")
	if err := l.reset(h.Port); err != nil {
		l.log.Warn().Err(err).Str("port", h.Port).Msg("bootloader reset failed")
	}
}

func (l *Locator) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
