package device

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"
)

func usbPort(name, vid, pid string) *enumerator.PortDetails {
	return &enumerator.PortDetails{Name: name, IsUSB: true, VID: vid, PID: pid, SerialNumber: "SN-" + name}
}

// fakeBus simulates ports appearing and disappearing. A reset moves the
// device on that port into bootloader mode after resetAfter polls.
type fakeBus struct {
	mu         sync.Mutex
	ports      []*enumerator.PortDetails
	resets     []string
	resetAfter int
	pending    map[string]int
	err        error
}

func (b *fakeBus) enumerate() ([]*enumerator.PortDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	for name, left := range b.pending {
		if left > 0 {
			b.pending[name] = left - 1
			continue
		}
		for _, p := range b.ports {
			if p.Name == name {
				p.PID = "0036"
			}
		}
		delete(b.pending, name)
	}
	out := make([]*enumerator.PortDetails, len(b.ports))
	copy(out, b.ports)
	return out, nil
}

func (b *fakeBus) reset(port string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets = append(b.resets, port)
	if b.pending == nil {
		b.pending = map[string]int{}
	}
	b.pending[port] = b.resetAfter
	return nil
}

func (b *fakeBus) resetCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.resets)
}

type nopConn struct{}

func (nopConn) Read(p []byte) (int, error)  { return 0, io.EOF }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error                { return nil }

func testLocator(bus *fakeBus, wait time.Duration) (*Locator, *[]string) {
	var dialed []string
	cfg := DefaultConfig()
	cfg.Wait = wait
	cfg.PollInterval = time.Millisecond
	cfg.ResetSettle = time.Millisecond
	l := NewLocator(cfg,
		WithEnumerator(bus.enumerate),
		WithResetter(bus.reset),
		WithDialer(func(port string, baud int, _ time.Duration) (io.ReadWriteCloser, error) {
			dialed = append(dialed, port)
			return nopConn{}, nil
		}),
	)
	return l, &dialed
}

func TestListClassifiesAndSorts(t *testing.T) {
	bus := &fakeBus{ports: []*enumerator.PortDetails{
		usbPort("/dev/ttyACM1", "2341", "8036"),
		usbPort("/dev/ttyUSB0", "0403", "6001"),
		usbPort("/dev/ttyACM0", "2a03", "0037"),
		{Name: "/dev/ttyS0"},
	}}
	l, _ := testLocator(bus, time.Second)

	handles, err := l.List()
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("List() returned %d handles, want 2: %+v", len(handles), handles)
	}

	tests := []struct {
		port       string
		model      string
		bootloader bool
		id         string
	}{
		{"/dev/ttyACM0", "Genuino Micro", true, "2A03:0037"},
		{"/dev/ttyACM1", "Arduino Leonardo", false, "2341:8036"},
	}
	for i, tt := range tests {
		h := handles[i]
		if h.Port != tt.port || h.Model != tt.model || h.Bootloader != tt.bootloader || h.ID() != tt.id {
			t.Errorf("handle %d = %+v, want port=%s model=%s bootloader=%v id=%s",
				i, h, tt.port, tt.model, tt.bootloader, tt.id)
		}
	}
}

func TestFindSingleBootloader(t *testing.T) {
	bus := &fakeBus{ports: []*enumerator.PortDetails{usbPort("COM5", "2341", "0036")}}
	l, dialed := testLocator(bus, time.Second)

	h, err := l.FindSingle(context.Background())
	if err != nil {
		t.Fatalf("FindSingle() = %v", err)
	}
	if h.Port != "COM5" || !h.Bootloader {
		t.Fatalf("FindSingle() = %+v", h)
	}
	if bus.resetCount() != 0 {
		t.Errorf("bootloader device was reset")
	}

	conn, err := h.Open()
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	conn.Close()
	if len(*dialed) != 1 || (*dialed)[0] != "COM5" {
		t.Errorf("dialed %v, want [COM5]", *dialed)
	}
}

func TestFindSingleResetsApplication(t *testing.T) {
	bus := &fakeBus{
		ports:      []*enumerator.PortDetails{usbPort("/dev/ttyACM0", "2341", "8036")},
		resetAfter: 3,
	}
	l, _ := testLocator(bus, time.Second)

	h, err := l.FindSingle(context.Background())
	if err != nil {
		t.Fatalf("FindSingle() = %v", err)
	}
	if !h.Bootloader {
		t.Errorf("FindSingle() returned application-mode handle")
	}
	if bus.resetCount() != 1 {
		t.Errorf("reset %d times, want 1", bus.resetCount())
	}
}

func TestFindSingleNone(t *testing.T) {
	bus := &fakeBus{}
	l, _ := testLocator(bus, 20*time.Millisecond)

	start := time.Now()
	_, err := l.FindSingle(context.Background())
	if !errors.Is(err, ErrNoDeviceFound) {
		t.Fatalf("FindSingle() = %v, want ErrNoDeviceFound", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("FindSingle() did not honor its wait")
	}
}

func TestFindSingleAmbiguous(t *testing.T) {
	bus := &fakeBus{ports: []*enumerator.PortDetails{
		usbPort("/dev/ttyACM0", "2341", "0036"),
		usbPort("/dev/ttyACM1", "1B4F", "9206"),
	}}
	l, _ := testLocator(bus, time.Second)

	_, err := l.FindSingle(context.Background())
	var amb *AmbiguousDeviceError
	if !errors.As(err, &amb) {
		t.Fatalf("FindSingle() = %v, want AmbiguousDeviceError", err)
	}
	if len(amb.Ports) != 2 {
		t.Errorf("ambiguous ports = %v", amb.Ports)
	}
	if bus.resetCount() != 0 {
		t.Errorf("ambiguous lookup reset a device")
	}
}

func TestFindSingleEnumerateError(t *testing.T) {
	bus := &fakeBus{err: errors.New("udev unavailable")}
	l, _ := testLocator(bus, time.Second)

	if _, err := l.FindSingle(context.Background()); err == nil {
		t.Fatal("FindSingle() succeeded with a failing enumerator")
	}
}

func TestFindAll(t *testing.T) {
	bus := &fakeBus{
		ports: []*enumerator.PortDetails{
			usbPort("/dev/ttyACM2", "2341", "0036"),
			usbPort("/dev/ttyACM0", "2341", "8036"),
			usbPort("/dev/ttyACM1", "2341", "0036"),
		},
		resetAfter: 2,
	}
	l, _ := testLocator(bus, time.Second)

	handles, err := l.FindAll(context.Background())
	if err != nil {
		t.Fatalf("FindAll() = %v", err)
	}
	want := []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM2"}
	if len(handles) != len(want) {
		t.Fatalf("FindAll() returned %d handles, want %d", len(handles), len(want))
	}
	for i, h := range handles {
		if h.Port != want[i] || !h.Bootloader {
			t.Errorf("handle %d = %s bootloader=%v, want %s", i, h.Port, h.Bootloader, want[i])
		}
	}
	if bus.resetCount() != 1 {
		t.Errorf("reset %d devices, want 1", bus.resetCount())
	}
}

func TestFindAllNone(t *testing.T) {
	l, _ := testLocator(&fakeBus{}, 10*time.Millisecond)
	if _, err := l.FindAll(context.Background()); !errors.Is(err, ErrNoDeviceFound) {
		t.Fatalf("FindAll() = %v, want ErrNoDeviceFound", err)
	}
}

func TestHandleOpenWrapsErrors(t *testing.T) {
	boom := errors.New("permission denied")
	h := NewHandle("/dev/ttyACM0", func() (io.ReadWriteCloser, error) { return nil, boom })

	_, err := h.Open()
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Open() = %v, want TransportError", err)
	}
	if te.Op != "open" || !errors.Is(err, boom) {
		t.Errorf("Open() = %v", err)
	}

	if _, err := (Handle{Port: "x"}).Open(); !errors.As(err, &te) {
		t.Errorf("Open() without transport = %v", err)
	}
}

func TestLockPath(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"/dev/ttyACM0", "/dev/ttyACM0", true},
		{"/dev/ttyACM0", "/dev/ttyACM1", false},
		{`\\.\COM10`, "COM10", true},
	}
	for _, tt := range tests {
		if got := lockPath(tt.a) == lockPath(tt.b); got != tt.same {
			t.Errorf("lockPath(%q) == lockPath(%q) is %v, want %v", tt.a, tt.b, got, tt.same)
		}
	}
}

func TestPortLockExclusive(t *testing.T) {
	port := "test-" + t.Name()
	first, err := lockPort(port)
	if err != nil {
		t.Fatalf("lockPort() = %v", err)
	}
	second, err := lockPort(port)
	if err == nil {
		second.release()
		first.release()
		t.Skip("advisory locks are per process on this platform")
	}
	if !errors.Is(err, ErrPortBusy) {
		t.Errorf("second lockPort() = %v, want ErrPortBusy", err)
	}
	first.release()

	again, err := lockPort(port)
	if err != nil {
		t.Fatalf("lockPort() after release = %v", err)
	}
	again.release()
}
