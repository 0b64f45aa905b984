// Package bootloadertest provides an in-memory bootloader for tests of code
// that drives the bootloader protocol.
package bootloadertest

import (
	"errors"
	"sync"

	"arduflash/bootloader"
	"arduflash/flash"
)

// ErrNoResponse is returned by Read when the device has nothing to send,
// the in-memory equivalent of a serial read timeout.
var ErrNoResponse = errors.New("bootloadertest: no response pending")

// ErrUnplugged is returned once the device has been unplugged.
var ErrUnplugged = errors.New("bootloadertest: device unplugged")

// Device emulates a Cathy3K bootloader with onboard flash and an FX chip.
type Device struct {
	mu sync.Mutex

	// ID is the seven character software identifier.
	ID string
	// Version is the two character version answer.
	Version string
	// JEDEC is the external flash id. All zeros means no chip.
	JEDEC [bootloader.JEDECIDSize]byte

	// Flash and FX hold the memory contents.
	Flash []byte
	FX    []byte

	// Corrupt, when set, is applied to every byte stored by a block write.
	Corrupt func(mem byte, addr int, b byte) byte

	// UnplugAfter makes every call fail with ErrUnplugged once that many
	// commands have been processed. Zero disables it.
	UnplugAfter int

	addr     int
	in       []byte
	out      []byte
	commands []byte
	closed   bool
	exited   bool
}

// New returns a device with erased onboard flash and an FX chip of fxBlocks
// blocks.
func New(fxBlocks int) *Device {
	d := &Device{
		ID:      bootloader.IDArduboy,
		Version: "13",
		JEDEC:   [bootloader.JEDECIDSize]byte{0xEF, 0x40, 0x18},
		Flash:   erased(flash.Size),
		FX:      erased(fxBlocks * flash.FXBlockSize),
	}
	return d
}

func erased(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// Write consumes command bytes and queues the answers of every complete
// command.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unplugged() {
		return 0, ErrUnplugged
	}
	d.in = append(d.in, p...)
	for d.step() {
	}
	return len(p), nil
}

// Read returns queued answers.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.out) == 0 {
		if d.unplugged() {
			return 0, ErrUnplugged
		}
		return 0, ErrNoResponse
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

// Close marks the link closed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Exited reports whether the exit command was received.
func (d *Device) Exited() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exited
}

// Commands returns the command letters processed so far, in order.
func (d *Device) Commands() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.commands)
}

// Count returns how many times cmd was processed.
func (d *Device) Count(cmd byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func (d *Device) unplugged() bool {
	return d.UnplugAfter > 0 && len(d.commands) >= d.UnplugAfter
}

// step processes one complete command from the input buffer and reports
// whether it did.
func (d *Device) step() bool {
	if len(d.in) == 0 || d.unplugged() {
		return false
	}
	cmd := d.in[0]
	switch cmd {
	case bootloader.CmdSetAddress:
		if len(d.in) < 3 {
			return false
		}
		d.addr = int(d.in[1])<<8 | int(d.in[2])
		d.consume(3)
		d.reply(bootloader.Ack)

	case bootloader.CmdBlockWrite:
		if len(d.in) < 4 {
			return false
		}
		size := bootloader.DecodeSize(d.in[1], d.in[2])
		if len(d.in) < 4+size {
			return false
		}
		mem := d.in[3]
		data := append([]byte(nil), d.in[4:4+size]...)
		d.consume(4 + size)
		if d.store(mem, data) {
			d.reply(bootloader.Ack)
		} else {
			d.reply('?')
		}

	case bootloader.CmdBlockRead:
		if len(d.in) < 4 {
			return false
		}
		size := bootloader.DecodeSize(d.in[1], d.in[2])
		mem := d.in[3]
		d.consume(4)
		d.out = append(d.out, d.load(mem, size)...)

	case bootloader.CmdSoftwareID:
		d.consume(1)
		id := []byte(d.ID + "       ")[:bootloader.SoftwareIDSize]
		d.out = append(d.out, id...)

	case bootloader.CmdVersion:
		d.consume(1)
		d.out = append(d.out, []byte(d.Version+"  ")[:bootloader.VersionSize]...)

	case bootloader.CmdJEDECID:
		d.consume(1)
		d.out = append(d.out, d.JEDEC[:]...)

	case bootloader.CmdExit:
		d.consume(1)
		d.exited = true
		d.reply(bootloader.Ack)

	default:
		d.consume(1)
		d.reply('?')
	}
	d.commands = append(d.commands, cmd)
	return true
}

func (d *Device) consume(n int) {
	d.in = d.in[n:]
}

func (d *Device) reply(b byte) {
	d.out = append(d.out, b)
}

// offset converts the current address into a byte offset for mem and
// advances the address past size bytes.
func (d *Device) offset(mem byte, size int) (int, []byte) {
	switch mem {
	case bootloader.MemFlash:
		off := d.addr * 2
		d.addr += size / 2
		return off, d.Flash
	case bootloader.MemExternal:
		off := d.addr * flash.FXPageSize
		d.addr += size / flash.FXPageSize
		return off, d.FX
	default:
		return -1, nil
	}
}

func (d *Device) store(mem byte, data []byte) bool {
	off, region := d.offset(mem, len(data))
	if off < 0 || off+len(data) > len(region) {
		return false
	}
	for i, b := range data {
		if d.Corrupt != nil {
			b = d.Corrupt(mem, off+i, b)
		}
		region[off+i] = b
	}
	return true
}

func (d *Device) load(mem byte, size int) []byte {
	off, region := d.offset(mem, size)
	out := erased(size)
	if off >= 0 && off < len(region) {
		copy(out, region[off:])
	}
	return out
}
