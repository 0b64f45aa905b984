package bootloader

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"arduflash/flash"
)

// Client drives one bootloader session over an open link.
//
// Client is not safe for concurrent use; the executor gives each operation
// exclusive ownership of its link.
type Client struct {
	rw  io.ReadWriter
	log zerolog.Logger

	onboard  flash.Onboard
	external flash.External
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for command traces.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithGeometry overrides the default onboard and external geometry.
func WithGeometry(onboard flash.Onboard, external flash.External) Option {
	return func(c *Client) {
		c.onboard = onboard
		c.external = external
	}
}

// New creates a client on rw.
func New(rw io.ReadWriter, opts ...Option) *Client {
	if rw == nil {
		panic("bootloader: nil link")
	}
	c := &Client{
		rw:       rw,
		log:      zerolog.Nop(),
		onboard:  flash.DefaultOnboard(),
		external: flash.DefaultExternal(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SoftwareID returns the seven character identifier of the bootloader.
func (c *Client) SoftwareID() (string, error) {
	resp, err := c.query("software id", []byte{CmdSoftwareID}, SoftwareIDSize)
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// Version returns the bootloader version as "major.minor".
func (c *Client) Version() (string, error) {
	resp, err := c.query("version", []byte{CmdVersion}, VersionSize)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%c.%c", resp[0], resp[1]), nil
}

// Identify checks that the bootloader is one of the supported kinds and
// returns its identifier.
func (c *Client) Identify() (string, error) {
	id, err := c.SoftwareID()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(id, IDCaterina) && !strings.HasPrefix(id, IDArduboy) {
		return id, &UnknownBootloaderError{ID: id}
	}
	c.log.Debug().Str("id", id).Msg("bootloader identified")
	return id, nil
}

// JEDECID queries the external flash chip.
func (c *Client) JEDECID() ([JEDECIDSize]byte, error) {
	var id [JEDECIDSize]byte
	resp, err := c.query("jedec id", []byte{CmdJEDECID}, JEDECIDSize)
	if err != nil {
		return id, err
	}
	copy(id[:], resp)
	return id, nil
}

// RequireFX fails with NoFlashChipError unless an external flash chip is
// present.
func (c *Client) RequireFX() error {
	id, err := c.JEDECID()
	if err != nil {
		return err
	}
	if id == [JEDECIDSize]byte{} || id == [JEDECIDSize]byte{0xFF, 0xFF, 0xFF} {
		return &NoFlashChipError{JEDEC: id}
	}
	c.log.Debug().Hex("jedec", id[:]).Msg("FX flash chip present")
	return nil
}

// WriteFlashPage writes one onboard page. data shorter than a page is padded
// with 0xFF.
func (c *Client) WriteFlashPage(page int, data []byte) error {
	if err := c.checkFlashPage(page); err != nil {
		return err
	}
	if len(data) > c.onboard.PageSize {
		return fmt.Errorf("flash page %d: %d bytes exceed page size %d", page, len(data), c.onboard.PageSize)
	}
	if err := c.setAddress(page * c.onboard.PageSize / 2); err != nil {
		return err
	}
	frame, err := BuildBlockWrite(MemFlash, flash.PadToPage(data, c.onboard.PageSize))
	if err != nil {
		return err
	}
	return c.command("write flash", frame)
}

// ReadFlashPage reads one onboard page.
func (c *Client) ReadFlashPage(page int) ([]byte, error) {
	if err := c.checkFlashPage(page); err != nil {
		return nil, err
	}
	if err := c.setAddress(page * c.onboard.PageSize / 2); err != nil {
		return nil, err
	}
	frame, err := BuildBlockRead(MemFlash, c.onboard.PageSize)
	if err != nil {
		return nil, err
	}
	return c.query("read flash", frame, c.onboard.PageSize)
}

// WriteFX writes data to external flash starting at page. data must be a
// whole number of pages and at most one block.
func (c *Client) WriteFX(page int, data []byte) error {
	if err := c.checkFXRange(page, len(data)); err != nil {
		return err
	}
	if err := c.setAddress(page); err != nil {
		return err
	}
	frame, err := BuildBlockWrite(MemExternal, data)
	if err != nil {
		return err
	}
	return c.command("write fx", frame)
}

// ReadFX reads n bytes of external flash starting at page.
func (c *Client) ReadFX(page, n int) ([]byte, error) {
	if err := c.checkFXRange(page, n); err != nil {
		return nil, err
	}
	if err := c.setAddress(page); err != nil {
		return nil, err
	}
	frame, err := BuildBlockRead(MemExternal, n)
	if err != nil {
		return nil, err
	}
	return c.query("read fx", frame, n)
}

// Exit leaves the bootloader and starts the sketch.
func (c *Client) Exit() error {
	return c.command("exit", []byte{CmdExit})
}

func (c *Client) checkFlashPage(page int) error {
	if page < 0 || page >= c.onboard.Pages() {
		return fmt.Errorf("flash page %d out of range 0-%d", page, c.onboard.Pages()-1)
	}
	return nil
}

func (c *Client) checkFXRange(page, n int) error {
	if page < 0 || page > MaxFXPage {
		return fmt.Errorf("fx page %d out of range", page)
	}
	if n <= 0 || n > c.external.BlockSize || n%c.external.PageSize != 0 {
		return fmt.Errorf("fx transfer of %d bytes: must be whole %d byte pages, at most %d",
			n, c.external.PageSize, c.external.BlockSize)
	}
	return nil
}

func (c *Client) setAddress(addr int) error {
	frame, err := BuildSetAddress(addr)
	if err != nil {
		return err
	}
	return c.command("set address", frame)
}

// command sends frame and expects a single Ack.
func (c *Client) command(op string, frame []byte) error {
	resp, err := c.query(op, frame, 1)
	if err != nil {
		return err
	}
	if resp[0] != Ack {
		return &ProtocolError{Op: op, Want: []byte{Ack}, Got: resp}
	}
	return nil
}

// query sends frame and reads exactly n response bytes.
func (c *Client) query(op string, frame []byte, n int) ([]byte, error) {
	c.log.Trace().Str("op", op).Int("tx", len(frame)).Int("rx", n).Msg("bootloader command")
	if _, err := c.rw.Write(frame); err != nil {
		return nil, fmt.Errorf("bootloader %s: %w", op, err)
	}
	resp := make([]byte, n)
	if got, err := io.ReadFull(c.rw, resp); err != nil {
		return nil, fmt.Errorf("bootloader %s: read %d of %d bytes: %w", op, got, n, err)
	}
	return resp, nil
}
