// Package flash describes the page and block layout of the onboard program
// flash and the external (FX) cartridge flash. Everything here is pure
// arithmetic: no IO, no side effects.
package flash

import "fmt"

/* ===================== Onboard flash ===================== */

const (
	// PageSize is the write unit of the onboard flash in bytes.
	PageSize = 128
	// Size is the total onboard flash size in bytes.
	Size = 32768
	// Pages is the number of onboard pages.
	Pages = Size / PageSize

	// BootloaderSize is the space reserved for the bootloader at the top of
	// onboard flash. Firmware images must not touch it.
	BootloaderSize = 4096
	// AppSize is the onboard space available to firmware.
	AppSize = Size - BootloaderSize
)

/* ===================== External (FX) flash ===================== */

const (
	// FXPageSize is the hardware page size of the cartridge flash.
	FXPageSize = 256
	// FXBlockSize is the hardware block size of the cartridge flash.
	FXBlockSize = 65536
	// FXPagesPerBlock is FXBlockSize / FXPageSize.
	FXPagesPerBlock = FXBlockSize / FXPageSize
)

// Onboard is the geometry of the device's primary program memory.
type Onboard struct {
	PageSize  int
	TotalSize int
}

// External is the geometry of the cartridge flash: pages grouped into blocks.
type External struct {
	PageSize      int
	BlockSize     int
	PagesPerBlock int
}

// DefaultOnboard returns the onboard geometry of the supported devices.
func DefaultOnboard() Onboard {
	return Onboard{PageSize: PageSize, TotalSize: Size}
}

// DefaultExternal returns the FX geometry. The constants are known to divide
// evenly, Validate still guards against edits.
func DefaultExternal() External {
	return External{PageSize: FXPageSize, BlockSize: FXBlockSize, PagesPerBlock: FXPagesPerBlock}
}

// NewExternal builds an external geometry from a page and block size.
// The block size must be a whole multiple of the page size.
func NewExternal(pageSize, blockSize int) (External, error) {
	g := External{PageSize: pageSize, BlockSize: blockSize}
	if pageSize > 0 {
		g.PagesPerBlock = blockSize / pageSize
	}
	if err := g.Validate(); err != nil {
		return External{}, err
	}
	return g, nil
}

// Validate checks the pages-per-block invariant.
func (g External) Validate() error {
	if g.PageSize <= 0 {
		return fmt.Errorf("flash: page size must be > 0, got %d", g.PageSize)
	}
	if g.BlockSize <= 0 {
		return fmt.Errorf("flash: block size must be > 0, got %d", g.BlockSize)
	}
	if g.BlockSize%g.PageSize != 0 {
		return fmt.Errorf("flash: block size %d is not a multiple of page size %d", g.BlockSize, g.PageSize)
	}
	if g.PagesPerBlock != g.BlockSize/g.PageSize {
		return fmt.Errorf("flash: pages per block is %d, want %d", g.PagesPerBlock, g.BlockSize/g.PageSize)
	}
	return nil
}

// Validate checks the onboard geometry is made of whole pages.
func (g Onboard) Validate() error {
	if g.PageSize <= 0 {
		return fmt.Errorf("flash: page size must be > 0, got %d", g.PageSize)
	}
	if g.TotalSize <= 0 || g.TotalSize%g.PageSize != 0 {
		return fmt.Errorf("flash: total size %d is not a multiple of page size %d", g.TotalSize, g.PageSize)
	}
	return nil
}

// Pages returns the number of pages in the onboard flash.
func (g Onboard) Pages() int {
	return g.TotalSize / g.PageSize
}

// Check validates both default geometries. The CLI calls it once at start-up.
func Check() error {
	if err := DefaultOnboard().Validate(); err != nil {
		return err
	}
	return DefaultExternal().Validate()
}

/* ===================== Arithmetic ===================== */

// PagesFor returns how many pages of pageSize are needed to hold n bytes,
// rounding up to the next whole page. It panics if pageSize <= 0.
func PagesFor(n, pageSize int) int {
	if pageSize <= 0 {
		panic("flash: page size must be > 0")
	}
	if n <= 0 {
		return 0
	}
	q := n / pageSize
	if n%pageSize != 0 {
		q++
	}
	return q
}

// BlocksFor returns how many blocks are needed to hold n bytes.
func (g External) BlocksFor(n int) int {
	return PagesFor(n, g.BlockSize)
}

// FirstPage returns the page number at which block starts.
func (g External) FirstPage(block int) int {
	return block * g.PagesPerBlock
}

// PadToPage returns data padded with 0xFF to a whole number of pages.
// The input is returned unchanged when it is already aligned.
func PadToPage(data []byte, pageSize int) []byte {
	want := PagesFor(len(data), pageSize) * pageSize
	if want == len(data) {
		return data
	}
	out := make([]byte, want)
	copy(out, data)
	for i := len(data); i < want; i++ {
		out[i] = 0xFF
	}
	return out
}

// PageAddr returns the byte address of onboard page n.
func PageAddr(page int) int {
	return page * PageSize
}
