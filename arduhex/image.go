// Package arduhex loads firmware images for the onboard flash.
//
// An Image is always the full onboard flash, erased bytes being 0xFF, plus a
// map of which pages the source file actually touched. Writers only send the
// used pages.
package arduhex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arduflash/flash"
)

// ErrBootloaderOverlap is returned for images that write into the bootloader
// area at the top of onboard flash.
var ErrBootloaderOverlap = errors.New("image overlaps the bootloader area")

// Image is a parsed firmware image.
type Image struct {
	Data []byte
	Used []bool
}

func newImage() *Image {
	data := make([]byte, flash.Size)
	for i := range data {
		data[i] = 0xFF
	}
	return &Image{Data: data, Used: make([]bool, flash.Pages)}
}

// UsedPages returns the indexes of the pages the image writes, ascending.
func (img *Image) UsedPages() []int {
	var pages []int
	for i, used := range img.Used {
		if used {
			pages = append(pages, i)
		}
	}
	return pages
}

// Page returns the bytes of onboard page n.
func (img *Image) Page(n int) []byte {
	start := flash.PageAddr(n)
	return img.Data[start : start+flash.PageSize]
}

// Size returns the number of bytes up to the end of the last used page.
func (img *Image) Size() int {
	for i := len(img.Used) - 1; i >= 0; i-- {
		if img.Used[i] {
			return flash.PageAddr(i + 1)
		}
	}
	return 0
}

func (img *Image) mark(addr, n int) {
	for p := addr / flash.PageSize; p <= (addr+n-1)/flash.PageSize; p++ {
		img.Used[p] = true
	}
}

// checkBootloader rejects images that touch the top BootloaderSize bytes.
func (img *Image) checkBootloader() error {
	for p := flash.AppSize / flash.PageSize; p < flash.Pages; p++ {
		if img.Used[p] {
			return fmt.Errorf("%w: page %d (0x%04X)", ErrBootloaderOverlap, p, flash.PageAddr(p))
		}
	}
	return nil
}

// FromBinary builds an image from a raw dump. Pages that are entirely 0xFF
// are treated as unused.
func FromBinary(data []byte) (*Image, error) {
	if len(data) > flash.Size {
		return nil, fmt.Errorf("binary image is %d bytes, onboard flash holds %d", len(data), flash.Size)
	}
	img := newImage()
	copy(img.Data, data)
	for p := 0; p < flash.PagesFor(len(data), flash.PageSize); p++ {
		for _, b := range img.Page(p) {
			if b != 0xFF {
				img.Used[p] = true
				break
			}
		}
	}
	return img, nil
}

// Load reads a .hex or .bin file.
func Load(path string) (*Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return FromBinary(data)
	default:
		return Parse(path)
	}
}

// LoadFirmware reads a .hex or .bin file meant to be flashed and refuses
// images that would overwrite the bootloader.
func LoadFirmware(path string) (*Image, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := img.checkBootloader(); err != nil {
		return nil, err
	}
	if len(img.UsedPages()) == 0 {
		return nil, fmt.Errorf("%s: image contains no data", filepath.Base(path))
	}
	return img, nil
}
