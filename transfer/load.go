package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"arduflash/arduhex"
	"arduflash/operation"
)

// loadChunk is the read size used when loading large files.
const loadChunk = 64 * 1024

// FirmwareFile is a firmware image on disk. Image is set once Load
// completes.
type FirmwareFile struct {
	Path  string
	Image *arduhex.Image

	// AllowBootloader skips the bootloader overlap check; verification of
	// a full backup needs it.
	AllowBootloader bool
}

// Load parses the file. Progress is indeterminate.
func (f *FirmwareFile) Load() operation.Simple {
	return func(ctx context.Context, r operation.Reporter) error {
		r.Status(statusLoading + filepath.Base(f.Path))
		r.Progress(0, 0)

		load := arduhex.LoadFirmware
		if f.AllowBootloader {
			load = arduhex.Load
		}
		img, err := load(f.Path)
		if err != nil {
			return fmt.Errorf("load %s: %w", filepath.Base(f.Path), err)
		}
		f.Image = img
		return nil
	}
}

// DataFile is an FX cartridge image on disk. Data is set once Load
// completes.
type DataFile struct {
	Path string
	Data []byte
}

// Load reads the file in chunks, reporting bytes read against its size.
func (f *DataFile) Load() operation.Simple {
	return func(ctx context.Context, r operation.Reporter) error {
		r.Status(statusLoading + filepath.Base(f.Path))

		file, err := os.Open(f.Path)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer func() { _ = file.Close() }()

		info, err := file.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", f.Path, err)
		}
		size := int(info.Size())
		if size == 0 {
			return fmt.Errorf("%s is empty", filepath.Base(f.Path))
		}

		data := make([]byte, size)
		r.Progress(0, size)
		read := 0
		for read < size {
			end := read + loadChunk
			if end > size {
				end = size
			}
			n, err := io.ReadFull(file, data[read:end])
			read += n
			if err != nil {
				return fmt.Errorf("read %s: %w", filepath.Base(f.Path), err)
			}
			r.Progress(read, size)
		}
		f.Data = data
		return nil
	}
}
