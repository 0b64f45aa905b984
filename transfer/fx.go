package transfer

import (
	"context"
	"fmt"
	"io"

	"arduflash/bootloader"
	"arduflash/flash"
	"arduflash/operation"
)

// WriteFX writes data to the FX flash starting at block start. The data is
// padded with 0xFF to a whole page and sent one block per command.
func WriteFX(data []byte, start int, opts Options) operation.DeviceBound {
	geo := flash.DefaultExternal()
	return func(ctx context.Context, dev *operation.Device, r operation.Reporter) error {
		if len(data) == 0 {
			return fmt.Errorf("no FX data loaded")
		}
		padded := flash.PadToPage(data, geo.PageSize)
		blocks := geo.BlocksFor(len(padded))
		if err := checkBlocks(geo, start, blocks); err != nil {
			return err
		}

		c := opts.client(dev)
		if err := identify(c, r, opts.Log); err != nil {
			return err
		}
		if err := c.RequireFX(); err != nil {
			return err
		}

		total := blocks
		if opts.Verify {
			total *= 2
		}

		r.Status(StatusWriteFX)
		prog := newProgress(r, total)
		for b := 0; b < blocks; b++ {
			chunk := blockSlice(padded, b, geo.BlockSize)
			if err := c.WriteFX(geo.FirstPage(start+b), chunk); err != nil {
				return fmt.Errorf("write block %d: %w", start+b, err)
			}
			prog.step()
		}

		if opts.Verify {
			r.Status(StatusVerifyFX)
			for b := 0; b < blocks; b++ {
				want := blockSlice(padded, b, geo.BlockSize)
				got, err := c.ReadFX(geo.FirstPage(start+b), len(want))
				if err != nil {
					return fmt.Errorf("read block %d: %w", start+b, err)
				}
				if err := bootloader.Compare("fx", (start+b)*geo.BlockSize, want, got); err != nil {
					return err
				}
				prog.step()
			}
		}

		opts.Log.Info().Int("blocks", blocks).Int("start", start).Msg("FX data written")
		return opts.finish(c, r)
	}
}

// BackupFX reads count blocks starting at block start and writes them to w
// once every block has been read.
func BackupFX(w io.Writer, start, count int, opts Options) operation.DeviceBound {
	geo := flash.DefaultExternal()
	return func(ctx context.Context, dev *operation.Device, r operation.Reporter) error {
		if err := checkBlocks(geo, start, count); err != nil {
			return err
		}
		c := opts.client(dev)
		if err := identify(c, r, opts.Log); err != nil {
			return err
		}
		if err := c.RequireFX(); err != nil {
			return err
		}

		r.Status(StatusReadFX)
		prog := newProgress(r, count)
		data := make([]byte, 0, count*geo.BlockSize)
		for b := start; b < start+count; b++ {
			chunk, err := c.ReadFX(geo.FirstPage(b), geo.BlockSize)
			if err != nil {
				return fmt.Errorf("read block %d: %w", b, err)
			}
			data = append(data, chunk...)
			prog.step()
		}

		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("save backup: %w", err)
		}
		return opts.finish(c, r)
	}
}

// checkBlocks rejects a block range that does not fit the FX address space
// before anything is sent to the device.
func checkBlocks(geo flash.External, start, count int) error {
	maxBlocks := (bootloader.MaxFXPage + 1) / geo.PagesPerBlock
	if start < 0 || count <= 0 || start >= maxBlocks || count > maxBlocks-start {
		return fmt.Errorf("invalid block range %d+%d: fx flash holds %d blocks", start, count, maxBlocks)
	}
	return nil
}

func blockSlice(data []byte, b, blockSize int) []byte {
	end := (b + 1) * blockSize
	if end > len(data) {
		end = len(data)
	}
	return data[b*blockSize : end]
}
