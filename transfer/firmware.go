package transfer

import (
	"context"
	"fmt"
	"io"

	"arduflash/arduhex"
	"arduflash/bootloader"
	"arduflash/flash"
	"arduflash/operation"
)

// FlashFirmware writes the used pages of img. With Verify set the total is
// twice the page count: every page is written, then every page is read back.
func FlashFirmware(img *arduhex.Image, opts Options) operation.DeviceBound {
	return func(ctx context.Context, dev *operation.Device, r operation.Reporter) error {
		if img == nil {
			return fmt.Errorf("no firmware image loaded")
		}
		c := opts.client(dev)
		if err := identify(c, r, opts.Log); err != nil {
			return err
		}

		pages := img.UsedPages()
		total := len(pages)
		if opts.Verify {
			total *= 2
		}

		r.Status(StatusWriteFlash)
		prog := newProgress(r, total)
		for _, page := range pages {
			if err := c.WriteFlashPage(page, img.Page(page)); err != nil {
				return fmt.Errorf("write page %d: %w", page, err)
			}
			prog.step()
		}

		if opts.Verify {
			r.Status(StatusVerifyFlash)
			if err := verifyPages(c, img, pages, prog); err != nil {
				return err
			}
		}

		opts.Log.Info().Int("pages", len(pages)).Str("device", dev.Handle.DisplayName()).Msg("firmware written")
		return opts.finish(c, r)
	}
}

// VerifyFirmware compares the used pages of img with the device.
func VerifyFirmware(img *arduhex.Image, opts Options) operation.DeviceBound {
	return func(ctx context.Context, dev *operation.Device, r operation.Reporter) error {
		if img == nil {
			return fmt.Errorf("no firmware image loaded")
		}
		c := opts.client(dev)
		if err := identify(c, r, opts.Log); err != nil {
			return err
		}

		pages := img.UsedPages()
		r.Status(StatusVerifyFlash)
		if err := verifyPages(c, img, pages, newProgress(r, len(pages))); err != nil {
			return err
		}
		return opts.finish(c, r)
	}
}

func verifyPages(c *bootloader.Client, img *arduhex.Image, pages []int, prog *progress) error {
	for _, page := range pages {
		got, err := c.ReadFlashPage(page)
		if err != nil {
			return fmt.Errorf("read page %d: %w", page, err)
		}
		if err := bootloader.Compare("flash", flash.PageAddr(page), img.Page(page), got); err != nil {
			return err
		}
		prog.step()
	}
	return nil
}

// BackupFirmware reads the whole onboard flash, bootloader included, and
// writes it to w once every page has been read.
func BackupFirmware(w io.Writer, opts Options) operation.DeviceBound {
	return func(ctx context.Context, dev *operation.Device, r operation.Reporter) error {
		c := opts.client(dev)
		if err := identify(c, r, opts.Log); err != nil {
			return err
		}

		r.Status(StatusReadFlash)
		prog := newProgress(r, flash.Pages)
		data := make([]byte, 0, flash.Size)
		for page := 0; page < flash.Pages; page++ {
			chunk, err := c.ReadFlashPage(page)
			if err != nil {
				return fmt.Errorf("read page %d: %w", page, err)
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
