package bootloader_test

import (
	"bytes"
	"errors"
	"testing"

	"arduflash/bootloader"
	"arduflash/bootloader/bootloadertest"
	"arduflash/flash"
)

func TestIdentify(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{bootloader.IDArduboy, false},
		{bootloader.IDCaterina, false},
		{"AVRBOOT", true},
	}
	for _, tt := range tests {
		dev := bootloadertest.New(1)
		dev.ID = tt.id
		c := bootloader.New(dev)

		got, err := c.Identify()
		if (err != nil) != tt.wantErr {
			t.Errorf("Identify() with %q error = %v, wantErr %v", tt.id, err, tt.wantErr)
			continue
		}
		if got != tt.id {
			t.Errorf("Identify() = %q, want %q", got, tt.id)
		}
		var unknown *bootloader.UnknownBootloaderError
		if tt.wantErr && !errors.As(err, &unknown) {
			t.Errorf("Identify() error = %T, want *UnknownBootloaderError", err)
		}
	}
}

func TestVersion(t *testing.T) {
	c := bootloader.New(bootloadertest.New(0))
	v, err := c.Version()
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != "1.3" {
		t.Errorf("Version() = %q, want 1.3", v)
	}
}

func TestFlashPageRoundTrip(t *testing.T) {
	dev := bootloadertest.New(0)
	c := bootloader.New(dev)

	page := make([]byte, flash.PageSize)
	for i := range page {
		page[i] = byte(i)
	}
	if err := c.WriteFlashPage(10, page); err != nil {
		t.Fatalf("WriteFlashPage() error = %v", err)
	}
	if !bytes.Equal(dev.Flash[10*flash.PageSize:11*flash.PageSize], page) {
		t.Error("page not stored at byte offset 1280")
	}
	if dev.Flash[9*flash.PageSize] != 0xFF {
		t.Error("previous page modified")
	}

	got, err := c.ReadFlashPage(10)
	if err != nil {
		t.Fatalf("ReadFlashPage() error = %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Error("ReadFlashPage() returned different data")
	}
	if dev.Commands() != "ABAg" {
		t.Errorf("commands = %q, want ABAg", dev.Commands())
	}
}

func TestWriteFlashPagePadsShortData(t *testing.T) {
	dev := bootloadertest.New(0)
	c := bootloader.New(dev)

	for i := 0; i < flash.PageSize; i++ {
		dev.Flash[i] = 0x00
	}
	if err := c.WriteFlashPage(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteFlashPage() error = %v", err)
	}
	if dev.Flash[2] != 3 || dev.Flash[3] != 0xFF || dev.Flash[flash.PageSize-1] != 0xFF {
		t.Errorf("padding not applied: % X", dev.Flash[:8])
	}
}

func TestFlashPageRange(t *testing.T) {
	c := bootloader.New(bootloadertest.New(0))
	if err := c.WriteFlashPage(flash.Pages, nil); err == nil {
		t.Error("page past the end accepted")
	}
	if _, err := c.ReadFlashPage(-1); err == nil {
		t.Error("negative page accepted")
	}
	if err := c.WriteFlashPage(0, make([]byte, flash.PageSize+1)); err == nil {
		t.Error("oversized page accepted")
	}
}

func TestFXBlockRoundTrip(t *testing.T) {
	dev := bootloadertest.New(2)
	c := bootloader.New(dev)

	if err := c.RequireFX(); err != nil {
		t.Fatalf("RequireFX() error = %v", err)
	}

	block := make([]byte, flash.FXBlockSize)
	for i := range block {
		block[i] = byte(i >> 8)
	}
	start := flash.DefaultExternal().FirstPage(1)
	if err := c.WriteFX(start, block); err != nil {
		t.Fatalf("WriteFX() error = %v", err)
	}
	if !bytes.Equal(dev.FX[flash.FXBlockSize:], block) {
		t.Error("block not stored in the second FX block")
	}

	got, err := c.ReadFX(start, flash.FXBlockSize)
	if err != nil {
		t.Fatalf("ReadFX() error = %v", err)
	}
	if !bytes.Equal(got, block) {
		t.Error("ReadFX() returned different data")
	}
}

func TestFXRangeChecks(t *testing.T) {
	c := bootloader.New(bootloadertest.New(1))
	tests := []struct {
		name string
		page int
		n    int
	}{
		{"partial page", 0, 100},
		{"over one block", 0, flash.FXBlockSize + flash.FXPageSize},
		{"empty", 0, 0},
		{"page overflow", 0x10000, flash.FXPageSize},
	}
	for _, tt := range tests {
		if _, err := c.ReadFX(tt.page, tt.n); err == nil {
			t.Errorf("%s: ReadFX(%d, %d) accepted", tt.name, tt.page, tt.n)
		}
	}
}

func TestRequireFXWithoutChip(t *testing.T) {
	dev := bootloadertest.New(0)
	dev.JEDEC = [bootloader.JEDECIDSize]byte{}
	err := bootloader.New(dev).RequireFX()

	var noChip *bootloader.NoFlashChipError
	if !errors.As(err, &noChip) {
		t.Fatalf("RequireFX() = %v, want NoFlashChipError", err)
	}
}

func TestUnexpectedAck(t *testing.T) {
	c := bootloader.New(bootloadertest.New(0))

	// A device without FX memory answers the write with '?'.
	err := c.WriteFX(0, make([]byte, flash.FXPageSize))
	var perr *bootloader.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("WriteFX() on a device without FX memory = %v, want ProtocolError", err)
	}
	if perr.Op != "write fx" || !bytes.Equal(perr.Got, []byte{'?'}) {
		t.Errorf("ProtocolError = %+v", perr)
	}
}

func TestLinkErrorsPropagate(t *testing.T) {
	dev := bootloadertest.New(0)
	dev.UnplugAfter = 1
	c := bootloader.New(dev)

	_, err := c.ReadFlashPage(0)
	if !errors.Is(err, bootloadertest.ErrUnplugged) {
		t.Fatalf("ReadFlashPage() after unplug = %v, want ErrUnplugged", err)
	}
}

func TestExit(t *testing.T) {
	dev := bootloadertest.New(0)
	if err := bootloader.New(dev).Exit(); err != nil {
		t.Fatalf("Exit() error = %v", err)
	}
	if !dev.Exited() {
		t.Error("device did not receive exit")
	}
}
