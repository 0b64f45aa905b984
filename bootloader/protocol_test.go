package bootloader

import (
	"bytes"
	"errors"
	"testing"
)

func TestBuildSetAddress(t *testing.T) {
	tests := []struct {
		addr    int
		want    []byte
		wantErr bool
	}{
		{0, []byte{'A', 0x00, 0x00}, false},
		{0x3FC0, []byte{'A', 0x3F, 0xC0}, false},
		{0xFFFF, []byte{'A', 0xFF, 0xFF}, false},
		{0x10000, nil, true},
		{-1, nil, true},
	}
	for _, tt := range tests {
		got, err := BuildSetAddress(tt.addr)
		if (err != nil) != tt.wantErr {
			t.Errorf("BuildSetAddress(0x%X) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("BuildSetAddress(0x%X) = % X, want % X", tt.addr, got, tt.want)
		}
	}
}

func TestBuildBlockWrite(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 128)
	frame, err := BuildBlockWrite(MemFlash, data)
	if err != nil {
		t.Fatalf("BuildBlockWrite() error = %v", err)
	}
	if !bytes.Equal(frame[:4], []byte{'B', 0x00, 0x80, 'F'}) {
		t.Errorf("header = % X", frame[:4])
	}
	if !bytes.Equal(frame[4:], data) {
		t.Error("payload not appended verbatim")
	}

	if _, err := BuildBlockWrite(MemExternal, nil); err == nil {
		t.Error("empty block accepted")
	}
	if _, err := BuildBlockWrite(MemExternal, make([]byte, MaxBlock+1)); err == nil {
		t.Error("oversized block accepted")
	}
}

func TestBlockSizeWrapsAtMax(t *testing.T) {
	frame, err := BuildBlockRead(MemExternal, MaxBlock)
	if err != nil {
		t.Fatalf("BuildBlockRead() error = %v", err)
	}
	if !bytes.Equal(frame, []byte{'g', 0x00, 0x00, 'C'}) {
		t.Errorf("frame = % X", frame)
	}
	if got := DecodeSize(frame[1], frame[2]); got != MaxBlock {
		t.Errorf("DecodeSize() = %d, want %d", got, MaxBlock)
	}
	if got := DecodeSize(0x01, 0x00); got != 256 {
		t.Errorf("DecodeSize(01 00) = %d, want 256", got)
	}
}

func TestCompare(t *testing.T) {
	want := []byte{1, 2, 3, 4}

	if err := Compare("flash", 0x100, want, []byte{1, 2, 3, 4}); err != nil {
		t.Errorf("Compare(equal) = %v", err)
	}

	err := Compare("flash", 0x100, want, []byte{1, 2, 9, 4})
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("Compare() = %v, want VerificationError", err)
	}
	if verr.Addr != 0x102 || verr.Want != 3 || verr.Got != 9 {
		t.Errorf("VerificationError = %+v", verr)
	}

	if err := Compare("fx", 0, want, want[:2]); err == nil {
		t.Error("Compare() accepted a short readback")
	}
}
