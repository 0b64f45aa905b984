package bootloader

import (
	"fmt"
)

// ProtocolError indicates the bootloader answered with something other than
// the expected response.
type ProtocolError struct {
	Op   string
	Want []byte
	Got  []byte
}

func (e *ProtocolError) Error() string {
	if e.Want == nil {
		return fmt.Sprintf("bootloader %s: unexpected response % X", e.Op, e.Got)
	}
	return fmt.Sprintf("bootloader %s: unexpected response % X, want % X", e.Op, e.Got, e.Want)
}

// UnknownBootloaderError indicates the software identifier is not one this
// flasher can drive.
type UnknownBootloaderError struct {
	ID string
}

func (e *UnknownBootloaderError) Error() string {
	return fmt.Sprintf("unsupported bootloader %q", e.ID)
}

// NoFlashChipError indicates an FX command was sent but no external flash
// answered the JEDEC query.
type NoFlashChipError struct {
	JEDEC [JEDECIDSize]byte
}

func (e *NoFlashChipError) Error() string {
	return fmt.Sprintf("no FX flash chip detected (JEDEC id % X)", e.JEDEC[:])
}

// VerificationError reports the first byte that read back differently from
// what was written.
type VerificationError struct {
	Region string
	Addr   int
	Want   byte
	Got    byte
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed in %s at 0x%06X: wrote 0x%02X, read back 0x%02X",
		e.Region, e.Addr, e.Want, e.Got)
}

// Compare returns a VerificationError for the first difference between want
// and got, base being the address of their first byte.
func Compare(region string, base int, want, got []byte) error {
	n := len(want)
	if len(got) < n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		if want[i] != got[i] {
			return &VerificationError{Region: region, Addr: base + i, Want: want[i], Got: got[i]}
		}
	}
	if len(want) != len(got) {
		return fmt.Errorf("verification failed in %s at 0x%06X: read back %d bytes, want %d",
			region, base+n, len(got), len(want))
	}
	return nil
}
