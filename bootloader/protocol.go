// Package bootloader speaks the AVR109 dialect of the Caterina bootloader
// found on Leonardo class boards, plus the external flash commands added by
// the Cathy3K bootloader for FX cartridges.
//
// Every command is a single ASCII letter followed by fixed binary arguments.
// Commands that change state answer with a carriage return; queries answer
// with a fixed number of bytes.
//
//	A <addrHi> <addrLo>                  set address        -> '\r'
//	B <sizeHi> <sizeLo> <mem> <data...>  block write        -> '\r'
//	g <sizeHi> <sizeLo> <mem>            block read         -> <data...>
//	S                                    software id        -> 7 bytes
//	V                                    version            -> 2 bytes
//	j                                    JEDEC id (FX)      -> 3 bytes
//	E                                    exit bootloader    -> '\r'
//
// For onboard flash ('F') the address is a word address. For external
// flash ('C') it is a 256 byte page number.
package bootloader

import (
	"encoding/binary"
	"fmt"
)

// Command letters.
const (
	CmdSetAddress = 'A'
	CmdBlockWrite = 'B'
	CmdBlockRead  = 'g'
	CmdSoftwareID = 'S'
	CmdVersion    = 'V'
	CmdJEDECID    = 'j'
	CmdExit       = 'E'
)

// Memory types for block commands.
const (
	MemFlash    = 'F'
	MemExternal = 'C'
)

// Ack is the single byte answer to state changing commands.
const Ack = '\r'

// Response sizes.
const (
	SoftwareIDSize = 7
	VersionSize    = 2
	JEDECIDSize    = 3
)

// MaxBlock is the largest block a single B or g command may move. A size of
// 65536 is sent as 0x0000.
const MaxBlock = 65536

// MaxFXPage is the highest external flash page the 16 bit address reaches.
const MaxFXPage = 0xFFFF

// Known software identifiers.
const (
	IDCaterina = "CATERIN"
	IDArduboy  = "ARDUBOY"
)

// BuildSetAddress encodes an A command.
func BuildSetAddress(addr int) ([]byte, error) {
	if addr < 0 || addr > 0xFFFF {
		return nil, fmt.Errorf("address 0x%X does not fit in 16 bits", addr)
	}
	frame := []byte{CmdSetAddress, 0, 0}
	binary.BigEndian.PutUint16(frame[1:], uint16(addr))
	return frame, nil
}

// BuildBlockWrite encodes a B command followed by its payload.
func BuildBlockWrite(mem byte, data []byte) ([]byte, error) {
	size, err := encodeSize(len(data))
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 4+len(data))
	frame = append(frame, CmdBlockWrite, size[0], size[1], mem)
	frame = append(frame, data...)
	return frame, nil
}

// BuildBlockRead encodes a g command for n bytes.
func BuildBlockRead(mem byte, n int) ([]byte, error) {
	size, err := encodeSize(n)
	if err != nil {
		return nil, err
	}
	return []byte{CmdBlockRead, size[0], size[1], mem}, nil
}

func encodeSize(n int) ([2]byte, error) {
	var out [2]byte
	if n <= 0 || n > MaxBlock {
		return out, fmt.Errorf("block size %d out of range 1-%d", n, MaxBlock)
	}
	// 65536 wraps to 0x0000
	binary.BigEndian.PutUint16(out[:], uint16(n))
	return out, nil
}

// DecodeSize is the inverse of the size field encoding.
func DecodeSize(hi, lo byte) int {
	n := int(binary.BigEndian.Uint16([]byte{hi, lo}))
	if n == 0 {
		return MaxBlock
	}
	return n
}
