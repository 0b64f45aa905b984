package arduhex

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"arduflash/flash"
)

// Intel HEX record types.
const (
	recData           = 0x00
	recEOF            = 0x01
	recExtSegment     = 0x02
	recStartSegment   = 0x03
	recExtLinear      = 0x04
	recStartLinear    = 0x05
	minRecordHexChars = 10 // len + addr(2) + type + checksum
)

// Parse parses an Intel HEX file from path.
func Parse(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader parses Intel HEX from any reader. Parsing stops at the EOF
// record; data records must fall inside the onboard flash.
func ParseReader(r io.Reader) (*Image, error) {
	img := newImage()
	scanner := bufio.NewScanner(r)

	base := 0
	lineNum := 0
	sawEOF := false
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.kind {
		case recData:
			if len(rec.data) == 0 {
				continue
			}
			addr := base + rec.addr
			if addr+len(rec.data) > flash.Size {
				return nil, fmt.Errorf("line %d: data at 0x%05X runs past the end of flash (0x%05X)",
					lineNum, addr, flash.Size)
			}
			copy(img.Data[addr:], rec.data)
			img.mark(addr, len(rec.data))
		case recEOF:
			sawEOF = true
		case recExtSegment:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: extended segment record needs 2 bytes", lineNum)
			}
			base = (int(rec.data[0])<<8 | int(rec.data[1])) << 4
		case recExtLinear:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: extended linear record needs 2 bytes", lineNum)
			}
			base = (int(rec.data[0])<<8 | int(rec.data[1])) << 16
		case recStartSegment, recStartLinear:
			// entry point, irrelevant for flashing
		default:
			return nil, fmt.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.kind)
		}
		if sawEOF {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if lineNum == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if !sawEOF {
		return nil, fmt.Errorf("missing end of file record")
	}
	return img, nil
}

type record struct {
	kind byte
	addr int
	data []byte
}

// parseRecord decodes ":LLAAAATT<data>CC" and checks its checksum.
func parseRecord(line string) (*record, error) {
	if line[0] != ':' {
		return nil, fmt.Errorf("record does not start with ':'")
	}
	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	if len(line)-1 < minRecordHexChars {
		return nil, fmt.Errorf("record too short: %d hex characters", len(line)-1)
	}

	n := int(raw[0])
	if len(raw) != n+5 {
		return nil, fmt.Errorf("record length %d does not match byte count %d", len(raw)-5, n)
	}

	if want, got := -sumOf(raw[:len(raw)-1]), raw[len(raw)-1]; want != got {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, want 0x%02X", got, want)
	}

	return &record{
		kind: raw[3],
		addr: int(raw[1])<<8 | int(raw[2]),
		data: raw[4 : 4+n],
	}, nil
}

func sumOf(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}
