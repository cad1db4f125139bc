package zipindex

import (
	"encoding/binary"

	"github.com/adammathes/epubreader/pkg/corepub/errs"
)

const (
	eocdSignature   = 0x06054b50
	eocdMinSize     = 22
	eocdSearchWindow = 65536 // 64 KiB
)

// ParseEOCD scans tail (the last up-to-64KiB+22 bytes of the container,
// ending at fileSize) backward for the End Of Central Directory record and
// returns the absolute offset and size of the central directory. The
// search only looks within the last 64 KiB of the file.
func ParseEOCD(tail []byte, fileSize uint64) (cdOffset uint32, cdSize uint32, err error) {
	if len(tail) < eocdMinSize {
		return 0, 0, errs.New(errs.Truncated, "zipindex.ParseEOCD", nil)
	}
	maxScan := len(tail) - eocdMinSize
	for i := maxScan; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:]) != eocdSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(tail[i+20:]))
		if i+eocdMinSize+commentLen != len(tail) {
			// Signature bytes that happen to appear inside a comment or
			// other trailing data; comment length must exactly account
			// for the rest of the buffer for this to be the real record.
			continue
		}
		cdSize = binary.LittleEndian.Uint32(tail[i+12:])
		cdOffset = binary.LittleEndian.Uint32(tail[i+16:])
		diskEntries := binary.LittleEndian.Uint16(tail[i+10:])
		totalEntries := binary.LittleEndian.Uint16(tail[i+8:])
		if diskEntries != totalEntries {
			return 0, 0, errs.New(errs.Unsupported, "zipindex.ParseEOCD", nil) // multi-disk
		}
		return cdOffset, cdSize, nil
	}
	if uint64(len(tail)) >= fileSize || fileSize <= eocdSearchWindow {
		return 0, 0, errs.New(errs.BadSignature, "zipindex.ParseEOCD", nil)
	}
	return 0, 0, errs.New(errs.Truncated, "zipindex.ParseEOCD", nil)
}
