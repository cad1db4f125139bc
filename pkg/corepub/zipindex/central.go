package zipindex

import (
	"encoding/binary"

	"github.com/adammathes/epubreader/pkg/corepub/errs"
)

const (
	centralSignature = 0x02014b50
	centralFixedSize = 46
)

// ParseCentralDirectory walks cd (the raw central-directory bytes located
// by ParseEOCD) and returns an Index of every entry. Entries whose name
// exceeds MaxNameLen are dropped; anything else structurally
// malformed aborts the whole parse, since a corrupt central directory
// can't be trusted to resync on the next record.
func ParseCentralDirectory(cd []byte) (*Index, error) {
	idx := &Index{}
	pos := 0
	for pos < len(cd) {
		if pos+centralFixedSize > len(cd) {
			return nil, errs.New(errs.Truncated, "zipindex.ParseCentralDirectory", nil)
		}
		if binary.LittleEndian.Uint32(cd[pos:]) != centralSignature {
			return nil, errs.New(errs.BadSignature, "zipindex.ParseCentralDirectory", nil)
		}
		method := binary.LittleEndian.Uint16(cd[pos+10:])
		crc := binary.LittleEndian.Uint32(cd[pos+16:])
		compSize := binary.LittleEndian.Uint32(cd[pos+20:])
		uncompSize := binary.LittleEndian.Uint32(cd[pos+24:])
		nameLen := int(binary.LittleEndian.Uint16(cd[pos+28:]))
		extraLen := int(binary.LittleEndian.Uint16(cd[pos+30:]))
		commentLen := int(binary.LittleEndian.Uint16(cd[pos+32:]))
		localOffset := binary.LittleEndian.Uint32(cd[pos+42:])

		recordEnd := pos + centralFixedSize + nameLen + extraLen + commentLen
		if recordEnd > len(cd) {
			return nil, errs.New(errs.Truncated, "zipindex.ParseCentralDirectory", nil)
		}
		name := string(cd[pos+centralFixedSize : pos+centralFixedSize+nameLen])
		pos = recordEnd

		if len(name) > MaxNameLen {
			continue
		}
		idx.Entries = append(idx.Entries, Entry{
			Name:              name,
			Method:            Method(method),
			CompressedSize:    compSize,
			UncompressedSize:  uncompSize,
			CRC32:             crc,
			LocalHeaderOffset: localOffset,
		})
	}
	return idx, nil
}
