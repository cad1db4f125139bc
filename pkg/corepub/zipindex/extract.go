package zipindex

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/adammathes/epubreader/pkg/corepub/deflate"
	"github.com/adammathes/epubreader/pkg/corepub/errs"
)

const localHeaderFixedSize = 30
const localSignature = 0x04034b50

// dataOffset reads the local file header at e.LocalHeaderOffset and
// returns the absolute offset of the entry's data, skipping the
// variable-length name and extra fields.
func dataOffset(e Entry, read ReadFunc) (uint32, error) {
	var hdr [localHeaderFixedSize]byte
	if err := readFull(read, e.LocalHeaderOffset, hdr[:], "zipindex.localHeader"); err != nil {
		return 0, err
	}
	if binary.LittleEndian.Uint32(hdr[:]) != localSignature {
		return 0, errs.New(errs.BadSignature, "zipindex.localHeader", nil)
	}
	nameLen := uint32(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := uint32(binary.LittleEndian.Uint16(hdr[28:]))
	return e.LocalHeaderOffset + localHeaderFixedSize + nameLen + extraLen, nil
}

// StreamExtract decompresses entry e, pushing chunks to sink as they
// become available, and validates CRC32 against e.CRC32 once the stream
// completes. dec is a caller-owned, reusable DEFLATE decompressor (may be
// nil for a Stored entry).
func StreamExtract(e Entry, read ReadFunc, dec *deflate.Decompressor, sink Sink) (uint32, error) {
	if !e.Readable() {
		return 0, errs.New(errs.Unsupported, "zipindex.StreamExtract", nil)
	}
	off, err := dataOffset(e, read)
	if err != nil {
		return 0, err
	}

	crc := crc32.NewIEEE()
	checked := func(chunk []byte) error {
		crc.Write(chunk)
		return sink(chunk)
	}

	var total uint32
	switch e.Method {
	case MethodStored:
		total, err = streamStored(e, off, read, checked)
	case MethodDeflate:
		if dec == nil {
			dec = deflate.NewDecompressor()
		}
		total, err = dec.Inflate(deflate.ReadFunc(read), off, deflate.Sink(checked))
	}
	if err != nil {
		return total, err
	}
	if total != e.UncompressedSize {
		return total, errs.New(errs.Deflate, "zipindex.StreamExtract", nil)
	}
	if crc.Sum32() != e.CRC32 {
		return total, errs.New(errs.Crc, "zipindex.StreamExtract", nil)
	}
	return total, nil
}

func streamStored(e Entry, off uint32, read ReadFunc, sink Sink) (uint32, error) {
	var buf [4096]byte
	remaining := e.CompressedSize
	var total uint32
	for remaining > 0 {
		chunkLen := uint32(len(buf))
		if remaining < chunkLen {
			chunkLen = remaining
		}
		if err := readFull(read, off, buf[:chunkLen], "zipindex.streamStored"); err != nil {
			return total, err
		}
		if err := sink(buf[:chunkLen]); err != nil {
			return total, errs.New(errs.Write, "zipindex.streamStored", err)
		}
		off += chunkLen
		remaining -= chunkLen
		total += chunkLen
	}
	return total, nil
}

// ExtractEntry is the buffered counterpart to StreamExtract: it
// accumulates the full decompressed entry into buf and returns the slice
// actually used. Returns BufferTooSmall if buf can't hold the result.
// Byte-for-byte identical to the concatenation of StreamExtract's chunks.
func ExtractEntry(e Entry, read ReadFunc, dec *deflate.Decompressor, buf []byte) ([]byte, error) {
	if uint32(len(buf)) < e.UncompressedSize {
		return nil, errs.New(errs.BufferTooSmall, "zipindex.ExtractEntry", nil)
	}
	pos := 0
	sink := func(chunk []byte) error {
		if pos+len(chunk) > len(buf) {
			return errs.BufferTooSmall
		}
		pos += copy(buf[pos:], chunk)
		return nil
	}
	n, err := StreamExtract(e, read, dec, sink)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
