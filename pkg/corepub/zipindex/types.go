// Package zipindex implements ZIP central-directory indexing and
// single-pass entry extraction (stored or DEFLATE) driven by a pull-style
// read callback. It never materializes the whole archive:
// only the End Of Central Directory tail and the central directory itself
// are expected to be buffered by the host; entry data streams through
// ReadFunc/Sink.
package zipindex

import "github.com/adammathes/epubreader/pkg/corepub/errs"

// Method is a ZIP local-header compression method. Only Stored and Deflate
// are supported; anything else makes the entry unreadable.
type Method uint16

const (
	MethodStored  Method = 0
	MethodDeflate Method = 8
)

// MaxNameLen bounds an entry's filename; central-directory records with a
// longer name are dropped rather than truncated.
const MaxNameLen = 256

// Entry is one indexed ZIP entry. Flat record, no owning references:
// extraction needs only this plus the read callback.
type Entry struct {
	Name              string
	Method            Method
	CompressedSize    uint32
	UncompressedSize  uint32
	CRC32             uint32
	LocalHeaderOffset uint32
}

// Readable reports whether Method is one this package can extract.
func (e Entry) Readable() bool {
	return e.Method == MethodStored || e.Method == MethodDeflate
}

// Index is the ordered sequence of entries parsed from a central
// directory. Lookups by Find are case-sensitive linear scans, fine for
// typical EPUB entry counts.
type Index struct {
	Entries []Entry
}

// Find returns the index of the entry with the given exact name, or
// (-1, false) if none matches.
func (idx *Index) Find(name string) (int, bool) {
	for i, e := range idx.Entries {
		if e.Name == name {
			return i, true
		}
	}
	return -1, false
}

// FindFold is a case-insensitive fallback for Find, for containers whose
// authoring tool case-mismatched hrefs against entry names. It is a
// separate, opt-in call: Find itself never folds case.
func (idx *Index) FindFold(name string) (int, bool) {
	for i, e := range idx.Entries {
		if len(e.Name) == len(name) && asciiEqualFold(e.Name, name) {
			return i, true
		}
	}
	return -1, false
}

func asciiEqualFold(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ReadFunc is the host's random-access read callback.
type ReadFunc func(offset uint32, buf []byte) (int, error)

// Sink receives decompressed chunks in order.
type Sink func(chunk []byte) error

// readFull loops a ReadFunc until buf is filled, honoring partial reads
// and fails with errs.Truncated on an unexpected zero read.
func readFull(read ReadFunc, offset uint32, buf []byte, op string) error {
	got := 0
	for got < len(buf) {
		n, err := read(offset+uint32(got), buf[got:])
		if n == 0 {
			if err != nil {
				return errs.New(errs.Read, op, err)
			}
			return errs.New(errs.Truncated, op, nil)
		}
		got += n
	}
	return nil
}
