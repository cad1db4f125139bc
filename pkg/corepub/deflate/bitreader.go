package deflate

import (
	"io"

	"github.com/adammathes/epubreader/pkg/corepub/errs"
)

// readByte refills from the read callback as needed. A
// partial read (n < len(buf)) is normal; only a zero-length read at a
// nonzero request signals end of stream, which mid-DEFLATE is always
// unexpected.
func (br *bitReader) readByte() (byte, error) {
	if br.bufPos >= br.bufLen {
		n, err := br.read(br.offset, br.buf[:])
		if n == 0 {
			if err != nil {
				return 0, errs.New(errs.Read, "deflate.read", err)
			}
			return 0, errs.New(errs.Truncated, "deflate.read", io.ErrUnexpectedEOF)
		}
		br.bufLen = n
		br.bufPos = 0
		br.offset += uint32(n)
	}
	b := br.buf[br.bufPos]
	br.bufPos++
	return b, nil
}

func classifyReadErr(err error) errs.Kind {
	if e, ok := err.(*errs.Error); ok {
		return e.Kind
	}
	return errs.Deflate
}

// moreBits pulls one more byte into the low-order end of the bit buffer.
func (d *Decompressor) moreBits() {
	c, err := d.br.readByte()
	if err != nil {
		fail(classifyReadErr(err), "deflate.moreBits", err)
	}
	d.br.b |= uint32(c) << d.br.nb
	d.br.nb += 8
}
