// Package jpeg decodes baseline sequential JPEG (SOF0) straight to
// dithered 1-bit rows. Chroma components are entropy-decoded to keep the
// bitstream in sync but never reconstructed: only the Y plane reaches the
// ditherer. Peak memory is one MCU row of luminance plus the Huffman and
// quantization tables; progressive, arithmetic and 12-bit streams are
// rejected.
package jpeg

import (
	"github.com/adammathes/epubreader/pkg/corepub/errs"
	"github.com/adammathes/epubreader/pkg/corepub/imaging"
)

// ReadFunc is the host's random-access read callback over the JPEG bytes.
type ReadFunc func(offset uint32, buf []byte) (int, error)

// Opts are the per-call decode parameters. MaxW/MaxH bound the output
// bitmap; zero means unconstrained on that axis.
type Opts struct {
	MaxW, MaxH int
}

// Info describes the decoded output.
type Info struct {
	SrcW, SrcH int
	OutW, OutH int
	Scale      int
}

const (
	mSOI = 0xD8
	mEOI = 0xD9
	mSOS = 0xDA
	mDQT = 0xDB
	mDRI = 0xDD
	mDHT = 0xC4
	mSOF0 = 0xC0
	mCOM = 0xFE
	mRST0 = 0xD0
	mRST7 = 0xD7
)

type component struct {
	id     byte
	h, v   int
	tq     byte // quantization table selector
	td, ta byte // DC/AC Huffman selectors from SOS
	dcPred int32
}

type decoder struct {
	br byteReader

	quant [4][64]uint16
	huff  [2][4]huffTable // [0]=DC, [1]=AC

	width, height int
	comps         []component
	hmax, vmax    int
	restart       int // MCUs between restart markers, 0 = none

	// entropy bit state
	bits  uint32
	nbits int

	band  []byte // one MCU row of Y samples
	bandW int
	bandH int
	lum   []byte

	dith *imaging.Ditherer
}

type jerr struct{ err error }

func throw(kind errs.Kind, op string, cause error) {
	panic(jerr{errs.New(kind, op, cause)})
}

// Decode parses the marker stream, Huffman-decodes the single baseline
// scan MCU row by MCU row, and emits dithered rows through emit.
func Decode(read ReadFunc, opts Opts, emit imaging.RowFunc) (info Info, err error) {
	d := &decoder{}
	d.br.read = read

	defer func() {
		if r := recover(); r != nil {
			je, ok := r.(jerr)
			if !ok {
				panic(r)
			}
			err = je.err
		}
	}()

	if d.br.u8() != 0xFF || d.br.u8() != mSOI {
		return Info{}, errs.New(errs.BadSignature, "jpeg.SOI", nil)
	}
	d.parseSegments()

	d.dith = imaging.NewDitherer(d.width, d.height, opts.MaxW, opts.MaxH, emit)
	d.decodeScan()
	if err := d.dith.Finish(); err != nil {
		panic(jerr{err})
	}
	return Info{
		SrcW: d.width, SrcH: d.height,
		OutW: d.dith.OutWidth(), OutH: d.dith.OutHeight(),
		Scale: d.dith.Scale(),
	}, nil
}

// parseSegments walks markers up to and including the SOS header.
func (d *decoder) parseSegments() {
	for {
		marker := d.nextMarker()
		switch {
		case marker == mSOF0:
			d.parseSOF()
		case marker >= 0xC1 && marker <= 0xCF && marker != mDHT && marker != 0xC8:
			// progressive, arithmetic, extended, 12-bit: all out of scope
			throw(errs.Unsupported, "jpeg.SOF", nil)
		case marker == mDHT:
			d.parseDHT()
		case marker == mDQT:
			d.parseDQT()
		case marker == mDRI:
			length := int(d.br.u16())
			if length != 4 {
				throw(errs.BadFormat, "jpeg.DRI", nil)
			}
			d.restart = int(d.br.u16())
		case marker == mSOS:
			d.parseSOS()
			return
		case marker == mEOI:
			throw(errs.Truncated, "jpeg.segments", nil)
		case (marker >= 0xE0 && marker <= 0xEF) || marker == mCOM:
			d.skipSegment()
		default:
			throw(errs.BadFormat, "jpeg.marker", nil)
		}
	}
}

// nextMarker scans to the next 0xFF xx marker, tolerating fill bytes.
func (d *decoder) nextMarker() byte {
	b := d.br.u8()
	for b != 0xFF {
		b = d.br.u8()
	}
	m := d.br.u8()
	for m == 0xFF {
		m = d.br.u8()
	}
	return m
}

func (d *decoder) skipSegment() {
	length := int(d.br.u16())
	if length < 2 {
		throw(errs.BadFormat, "jpeg.segment", nil)
	}
	d.br.skip(length - 2)
}

func (d *decoder) parseDQT() {
	length := int(d.br.u16()) - 2
	for length > 0 {
		pqtq := d.br.u8()
		pq, tq := pqtq>>4, pqtq&0x0F
		if tq > 3 {
			throw(errs.BadFormat, "jpeg.DQT", nil)
		}
		if pq != 0 {
			// 16-bit tables belong to 12-bit precision streams
			throw(errs.Unsupported, "jpeg.DQT", nil)
		}
		for i := 0; i < 64; i++ {
			d.quant[tq][i] = uint16(d.br.u8())
		}
		length -= 65
	}
	if length != 0 {
		throw(errs.BadFormat, "jpeg.DQT", nil)
	}
}

func (d *decoder) parseDHT() {
	length := int(d.br.u16()) - 2
	for length > 0 {
		tcth := d.br.u8()
		tc, th := tcth>>4, tcth&0x0F
		if tc > 1 || th > 3 {
			throw(errs.BadFormat, "jpeg.DHT", nil)
		}
		var counts [16]byte
		total := 0
		for i := range counts {
			counts[i] = d.br.u8()
			total += int(counts[i])
		}
		if total > 256 {
			throw(errs.BadFormat, "jpeg.DHT", nil)
		}
		vals := make([]byte, total)
		d.br.readFull(vals)
		d.huff[tc][th].build(counts, vals)
		length -= 17 + total
	}
	if length != 0 {
		throw(errs.BadFormat, "jpeg.DHT", nil)
	}
}

func (d *decoder) parseSOF() {
	length := int(d.br.u16())
	if d.br.u8() != 8 {
		throw(errs.Unsupported, "jpeg.SOF", nil)
	}
	d.height = int(d.br.u16())
	d.width = int(d.br.u16())
	ncomp := int(d.br.u8())
	if d.width == 0 || d.height == 0 {
		throw(errs.BadFormat, "jpeg.SOF", nil)
	}
	if ncomp != 1 && ncomp != 3 {
		throw(errs.Unsupported, "jpeg.SOF", nil)
	}
	if length != 8+3*ncomp {
		throw(errs.BadFormat, "jpeg.SOF", nil)
	}
	d.comps = make([]component, ncomp)
	for i := range d.comps {
		c := &d.comps[i]
		c.id = d.br.u8()
		hv := d.br.u8()
		c.h, c.v = int(hv>>4), int(hv&0x0F)
		c.tq = d.br.u8()
		if c.h < 1 || c.h > 2 || c.v < 1 || c.v > 2 || c.tq > 3 {
			throw(errs.Unsupported, "jpeg.SOF", nil)
		}
		if ncomp == 1 {
			// single-component scans are non-interleaved: one data unit
			// per MCU, whatever the declared sampling factors say
			c.h, c.v = 1, 1
		}
		if c.h > d.hmax {
			d.hmax = c.h
		}
		if c.v > d.vmax {
			d.vmax = c.v
		}
	}
}

func (d *decoder) parseSOS() {
	length := int(d.br.u16())
	ns := int(d.br.u8())
	if ns != len(d.comps) || length != 6+2*ns {
		throw(errs.BadFormat, "jpeg.SOS", nil)
	}
	for i := 0; i < ns; i++ {
		cs := d.br.u8()
		comp := d.findComponent(cs)
		tdta := d.br.u8()
		comp.td, comp.ta = tdta>>4, tdta&0x0F
		if comp.td > 3 || comp.ta > 3 {
			throw(errs.BadFormat, "jpeg.SOS", nil)
		}
	}
	ss, se, ahal := d.br.u8(), d.br.u8(), d.br.u8()
	if ss != 0 || se != 63 || ahal != 0 {
		throw(errs.Unsupported, "jpeg.SOS", nil)
	}
}

func (d *decoder) findComponent(id byte) *component {
	for i := range d.comps {
		if d.comps[i].id == id {
			return &d.comps[i]
		}
	}
	throw(errs.BadFormat, "jpeg.SOS", nil)
	return nil
}

// decodeScan runs the single baseline scan: MCU rows decode into the Y
// band, which flushes to the ditherer before the next row reuses it.
func (d *decoder) decodeScan() {
	y := &d.comps[0]
	mcuW := 8 * d.hmax
	mcuH := 8 * d.vmax
	mcusX := (d.width + mcuW - 1) / mcuW
	mcusY := (d.height + mcuH - 1) / mcuH

	d.bandW = mcusX * 8 * y.h
	d.bandH = 8 * y.v
	d.band = make([]byte, d.bandW*d.bandH)
	d.lum = make([]byte, d.width)

	var block [64]int32
	mcu := 0
	for my := 0; my < mcusY; my++ {
		for mx := 0; mx < mcusX; mx++ {
			if d.restart > 0 && mcu > 0 && mcu%d.restart == 0 {
				d.syncRestart()
			}
			mcu++
			for ci := range d.comps {
				c := &d.comps[ci]
				for by := 0; by < c.v; by++ {
					for bx := 0; bx < c.h; bx++ {
						d.decodeBlock(c, &block, ci == 0)
						if ci == 0 {
							d.storeBlock(&block, (mx*c.h+bx)*8, by*8)
						}
					}
				}
			}
		}
		d.flushBand(my, mcuH)
	}
}

// syncRestart discards bits to the byte boundary and consumes the RSTn
// marker, resetting every component's DC predictor.
func (d *decoder) syncRestart() {
	d.bits = 0
	d.nbits = 0
	b0 := d.br.u8()
	b1 := d.br.u8()
	if b0 != 0xFF || b1 < mRST0 || b1 > mRST7 {
		throw(errs.BadFormat, "jpeg.RST", nil)
	}
	for i := range d.comps {
		d.comps[i].dcPred = 0
	}
}

// decodeBlock Huffman-decodes one 8×8 block. For the luma component the
// coefficients are dequantized and inverse-transformed; chroma blocks
// only advance the bitstream and DC predictor.
func (d *decoder) decodeBlock(c *component, block *[64]int32, wantPixels bool) {
	q := &d.quant[c.tq]

	t := d.decodeHuffman(&d.huff[0][c.td])
	var diff int32
	if t > 0 {
		if t > 16 {
			throw(errs.BadFormat, "jpeg.huffman", nil)
		}
		diff = d.receiveExtend(t)
	}
	c.dcPred += diff

	if wantPixels {
		for i := range block {
			block[i] = 0
		}
		block[0] = c.dcPred * int32(q[0])
	}

	for k := 1; k < 64; {
		rs := d.decodeHuffman(&d.huff[1][c.ta])
		r, s := int(rs>>4), rs&0x0F
		if s == 0 {
			if r != 15 {
				break // EOB
			}
			k += 16
			continue
		}
		k += r
		if k > 63 {
			throw(errs.BadFormat, "jpeg.huffman", nil)
		}
		v := d.receiveExtend(s)
		if wantPixels {
			block[unzig[k]] = v * int32(q[k])
		}
		k++
	}

	if wantPixels {
		idct(block)
	}
}

// storeBlock writes the transformed, level-shifted block into the Y band
// at block origin (x0, y0).
func (d *decoder) storeBlock(block *[64]int32, x0, y0 int) {
	for yy := 0; yy < 8; yy++ {
		row := d.band[(y0+yy)*d.bandW:]
		for xx := 0; xx < 8; xx++ {
			v := block[yy*8+xx] + 128
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			row[x0+xx] = byte(v)
		}
	}
}

// flushBand resamples the completed Y band to full image resolution and
// pushes each scanline, stopping at the image's true height.
func (d *decoder) flushBand(my, mcuH int) {
	y := &d.comps[0]
	for row := 0; row < mcuH; row++ {
		absY := my*mcuH + row
		if absY >= d.height {
			return
		}
		sy := row * y.v / d.vmax
		src := d.band[sy*d.bandW:]
		if y.h == d.hmax {
			copy(d.lum, src[:d.width])
		} else {
			for x := 0; x < d.width; x++ {
				d.lum[x] = src[x*y.h/d.hmax]
			}
		}
		if err := d.dith.PushRow(d.lum); err != nil {
			panic(jerr{err})
		}
	}
}

// --- entropy bit input ---

// fillBits pulls one more byte of entropy-coded data, unstuffing 0xFF00.
// A marker inside the scan (other than via syncRestart) means the stream
// ended early.
func (d *decoder) fillBits() {
	b := d.br.u8()
	if b == 0xFF {
		b2 := d.br.u8()
		if b2 != 0x00 {
			throw(errs.Truncated, "jpeg.scan", nil)
		}
	}
	d.bits = d.bits<<8 | uint32(b)
	d.nbits += 8
}

func (d *decoder) readBit() uint32 {
	if d.nbits == 0 {
		d.fillBits()
	}
	d.nbits--
	return (d.bits >> uint(d.nbits)) & 1
}

func (d *decoder) readBits(n byte) int32 {
	var v int32
	for i := byte(0); i < n; i++ {
		v = v<<1 | int32(d.readBit())
	}
	return v
}

func (d *decoder) receiveExtend(s byte) int32 {
	v := d.readBits(s)
	if v < 1<<(s-1) {
		v += (-1 << s) + 1
	}
	return v
}

// huffTable is a canonical Huffman table decoded bit by bit against
// per-length first/last code bounds.
type huffTable struct {
	mincode [17]int32
	maxcode [17]int32 // -1 when no codes of that length
	valptr  [17]int32
	vals    [256]byte
	ok      bool
}

func (t *huffTable) build(counts [16]byte, vals []byte) {
	copy(t.vals[:], vals)
	code := int32(0)
	k := int32(0)
	for l := 1; l <= 16; l++ {
		n := int32(counts[l-1])
		t.valptr[l] = k
		t.mincode[l] = code
		if n == 0 {
			t.maxcode[l] = -1
		} else {
			code += n
			k += n
			t.maxcode[l] = code - 1
		}
		code <<= 1
	}
	t.ok = true
}

func (d *decoder) decodeHuffman(t *huffTable) byte {
	if !t.ok {
		throw(errs.BadFormat, "jpeg.huffman", nil)
	}
	code := int32(0)
	for l := 1; l <= 16; l++ {
		code = code<<1 | int32(d.readBit())
		if t.maxcode[l] >= 0 && code <= t.maxcode[l] {
			return t.vals[t.valptr[l]+code-t.mincode[l]]
		}
	}
	throw(errs.BadFormat, "jpeg.huffman", nil)
	return 0
}

// unzig maps zigzag coefficient order to natural block order.
var unzig = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

// --- sequential byte input over the read callback ---

type byteReader struct {
	read   ReadFunc
	offset uint32
	buf    [4096]byte
	pos    int
	n      int
}

func (b *byteReader) u8() byte {
	if b.pos >= b.n {
		n, err := b.read(b.offset, b.buf[:])
		if n == 0 {
			if err != nil {
				throw(errs.Read, "jpeg.read", err)
			}
			throw(errs.Truncated, "jpeg.read", nil)
		}
		b.n = n
		b.pos = 0
		b.offset += uint32(n)
	}
	v := b.buf[b.pos]
	b.pos++
	return v
}

func (b *byteReader) u16() uint16 {
	hi := b.u8()
	lo := b.u8()
	return uint16(hi)<<8 | uint16(lo)
}

func (b *byteReader) skip(n int) {
	for i := 0; i < n; i++ {
		b.u8()
	}
}

func (b *byteReader) readFull(dst []byte) {
	for i := range dst {
		dst[i] = b.u8()
	}
}
