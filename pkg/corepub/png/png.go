// Package png decodes PNG images straight to dithered 1-bit rows. It
// supports bit depths 1/2/4/8 and all five color types, converting every
// pixel to BT.601 luminance (palette looked up, alpha composited against
// white) and feeding the shared block-downscale ditherer. Interlaced
// images are rejected by default; Opts.Interlaced enables a slower
// seven-pass path whose buffering is bounded by the output size.
package png

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/adammathes/epubreader/pkg/corepub/deflate"
	"github.com/adammathes/epubreader/pkg/corepub/errs"
	"github.com/adammathes/epubreader/pkg/corepub/imaging"
)

// ReadFunc is the host's random-access read callback over the PNG bytes.
type ReadFunc func(offset uint32, buf []byte) (int, error)

// Opts are the per-call decode parameters. MaxW/MaxH bound the output
// bitmap; zero means unconstrained on that axis.
type Opts struct {
	MaxW, MaxH int
	Interlaced bool // accept Adam7 input via the buffered path
}

// Info describes the decoded output.
type Info struct {
	SrcW, SrcH int
	OutW, OutH int
	Scale      int
}

var signature = [8]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

const (
	ctGray      = 0
	ctRGB       = 2
	ctPalette   = 3
	ctGrayAlpha = 4
	ctRGBA      = 6
)

type header struct {
	width, height int
	depth         byte
	colorType     byte
	interlaced    bool
}

type span struct {
	offset uint32
	length uint32
}

type decoder struct {
	read ReadFunc
	hdr  header
	opts Opts

	palette    [256]byte // pre-folded to luminance
	paletteLen int

	idat      []span
	idatTotal uint32

	// scanline assembly
	rowBytes int
	cur      []byte
	prev     []byte
	rowPos   int
	lum      []byte
	y        int

	dith *imaging.Ditherer
	grid *imaging.Grid

	// interlaced pass state
	pass     int
	passW    int
	passH    int
	passY    int
}

// Decode walks the chunk stream (verifying each chunk CRC), inflates the
// concatenated IDAT zlib stream through the caller's decompressor, and
// emits dithered rows. dec may be nil, in which case a decompressor is
// allocated for the call.
func Decode(read ReadFunc, dec *deflate.Decompressor, opts Opts, emit imaging.RowFunc) (Info, error) {
	d := &decoder{read: read, opts: opts}
	if err := d.checkSignature(); err != nil {
		return Info{}, err
	}
	if err := d.walkChunks(); err != nil {
		return Info{}, err
	}
	if err := d.begin(emit); err != nil {
		return Info{}, err
	}
	if dec == nil {
		dec = deflate.NewDecompressor()
	}
	if err := d.inflate(dec); err != nil {
		return Info{}, err
	}
	if err := d.finish(emit); err != nil {
		return Info{}, err
	}
	info := Info{SrcW: d.hdr.width, SrcH: d.hdr.height}
	if d.grid != nil {
		info.OutW, info.OutH, info.Scale = d.grid.OutWidth(), d.grid.OutHeight(), d.grid.Scale()
	} else {
		info.OutW, info.OutH, info.Scale = d.dith.OutWidth(), d.dith.OutHeight(), d.dith.Scale()
	}
	return info, nil
}

func (d *decoder) readFull(offset uint32, buf []byte, op string) error {
	got := 0
	for got < len(buf) {
		n, err := d.read(offset+uint32(got), buf[got:])
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

func (d *decoder) checkSignature() error {
	var sig [8]byte
	if err := d.readFull(0, sig[:], "png.signature"); err != nil {
		return err
	}
	if sig != signature {
		return errs.New(errs.BadSignature, "png.signature", nil)
	}
	return nil
}

// walkChunks indexes the chunk stream up to IEND, checking every chunk's
// CRC and capturing IHDR, PLTE, tRNS and the IDAT spans. Chunk data is
// read in bounded pieces; nothing larger than one scanline or the palette
// is retained.
func (d *decoder) walkChunks() error {
	offset := uint32(8)
	var sawIHDR, sawIEND bool
	var trns [256]byte
	trnsLen := -1
	for !sawIEND {
		var hdr [8]byte
		if err := d.readFull(offset, hdr[:], "png.chunk"); err != nil {
			return err
		}
		length := binary.BigEndian.Uint32(hdr[0:])
		ctype := string(hdr[4:8])
		dataOff := offset + 8
		if length > 1<<30 {
			return errs.New(errs.BadFormat, "png.chunk", nil)
		}
		crc := crc32.NewIEEE()
		crc.Write(hdr[4:8])

		switch ctype {
		case "IHDR":
			if sawIHDR || length != 13 {
				return errs.New(errs.BadFormat, "png.IHDR", nil)
			}
			var ihdr [13]byte
			if err := d.readFull(dataOff, ihdr[:], "png.IHDR"); err != nil {
				return err
			}
			crc.Write(ihdr[:])
			if err := d.parseIHDR(ihdr[:]); err != nil {
				return err
			}
			sawIHDR = true
		case "PLTE":
			if length%3 != 0 || length > 256*3 {
				return errs.New(errs.BadFormat, "png.PLTE", nil)
			}
			var plte [768]byte
			if err := d.readFull(dataOff, plte[:length], "png.PLTE"); err != nil {
				return err
			}
			crc.Write(plte[:length])
			d.paletteLen = int(length) / 3
			for i := 0; i < d.paletteLen; i++ {
				d.palette[i] = imaging.Luminance601(plte[i*3], plte[i*3+1], plte[i*3+2])
			}
		case "tRNS":
			if d.hdr.colorType == ctPalette && length <= 256 {
				if err := d.readFull(dataOff, trns[:length], "png.tRNS"); err != nil {
					return err
				}
				crc.Write(trns[:length])
				trnsLen = int(length)
			} else {
				if err := d.crcOver(dataOff, length, crc); err != nil {
					return err
				}
			}
		case "IDAT":
			if !sawIHDR {
				return errs.New(errs.BadFormat, "png.IDAT", nil)
			}
			if err := d.crcOver(dataOff, length, crc); err != nil {
				return err
			}
			d.idat = append(d.idat, span{offset: dataOff, length: length})
			d.idatTotal += length
		case "IEND":
			sawIEND = true
			if err := d.crcOver(dataOff, length, crc); err != nil {
				return err
			}
		default:
			if err := d.crcOver(dataOff, length, crc); err != nil {
				return err
			}
		}

		var trailer [4]byte
		if err := d.readFull(dataOff+length, trailer[:], "png.chunkCRC"); err != nil {
			return err
		}
		if binary.BigEndian.Uint32(trailer[:]) != crc.Sum32() {
			return errs.New(errs.Crc, "png."+ctype, nil)
		}
		offset = dataOff + length + 4
	}
	if !sawIHDR || len(d.idat) == 0 {
		return errs.New(errs.BadFormat, "png.chunks", nil)
	}
	// Fold palette transparency against white now that both PLTE and tRNS
	// are known.
	if trnsLen >= 0 {
		for i := 0; i < trnsLen && i < d.paletteLen; i++ {
			d.palette[i] = imaging.CompositeWhite(d.palette[i], trns[i])
		}
	}
	return nil
}

// crcOver feeds length bytes at offset through crc in bounded pieces.
func (d *decoder) crcOver(offset, length uint32, crc interface{ Write([]byte) (int, error) }) error {
	var buf [4096]byte
	for length > 0 {
		n := uint32(len(buf))
		if length < n {
			n = length
		}
		if err := d.readFull(offset, buf[:n], "png.chunkData"); err != nil {
			return err
		}
		crc.Write(buf[:n])
		offset += n
		length -= n
	}
	return nil
}

func (d *decoder) parseIHDR(b []byte) error {
	w := binary.BigEndian.Uint32(b[0:])
	h := binary.BigEndian.Uint32(b[4:])
	if w == 0 || h == 0 || w > 1<<24 || h > 1<<24 {
		return errs.New(errs.BadFormat, "png.IHDR", nil)
	}
	depth, colorType := b[8], b[9]
	compression, filter, interlace := b[10], b[11], b[12]
	if compression != 0 || filter != 0 || interlace > 1 {
		return errs.New(errs.BadFormat, "png.IHDR", nil)
	}
	switch colorType {
	case ctGray:
		if depth != 1 && depth != 2 && depth != 4 && depth != 8 {
			return errs.New(errs.Unsupported, "png.IHDR", nil)
		}
	case ctPalette:
		if depth != 1 && depth != 2 && depth != 4 && depth != 8 {
			return errs.New(errs.Unsupported, "png.IHDR", nil)
		}
	case ctRGB, ctGrayAlpha, ctRGBA:
		if depth != 8 {
			return errs.New(errs.Unsupported, "png.IHDR", nil)
		}
	default:
		return errs.New(errs.BadFormat, "png.IHDR", nil)
	}
	d.hdr = header{width: int(w), height: int(h), depth: depth, colorType: colorType, interlaced: interlace == 1}
	if d.hdr.interlaced && !d.opts.Interlaced {
		return errs.New(errs.Unsupported, "png.IHDR", nil)
	}
	return nil
}

func (d *decoder) bitsPerPixel() int {
	switch d.hdr.colorType {
	case ctGray, ctPalette:
		return int(d.hdr.depth)
	case ctRGB:
		return 24
	case ctGrayAlpha:
		return 16
	default: // ctRGBA
		return 32
	}
}

// filterBPP is the byte distance between corresponding bytes of adjacent
// pixels, as the five filter types define it (minimum 1 for sub-byte
// depths).
func (d *decoder) filterBPP() int {
	bpp := d.bitsPerPixel() / 8
	if bpp < 1 {
		bpp = 1
	}
	return bpp
}

func rowBytesFor(width, bitsPerPixel int) int {
	return (width*bitsPerPixel + 7) / 8
}

func (d *decoder) begin(emit imaging.RowFunc) error {
	if d.hdr.interlaced {
		d.grid = imaging.NewGrid(d.hdr.width, d.hdr.height, d.opts.MaxW, d.opts.MaxH)
		d.pass = 0
		d.startPass()
	} else {
		d.dith = imaging.NewDitherer(d.hdr.width, d.hdr.height, d.opts.MaxW, d.opts.MaxH, emit)
		d.rowBytes = rowBytesFor(d.hdr.width, d.bitsPerPixel())
		d.lum = make([]byte, d.hdr.width)
	}
	d.cur = make([]byte, 1+rowBytesFor(d.hdr.width, d.bitsPerPixel()))
	d.prev = make([]byte, len(d.cur)-1)
	return nil
}

func (d *decoder) inflate(dec *deflate.Decompressor) error {
	var hdr [2]byte
	if err := d.readVirtual(0, hdr[:]); err != nil {
		return err
	}
	if hdr[0]&0x0F != 8 {
		return errs.New(errs.BadFormat, "png.zlib", nil)
	}
	if hdr[1]&0x20 != 0 {
		return errs.New(errs.Unsupported, "png.zlib", nil) // preset dictionary
	}
	read := func(offset uint32, buf []byte) (int, error) {
		off := offset + 2
		if off >= d.idatTotal {
			return 0, nil
		}
		n := uint32(len(buf))
		if d.idatTotal-off < n {
			n = d.idatTotal - off
		}
		if err := d.readVirtual(off, buf[:n]); err != nil {
			return 0, err
		}
		return int(n), nil
	}
	_, err := dec.Inflate(read, 0, d.scanlines)
	return err
}

// readVirtual reads from the concatenation of the IDAT spans.
func (d *decoder) readVirtual(offset uint32, buf []byte) error {
	for _, sp := range d.idat {
		if offset >= sp.length {
			offset -= sp.length
			continue
		}
		n := sp.length - offset
		if uint32(len(buf)) < n {
			n = uint32(len(buf))
		}
		if err := d.readFull(sp.offset+offset, buf[:n], "png.IDAT"); err != nil {
			return err
		}
		buf = buf[n:]
		offset = 0
		if len(buf) == 0 {
			return nil
		}
	}
	if len(buf) > 0 {
		return errs.New(errs.Truncated, "png.IDAT", nil)
	}
	return nil
}

// scanlines is the inflate sink: it reassembles filtered scanlines from
// arbitrary chunk splits and processes each completed row.
func (d *decoder) scanlines(chunk []byte) error {
	for len(chunk) > 0 {
		want := d.curRowLen() - d.rowPos
		if want <= 0 {
			// Decompressed bytes past the last scanline are ignored. (The
			// zlib Adler32 trailer is never read; the chunk CRCs cover it.)
			return nil
		}
		n := copy(d.cur[d.rowPos:d.curRowLen()], chunk)
		chunk = chunk[n:]
		d.rowPos += n
		if d.rowPos == d.curRowLen() {
			if err := d.completeRow(); err != nil {
				return err
			}
			d.rowPos = 0
		}
	}
	return nil
}

// curRowLen is the filtered-scanline length for the current row: one
// filter-type byte plus the pixel bytes of the (possibly per-pass) width.
func (d *decoder) curRowLen() int {
	if d.hdr.interlaced {
		if d.passW == 0 {
			return 0
		}
		return 1 + rowBytesFor(d.passW, d.bitsPerPixel())
	}
	if d.y >= d.hdr.height {
		return 0
	}
	return 1 + d.rowBytes
}

func (d *decoder) completeRow() error {
	rowLen := d.curRowLen() - 1
	if err := unfilter(d.cur[0], d.cur[1:1+rowLen], d.prev[:rowLen], d.filterBPP()); err != nil {
		return err
	}
	copy(d.prev[:rowLen], d.cur[1:1+rowLen])

	if d.hdr.interlaced {
		d.gridRow(d.cur[1 : 1+rowLen])
		d.passY++
		if d.passY >= d.passH {
			d.pass++
			d.startPass()
		}
		return nil
	}

	d.toLuminance(d.cur[1:1+rowLen], d.lum, d.hdr.width)
	d.y++
	return d.dith.PushRow(d.lum)
}

func (d *decoder) finish(emit imaging.RowFunc) error {
	if d.hdr.interlaced {
		if d.pass < len(adam7) {
			return errs.New(errs.Truncated, "png.scanlines", nil)
		}
		return d.grid.DitherTo(emit)
	}
	if d.y < d.hdr.height {
		return errs.New(errs.Truncated, "png.scanlines", nil)
	}
	return d.dith.Finish()
}

// adam7 pass geometry: x origin, y origin, x step, y step.
var adam7 = [7][4]int{
	{0, 0, 8, 8},
	{4, 0, 8, 8},
	{0, 4, 4, 8},
	{2, 0, 4, 4},
	{0, 2, 2, 4},
	{1, 0, 2, 2},
	{0, 1, 1, 2},
}

// startPass advances to the next non-empty Adam7 pass, resetting the
// previous-row buffer (filters never reference across passes).
func (d *decoder) startPass() {
	for ; d.pass < len(adam7); d.pass++ {
		p := adam7[d.pass]
		w := 0
		if d.hdr.width > p[0] {
			w = (d.hdr.width - p[0] + p[2] - 1) / p[2]
		}
		h := 0
		if d.hdr.height > p[1] {
			h = (d.hdr.height - p[1] + p[3] - 1) / p[3]
		}
		if w == 0 || h == 0 {
			continue
		}
		d.passW, d.passH, d.passY = w, h, 0
		for i := range d.prev {
			d.prev[i] = 0
		}
		return
	}
	d.passW, d.passH = 0, 0
}

// gridRow scatters one interlaced pass row into the accumulator grid at
// the pass's absolute coordinates.
func (d *decoder) gridRow(row []byte) {
	p := adam7[d.pass]
	y := p[1] + d.passY*p[3]
	lum := make([]byte, d.passW)
	d.toLuminance(row, lum, d.passW)
	for i := 0; i < d.passW; i++ {
		d.grid.Add(p[0]+i*p[2], y, lum[i])
	}
}

// toLuminance expands one unfiltered scanline of width pixels into 8-bit
// luminance.
func (d *decoder) toLuminance(row []byte, lum []byte, width int) {
	switch d.hdr.colorType {
	case ctGray:
		d.expandGray(row, lum, width, false)
	case ctPalette:
		d.expandGray(row, lum, width, true)
	case ctRGB:
		for i := 0; i < width; i++ {
			lum[i] = imaging.Luminance601(row[i*3], row[i*3+1], row[i*3+2])
		}
	case ctGrayAlpha:
		for i := 0; i < width; i++ {
			lum[i] = imaging.CompositeWhite(row[i*2], row[i*2+1])
		}
	case ctRGBA:
		for i := 0; i < width; i++ {
			y := imaging.Luminance601(row[i*4], row[i*4+1], row[i*4+2])
			lum[i] = imaging.CompositeWhite(y, row[i*4+3])
		}
	}
}

// expandGray unpacks sub-byte samples, scaling grayscale to full range or
// looking indices up in the pre-folded palette.
func (d *decoder) expandGray(row []byte, lum []byte, width int, palette bool) {
	depth := int(d.hdr.depth)
	if depth == 8 {
		for i := 0; i < width; i++ {
			if palette {
				lum[i] = d.paletteAt(row[i])
			} else {
				lum[i] = row[i]
			}
		}
		return
	}
	mask := byte(1<<depth) - 1
	scale := byte(255 / ((1 << depth) - 1))
	perByte := 8 / depth
	for i := 0; i < width; i++ {
		b := row[i/perByte]
		shift := 8 - depth*(i%perByte+1)
		v := (b >> shift) & mask
		if palette {
			lum[i] = d.paletteAt(v)
		} else {
			lum[i] = v * scale
		}
	}
}

func (d *decoder) paletteAt(i byte) byte {
	if int(i) >= d.paletteLen {
		return 0
	}
	return d.palette[i]
}

// unfilter reverses one scanline's filter in place. prev is the
// unfiltered previous scanline (all zero for the first row of an image or
// pass).
func unfilter(ftype byte, row, prev []byte, bpp int) error {
	switch ftype {
	case 0: // None
	case 1: // Sub
		for i := bpp; i < len(row); i++ {
			row[i] += row[i-bpp]
		}
	case 2: // Up
		for i := range row {
			row[i] += prev[i]
		}
	case 3: // Average
		for i := 0; i < len(row); i++ {
			var left int
			if i >= bpp {
				left = int(row[i-bpp])
			}
			row[i] += byte((left + int(prev[i])) / 2)
		}
	case 4: // Paeth
		for i := 0; i < len(row); i++ {
			var left, upLeft int
			if i >= bpp {
				left = int(row[i-bpp])
				upLeft = int(prev[i-bpp])
			}
			row[i] += byte(paeth(left, int(prev[i]), upLeft))
		}
	default:
		return errs.New(errs.BadFormat, "png.filter", nil)
	}
	return nil
}

func paeth(a, b, c int) int {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
