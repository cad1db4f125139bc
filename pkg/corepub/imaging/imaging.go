// Package imaging holds the output half shared by the PNG and JPEG
// decoders: integer block downscaling followed by Floyd–Steinberg error
// diffusion to packed 1-bit rows. Decoders push 8-bit luminance scanlines
// in order; the ditherer owns only two error rows and one packed output
// row, so its footprint scales with output width, never image height.
package imaging

import "github.com/adammathes/epubreader/pkg/corepub/errs"

// RowFunc receives each packed output row, MSB-first, bit 1 = white.
// Rows arrive in order with 0-based y. Returning an error aborts the
// decode.
type RowFunc func(y int, row []byte) error

// ScaleFactor picks the integer downscale s = max(1, ceil(srcW/maxW),
// ceil(srcH/maxH)). maxW/maxH <= 0 mean "unconstrained" on that axis.
func ScaleFactor(srcW, srcH, maxW, maxH int) int {
	s := 1
	if maxW > 0 {
		if v := (srcW + maxW - 1) / maxW; v > s {
			s = v
		}
	}
	if maxH > 0 {
		if v := (srcH + maxH - 1) / maxH; v > s {
			s = v
		}
	}
	return s
}

// Ditherer accumulates source luminance rows into s×s blocks, then
// error-diffuses each completed block row with the standard 7/16, 3/16,
// 5/16, 1/16 weights and emits it packed.
type Ditherer struct {
	srcW, scale  int
	outW, outH   int
	sums         []uint32
	counts       []uint16
	rowsInBlock  int
	outY         int
	errCur       []int32 // indexed with +1 offset so x-1/x+1 need no bounds checks
	errNext      []int32
	packed       []byte
	emit         RowFunc
}

// NewDitherer sizes the accumulator for a srcW×srcH source downscaled by
// ScaleFactor(srcW, srcH, maxW, maxH).
func NewDitherer(srcW, srcH, maxW, maxH int, emit RowFunc) *Ditherer {
	s := ScaleFactor(srcW, srcH, maxW, maxH)
	outW := (srcW + s - 1) / s
	outH := (srcH + s - 1) / s
	return &Ditherer{
		srcW:    srcW,
		scale:   s,
		outW:    outW,
		outH:    outH,
		sums:    make([]uint32, outW),
		counts:  make([]uint16, outW),
		errCur:  make([]int32, outW+2),
		errNext: make([]int32, outW+2),
		packed:  make([]byte, (outW+7)/8),
		emit:    emit,
	}
}

func (d *Ditherer) Scale() int     { return d.scale }
func (d *Ditherer) OutWidth() int  { return d.outW }
func (d *Ditherer) OutHeight() int { return d.outH }

// PushRow accumulates one source scanline (len >= srcW, 8-bit luminance).
// Every scale-th row completes a block row, which is dithered and emitted
// immediately.
func (d *Ditherer) PushRow(lum []byte) error {
	for x := 0; x < d.srcW; x++ {
		ox := x / d.scale
		d.sums[ox] += uint32(lum[x])
		d.counts[ox]++
	}
	d.rowsInBlock++
	if d.rowsInBlock == d.scale {
		return d.flushBlockRow()
	}
	return nil
}

// Finish emits the final partial block row, if the source height is not a
// multiple of the scale factor.
func (d *Ditherer) Finish() error {
	if d.rowsInBlock > 0 {
		return d.flushBlockRow()
	}
	return nil
}

func (d *Ditherer) flushBlockRow() error {
	for i := range d.packed {
		d.packed[i] = 0
	}
	for ox := 0; ox < d.outW; ox++ {
		avg := int32(0)
		if d.counts[ox] > 0 {
			avg = int32(d.sums[ox] / uint32(d.counts[ox]))
		}
		v := avg + d.errCur[ox+1]
		var e int32
		if v >= 128 {
			d.packed[ox>>3] |= 0x80 >> (ox & 7)
			e = v - 255
		} else {
			e = v
		}
		d.errCur[ox+2] += e * 7 / 16
		d.errNext[ox] += e * 3 / 16
		d.errNext[ox+1] += e * 5 / 16
		d.errNext[ox+2] += e * 1 / 16
		d.sums[ox] = 0
		d.counts[ox] = 0
	}
	d.errCur, d.errNext = d.errNext, d.errCur
	for i := range d.errNext {
		d.errNext[i] = 0
	}
	d.rowsInBlock = 0
	y := d.outY
	d.outY++
	if err := d.emit(y, d.packed); err != nil {
		return errs.New(errs.Write, "imaging.emit", err)
	}
	return nil
}

// Grid is the buffered alternative used by the interlaced PNG path, where
// pixels arrive out of row order: luminance accumulates into a
// downscaled-resolution grid (bounded by the output size, not the source
// size), and DitherTo runs the same diffusion over it once complete.
type Grid struct {
	outW, outH int
	scale      int
	sums       []uint32
	counts     []uint16
}

// NewGrid sizes an accumulator grid for srcW×srcH downscaled to fit
// maxW×maxH.
func NewGrid(srcW, srcH, maxW, maxH int) *Grid {
	s := ScaleFactor(srcW, srcH, maxW, maxH)
	outW := (srcW + s - 1) / s
	outH := (srcH + s - 1) / s
	return &Grid{
		outW:   outW,
		outH:   outH,
		scale:  s,
		sums:   make([]uint32, outW*outH),
		counts: make([]uint16, outW*outH),
	}
}

func (g *Grid) Scale() int     { return g.scale }
func (g *Grid) OutWidth() int  { return g.outW }
func (g *Grid) OutHeight() int { return g.outH }

// Add accumulates one source pixel's luminance at source coordinates.
func (g *Grid) Add(x, y int, lum byte) {
	ox, oy := x/g.scale, y/g.scale
	if ox >= g.outW || oy >= g.outH {
		return
	}
	i := oy*g.outW + ox
	g.sums[i] += uint32(lum)
	g.counts[i]++
}

// DitherTo diffuses the accumulated grid row by row and emits packed
// rows, identical in weights and packing to the streaming Ditherer.
func (g *Grid) DitherTo(emit RowFunc) error {
	errCur := make([]int32, g.outW+2)
	errNext := make([]int32, g.outW+2)
	packed := make([]byte, (g.outW+7)/8)
	for oy := 0; oy < g.outH; oy++ {
		for i := range packed {
			packed[i] = 0
		}
		for ox := 0; ox < g.outW; ox++ {
			i := oy*g.outW + ox
			avg := int32(0)
			if g.counts[i] > 0 {
				avg = int32(g.sums[i] / uint32(g.counts[i]))
			}
			v := avg + errCur[ox+1]
			var e int32
			if v >= 128 {
				packed[ox>>3] |= 0x80 >> (ox & 7)
				e = v - 255
			} else {
				e = v
			}
			errCur[ox+2] += e * 7 / 16
			errNext[ox] += e * 3 / 16
			errNext[ox+1] += e * 5 / 16
			errNext[ox+2] += e * 1 / 16
		}
		errCur, errNext = errNext, errCur
		for i := range errNext {
			errNext[i] = 0
		}
		if err := emit(oy, packed); err != nil {
			return errs.New(errs.Write, "imaging.emit", err)
		}
	}
	return nil
}

// Luminance601 converts an RGB triple to 8-bit luminance with the BT.601
// integer weights.
func Luminance601(r, g, b byte) byte {
	return byte((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 32768) >> 16)
}

// CompositeWhite blends an 8-bit sample with alpha over a white
// background.
func CompositeWhite(v, a byte) byte {
	return byte((uint32(v)*uint32(a) + 255*(255-uint32(a)) + 127) / 255)
}
