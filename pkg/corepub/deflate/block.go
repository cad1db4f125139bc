package deflate

import (
	"github.com/adammathes/epubreader/pkg/corepub/errs"
)

const maxMatchOffset = 1 << 15

// block decodes one DEFLATE block (stored, fixed-Huffman or
// dynamic-Huffman) and reports whether it was the final block of the
// stream (RFC 1951 §3.2.3).
func (d *Decompressor) block() (final bool) {
	for d.br.nb < 1+2 {
		d.moreBits()
	}
	final = d.br.b&1 == 1
	d.br.b >>= 1
	typ := d.br.b & 3
	d.br.b >>= 2
	d.br.nb -= 1 + 2

	switch typ {
	case 0:
		d.dataBlock()
	case 1:
		d.huffmanBlock(&d.fixedHD, nil)
	case 2:
		var h1, h2 huffmanDecoder
		d.readHuffman(&h1, &h2)
		d.huffmanBlock(&h1, &h2)
	default:
		fail(errs.Deflate, "deflate.block", errCorrupt)
	}
	return final
}

func (d *Decompressor) dataBlock() {
	d.br.nb = 0
	d.br.b = 0

	var hdr [4]byte
	for i := range hdr {
		b, err := d.br.readByte()
		if err != nil {
			fail(classifyReadErr(err), "deflate.dataBlock", err)
		}
		hdr[i] = b
	}
	n := int(hdr[0]) | int(hdr[1])<<8
	nn := int(hdr[2]) | int(hdr[3])<<8
	if uint16(nn) != uint16(^uint16(n)) {
		fail(errs.Deflate, "deflate.dataBlock", errCorrupt)
	}

	for i := 0; i < n; i++ {
		// A stored block carries up to 64 KiB, so apply the same mid-block
		// bound as huffmanBlock.
		if err := d.pushIfFull(); err != nil {
			panic(inflateError{err})
		}
		b, err := d.br.readByte()
		if err != nil {
			fail(classifyReadErr(err), "deflate.dataBlock", err)
		}
		d.win = append(d.win, b)
	}
}

var codeOrder = [...]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

func (d *Decompressor) readHuffman(h1, h2 *huffmanDecoder) {
	var lens [maxNumLit + maxNumDist]int
	var codebits [numCodes]int

	for d.br.nb < 5+5+4 {
		d.moreBits()
	}
	nlit := int(d.br.b&0x1F) + 257
	if nlit > maxNumLit {
		fail(errs.Deflate, "deflate.readHuffman", errCorrupt)
	}
	d.br.b >>= 5
	ndist := int(d.br.b&0x1F) + 1
	if ndist > maxNumDist {
		fail(errs.Deflate, "deflate.readHuffman", errCorrupt)
	}
	d.br.b >>= 5
	nclen := int(d.br.b&0xF) + 4
	d.br.b >>= 4
	d.br.nb -= 5 + 5 + 4

	for i := 0; i < nclen; i++ {
		for d.br.nb < 3 {
			d.moreBits()
		}
		codebits[codeOrder[i]] = int(d.br.b & 0x7)
		d.br.b >>= 3
		d.br.nb -= 3
	}
	for i := nclen; i < len(codeOrder); i++ {
		codebits[codeOrder[i]] = 0
	}
	if !h1.init(codebits[0:]) {
		fail(errs.Deflate, "deflate.readHuffman", errCorrupt)
	}

	for i, n := 0, nlit+ndist; i < n; {
		x := d.huffSym(h1)
		if x < 16 {
			lens[i] = x
			i++
			continue
		}
		var rep int
		var nb uint
		var b int
		switch x {
		case 16:
			rep, nb = 3, 2
			if i == 0 {
				fail(errs.Deflate, "deflate.readHuffman", errCorrupt)
			}
			b = lens[i-1]
		case 17:
			rep, nb = 3, 3
		case 18:
			rep, nb = 11, 7
		default:
			fail(errs.Deflate, "deflate.readHuffman", errCorrupt)
		}
		for d.br.nb < nb {
			d.moreBits()
		}
		rep += int(d.br.b & uint32(1<<nb-1))
		d.br.b >>= nb
		d.br.nb -= nb
		if i+rep > n {
			fail(errs.Deflate, "deflate.readHuffman", errCorrupt)
		}
		for j := 0; j < rep; j++ {
			lens[i] = b
			i++
		}
	}

	if !h1.init(lens[0:nlit]) || !h2.init(lens[nlit:nlit+ndist]) {
		fail(errs.Deflate, "deflate.readHuffman", errCorrupt)
	}
	if h1.min < lens[endBlockMarker] {
		h1.min = lens[endBlockMarker]
	}
}

func (d *Decompressor) huffmanBlock(hl, hd *huffmanDecoder) {
	for {
		// Bound memory even inside one oversized block: a pathological
		// stream could keep one block's literal run going indefinitely,
		// so check the same threshold mid-block, not just between blocks.
		if err := d.pushIfFull(); err != nil {
			panic(inflateError{err})
		}

		v := d.huffSym(hl)
		var n uint
		var length int
		switch {
		case v < 256:
			d.win = append(d.win, byte(v))
			continue
		case v == 256:
			return
		case v < 265:
			length = v - (257 - 3)
		case v < 269:
			length = v*2 - (265*2 - 11)
			n = 1
		case v < 273:
			length = v*4 - (269*4 - 19)
			n = 2
		case v < 277:
			length = v*8 - (273*8 - 35)
			n = 3
		case v < 281:
			length = v*16 - (277*16 - 67)
			n = 4
		case v < maxNumLit-1:
			length = v*32 - (281*32 - 131)
			n = 5
		case v < maxNumLit:
			length = 258
		default:
			fail(errs.Deflate, "deflate.huffmanBlock", errCorrupt)
		}
		if n > 0 {
			for d.br.nb < n {
				d.moreBits()
			}
			length += int(d.br.b & uint32(1<<n-1))
			d.br.b >>= n
			d.br.nb -= n
		}

		var dist int
		if hd == nil {
			for d.br.nb < 5 {
				d.moreBits()
			}
			dist = int(reverseByte(byte(d.br.b&0x1F) << 3))
			d.br.b >>= 5
			d.br.nb -= 5
		} else {
			dist = d.huffSym(hd)
		}

		switch {
		case dist < 4:
			dist++
		case dist < maxNumDist:
			nb := uint(dist-2) >> 1
			extra := (dist & 1) << nb
			for d.br.nb < nb {
				d.moreBits()
			}
			extra |= int(d.br.b & uint32(1<<nb-1))
			d.br.b >>= nb
			d.br.nb -= nb
			dist = 1<<(nb+1) + 1 + extra
		default:
			fail(errs.Deflate, "deflate.huffmanBlock", errCorrupt)
		}
		if dist > maxMatchOffset || dist > len(d.win) {
			fail(errs.Deflate, "deflate.huffmanBlock", errCorrupt)
		}

		for i := 0; i < length; i++ {
			d.win = append(d.win, d.win[len(d.win)-dist])
		}
	}
}

func reverseByte(b byte) byte {
	b = b<<4 | b>>4
	b = (b&0x33)<<2 | (b&0xCC)>>2
	b = (b&0x55)<<1 | (b&0xAA)>>1
	return b
}
