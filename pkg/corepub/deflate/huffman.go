package deflate

import (
	"errors"
	"math/bits"

	"github.com/adammathes/epubreader/pkg/corepub/errs"
)

var errCorrupt = errors.New("corrupt DEFLATE stream")

// Huffman table construction, ported from the RFC 1951 reference decoder
// shared across the Go ecosystem's compress/flate forks (zlib-style chunked
// lookup with overflow link tables). The algorithm is unchanged; only the
// surrounding I/O (bit refill from a read callback instead of io.Reader) is
// new.

const (
	maxCodeLen = 16
	maxNumLit  = 286
	maxNumDist = 30
	numCodes   = 19
	endBlockMarker = 256

	huffmanChunkBits  = 9
	huffmanNumChunks  = 1 << huffmanChunkBits
	huffmanCountMask  = 15
	huffmanValueShift = 4
)

type huffmanDecoder struct {
	min      int
	chunks   [huffmanNumChunks]uint32
	links    [][]uint32
	linkMask uint32
}

// init builds chunks/links from a slice of per-symbol code lengths. It
// returns false if the lengths do not form a complete Huffman tree.
func (h *huffmanDecoder) init(lengths []int) bool {
	if h.min != 0 {
		*h = huffmanDecoder{}
	}

	var count [maxCodeLen]int
	var min, max int
	for _, n := range lengths {
		if n == 0 {
			continue
		}
		if min == 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
		count[n]++
	}
	if max == 0 {
		return true
	}

	code := 0
	var nextcode [maxCodeLen]int
	for i := min; i <= max; i++ {
		code <<= 1
		nextcode[i] = code
		code += count[i]
	}
	if code != 1<<uint(max) && !(code == 1 && max == 1) {
		return false
	}

	h.min = min
	if max > huffmanChunkBits {
		numLinks := 1 << (uint(max) - huffmanChunkBits)
		h.linkMask = uint32(numLinks - 1)

		link := nextcode[huffmanChunkBits+1] >> 1
		h.links = make([][]uint32, huffmanNumChunks-link)
		for j := uint(link); j < huffmanNumChunks; j++ {
			reverse := int(bits.Reverse16(uint16(j)))
			reverse >>= uint(16 - huffmanChunkBits)
			off := j - uint(link)
			h.chunks[reverse] = uint32(off<<huffmanValueShift | (huffmanChunkBits + 1))
			h.links[off] = make([]uint32, numLinks)
		}
	}

	for i, n := range lengths {
		if n == 0 {
			continue
		}
		code := nextcode[n]
		nextcode[n]++
		chunk := uint32(i<<huffmanValueShift | n)
		reverse := int(bits.Reverse16(uint16(code)))
		reverse >>= uint(16 - n)
		if n <= huffmanChunkBits {
			for off := reverse; off < len(h.chunks); off += 1 << uint(n) {
				h.chunks[off] = chunk
			}
		} else {
			j := reverse & (huffmanNumChunks - 1)
			value := h.chunks[j] >> huffmanValueShift
			linktab := h.links[value]
			reverse >>= huffmanChunkBits
			for off := reverse; off < len(linktab); off += 1 << uint(n-huffmanChunkBits) {
				linktab[off] = chunk
			}
		}
	}
	return true
}

func (d *Decompressor) initFixed() {
	var litLens [288]int
	for i := 0; i < 144; i++ {
		litLens[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLens[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLens[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLens[i] = 8
	}
	d.fixedHD.init(litLens[:])
}

// huffSym decodes a single Huffman symbol from the bit stream using h.
func (d *Decompressor) huffSym(h *huffmanDecoder) int {
	n := uint(h.min)
	nb, b := d.br.nb, d.br.b
	for {
		for nb < n {
			c, err := d.br.readByte()
			if err != nil {
				fail(classifyReadErr(err), "deflate.huffSym", err)
			}
			b |= uint32(c) << (nb & 31)
			nb += 8
		}
		chunk := h.chunks[b&(huffmanNumChunks-1)]
		n = uint(chunk & huffmanCountMask)
		if n > huffmanChunkBits {
			chunk = h.links[chunk>>huffmanValueShift][(b>>huffmanChunkBits)&h.linkMask]
			n = uint(chunk & huffmanCountMask)
		}
		if n <= nb {
			if n == 0 {
				d.br.b, d.br.nb = b, nb
				fail(errs.Deflate, "deflate.huffSym", errCorrupt)
			}
			d.br.b = b >> (n & 31)
			d.br.nb = nb - n
			return int(chunk >> huffmanValueShift)
		}
	}
}
