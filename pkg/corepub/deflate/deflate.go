// Package deflate implements a streaming RFC 1951 inflater driven by a
// pull-style read callback and a push-style sink, instead of io.Reader. The
// decompressor owns a single window buffer of 2x32 KiB (the 32 KiB sliding
// window plus output not yet pushed to the sink); callers allocate
// one *Decompressor on the heap and reuse it across entries via Reset;
// the allocation is never hidden from the host.
package deflate

import (
	"errors"

	"github.com/adammathes/epubreader/pkg/corepub/errs"
)

// WindowSize is the fixed DEFLATE sliding-window size (RFC 1951 §2).
const WindowSize = 32768

// flushThreshold is how large the retained window is allowed to grow
// before older bytes are pushed to the sink and trimmed back to
// WindowSize; keeping it at 2x bounds peak memory to a small constant
// multiple of the window rather than letting it grow with the stream.
const flushThreshold = WindowSize * 2

// ReadFunc is the host's random-access read callback:
// bytes_read < len(buf) is permitted, a zero read at nonzero request
// means EOF.
type ReadFunc func(offset uint32, buf []byte) (int, error)

// Sink receives each decompressed chunk in order; returning an error
// aborts the decode.
type Sink func(chunk []byte) error

const refillSize = 4096

// Decompressor is the heap-owned, reusable inflate state. Zero value is
// not usable; call NewDecompressor. Reset before reuse on a new entry.
type Decompressor struct {
	win          []byte // retained window + not-yet-flushed output, cap flushThreshold
	totalFlushed uint32 // bytes already pushed to sink, excluding the retained tail in win
	sink         Sink
	fixedHD      huffmanDecoder

	br bitReader
}

type bitReader struct {
	read   ReadFunc
	offset uint32
	buf    [refillSize]byte
	bufLen int
	bufPos int
	b      uint32
	nb     uint
}

// NewDecompressor allocates the decompressor's window and Huffman state.
// This is the one heap allocation the core makes explicit to the host.
func NewDecompressor() *Decompressor {
	d := &Decompressor{win: make([]byte, 0, flushThreshold)}
	d.initFixed()
	return d
}

// Reset clears per-stream state so the same *Decompressor can inflate a
// different entry without a new allocation.
func (d *Decompressor) Reset() {
	d.win = d.win[:0]
	d.totalFlushed = 0
	d.br = bitReader{}
}

// Inflate decompresses a single DEFLATE stream starting at startOffset in
// the host's container, pushing decompressed chunks to sink in order.
// It returns the total number of bytes produced.
func (d *Decompressor) Inflate(read ReadFunc, startOffset uint32, sink Sink) (total uint32, err error) {
	d.Reset()
	d.br.read = read
	d.br.offset = startOffset
	d.sink = sink

	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(inflateError); ok {
				err = ie.err
				return
			}
			err = errs.New(errs.Deflate, "deflate.Inflate", errors.New("corrupt stream"))
		}
	}()

	for {
		final := d.block()
		if err := d.pushIfFull(); err != nil {
			return d.totalFlushed, err
		}
		if final {
			break
		}
	}
	if err := d.flushFinal(); err != nil {
		return d.totalFlushed, err
	}
	return d.totalFlushed, nil
}

// inflateError lets internal helpers panic with a typed *errs.Error that
// Inflate's recover turns back into a normal return.
type inflateError struct{ err error }

func fail(kind errs.Kind, op string, cause error) {
	panic(inflateError{errs.New(kind, op, cause)})
}

// flushFinal pushes whatever remains in the window once the final block
// has been decoded.
func (d *Decompressor) flushFinal() error {
	if len(d.win) == 0 {
		return nil
	}
	if err := d.sink(d.win); err != nil {
		return errs.New(errs.Write, "deflate.sink", err)
	}
	d.totalFlushed += uint32(len(d.win))
	d.win = d.win[:0]
	return nil
}

// pushIfFull flushes the oldest bytes once the retained window exceeds
// flushThreshold, keeping the last WindowSize bytes available for
// backward references. Safe to call both between blocks and mid-block.
func (d *Decompressor) pushIfFull() error {
	if len(d.win) < flushThreshold {
		return nil
	}
	cut := len(d.win) - WindowSize
	if err := d.sink(d.win[:cut]); err != nil {
		return errs.New(errs.Write, "deflate.sink", err)
	}
	d.totalFlushed += uint32(cut)
	copy(d.win, d.win[cut:])
	d.win = d.win[:WindowSize]
	return nil
}
