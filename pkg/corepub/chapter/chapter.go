// Package chapter fuses zipindex entry extraction with htmlstrip, so a
// caller can go from "which spine entry" straight to styled runs without
// ever materializing the whole chapter in memory.
package chapter

import (
	"github.com/adammathes/epubreader/pkg/corepub/cssprops"
	"github.com/adammathes/epubreader/pkg/corepub/deflate"
	"github.com/adammathes/epubreader/pkg/corepub/htmlstrip"
	"github.com/adammathes/epubreader/pkg/corepub/zipindex"
)

// StreamStripEntry decompresses entry e (via read) and feeds every
// decompressed chunk straight into an htmlstrip.Stripper, which emits
// runs through out. Peak heap is bounded by the DEFLATE window plus the
// strip accumulator and style stack, since no intermediate buffer ever
// holds the whole chapter.
func StreamStripEntry(e zipindex.Entry, read zipindex.ReadFunc, dec *deflate.Decompressor, out htmlstrip.Sink) (uint32, error) {
	return streamStrip(e, read, dec, htmlstrip.New(out))
}

// StreamStripEntryStyled is StreamStripEntry with a pre-parsed stylesheet
// (typically the chapter's linked CSS, extracted and parsed by the host
// beforehand) resolving per-element style.
func StreamStripEntryStyled(e zipindex.Entry, read zipindex.ReadFunc, dec *deflate.Decompressor, sheet *cssprops.Stylesheet, out htmlstrip.Sink) (uint32, error) {
	return streamStrip(e, read, dec, htmlstrip.NewStyled(out, sheet))
}

func streamStrip(e zipindex.Entry, read zipindex.ReadFunc, dec *deflate.Decompressor, strip *htmlstrip.Stripper) (uint32, error) {
	sink := func(chunk []byte) error {
		return strip.Write(chunk)
	}
	total, err := zipindex.StreamExtract(e, read, dec, sink)
	if err != nil {
		return total, err
	}
	if err := strip.Close(); err != nil {
		return total, err
	}
	return total, nil
}
