// Package stress drives the pipeline with pathological inputs: nesting
// far past the style stack, containers with a thousand entries, chapters
// much larger than the DEFLATE window, and deliberately corrupted
// central-directory records. The point of every case is that the core
// degrades (bounded memory, recorded per-item errors) instead of growing
// or panicking.
package stress_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/adammathes/epubreader/pkg/corepub/chapter"
	"github.com/adammathes/epubreader/pkg/corepub/deflate"
	"github.com/adammathes/epubreader/pkg/corepub/errs"
	"github.com/adammathes/epubreader/pkg/corepub/htmlstrip"
	"github.com/adammathes/epubreader/pkg/corepub/zipindex"
	"github.com/adammathes/epubreader/test/epubtest"
)

func TestDeeplyNestedStylesCollapseNotError(t *testing.T) {
	var b strings.Builder
	b.WriteString("<p>")
	const depth = 100
	for i := 0; i < depth; i++ {
		b.WriteString("<b><i>")
	}
	b.WriteString("deep")
	for i := 0; i < depth; i++ {
		b.WriteString("</i></b>")
	}
	b.WriteString("tail</p>")

	var text bytes.Buffer
	strip := htmlstrip.New(func(r htmlstrip.Run) error {
		text.Write(r.Text)
		return nil
	})
	if err := strip.Write([]byte(b.String())); err != nil {
		t.Fatalf("deep nesting should collapse, not fail: %v", err)
	}
	if err := strip.Close(); err != nil {
		t.Fatal(err)
	}
	if got := text.String(); got != "deeptail" {
		t.Errorf("text = %q, want %q", got, "deeptail")
	}
}

func TestThousandEntryIndex(t *testing.T) {
	files := []epubtest.File{{Name: "mimetype", Content: []byte("application/epub+zip"), Stored: true}}
	for i := 0; i < 1000; i++ {
		files = append(files, epubtest.File{
			Name:    fmt.Sprintf("OEBPS/chunk-%04d.xhtml", i),
			Content: []byte(fmt.Sprintf("<p>entry %d</p>", i)),
		})
	}
	container := epubtest.Build(files)
	idx, err := epubtest.Index(container)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Entries) != 1001 {
		t.Fatalf("indexed %d entries, want 1001", len(idx.Entries))
	}
	if _, ok := idx.Find("OEBPS/chunk-0999.xhtml"); !ok {
		t.Error("last entry not findable")
	}
	if _, ok := idx.Find("OEBPS/chunk-1000.xhtml"); ok {
		t.Error("found an entry that doesn't exist")
	}
}

// A chapter several times the DEFLATE window must stream through in
// bounded chunks rather than arriving as one allocation.
func TestLargeChapterStreamsBoundedChunks(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 4000; i++ {
		fmt.Fprintf(&body, "<p>Paragraph %d with enough words to not compress away entirely.</p>\n", i)
	}
	container := epubtest.BuildBook(epubtest.Book{
		Title: "Big", Author: "A",
		Chapters: []epubtest.Chapter{{Name: "big.xhtml", Body: body.String()}},
	})

	idx, err := epubtest.Index(container)
	if err != nil {
		t.Fatal(err)
	}
	i, ok := idx.Find("OEBPS/big.xhtml")
	if !ok {
		t.Fatal("big.xhtml missing")
	}

	maxChunk := 0
	var total uint32
	dec := deflate.NewDecompressor()
	total, err = zipindex.StreamExtract(idx.Entries[i], epubtest.ReadFunc(container), dec, func(chunk []byte) error {
		if len(chunk) > maxChunk {
			maxChunk = len(chunk)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != idx.Entries[i].UncompressedSize {
		t.Errorf("streamed %d bytes, central directory says %d", total, idx.Entries[i].UncompressedSize)
	}
	if maxChunk > 2*deflate.WindowSize {
		t.Errorf("chunk of %d bytes exceeds the retained-window bound", maxChunk)
	}
}

func TestCorruptedCRCSurfacesAfterFullStream(t *testing.T) {
	container := epubtest.BuildBook(epubtest.Book{
		Title: "C", Author: "A",
		Chapters: []epubtest.Chapter{{Name: "c.xhtml", Body: "<p>payload payload payload</p>"}},
	})
	idx, err := epubtest.Index(container)
	if err != nil {
		t.Fatal(err)
	}
	i, _ := idx.Find("OEBPS/c.xhtml")
	e := idx.Entries[i]
	e.CRC32 ^= 1

	var streamed uint32
	dec := deflate.NewDecompressor()
	total, err := zipindex.StreamExtract(e, epubtest.ReadFunc(container), dec, func(chunk []byte) error {
		streamed += uint32(len(chunk))
		return nil
	})
	if !errors.Is(err, errs.Crc) {
		t.Fatalf("err = %v, want Crc", err)
	}
	if total != e.UncompressedSize || streamed != e.UncompressedSize {
		t.Errorf("full stream should be produced before the CRC verdict: total=%d streamed=%d want=%d",
			total, streamed, e.UncompressedSize)
	}
}

func TestTruncatedContainer(t *testing.T) {
	container := epubtest.BuildBook(epubtest.Book{
		Title: "T", Author: "A",
		Chapters: []epubtest.Chapter{{Name: "c.xhtml", Body: "<p>x</p>"}},
	})
	cut := container[:len(container)-10]
	_, err := epubtest.Index(cut)
	if !errors.Is(err, errs.Truncated) && !errors.Is(err, errs.BadSignature) {
		t.Fatalf("err = %v, want Truncated or BadSignature", err)
	}
}

func TestEOCDFoundBehindComment(t *testing.T) {
	container := epubtest.BuildBook(epubtest.Book{
		Title: "Z", Author: "A",
		Chapters: []epubtest.Chapter{{Name: "c.xhtml", Body: "<p>x</p>"}},
	})
	// a stray EOCD signature inside trailing junk must not fool the scan;
	// the real record's comment length has to account for the tail exactly
	junk := append([]byte("trailing junk PK\x05\x06"), bytes.Repeat([]byte{'x'}, 30)...)
	container[len(container)-2] = byte(len(junk))
	container[len(container)-1] = byte(len(junk) >> 8)
	container = append(container, junk...)
	idx, err := epubtest.Index(container)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.Find("OEBPS/c.xhtml"); !ok {
		t.Error("entry missing from container with a commented EOCD")
	}
}

func TestLyingUncompressedSize(t *testing.T) {
	container := epubtest.BuildBook(epubtest.Book{
		Title: "B", Author: "A",
		Chapters: []epubtest.Chapter{{Name: "c.xhtml", Body: "<p>honest content</p>"}},
	})
	idx, err := epubtest.Index(container)
	if err != nil {
		t.Fatal(err)
	}
	i, _ := idx.Find("OEBPS/c.xhtml")
	e := idx.Entries[i]
	e.UncompressedSize += 5000

	dec := deflate.NewDecompressor()
	_, err = zipindex.StreamExtract(e, epubtest.ReadFunc(container), dec, func([]byte) error { return nil })
	if err == nil {
		t.Fatal("size mismatch must not pass silently")
	}
}

func TestMalformedMarkupNeverFailsStrip(t *testing.T) {
	cases := []string{
		"<p>unclosed",
		"text with < a stray bracket",
		"<b><p>interleaved</b></p>",
		"<p>&bogusentity; stays</p>",
		"<<<>>>",
		"<p attr=\"unterminated>text</p>",
	}
	for _, tc := range cases {
		strip := htmlstrip.New(func(htmlstrip.Run) error { return nil })
		if err := strip.Write([]byte(tc)); err != nil {
			t.Errorf("Write(%q) = %v, want nil", tc, err)
		}
		if err := strip.Close(); err != nil {
			t.Errorf("Close after %q = %v, want nil", tc, err)
		}
	}
}

func TestChapterPipelineAbortsOnSinkError(t *testing.T) {
	container := epubtest.BuildBook(epubtest.Book{
		Title: "A", Author: "B",
		Chapters: []epubtest.Chapter{{Name: "c.xhtml", Body: "<p>one</p><p>two</p><p>three</p>"}},
	})
	idx, err := epubtest.Index(container)
	if err != nil {
		t.Fatal(err)
	}
	i, _ := idx.Find("OEBPS/c.xhtml")

	boom := errors.New("host said stop")
	calls := 0
	dec := deflate.NewDecompressor()
	_, err = chapter.StreamStripEntry(idx.Entries[i], epubtest.ReadFunc(container), dec, func(htmlstrip.Run) error {
		calls++
		return boom
	})
	if !errors.Is(err, errs.Write) {
		t.Fatalf("err = %v, want Write", err)
	}
	if calls != 1 {
		t.Errorf("sink called %d times after aborting, want 1", calls)
	}
}
