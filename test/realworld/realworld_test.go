// Package realworld assembles a realistically shaped book (cover PNG,
// stylesheet, NCX and NAV, front matter, several chapters, an inline
// illustration) and reads it the way a device would: locate the central
// directory from the container tail, resolve the structure, walk the
// spine streaming every chapter, decode the images. It is the smoke test
// for the whole read path in one place.
//
// Set REALWORLD_SAMPLES_DIR to also sweep a directory of externally
// produced .epub files through the same walk.
package realworld

import (
	"bytes"
	"image"
	"image/color"
	stdpng "image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adammathes/epubreader/pkg/corepub/chapter"
	"github.com/adammathes/epubreader/pkg/corepub/cssprops"
	"github.com/adammathes/epubreader/pkg/corepub/deflate"
	"github.com/adammathes/epubreader/pkg/corepub/epubstruct"
	"github.com/adammathes/epubreader/pkg/corepub/htmlstrip"
	"github.com/adammathes/epubreader/pkg/corepub/png"
	"github.com/adammathes/epubreader/pkg/corepub/zipindex"
	"github.com/adammathes/epubreader/test/epubtest"
)

func coverPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 120, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 120; x++ {
			img.SetGray(x, y, color.Gray{Y: byte((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := stdpng.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func buildBook() []byte {
	ncx := `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
<navMap>
<navPoint id="n1"><navLabel><text>Front Matter</text></navLabel><content src="front.xhtml"/></navPoint>
<navPoint id="n2"><navLabel><text>Chapter One</text></navLabel><content src="ch1.xhtml"/>
  <navPoint id="n2a"><navLabel><text>A Section</text></navLabel><content src="ch1.xhtml#s1"/></navPoint>
</navPoint>
<navPoint id="n3"><navLabel><text>Chapter Two</text></navLabel><content src="ch2.xhtml"/></navPoint>
</navMap>
</ncx>`
	nav := `<?xml version="1.0"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body><nav epub:type="toc"><ol>
<li><a href="front.xhtml">Front Matter</a></li>
<li><a href="ch1.xhtml">Chapter One</a></li>
<li><a href="ch2.xhtml">Chapter Two</a></li>
</ol></nav></body></html>`
	css := `h1 { font-weight: bold; }
p.dedication { font-style: italic; text-align: center; }
.small { display: none; }`

	return epubtest.BuildBook(epubtest.Book{
		Title:  "The Streaming of Pages",
		Author: "M. Flash",
		Chapters: []epubtest.Chapter{
			{Name: "front.xhtml", Body: `<h1>The Streaming of Pages</h1><p class="dedication">for small heaps</p>`},
			{Name: "ch1.xhtml", Body: `<h1>Chapter One</h1><p>It began with a <i>very</i> small budget.</p><img src="figures/plot.png"/><p>And an illustration.</p>`},
			{Name: "ch2.xhtml", Body: `<h1>Chapter Two</h1><p>More text &amp; a happy ending&#8230;</p>`},
		},
		Extra: []epubtest.File{
			{Name: "toc.ncx", Content: []byte(ncx)},
			{Name: "nav.xhtml", Content: []byte(nav)},
			{Name: "style.css", Content: []byte(css)},
			{Name: "cover.png", Content: coverPNG()},
			{Name: "figures/plot.png", Content: coverPNG()},
		},
		ManifestExtra: `<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
<item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
<item id="css" href="style.css" media-type="text/css"/>
<item id="cover" href="cover.png" media-type="image/png" properties="cover-image"/>
<item id="fig1" href="figures/plot.png" media-type="image/png"/>
`,
		SpineAttrs: `toc="ncx"`,
	})
}

// walkBook runs the complete device-side sequence over one container.
func walkBook(t *testing.T, container []byte) (title, author string, chapters int, textBytes int, images int) {
	t.Helper()
	read := epubtest.ReadFunc(container)
	idx, err := epubtest.Index(container)
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	buf := make([]byte, 128*1024)
	ci, ok := idx.Find("META-INF/container.xml")
	if !ok {
		t.Fatal("container.xml missing")
	}
	data, err := zipindex.ExtractEntry(idx.Entries[ci], read, nil, buf)
	if err != nil {
		t.Fatalf("container.xml: %v", err)
	}
	opfPath, err := epubstruct.ParseContainer(data)
	if err != nil {
		t.Fatalf("parse container: %v", err)
	}
	oi, ok := idx.Find(opfPath)
	if !ok {
		t.Fatalf("opf %q missing", opfPath)
	}
	data, err = zipindex.ExtractEntry(idx.Entries[oi], read, nil, buf)
	if err != nil {
		t.Fatalf("opf: %v", err)
	}
	opfDir := ""
	if i := strings.LastIndexByte(opfPath, '/'); i >= 0 {
		opfDir = opfPath[:i]
	}
	pkg, err := epubstruct.ParseOPF(data, opfDir)
	if err != nil {
		t.Fatalf("parse opf: %v", err)
	}
	pkg.ResolveSpine(idx.Find)

	// stylesheet, if the manifest has one
	var sheet *cssprops.Stylesheet
	for _, item := range pkg.Manifest {
		if item.MediaType != "text/css" {
			continue
		}
		if resolved, err := epubstruct.ResolveHref(pkg.OPFDir, item.Href); err == nil {
			if si, ok := idx.Find(resolved); ok {
				if cssData, err := zipindex.ExtractEntry(idx.Entries[si], read, deflate.NewDecompressor(), buf); err == nil {
					s := cssprops.ParseStylesheet(cssData)
					sheet = &s
				}
			}
		}
		break
	}

	dec := deflate.NewDecompressor()
	for _, item := range pkg.Spine {
		if item.Err != nil || item.EntryIndex < 0 {
			t.Errorf("unresolved spine item %q: %v", item.ManifestID, item.Err)
			continue
		}
		var imageHrefs []string
		sink := func(r htmlstrip.Run) error {
			switch r.Kind {
			case htmlstrip.RunText:
				textBytes += len(r.Text)
			case htmlstrip.RunImage:
				imageHrefs = append(imageHrefs, r.ImageHref)
			}
			return nil
		}
		var serr error
		if sheet != nil {
			_, serr = chapter.StreamStripEntryStyled(idx.Entries[item.EntryIndex], read, dec, sheet, sink)
		} else {
			_, serr = chapter.StreamStripEntry(idx.Entries[item.EntryIndex], read, dec, sink)
		}
		if serr != nil {
			t.Errorf("chapter %q: %v", idx.Entries[item.EntryIndex].Name, serr)
			continue
		}
		chapters++

		for _, href := range imageHrefs {
			resolved, err := epubstruct.ResolveHref(pkg.OPFDir, href)
			if err != nil {
				continue
			}
			ii, ok := idx.Find(resolved)
			if !ok {
				continue
			}
			blob := make([]byte, idx.Entries[ii].UncompressedSize)
			imgData, err := zipindex.ExtractEntry(idx.Entries[ii], read, dec, blob)
			if err != nil {
				t.Errorf("extract image %q: %v", resolved, err)
				continue
			}
			if !bytes.HasPrefix(imgData, []byte{0x89, 'P', 'N', 'G'}) {
				continue
			}
			rows := 0
			_, err = png.Decode(epubtest.ReadFunc(imgData), nil, png.Opts{MaxW: 96, MaxH: 96}, func(y int, row []byte) error {
				rows++
				return nil
			})
			if err != nil {
				t.Errorf("decode image %q: %v", resolved, err)
				continue
			}
			if rows == 0 {
				t.Errorf("image %q produced no rows", resolved)
			}
			images++
		}
	}
	return pkg.Meta.TitleStr(), pkg.Meta.AuthorStr(), chapters, textBytes, images
}

func TestFullBookWalk(t *testing.T) {
	container := buildBook()
	title, author, chapters, textBytes, images := walkBook(t, container)

	if title != "The Streaming of Pages" {
		t.Errorf("title = %q", title)
	}
	if author != "M. Flash" {
		t.Errorf("author = %q", author)
	}
	if chapters != 3 {
		t.Errorf("walked %d chapters, want 3", chapters)
	}
	if textBytes == 0 {
		t.Error("no text emitted")
	}
	if images != 1 {
		t.Errorf("decoded %d inline images, want 1", images)
	}
}

func TestTOCBothFormats(t *testing.T) {
	container := buildBook()
	read := epubtest.ReadFunc(container)
	idx, err := epubtest.Index(container)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64*1024)
	ci, _ := idx.Find("META-INF/container.xml")
	data, err := zipindex.ExtractEntry(idx.Entries[ci], read, nil, buf)
	if err != nil {
		t.Fatal(err)
	}
	opfPath, err := epubstruct.ParseContainer(data)
	if err != nil {
		t.Fatal(err)
	}
	oi, _ := idx.Find(opfPath)
	data, err = zipindex.ExtractEntry(idx.Entries[oi], read, nil, buf)
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := epubstruct.ParseOPF(data, "OEBPS")
	if err != nil {
		t.Fatal(err)
	}
	pkg.ResolveSpine(idx.Find)

	findByPath := func(path string) (int, bool) {
		for i, item := range pkg.Spine {
			entry, ok := pkg.Manifest[item.ManifestID]
			if !ok {
				continue
			}
			resolved, err := epubstruct.ResolveHref(pkg.OPFDir, entry.Href)
			if err == nil && resolved == path {
				return i, true
			}
		}
		return -1, false
	}

	kind, href, ok := pkg.FindTOCSource()
	if !ok || kind != epubstruct.TocNCX {
		t.Fatalf("TOC source = %v %q", kind, href)
	}
	ti, _ := idx.Find("OEBPS/" + href)
	data, err = zipindex.ExtractEntry(idx.Entries[ti], read, deflate.NewDecompressor(), buf)
	if err != nil {
		t.Fatal(err)
	}
	items, err := epubstruct.ParseTOC(kind, data, "OEBPS", pkg.Spine, pkg.Manifest, findByPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 4 {
		t.Fatalf("NCX items = %d, want 4 (nested section included)", len(items))
	}
	if items[2].Depth <= items[1].Depth {
		t.Errorf("nested navPoint should be deeper: %v then %v", items[1], items[2])
	}
	if items[2].Fragment != "s1" {
		t.Errorf("fragment = %q, want s1", items[2].Fragment)
	}

	// the same book also carries a NAV document
	ni, ok := idx.Find("OEBPS/nav.xhtml")
	if !ok {
		t.Fatal("nav.xhtml missing")
	}
	data, err = zipindex.ExtractEntry(idx.Entries[ni], read, deflate.NewDecompressor(), buf)
	if err != nil {
		t.Fatal(err)
	}
	navItems, err := epubstruct.ParseTOC(epubstruct.TocNAV, data, "OEBPS", pkg.Spine, pkg.Manifest, findByPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(navItems) != 3 {
		t.Fatalf("NAV items = %d, want 3", len(navItems))
	}

	if coverHref, ok := pkg.CoverImageHref(pkg.LegacyCoverID); !ok || coverHref != "cover.png" {
		t.Errorf("cover = %q %v", coverHref, ok)
	}
}

func TestExternalSamples(t *testing.T) {
	dir := os.Getenv("REALWORLD_SAMPLES_DIR")
	if dir == "" {
		t.Skip("REALWORLD_SAMPLES_DIR not set")
	}
	entries, err := filepath.Glob(filepath.Join(dir, "*.epub"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Skipf("no EPUBs in %s", dir)
	}
	for _, path := range entries {
		t.Run(filepath.Base(path), func(t *testing.T) {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			_, _, chapters, textBytes, _ := walkBook(t, data)
			if chapters == 0 || textBytes == 0 {
				t.Errorf("%s: %d chapters, %d text bytes", path, chapters, textBytes)
			}
		})
	}
}
