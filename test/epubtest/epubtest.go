// Package epubtest builds in-memory EPUB containers for the pipeline test
// suites. The mimetype entry is always written first and stored, the way
// conforming authoring tools emit it; everything else deflates.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/adammathes/epubreader/pkg/corepub/zipindex"
)

// File is one container entry. Stored entries skip DEFLATE.
type File struct {
	Name    string
	Content []byte
	Stored  bool
}

// Build assembles a ZIP container from files in order.
func Build(files []File) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.Name, Method: zip.Deflate}
		if f.Stored {
			hdr.Method = zip.Store
		}
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			panic(err)
		}
		if _, err := fw.Write(f.Content); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Book describes a minimal but complete EPUB for BuildBook.
type Book struct {
	Title    string
	Author   string
	Language string
	Chapters []Chapter
	// Extra entries appended verbatim (stylesheets, images, NCX...).
	Extra []File
	// ManifestExtra is raw <item> XML appended inside the manifest.
	ManifestExtra string
	// SpineAttrs is injected into the <spine> tag (e.g. `toc="ncx"`).
	SpineAttrs string
}

// Chapter is one spine document. Body is the XHTML placed inside <body>
// unless Raw is set, in which case Body is the whole entry verbatim.
type Chapter struct {
	Name   string // entry name under OEBPS/
	Body   string
	Raw    bool
	Linear string // "" omits the linear attribute
}

// BuildBook assembles a whole EPUB: mimetype, container.xml pointing at
// OEBPS/content.opf, the OPF, and one entry per chapter.
func BuildBook(b Book) []byte {
	files := []File{
		{Name: "mimetype", Content: []byte("application/epub+zip"), Stored: true},
		{Name: "META-INF/container.xml", Content: []byte(containerXML)},
	}

	var manifest, spine strings.Builder
	for i, ch := range b.Chapters {
		fmt.Fprintf(&manifest, `<item id="ch%d" href="%s" media-type="application/xhtml+xml"/>`+"\n", i, ch.Name)
		if ch.Linear != "" {
			fmt.Fprintf(&spine, `<itemref idref="ch%d" linear="%s"/>`+"\n", i, ch.Linear)
		} else {
			fmt.Fprintf(&spine, `<itemref idref="ch%d"/>`+"\n", i)
		}
		content := ch.Body
		if !ch.Raw {
			content = "<?xml version=\"1.0\" encoding=\"utf-8\"?>\n" +
				"<html xmlns=\"http://www.w3.org/1999/xhtml\"><head><title>c</title></head><body>" +
				ch.Body + "</body></html>"
		}
		files = append(files, File{Name: "OEBPS/" + ch.Name, Content: []byte(content)})
	}
	manifest.WriteString(b.ManifestExtra)

	lang := b.Language
	if lang == "" {
		lang = "en"
	}
	opf := fmt.Sprintf(opfTemplate, b.Title, b.Author, lang, manifest.String(), b.SpineAttrs, spine.String())
	files = append(files, File{Name: "OEBPS/content.opf", Content: []byte(opf)})
	for _, f := range b.Extra {
		f.Name = "OEBPS/" + f.Name
		files = append(files, f)
	}
	return Build(files)
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const opfTemplate = `<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:00000000-0000-0000-0000-000000000000</dc:identifier>
    <dc:title>%s</dc:title>
    <dc:creator>%s</dc:creator>
    <dc:language>%s</dc:language>
  </metadata>
  <manifest>
%s  </manifest>
  <spine %s>
%s  </spine>
</package>`

// ReadFunc adapts an in-memory container to the random-access read
// contract shared by every decoder in the module. The unnamed return type
// converts implicitly to each package's named callback type.
func ReadFunc(data []byte) func(offset uint32, buf []byte) (int, error) {
	return func(offset uint32, buf []byte) (int, error) {
		if int64(offset) >= int64(len(data)) {
			return 0, nil
		}
		return copy(buf, data[offset:]), nil
	}
}

// Index locates and parses the central directory of an in-memory
// container, the same tail-first sequence a host performs on a file.
func Index(data []byte) (*zipindex.Index, error) {
	tailLen := 65536 + 22
	if tailLen > len(data) {
		tailLen = len(data)
	}
	tail := data[len(data)-tailLen:]
	cdOff, cdSize, err := zipindex.ParseEOCD(tail, uint64(len(data)))
	if err != nil {
		return nil, err
	}
	if int64(cdOff)+int64(cdSize) > int64(len(data)) {
		return nil, fmt.Errorf("central directory out of range")
	}
	return zipindex.ParseCentralDirectory(data[cdOff : int64(cdOff)+int64(cdSize)])
}
