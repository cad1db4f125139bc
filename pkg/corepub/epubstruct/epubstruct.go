// Package epubstruct decodes an EPUB's logical structure: container.xml,
// the OPF package document (metadata, manifest, spine), and the NCX/NAV
// table of contents. It builds entirely on xmlscan; no DOM is ever held in
// memory beyond the byte slice the caller supplies.
package epubstruct

import (
	"strings"

	"github.com/adammathes/epubreader/pkg/corepub/errs"
	"github.com/adammathes/epubreader/pkg/corepub/xmlscan"
)

// MaxPathLen bounds a resolved OPF/TOC-source path.
const MaxPathLen = 256

// MaxMetaLen bounds the title and author byte buffers.
const MaxMetaLen = 128

// MaxLabelLen bounds a single TOC entry's label.
const MaxLabelLen = 96

// Meta holds fixed-capacity title/author buffers. First occurrence in the
// OPF wins; later dc:title or dc:creator elements are ignored.
type Meta struct {
	titleBuf  [MaxMetaLen]byte
	titleLen  int
	authorBuf [MaxMetaLen]byte
	authorLen int
}

func (m *Meta) TitleStr() string  { return string(m.titleBuf[:m.titleLen]) }
func (m *Meta) AuthorStr() string { return string(m.authorBuf[:m.authorLen]) }

func (m *Meta) setTitle(s string) {
	if m.titleLen != 0 {
		return
	}
	m.titleLen = truncateUTF8(m.titleBuf[:], s)
}

func (m *Meta) setAuthor(s string) {
	if m.authorLen != 0 {
		return
	}
	m.authorLen = truncateUTF8(m.authorBuf[:], s)
}

// truncateUTF8 copies as much of s into dst as fits, never splitting a
// multi-byte rune, and returns the number of bytes written.
func truncateUTF8(dst []byte, s string) int {
	if len(s) <= len(dst) {
		return copy(dst, s)
	}
	cut := len(dst)
	for cut > 0 && isUTF8Continuation(s[cut]) {
		cut--
	}
	return copy(dst, s[:cut])
}

func isUTF8Continuation(b byte) bool { return b&0xC0 == 0x80 }

// ManifestEntry is the href/media-type pair a manifest id resolves to.
// Properties carries the manifest item's space-separated properties
// attribute (e.g. "nav", "cover-image"), used to locate the NAV document
// and cover image without a dedicated scan pass.
type ManifestEntry struct {
	Href       string
	MediaType  string
	Properties string
}

// HasProperty reports whether prop appears in the item's properties list.
func (m ManifestEntry) HasProperty(prop string) bool {
	for _, p := range strings.Fields(m.Properties) {
		if p == prop {
			return true
		}
	}
	return false
}

// SpineItem is one itemref in document order.
type SpineItem struct {
	ManifestID string
	Linear     bool // false only when linear="no" was explicit
	EntryIndex int  // index into the caller's zipindex.Index, or -1 if unresolved
	Err        error
}

// GuideRef is one EPUB2 <guide><reference> landmark (cover, toc, text...).
type GuideRef struct {
	Type  string
	Title string
	Href  string
}

// Package is the parsed OPF package document.
type Package struct {
	Meta        Meta
	Language    string // first dc:language, verbatim
	Manifest    map[string]ManifestEntry
	Spine       []SpineItem
	Guide       []GuideRef
	SpineTocRef string // EPUB2 spine/@toc, a manifest id
	OPFDir      string

	// LegacyCoverID is the content attribute of a <meta name="cover"
	// content="manifest-id"/> element (EPUB2 cover-image convention).
	LegacyCoverID string
}

// nsOK reports whether an element's resolved namespace is the expected
// URI. An empty resolution (no declaration in scope) is tolerated, since
// sloppy authoring tools omit the xmlns; a different explicit namespace
// is not a match.
func nsOK(got, want string) bool { return got == "" || got == want }

// ParseContainer extracts the first rootfile/@full-path under rootfiles
// (container namespace), failing with PathTooLong if the path is longer
// than MaxPathLen.
func ParseContainer(data []byte) (string, error) {
	s := xmlscan.New(data)
	inRootfiles := false
	for {
		ev := s.Next()
		switch ev.Kind {
		case xmlscan.EventEOF:
			return "", errs.New(errs.NotFound, "epubstruct.ParseContainer", nil)
		case xmlscan.EventError:
			return "", errs.New(errs.BadFormat, "epubstruct.ParseContainer", ev.Err)
		case xmlscan.EventStartTag, xmlscan.EventSelfClosing:
			if !nsOK(ev.NSURI, xmlscan.NamespaceContainer) {
				continue
			}
			switch string(ev.Name) {
			case "rootfiles":
				inRootfiles = true
			case "rootfile":
				if !inRootfiles {
					continue
				}
				path, ok := findAttr(ev.Attrs, "full-path")
				if !ok {
					continue
				}
				if len(path) > MaxPathLen {
					return "", errs.New(errs.PathTooLong, "epubstruct.ParseContainer", nil)
				}
				return path, nil
			}
		case xmlscan.EventEndTag:
			if string(ev.Name) == "rootfiles" {
				inRootfiles = false
			}
		}
	}
}

func findAttr(attrs xmlscan.Attrs, local string) (string, bool) {
	for {
		name, value, ok := attrs.Next()
		if !ok {
			return "", false
		}
		if string(xmlscan.Local(name)) == local {
			return string(value), true
		}
	}
}

// ParseOPF scans the OPF package document, collecting metadata, the
// manifest (id -> href/media-type), and the spine in document order.
// opfDir is the directory containing the OPF, used to resolve relative
// manifest hrefs into full container-relative paths.
func ParseOPF(data []byte, opfDir string) (*Package, error) {
	pkg := &Package{
		Manifest: make(map[string]ManifestEntry),
		OPFDir:   opfDir,
	}

	s := xmlscan.New(data)
	var stack []string
	capture := "" // "title" or "creator" while inside that element in metadata
	var captureText strings.Builder

	inSection := func(name string) bool {
		for _, e := range stack {
			if e == name {
				return true
			}
		}
		return false
	}

	for {
		ev := s.Next()
		switch ev.Kind {
		case xmlscan.EventEOF:
			return pkg, nil
		case xmlscan.EventError:
			return nil, errs.New(errs.BadFormat, "epubstruct.ParseOPF", ev.Err)

		case xmlscan.EventText:
			if capture != "" {
				captureText.Write(ev.Text)
			}

		case xmlscan.EventStartTag, xmlscan.EventSelfClosing:
			name := string(ev.Name)
			// Structural package elements are pinned to the OPF namespace;
			// dc:title and friends live in the DC namespace and are matched
			// by local name below.
			inOPFNS := nsOK(ev.NSURI, xmlscan.NamespaceOPF)
			switch name {
			case "spine":
				if !inOPFNS {
					break
				}
				if toc, ok := findAttr(ev.Attrs, "toc"); ok {
					pkg.SpineTocRef = toc
				}
			case "item":
				if inOPFNS && inSection("manifest") {
					id, _ := findAttr(ev.Attrs, "id")
					href, _ := findAttr(ev.Attrs, "href")
					mediaType, _ := findAttr(ev.Attrs, "media-type")
					properties, _ := findAttr(ev.Attrs, "properties")
					if id != "" {
						pkg.Manifest[id] = ManifestEntry{Href: href, MediaType: mediaType, Properties: properties}
					}
				}
			case "itemref":
				if inOPFNS && inSection("spine") {
					idref, _ := findAttr(ev.Attrs, "idref")
					linearAttr, _ := findAttr(ev.Attrs, "linear")
					item := SpineItem{
						ManifestID: idref,
						Linear:     linearAttr != "no",
						EntryIndex: -1,
					}
					pkg.Spine = append(pkg.Spine, item)
				}
			case "title", "creator", "language":
				if inSection("metadata") && capture == "" {
					capture = name
					captureText.Reset()
				}
			case "reference":
				if inOPFNS && inSection("guide") {
					typ, _ := findAttr(ev.Attrs, "type")
					title, _ := findAttr(ev.Attrs, "title")
					href, _ := findAttr(ev.Attrs, "href")
					if href != "" {
						pkg.Guide = append(pkg.Guide, GuideRef{Type: typ, Title: title, Href: href})
					}
				}
			case "meta":
				if inOPFNS && inSection("metadata") {
					if metaName, _ := findAttr(ev.Attrs, "name"); metaName == "cover" {
						if content, ok := findAttr(ev.Attrs, "content"); ok {
							pkg.LegacyCoverID = content
						}
					}
				}
			}
			if ev.Kind == xmlscan.EventStartTag {
				stack = append(stack, name)
			}

		case xmlscan.EventEndTag:
			name := string(ev.Name)
			if capture == name {
				text := strings.TrimSpace(captureText.String())
				switch name {
				case "title":
					pkg.Meta.setTitle(text)
				case "creator":
					pkg.Meta.setAuthor(text)
				case "language":
					if pkg.Language == "" {
						pkg.Language = text
					}
				}
				capture = ""
			}
			if len(stack) > 0 && stack[len(stack)-1] == name {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// ResolveSpine fills in EntryIndex for every spine item by looking up the
// manifest href (resolved against opfDir) in the ZIP index. Lookup misses
// are recorded on the item and don't abort the walk.
func (pkg *Package) ResolveSpine(find func(name string) (int, bool)) {
	for i := range pkg.Spine {
		item := &pkg.Spine[i]
		entry, ok := pkg.Manifest[item.ManifestID]
		if !ok {
			item.Err = errs.New(errs.NotFound, "epubstruct.ResolveSpine", nil)
			continue
		}
		resolved, err := ResolveHref(pkg.OPFDir, entry.Href)
		if err != nil {
			item.Err = err
			continue
		}
		idx, ok := find(resolved)
		if !ok {
			item.Err = errs.New(errs.NotFound, "epubstruct.ResolveSpine", nil)
			continue
		}
		item.EntryIndex = idx
	}
}
