package epubstruct

import (
	"strings"

	"github.com/adammathes/epubreader/pkg/corepub/errs"
	"github.com/adammathes/epubreader/pkg/corepub/xmlscan"
)

// TocSourceKind discriminates which table-of-contents format was found.
type TocSourceKind int

const (
	TocNone TocSourceKind = iota
	TocNCX
	TocNAV
)

const mediaTypeNCX = "application/x-dtbncx+xml"

// FindTOCSource picks the TOC document: prefer the
// manifest item named by spine/@toc (EPUB2 NCX), otherwise the NCX
// media-type item, otherwise the manifest item whose properties contain
// "nav" (EPUB3 NAV).
func (pkg *Package) FindTOCSource() (kind TocSourceKind, href string, ok bool) {
	if pkg.SpineTocRef != "" {
		if item, found := pkg.Manifest[pkg.SpineTocRef]; found {
			return TocNCX, item.Href, true
		}
	}
	for _, item := range pkg.Manifest {
		if item.MediaType == mediaTypeNCX {
			return TocNCX, item.Href, true
		}
	}
	for _, item := range pkg.Manifest {
		if item.HasProperty("nav") {
			return TocNAV, item.Href, true
		}
	}
	return TocNone, "", false
}

// CoverImageHref returns the href of the manifest item marked
// properties="cover-image" (EPUB3) or, failing that, the item whose id is
// referenced by a <meta name="cover" content="..."/> id (EPUB2), which the
// caller passes in as legacyCoverID since it's parsed out of <metadata>
// rather than the manifest.
func (pkg *Package) CoverImageHref(legacyCoverID string) (string, bool) {
	for _, item := range pkg.Manifest {
		if item.HasProperty("cover-image") {
			return item.Href, true
		}
	}
	if legacyCoverID != "" {
		if item, ok := pkg.Manifest[legacyCoverID]; ok {
			return item.Href, true
		}
	}
	return "", false
}

// TocItem is one flattened table-of-contents entry.
type TocItem struct {
	Label      string
	SpineIndex int // index into the spine, or -1 if unmatched
	Fragment   string
	Depth      int
}

// ParseTOC parses either an NCX or a NAV document into a flat list of
// TocItems, resolving each entry's href against the spine. Entries whose
// resolved path doesn't match any spine item are dropped.
func ParseTOC(kind TocSourceKind, data []byte, tocDir string, spine []SpineItem, manifest map[string]ManifestEntry, findSpineIndexByPath func(path string) (int, bool)) ([]TocItem, error) {
	switch kind {
	case TocNCX:
		return parseNCX(data, tocDir, findSpineIndexByPath)
	case TocNAV:
		return parseNAV(data, tocDir, findSpineIndexByPath)
	default:
		return nil, errs.New(errs.NotFound, "epubstruct.ParseTOC", nil)
	}
}

func truncateLabel(s string) string {
	if len(s) <= MaxLabelLen {
		return s
	}
	var buf [MaxLabelLen]byte
	n := truncateUTF8(buf[:], s)
	return string(buf[:n])
}

// parseNCX walks <navMap><navPoint>...<navLabel><text> / <content
// src="...">...</navPoint>, tracking nesting depth for the flattened
// Depth field.
func parseNCX(data []byte, tocDir string, findSpineIndexByPath func(path string) (int, bool)) ([]TocItem, error) {
	s := xmlscan.New(data)
	var items []TocItem
	depth := 0
	var labelBuilder strings.Builder
	capturingLabel := false
	var pendingLabel string
	var pendingHref string

	flush := func() {
		if pendingLabel == "" && pendingHref == "" {
			return
		}
		p, frag := SplitFragment(pendingHref)
		resolved, err := ResolveHref(tocDir, p)
		idx := -1
		if err == nil {
			if i, ok := findSpineIndexByPath(resolved); ok {
				idx = i
			}
		}
		if idx >= 0 {
			items = append(items, TocItem{
				Label:      truncateLabel(pendingLabel),
				SpineIndex: idx,
				Fragment:   frag,
				Depth:      depth,
			})
		}
		pendingLabel = ""
		pendingHref = ""
	}

	for {
		ev := s.Next()
		switch ev.Kind {
		case xmlscan.EventEOF:
			return items, nil
		case xmlscan.EventError:
			return items, errs.New(errs.BadFormat, "epubstruct.parseNCX", ev.Err)
		case xmlscan.EventText:
			if capturingLabel {
				labelBuilder.Write(ev.Text)
			}
		case xmlscan.EventStartTag, xmlscan.EventSelfClosing:
			if !nsOK(ev.NSURI, xmlscan.NamespaceNCX) {
				continue
			}
			switch string(ev.Name) {
			case "navPoint":
				flush()
				if ev.Kind == xmlscan.EventStartTag {
					depth++
				}
			case "text":
				capturingLabel = true
				labelBuilder.Reset()
			case "content":
				if src, ok := findAttr(ev.Attrs, "src"); ok {
					pendingHref = src
				}
			}
		case xmlscan.EventEndTag:
			if !nsOK(ev.NSURI, xmlscan.NamespaceNCX) {
				continue
			}
			switch string(ev.Name) {
			case "navPoint":
				flush()
				depth--
			case "text":
				if capturingLabel {
					pendingLabel = strings.TrimSpace(labelBuilder.String())
					capturingLabel = false
				}
			}
		}
	}
}

// epubType returns the element's epub:type value. A prefixed type
// attribute must resolve to the ops namespace; an unbound prefix or a
// bare type attribute is tolerated the same way nsOK tolerates a missing
// xmlns declaration.
func epubType(ev *xmlscan.Event) string {
	attrs := ev.Attrs
	for {
		name, value, ok := attrs.Next()
		if !ok {
			return ""
		}
		if string(xmlscan.Local(name)) != "type" {
			continue
		}
		if nsOK(ev.AttrNSURI(name), xmlscan.NamespaceEpub) {
			return string(value)
		}
	}
}

// parseNAV walks the EPUB3 NAV document's <nav epub:type="toc"> list,
// treating <ol><li><a href="...">label</a></li></ol> nesting depth as the
// flattened Depth field.
func parseNAV(data []byte, tocDir string, findSpineIndexByPath func(path string) (int, bool)) ([]TocItem, error) {
	s := xmlscan.New(data)
	var items []TocItem
	inTocNav := 0
	navDepth := 0
	listDepth := 0
	capturingLabel := false
	var labelBuilder strings.Builder
	var pendingHref string

	for {
		ev := s.Next()
		switch ev.Kind {
		case xmlscan.EventEOF:
			return items, nil
		case xmlscan.EventError:
			return items, errs.New(errs.BadFormat, "epubstruct.parseNAV", ev.Err)
		case xmlscan.EventText:
			if capturingLabel {
				labelBuilder.Write(ev.Text)
			}
		case xmlscan.EventStartTag, xmlscan.EventSelfClosing:
			switch string(ev.Name) {
			case "nav":
				if !nsOK(ev.NSURI, xmlscan.NamespaceXHTML) {
					continue
				}
				if epubType(&ev) == "toc" {
					navDepth++
					inTocNav++
				} else if inTocNav > 0 {
					navDepth++
				}
			case "ol":
				if inTocNav > 0 {
					listDepth++
				}
			case "a":
				if inTocNav > 0 {
					if href, ok := findAttr(ev.Attrs, "href"); ok {
						pendingHref = href
						capturingLabel = true
						labelBuilder.Reset()
					}
				}
			}
		case xmlscan.EventEndTag:
			switch string(ev.Name) {
			case "nav":
				if !nsOK(ev.NSURI, xmlscan.NamespaceXHTML) {
					continue
				}
				if inTocNav > 0 {
					navDepth--
					if navDepth == 0 {
						inTocNav--
					}
				}
			case "ol":
				if inTocNav > 0 {
					listDepth--
				}
			case "a":
				if capturingLabel {
					label := strings.TrimSpace(labelBuilder.String())
					capturingLabel = false
					p, frag := SplitFragment(pendingHref)
					resolved, err := ResolveHref(tocDir, p)
					if err == nil {
						if idx, ok := findSpineIndexByPath(resolved); ok {
							items = append(items, TocItem{
								Label:      truncateLabel(label),
								SpineIndex: idx,
								Fragment:   frag,
								Depth:      listDepth,
							})
						}
					}
					pendingHref = ""
				}
			}
		}
	}
}
