// Package xmlscan is a pull-style tag/attribute scanner over a byte slice.
// It never builds a DOM: callers call Next repeatedly and get one event at
// a time, in the spirit of a SAX scanner but without per-element callback
// registration. xmlns declarations are tracked in scope, and each tag
// event carries the resolved namespace of its name in Event.NSURI; most
// callers match local names only, reaching for NSURI where the EPUB
// formats pin an element to a well-known URI (see Namespace* constants).
package xmlscan

import "bytes"

// EventKind discriminates the shape of an Event.
type EventKind int

const (
	EventStartTag EventKind = iota
	EventEndTag
	EventSelfClosing
	EventText
	EventPI
	EventComment
	EventEOF
	EventError
)

// Well-known namespace URIs the EPUB structure parsers need to recognize
// regardless of the prefix an authoring tool chose.
const (
	NamespaceContainer = "urn:oasis:names:tc:opendocument:xmlns:container"
	NamespaceNCX       = "http://www.daisy.org/z3986/2005/ncx/"
	NamespaceOPF       = "http://www.idpf.org/2007/opf"
	NamespaceXHTML     = "http://www.w3.org/1999/xhtml"
	NamespaceEpub      = "http://www.idpf.org/2007/ops"
)

// Event is one token pulled from the scanner. Only the fields relevant to
// Kind are populated; the rest are zero.
type Event struct {
	Kind  EventKind
	Name  []byte // tag local name (prefix stripped)
	Raw   []byte // tag name as written, including any prefix
	NSURI string // resolved namespace of the tag name; "" if none in scope
	Attrs Attrs  // attribute sub-slice for start/self-closing tags
	Text  []byte // decoded text for EventText
	Err   error

	scan *Scanner // for attribute prefix resolution, start/self-closing only
}

// AttrNSURI resolves the namespace of a prefixed attribute name (e.g.
// "epub:type") against the bindings in scope at this event. Unprefixed
// attributes carry no namespace and resolve to "".
func (e *Event) AttrNSURI(name []byte) string {
	if e.scan == nil {
		return ""
	}
	i := bytes.IndexByte(name, ':')
	if i < 0 {
		return ""
	}
	return e.scan.lookup(string(name[:i]))
}

// Attrs is a lazy iterator over the raw attribute bytes of a start tag.
type Attrs struct {
	data []byte
	pos  int
}

// Next returns the next attribute's raw name and decoded value. Prefix is
// included in name (e.g. "xml:lang", "epub:type"); callers compare the
// local part themselves via Local.
func (a *Attrs) Next() (name, value []byte, ok bool) {
	for {
		a.skipSpace()
		if a.pos >= len(a.data) {
			return nil, nil, false
		}
		start := a.pos
		for a.pos < len(a.data) && !isSpace(a.data[a.pos]) && a.data[a.pos] != '=' {
			a.pos++
		}
		if a.pos == start {
			return nil, nil, false
		}
		name = a.data[start:a.pos]
		a.skipSpace()
		if a.pos >= len(a.data) || a.data[a.pos] != '=' {
			// attribute with no value (shouldn't happen in XML, skip token)
			continue
		}
		a.pos++ // consume '='
		a.skipSpace()
		if a.pos >= len(a.data) {
			return name, nil, true
		}
		quote := a.data[a.pos]
		if quote != '"' && quote != '\'' {
			return name, nil, true
		}
		a.pos++
		vstart := a.pos
		for a.pos < len(a.data) && a.data[a.pos] != quote {
			a.pos++
		}
		raw := a.data[vstart:a.pos]
		if a.pos < len(a.data) {
			a.pos++ // consume closing quote
		}
		return name, DecodeEntities(raw), true
	}
}

func (a *Attrs) skipSpace() {
	for a.pos < len(a.data) && isSpace(a.data[a.pos]) {
		a.pos++
	}
}

// Local strips any "prefix:" from a raw attribute or tag name.
func Local(name []byte) []byte {
	if i := bytes.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// nsBinding is one in-scope xmlns declaration; prefix "" is the default
// namespace.
type nsBinding struct {
	prefix string
	uri    string
}

// Scanner pulls events out of a fixed byte slice.
type Scanner struct {
	data []byte
	pos  int

	ns     []nsBinding // in-scope declarations, innermost last
	scopes []int       // per open element, len(ns) at entry
	trunc  int         // deferred truncation after a self-closing tag, -1 if none
}

// New creates a scanner over data. data is borrowed for the scanner's
// lifetime; the caller owns it.
func New(data []byte) *Scanner {
	return &Scanner{data: data, trunc: -1}
}

// Next returns the next event, or an EventEOF / EventError event once the
// input is exhausted or malformed. Every EventError comes from an
// unterminated construct and consumes the rest of the input, so the call
// after it returns EventEOF.
func (s *Scanner) Next() Event {
	// Bindings declared on a self-closing element stay resolvable (via
	// AttrNSURI) until the caller asks for the next event.
	if s.trunc >= 0 {
		s.ns = s.ns[:s.trunc]
		s.trunc = -1
	}
	if s.pos >= len(s.data) {
		return Event{Kind: EventEOF}
	}
	if s.data[s.pos] != '<' {
		return s.scanText()
	}
	return s.scanMarkup()
}

// lookup resolves a prefix against the innermost matching binding.
func (s *Scanner) lookup(prefix string) string {
	for i := len(s.ns) - 1; i >= 0; i-- {
		if s.ns[i].prefix == prefix {
			return s.ns[i].uri
		}
	}
	return ""
}

// collectBindings appends any xmlns / xmlns:prefix declarations found in
// one tag's attribute bytes.
func (s *Scanner) collectBindings(attrData []byte) {
	a := Attrs{data: attrData}
	for {
		name, value, ok := a.Next()
		if !ok {
			return
		}
		if bytes.Equal(name, []byte("xmlns")) {
			s.ns = append(s.ns, nsBinding{prefix: "", uri: string(value)})
		} else if bytes.HasPrefix(name, []byte("xmlns:")) {
			s.ns = append(s.ns, nsBinding{prefix: string(name[len("xmlns:"):]), uri: string(value)})
		}
	}
}

func prefixOf(name []byte) string {
	if i := bytes.IndexByte(name, ':'); i >= 0 {
		return string(name[:i])
	}
	return ""
}

func (s *Scanner) scanText() Event {
	start := s.pos
	for s.pos < len(s.data) && s.data[s.pos] != '<' {
		s.pos++
	}
	return Event{Kind: EventText, Text: DecodeEntities(s.data[start:s.pos])}
}

func (s *Scanner) scanMarkup() Event {
	// s.data[s.pos] == '<'
	rest := s.data[s.pos:]
	switch {
	case bytes.HasPrefix(rest, []byte("<!--")):
		end := bytes.Index(rest, []byte("-->"))
		if end < 0 {
			s.pos = len(s.data)
			return Event{Kind: EventError, Err: errUnterminatedComment}
		}
		s.pos += end + len("-->")
		return Event{Kind: EventComment}
	case bytes.HasPrefix(rest, []byte("<![CDATA[")):
		end := bytes.Index(rest, []byte("]]>"))
		if end < 0 {
			s.pos = len(s.data)
			return Event{Kind: EventError, Err: errUnterminatedCDATA}
		}
		text := rest[len("<![CDATA["):end]
		s.pos += end + len("]]>")
		return Event{Kind: EventText, Text: text}
	case bytes.HasPrefix(rest, []byte("<!")):
		// DTD / doctype: skip to matching '>' at depth 0 (no nested '<' handling needed for EPUB inputs)
		end := bytes.IndexByte(rest, '>')
		if end < 0 {
			s.pos = len(s.data)
			return Event{Kind: EventError, Err: errUnterminatedDecl}
		}
		s.pos += end + 1
		return Event{Kind: EventComment}
	case bytes.HasPrefix(rest, []byte("<?")):
		end := bytes.Index(rest, []byte("?>"))
		if end < 0 {
			s.pos = len(s.data)
			return Event{Kind: EventError, Err: errUnterminatedPI}
		}
		s.pos += end + len("?>")
		return Event{Kind: EventPI}
	case len(rest) > 1 && rest[1] == '/':
		end := bytes.IndexByte(rest, '>')
		if end < 0 {
			s.pos = len(s.data)
			return Event{Kind: EventError, Err: errUnterminatedTag}
		}
		name := bytes.TrimSpace(rest[2:end])
		s.pos += end + 1
		// Resolve in the closing element's own scope, then pop it.
		uri := s.lookup(prefixOf(name))
		if n := len(s.scopes); n > 0 {
			s.ns = s.ns[:s.scopes[n-1]]
			s.scopes = s.scopes[:n-1]
		}
		return Event{Kind: EventEndTag, Name: Local(name), Raw: name, NSURI: uri}
	default:
		return s.scanTag()
	}
}

func (s *Scanner) scanTag() Event {
	rest := s.data[s.pos:]
	// Find the end of the tag, respecting quoted attribute values that may
	// themselves contain '>'.
	i := 1
	inQuote := byte(0)
	for i < len(rest) {
		c := rest[i]
		if inQuote != 0 {
			if c == inQuote {
				inQuote = 0
			}
			i++
			continue
		}
		if c == '"' || c == '\'' {
			inQuote = c
			i++
			continue
		}
		if c == '>' {
			break
		}
		i++
	}
	if i >= len(rest) {
		s.pos = len(s.data)
		return Event{Kind: EventError, Err: errUnterminatedTag}
	}
	selfClosing := i > 0 && rest[i-1] == '/'
	inner := rest[1:i]
	if selfClosing {
		inner = inner[:len(inner)-1]
	}
	s.pos += i + 1

	nameEnd := 0
	for nameEnd < len(inner) && !isSpace(inner[nameEnd]) {
		nameEnd++
	}
	name := inner[:nameEnd]
	attrData := bytes.TrimSpace(inner[nameEnd:])

	mark := len(s.ns)
	s.collectBindings(attrData)
	uri := s.lookup(prefixOf(name))
	if selfClosing {
		s.trunc = mark
	} else {
		s.scopes = append(s.scopes, mark)
	}

	kind := EventStartTag
	if selfClosing {
		kind = EventSelfClosing
	}
	return Event{Kind: kind, Name: Local(name), Raw: name, NSURI: uri, Attrs: Attrs{data: attrData}, scan: s}
}

var (
	errUnterminatedTag     = scanErr("unterminated tag")
	errUnterminatedComment = scanErr("unterminated comment")
	errUnterminatedCDATA   = scanErr("unterminated CDATA section")
	errUnterminatedDecl    = scanErr("unterminated declaration")
	errUnterminatedPI      = scanErr("unterminated processing instruction")
)

type scanErr string

func (e scanErr) Error() string { return string(e) }
