// Package htmlstrip is a streaming transducer from XHTML/HTML bytes to
// styled text runs. It never builds a DOM and never requires the whole
// document in memory: Write accepts chunks in any split and emits runs as
// soon as a style change, tag boundary, or accumulator-size pressure
// forces a flush.
package htmlstrip

import (
	"bytes"

	"github.com/adammathes/epubreader/pkg/corepub/cssprops"
	"github.com/adammathes/epubreader/pkg/corepub/errs"
	"github.com/adammathes/epubreader/pkg/corepub/xmlscan"
)

// StyleFlags is a bit set of run-level style attributes, plus a 3-bit
// heading level packed above the style bits.
type StyleFlags uint16

const (
	StyleBold StyleFlags = 1 << iota
	StyleItalic
	StyleUnderline
	StyleStrike
	StyleSup
	StyleSub
	StyleMonospace
)

const headingShift = 7
const headingMask = StyleFlags(0x7) << headingShift

// HeadingLevel returns 0 (no heading) or 1..6.
func (f StyleFlags) HeadingLevel() int { return int((f & headingMask) >> headingShift) }

func withHeading(f StyleFlags, level int) StyleFlags {
	return (f &^ headingMask) | (StyleFlags(level&0x7) << headingShift)
}

// BreakKind is the break that follows a run.
type BreakKind int

const (
	BreakNone BreakKind = iota
	BreakSoft
	BreakHard
	BreakParagraph
	BreakSection
)

// RunKind discriminates a text run from an inline image reference.
type RunKind int

const (
	RunText RunKind = iota
	RunImage
)

// Run is one unit of output: either styled text or an image reference.
// An image run carries the raw src value; resolving it against the
// chapter's directory and deciding whether to decode is the caller's
// business.
type Run struct {
	Kind      RunKind
	Text      []byte
	Style     StyleFlags
	Break     BreakKind
	ImageHref string
}

// Sink receives runs in document order; an error aborts stripping.
type Sink func(Run) error

const (
	maxStackDepth  = 16
	maxTextBuf     = 512
	maxTagScan     = 4096 // bound on how much we'll buffer hunting for '>'
	entityHoldBack = 10   // longest HTML entity we know, + margin
)

type frame struct {
	tag     string
	bit     StyleFlags
	heading int
	block   bool
	hidden  bool
	pre     bool
}

// Stripper holds all transducer state. Zero value is not usable; use New.
type Stripper struct {
	sink   Sink
	styles *cssprops.Stylesheet

	carry []byte // bytes not yet processed, spanning Write() boundaries

	frames   []frame
	overflow []string // tag names collapsed into their parent on stack overflow
	curStyle StyleFlags
	inPre    int // >0 while inside a pre / white-space:pre element
	hidden   int // >0 while inside a display:none subtree
	skipTag  string
	skipping bool

	textBuf      [maxTextBuf]byte
	textLen      int
	lastWasSpace bool
	atLineStart  bool
}

// New creates a Stripper that emits runs to sink, with no stylesheet
// (tag defaults and inline style="" only).
func New(sink Sink) *Stripper {
	return &Stripper{sink: sink, atLineStart: true}
}

// NewStyled creates a Stripper whose per-element style is resolved
// against sheet before inline style attributes are applied on top.
func NewStyled(sink Sink, sheet *cssprops.Stylesheet) *Stripper {
	s := New(sink)
	s.styles = sheet
	return s
}

// Write feeds the next chunk of document bytes. Safe to call repeatedly
// with arbitrarily split chunks; tags and entities straddling a chunk
// boundary are held back until more input arrives.
func (s *Stripper) Write(chunk []byte) error {
	s.carry = append(s.carry, chunk...)
	for {
		progressed, err := s.step()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// Close flushes any remaining accumulated text. Call once after the final
// Write.
func (s *Stripper) Close() error {
	if len(s.carry) > 0 && !s.skipping {
		// No more input is coming, so a held-back text tail (kept in case
		// an entity straddled a chunk) is emitted as-is; an unterminated
		// tag left at the end of input is dropped.
		rest := s.carry
		s.carry = nil
		if rest[0] != '<' {
			if err := s.emitText(rest); err != nil {
				return err
			}
		}
	}
	return s.flushText(BreakNone)
}

func (s *Stripper) step() (bool, error) {
	if len(s.carry) == 0 {
		return false, nil
	}

	if s.skipping {
		return s.stepSkipping()
	}

	if s.carry[0] == '<' {
		end := findTagEnd(s.carry)
		if end < 0 {
			if len(s.carry) > maxTagScan {
				// Malformed/unterminated tag; treat the '<' as literal text
				// and keep going rather than stalling forever.
				if err := s.emitText(s.carry[:1]); err != nil {
					return false, err
				}
				s.carry = s.carry[1:]
				return true, nil
			}
			return false, nil
		}
		tagBytes := s.carry[:end+1]
		s.carry = s.carry[end+1:]
		if err := s.handleTag(tagBytes); err != nil {
			return false, err
		}
		return true, nil
	}

	idx := bytes.IndexByte(s.carry, '<')
	if idx < 0 {
		holdBack := 0
		if len(s.carry) > entityHoldBack {
			holdBack = entityHoldBack
		}
		textLen := len(s.carry) - holdBack
		if textLen <= 0 {
			return false, nil
		}
		if err := s.emitText(s.carry[:textLen]); err != nil {
			return false, err
		}
		s.carry = s.carry[textLen:]
		return true, nil
	}
	if idx > 0 {
		if err := s.emitText(s.carry[:idx]); err != nil {
			return false, err
		}
		s.carry = s.carry[idx:]
		return true, nil
	}
	return false, nil
}

func (s *Stripper) stepSkipping() (bool, error) {
	closer := []byte("</" + s.skipTag)
	idx := bytes.Index(bytes.ToLower(s.carry), closer)
	if idx < 0 {
		// Nothing discarded is ever emitted, so it's safe to keep only a
		// short tail in case the closing tag straddles this chunk's end.
		keep := len(closer) + 1
		if len(s.carry) > keep {
			s.carry = s.carry[len(s.carry)-keep:]
		}
		return false, nil
	}
	end := bytes.IndexByte(s.carry[idx:], '>')
	if end < 0 {
		return false, nil
	}
	s.carry = s.carry[idx+end+1:]
	s.skipping = false
	s.skipTag = ""
	return true, nil
}

// findTagEnd returns the index of the '>' closing the tag starting at
// carry[0], honoring quoted attribute values, or -1 if not found yet.
func findTagEnd(carry []byte) int {
	inQuote := byte(0)
	for i := 1; i < len(carry); i++ {
		c := carry[i]
		if inQuote != 0 {
			if c == inQuote {
				inQuote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			inQuote = c
			continue
		}
		if c == '>' {
			return i
		}
	}
	return -1
}

func (s *Stripper) handleTag(tagBytes []byte) error {
	if bytes.HasPrefix(tagBytes, []byte("<!--")) || bytes.HasPrefix(tagBytes, []byte("<?")) || bytes.HasPrefix(tagBytes, []byte("<!")) {
		return nil
	}
	sc := xmlscan.New(tagBytes)
	ev := sc.Next()
	switch ev.Kind {
	case xmlscan.EventEndTag:
		return s.popTag(lowerString(ev.Name))
	case xmlscan.EventStartTag, xmlscan.EventSelfClosing:
		name := lowerString(ev.Name)
		return s.openTag(name, ev.Attrs, ev.Kind == xmlscan.EventSelfClosing)
	default:
		return nil
	}
}

func lowerString(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

var blockTags = map[string]bool{
	"p": true, "div": true, "blockquote": true, "li": true,
	"ul": true, "ol": true, "pre": true, "hr": true,
}

var inlineStyleBits = map[string]StyleFlags{
	"b": StyleBold, "strong": StyleBold,
	"i": StyleItalic, "em": StyleItalic,
	"u": StyleUnderline,
	"s": StyleStrike, "strike": StyleStrike,
	"sup": StyleSup,
	"sub": StyleSub,
	"code": StyleMonospace, "tt": StyleMonospace,
}

var ignoreContentTags = map[string]bool{"head": true, "script": true, "style": true}

func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

// resolveProps computes the element's effective CSS: stylesheet rules
// matched by tag+class (last rule wins) with the inline style attribute
// layered on top.
func (s *Stripper) resolveProps(name string, attrs xmlscan.Attrs) cssprops.Props {
	var classAttr, styleAttr string
	for {
		aname, avalue, ok := attrs.Next()
		if !ok {
			break
		}
		switch string(xmlscan.Local(aname)) {
		case "class":
			classAttr = string(avalue)
		case "style":
			styleAttr = string(avalue)
		}
	}
	var props cssprops.Props
	if s.styles != nil {
		props = s.styles.Match(name, splitClasses(classAttr))
	}
	if styleAttr != "" {
		props = props.Merge(cssprops.ParseDeclarations([]byte(styleAttr)))
	}
	return props
}

func splitClasses(attr string) []string {
	if attr == "" {
		return nil
	}
	var out []string
	start := -1
	for i := 0; i <= len(attr); i++ {
		if i < len(attr) && attr[i] != ' ' && attr[i] != '\t' && attr[i] != '\n' && attr[i] != '\r' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, attr[start:i])
			start = -1
		}
	}
	return out
}

func (s *Stripper) openTag(name string, attrs xmlscan.Attrs, selfClosing bool) error {
	if ignoreContentTags[name] {
		if selfClosing {
			return nil
		}
		s.skipping = true
		s.skipTag = name
		return nil
	}

	switch name {
	case "br":
		if s.hidden > 0 {
			return nil
		}
		return s.flushText(BreakHard)
	case "img":
		if s.hidden > 0 {
			return nil
		}
		if err := s.flushText(BreakNone); err != nil {
			return err
		}
		href, _ := findAttrValue(attrs, "src")
		return s.emit(Run{Kind: RunImage, ImageHref: href})
	case "a":
		// transparent: href discarded, text preserved
		return nil
	}

	bit := inlineStyleBits[name]
	heading := headingLevel(name)
	isBlock := blockTags[name] || heading != 0
	isPre := name == "pre"
	isHidden := false

	props := s.resolveProps(name, attrs)
	switch props.Display {
	case cssprops.DisplayNone:
		isHidden = true
	case cssprops.DisplayBlock, cssprops.DisplayListItem:
		isBlock = true
	case cssprops.DisplayInline:
		isBlock = false
	}
	switch props.FontWeight {
	case cssprops.FontWeightBold:
		bit |= StyleBold
	case cssprops.FontWeightNormal:
		bit &^= StyleBold
	}
	switch props.FontStyle {
	case cssprops.FontStyleItalic:
		bit |= StyleItalic
	case cssprops.FontStyleNormal:
		bit &^= StyleItalic
	}
	if props.TextDecoration&cssprops.DecorationUnderline != 0 {
		bit |= StyleUnderline
	}
	if props.TextDecoration&cssprops.DecorationStrike != 0 {
		bit |= StyleStrike
	}

	hasEffect := isBlock || isHidden || isPre || bit != 0 || heading != 0 || inlineStyleBits[name] != 0
	if !hasEffect {
		// unknown tag with no resolved style: transparent, no stack frame
		return nil
	}

	brk := BreakNone
	if isBlock {
		brk = BreakParagraph
	}
	if err := s.flushText(brk); err != nil {
		return err
	}

	if selfClosing {
		return nil
	}
	if isPre {
		s.inPre++
	}
	if isHidden {
		s.hidden++
	}
	s.pushFrame(frame{tag: name, bit: bit, heading: heading, block: isBlock, hidden: isHidden, pre: isPre})
	return nil
}

func findAttrValue(attrs xmlscan.Attrs, local string) (string, bool) {
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

func (s *Stripper) pushFrame(f frame) {
	if len(s.frames) >= maxStackDepth {
		// Pathological nesting from authoring tools: collapse into the
		// parent instead of erroring out.
		if len(s.frames) > 0 {
			top := &s.frames[len(s.frames)-1]
			top.bit |= f.bit
			if f.heading != 0 {
				top.heading = f.heading
			}
		}
		s.overflow = append(s.overflow, f.tag)
		s.recomputeStyle()
		return
	}
	s.frames = append(s.frames, f)
	s.recomputeStyle()
}

func (s *Stripper) popTag(name string) error {
	switch name {
	case "img", "br", "a":
		return nil
	}
	if n := len(s.overflow); n > 0 && s.overflow[n-1] == name {
		s.overflow = s.overflow[:n-1]
		return nil
	}
	if n := len(s.frames); n > 0 && s.frames[n-1].tag == name {
		f := s.frames[n-1]
		var err error
		if f.block {
			err = s.flushText(BreakParagraph)
		} else if f.bit != 0 {
			// Flush the run under its current (about-to-be-removed) style
			// before popping, so e.g. "world" in <b>world</b> keeps Bold.
			err = s.flushText(BreakNone)
		}
		if err != nil {
			return err
		}
		if f.pre && s.inPre > 0 {
			s.inPre--
		}
		if f.hidden && s.hidden > 0 {
			s.hidden--
		}
		s.frames = s.frames[:n-1]
		s.recomputeStyle()
		return nil
	}
	// Mismatched close tag: no frame to pop, but a known block close still
	// forces a paragraph boundary so text doesn't glue across it.
	if blockTags[name] || headingLevel(name) != 0 {
		return s.flushText(BreakParagraph)
	} else if inlineStyleBits[name] != 0 {
		return s.flushText(BreakNone)
	}
	return nil
}

func (s *Stripper) recomputeStyle() {
	var style StyleFlags
	heading := 0
	for _, f := range s.frames {
		style |= f.bit
		if f.heading != 0 {
			heading = f.heading
		}
	}
	s.curStyle = withHeading(style, heading)
}

func (s *Stripper) emitText(raw []byte) error {
	if s.hidden > 0 {
		return nil
	}
	decoded := xmlscan.DecodeEntitiesWith(raw, htmlEntities)
	pre := s.inPre > 0
	for i := 0; i < len(decoded); i++ {
		c := decoded[i]
		isSpace := c == ' ' || c == '\t' || c == '\n' || c == '\r'
		if isSpace && !pre {
			if s.lastWasSpace || (s.atLineStart && s.textLen == 0) {
				continue
			}
			c = ' '
			s.lastWasSpace = true
		} else {
			s.lastWasSpace = false
			s.atLineStart = false
		}
		if s.textLen >= maxTextBuf {
			if err := s.flushText(BreakNone); err != nil {
				return err
			}
		}
		s.textBuf[s.textLen] = c
		s.textLen++
	}
	return nil
}

func (s *Stripper) flushText(brk BreakKind) error {
	if s.textLen == 0 {
		return nil
	}
	// Trim a single trailing collapsed space at a block boundary.
	n := s.textLen
	if n > 0 && s.textBuf[n-1] == ' ' && brk != BreakNone {
		n--
	}
	run := Run{Kind: RunText, Text: append([]byte(nil), s.textBuf[:n]...), Style: s.curStyle, Break: brk}
	s.textLen = 0
	s.lastWasSpace = false
	if brk == BreakParagraph || brk == BreakSection {
		s.atLineStart = true
	}
	return s.emit(run)
}

func (s *Stripper) emit(r Run) error {
	if err := s.sink(r); err != nil {
		return errs.New(errs.Write, "htmlstrip.emit", err)
	}
	return nil
}
