// Package cssprops parses the small, EPUB-flavoured subset of CSS that the
// HTML strip needs to resolve per-element style: display, font-weight,
// font-style, text-decoration, text-align and margin-before/after. It is
// deliberately not a general CSS engine: unknown properties and values are
// skipped silently, and selector support is restricted to type and class
// selectors.
package cssprops

// Display is the CSS display keyword, restricted to the four values the
// HTML strip cares about.
type Display uint8

const (
	DisplayUnset Display = iota
	DisplayInline
	DisplayBlock
	DisplayListItem
	DisplayNone
)

type FontWeight uint8

const (
	FontWeightUnset FontWeight = iota
	FontWeightNormal
	FontWeightBold
)

type FontStyle uint8

const (
	FontStyleUnset FontStyle = iota
	FontStyleNormal
	FontStyleItalic
)

type TextAlign uint8

const (
	TextAlignUnset TextAlign = iota
	TextAlignStart
	TextAlignCenter
	TextAlignEnd
	TextAlignJustify
)

// TextDecoration is a small bitset; "none" is the zero value.
type TextDecoration uint8

const (
	DecorationUnderline TextDecoration = 1 << iota
	DecorationStrike
)

// set bits track which fields of Props were explicitly assigned by a
// declaration block, so cascades can tell "unset" from "set to the
// zero-ish default".
const (
	setDisplay = 1 << iota
	setFontWeight
	setFontStyle
	setTextDecoration
	setTextAlign
	setMarginBefore
	setMarginAfter
)

// Props is the resolved property set for one element (§3).
type Props struct {
	Display        Display
	FontWeight     FontWeight
	FontStyle      FontStyle
	TextDecoration TextDecoration
	TextAlign      TextAlign
	MarginBefore   int // em units, small integer
	MarginAfter    int

	set uint16
}

// Merge layers override on top of p, returning a new Props where any
// field override explicitly set takes precedence, and unset fields fall
// through to p. This implements "last rule wins" / "inline beats
// rule-matched beats inherited" when called in cascade order.
func (p Props) Merge(override Props) Props {
	out := p
	if override.set&setDisplay != 0 {
		out.Display = override.Display
		out.set |= setDisplay
	}
	if override.set&setFontWeight != 0 {
		out.FontWeight = override.FontWeight
		out.set |= setFontWeight
	}
	if override.set&setFontStyle != 0 {
		out.FontStyle = override.FontStyle
		out.set |= setFontStyle
	}
	if override.set&setTextDecoration != 0 {
		out.TextDecoration = override.TextDecoration
		out.set |= setTextDecoration
	}
	if override.set&setTextAlign != 0 {
		out.TextAlign = override.TextAlign
		out.set |= setTextAlign
	}
	if override.set&setMarginBefore != 0 {
		out.MarginBefore = override.MarginBefore
		out.set |= setMarginBefore
	}
	if override.set&setMarginAfter != 0 {
		out.MarginAfter = override.MarginAfter
		out.set |= setMarginAfter
	}
	return out
}

// ParseDeclarations parses one declaration block's text (the content
// between `{` and `}`, or an inline style="..." value): "property:value;"
// pairs, tolerant of a missing trailing semicolon and free whitespace.
// Unknown properties are skipped to the next ';'.
func ParseDeclarations(block []byte) Props {
	var out Props
	for _, decl := range splitDeclarations(block) {
		name, value, ok := splitDeclaration(decl)
		if !ok {
			continue
		}
		applyDeclaration(&out, name, value)
	}
	return out
}

func splitDeclarations(block []byte) [][]byte {
	var decls [][]byte
	start := 0
	for i := 0; i < len(block); i++ {
		if block[i] == ';' {
			decls = append(decls, block[start:i])
			start = i + 1
		}
	}
	if start < len(block) {
		decls = append(decls, block[start:])
	}
	return decls
}

func splitDeclaration(decl []byte) (name, value string, ok bool) {
	colon := -1
	for i, b := range decl {
		if b == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		return "", "", false
	}
	name = trimString(decl[:colon])
	value = trimString(decl[colon+1:])
	if name == "" || value == "" {
		return "", "", false
	}
	return toLower(name), value, true
}

func applyDeclaration(p *Props, name, value string) {
	switch name {
	case "display":
		if d, ok := parseDisplay(value); ok {
			p.Display = d
			p.set |= setDisplay
		}
	case "font-weight":
		if w, ok := parseFontWeight(value); ok {
			p.FontWeight = w
			p.set |= setFontWeight
		}
	case "font-style":
		if s, ok := parseFontStyle(value); ok {
			p.FontStyle = s
			p.set |= setFontStyle
		}
	case "text-decoration", "text-decoration-line":
		if d, ok := parseTextDecoration(value); ok {
			p.TextDecoration = d
			p.set |= setTextDecoration
		}
	case "text-align":
		if a, ok := parseTextAlign(value); ok {
			p.TextAlign = a
			p.set |= setTextAlign
		}
	case "margin-top":
		if em, ok := parseEm(value); ok {
			p.MarginBefore = em
			p.set |= setMarginBefore
		}
	case "margin-bottom":
		if em, ok := parseEm(value); ok {
			p.MarginAfter = em
			p.set |= setMarginAfter
		}
	case "margin":
		parts := fields(value)
		if len(parts) == 0 {
			return
		}
		ems := make([]int, 0, len(parts))
		for _, part := range parts {
			em, ok := parseEm(part)
			if !ok {
				return
			}
			ems = append(ems, em)
		}
		top, bottom := marginShorthand(ems)
		p.MarginBefore, p.MarginAfter = top, bottom
		p.set |= setMarginBefore | setMarginAfter
	}
}

// marginShorthand implements CSS's 1/2/3/4-value margin shorthand for the
// two axes this model tracks (before = top, after = bottom).
func marginShorthand(v []int) (before, after int) {
	switch len(v) {
	case 1:
		return v[0], v[0]
	case 2:
		return v[0], v[0]
	case 3:
		return v[0], v[2]
	case 4:
		return v[0], v[2]
	default:
		return 0, 0
	}
}

func parseDisplay(v string) (Display, bool) {
	switch toLower(v) {
	case "inline":
		return DisplayInline, true
	case "block":
		return DisplayBlock, true
	case "list-item":
		return DisplayListItem, true
	case "none":
		return DisplayNone, true
	}
	return 0, false
}

func parseFontWeight(v string) (FontWeight, bool) {
	switch toLower(v) {
	case "bold", "700", "800", "900", "bolder":
		return FontWeightBold, true
	case "normal", "400", "100", "200", "300", "500", "600", "lighter":
		return FontWeightNormal, true
	}
	return 0, false
}

func parseFontStyle(v string) (FontStyle, bool) {
	switch toLower(v) {
	case "italic", "oblique":
		return FontStyleItalic, true
	case "normal":
		return FontStyleNormal, true
	}
	return 0, false
}

func parseTextDecoration(v string) (TextDecoration, bool) {
	var d TextDecoration
	any := false
	for _, tok := range fields(v) {
		switch toLower(tok) {
		case "underline":
			d |= DecorationUnderline
			any = true
		case "line-through":
			d |= DecorationStrike
			any = true
		case "none":
			any = true
		case "overline", "blink":
			any = true // recognized but not representable; contributes no bit
		default:
			return 0, false
		}
	}
	return d, any
}

func parseTextAlign(v string) (TextAlign, bool) {
	switch toLower(v) {
	case "start", "left":
		return TextAlignStart, true
	case "center":
		return TextAlignCenter, true
	case "end", "right":
		return TextAlignEnd, true
	case "justify":
		return TextAlignJustify, true
	}
	return 0, false
}

// parseEm parses a small-integer em value like "1em" or "1.5em", rounding
// toward zero. Non-em units are rejected (caller leaves the field unset).
func parseEm(v string) (int, bool) {
	v = trimString([]byte(v))
	if len(v) < 3 || v[len(v)-2:] != "em" {
		if v == "0" {
			return 0, true
		}
		return 0, false
	}
	numPart := v[:len(v)-2]
	neg := false
	if len(numPart) > 0 && numPart[0] == '-' {
		neg = true
		numPart = numPart[1:]
	}
	intPart := numPart
	if dot := indexByte(numPart, '.'); dot >= 0 {
		intPart = numPart[:dot]
	}
	if intPart == "" {
		intPart = "0"
	}
	n := 0
	for _, c := range intPart {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func fields(s string) []string {
	var out []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' && s[i] != '\t' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, s[start:i])
			start = -1
		}
	}
	return out
}

func trimString(b []byte) string {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return string(b[start:end])
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

func toLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
