package cssprops

// Rule is one parsed stylesheet rule, restricted to an ANDed type selector
// and class selector: descendant combinators, attribute
// selectors and pseudo-classes are discarded at parse time.
type Rule struct {
	TypeSel  string // tag local name; "" matches any type
	ClassSel string // class name; "" means no class requirement
	Props    Props
}

// Stylesheet is an ordered list of rules; later rules win on conflict.
type Stylesheet struct {
	Rules []Rule
}

// ParseStylesheet parses "selector { decls }" rules out of a full
// stylesheet. Selectors beyond a single type+class pair are dropped along
// with their rule (the declaration is simply never applied).
func ParseStylesheet(data []byte) Stylesheet {
	var sheet Stylesheet
	pos := 0
	for pos < len(data) {
		open := indexByteFrom(data, '{', pos)
		if open < 0 {
			break
		}
		close := indexByteFrom(data, '}', open)
		if close < 0 {
			break
		}
		selectorText := string(data[pos:open])
		body := data[open+1 : close]
		pos = close + 1

		for _, sel := range splitSelectors(selectorText) {
			typeSel, classSel, ok := parseSimpleSelector(sel)
			if !ok {
				continue
			}
			sheet.Rules = append(sheet.Rules, Rule{
				TypeSel:  typeSel,
				ClassSel: classSel,
				Props:    ParseDeclarations(body),
			})
		}
	}
	return sheet
}

// Match resolves the cascade of every rule matching tag+classes, last rule
// in document order winning on a per-property basis.
func (s Stylesheet) Match(tag string, classes []string) Props {
	var out Props
	tag = toLower(tag)
	for _, r := range s.Rules {
		if r.TypeSel != "" && r.TypeSel != tag {
			continue
		}
		if r.ClassSel != "" && !hasClass(classes, r.ClassSel) {
			continue
		}
		out = out.Merge(r.Props)
	}
	return out
}

func hasClass(classes []string, want string) bool {
	for _, c := range classes {
		if c == want {
			return true
		}
	}
	return false
}

func splitSelectors(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

// parseSimpleSelector accepts only "tag", ".class" or "tag.class" (ANDed
// type+class). Anything with a space (descendant combinator), '>', ':',
// '[' or '#' is rejected outright.
func parseSimpleSelector(sel string) (typeSel, classSel string, ok bool) {
	sel = trimString([]byte(sel))
	if sel == "" {
		return "", "", false
	}
	for i := 0; i < len(sel); i++ {
		switch sel[i] {
		case ' ', '\t', '>', '+', '~', ':', '[', '#':
			return "", "", false
		}
	}
	dot := indexByte(sel, '.')
	if dot < 0 {
		return toLower(sel), "", true
	}
	if dot == 0 {
		return "", sel[1:], true
	}
	return toLower(sel[:dot]), sel[dot+1:], true
}

func indexByteFrom(data []byte, b byte, from int) int {
	for i := from; i < len(data); i++ {
		if data[i] == b {
			return i
		}
	}
	return -1
}
