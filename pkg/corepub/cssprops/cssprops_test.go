package cssprops

import "testing"

func TestParseDeclarationsBasic(t *testing.T) {
	p := ParseDeclarations([]byte("font-weight: bold; font-style:italic;text-align :  center"))
	if p.FontWeight != FontWeightBold {
		t.Errorf("font-weight = %v", p.FontWeight)
	}
	if p.FontStyle != FontStyleItalic {
		t.Errorf("font-style = %v", p.FontStyle)
	}
	if p.TextAlign != TextAlignCenter {
		t.Errorf("text-align = %v", p.TextAlign)
	}
}

func TestParseDeclarationsMissingTrailingSemicolon(t *testing.T) {
	p := ParseDeclarations([]byte("display:none"))
	if p.Display != DisplayNone {
		t.Errorf("display = %v", p.Display)
	}
}

func TestParseDeclarationsUnknownPropertySkipped(t *testing.T) {
	p := ParseDeclarations([]byte("frobnicate: yes; display: block"))
	if p.Display != DisplayBlock {
		t.Errorf("display = %v", p.Display)
	}
}

func TestParseDeclarationsTextDecoration(t *testing.T) {
	p := ParseDeclarations([]byte("text-decoration: underline line-through"))
	if p.TextDecoration != DecorationUnderline|DecorationStrike {
		t.Errorf("decoration = %v", p.TextDecoration)
	}
}

func TestParseDeclarationsMargin(t *testing.T) {
	p := ParseDeclarations([]byte("margin: 1em 2em 3em 4em"))
	if p.MarginBefore != 1 || p.MarginAfter != 3 {
		t.Errorf("before=%d after=%d", p.MarginBefore, p.MarginAfter)
	}
}

func TestMergeCascade(t *testing.T) {
	parent := ParseDeclarations([]byte("font-weight: bold"))
	child := ParseDeclarations([]byte("font-style: italic"))
	merged := parent.Merge(child)
	if merged.FontWeight != FontWeightBold || merged.FontStyle != FontStyleItalic {
		t.Errorf("merged = %+v", merged)
	}
}

func TestStylesheetTypeAndClassSelectors(t *testing.T) {
	sheet := ParseStylesheet([]byte(`
		p { text-align: justify; }
		.note { font-style: italic; }
		h1.title { font-weight: bold; }
		p.note, div.note { text-decoration: underline; }
	`))

	p := sheet.Match("p", nil)
	if p.TextAlign != TextAlignJustify {
		t.Errorf("p text-align = %v", p.TextAlign)
	}

	noted := sheet.Match("p", []string{"note"})
	if noted.FontStyle != FontStyleItalic || noted.TextDecoration != DecorationUnderline {
		t.Errorf("p.note = %+v", noted)
	}

	title := sheet.Match("h1", []string{"title"})
	if title.FontWeight != FontWeightBold {
		t.Errorf("h1.title = %+v", title)
	}

	plain := sheet.Match("span", nil)
	if plain.FontWeight != FontWeightUnset {
		t.Errorf("span should not match any rule, got %+v", plain)
	}
}

func TestStylesheetDescendantSelectorDiscarded(t *testing.T) {
	sheet := ParseStylesheet([]byte(`div p { color: red; font-weight: bold; }`))
	if len(sheet.Rules) != 0 {
		t.Errorf("descendant selector should be discarded, got %d rules", len(sheet.Rules))
	}
}

func TestStylesheetLastWins(t *testing.T) {
	sheet := ParseStylesheet([]byte(`
		p { font-weight: bold; }
		p { font-weight: normal; }
	`))
	got := sheet.Match("p", nil)
	if got.FontWeight != FontWeightNormal {
		t.Errorf("got %v, want normal (last rule wins)", got.FontWeight)
	}
}
