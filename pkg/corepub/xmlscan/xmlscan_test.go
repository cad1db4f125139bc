package xmlscan

import "testing"

func TestScannerBasicTags(t *testing.T) {
	s := New([]byte(`<p>Hello <b>world</b>.</p>`))

	var got []string
	for {
		ev := s.Next()
		if ev.Kind == EventEOF {
			break
		}
		switch ev.Kind {
		case EventStartTag:
			got = append(got, "start:"+string(ev.Name))
		case EventEndTag:
			got = append(got, "end:"+string(ev.Name))
		case EventText:
			got = append(got, "text:"+string(ev.Text))
		}
	}

	want := []string{"start:p", "text:Hello ", "start:b", "text:world", "end:b", "text:.", "end:p"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScannerSelfClosing(t *testing.T) {
	s := New([]byte(`<br/><img src="a.png"/>`))

	ev := s.Next()
	if ev.Kind != EventSelfClosing || string(ev.Name) != "br" {
		t.Fatalf("got %+v", ev)
	}
	ev = s.Next()
	if ev.Kind != EventSelfClosing || string(ev.Name) != "img" {
		t.Fatalf("got %+v", ev)
	}
	name, val, ok := ev.Attrs.Next()
	if !ok || string(name) != "src" || string(val) != "a.png" {
		t.Fatalf("got name=%q val=%q ok=%v", name, val, ok)
	}
}

func TestScannerAttributesMultiple(t *testing.T) {
	s := New([]byte(`<rootfile full-path="EPUB/content.opf" media-type='application/oebps-package+xml'/>`))
	ev := s.Next()
	if ev.Kind != EventSelfClosing {
		t.Fatalf("kind = %v", ev.Kind)
	}
	var names, values []string
	for {
		n, v, ok := ev.Attrs.Next()
		if !ok {
			break
		}
		names = append(names, string(n))
		values = append(values, string(v))
	}
	if len(names) != 2 || names[0] != "full-path" || values[0] != "EPUB/content.opf" {
		t.Fatalf("names=%v values=%v", names, values)
	}
}

func TestScannerCommentsAndPI(t *testing.T) {
	s := New([]byte(`<?xml version="1.0"?><!-- comment --><p>x</p>`))
	ev := s.Next()
	if ev.Kind != EventPI {
		t.Fatalf("kind = %v", ev.Kind)
	}
	ev = s.Next()
	if ev.Kind != EventComment {
		t.Fatalf("kind = %v", ev.Kind)
	}
	ev = s.Next()
	if ev.Kind != EventStartTag || string(ev.Name) != "p" {
		t.Fatalf("got %+v", ev)
	}
}

func TestScannerNamespacedTag(t *testing.T) {
	s := New([]byte(`<dc:title>T</dc:title>`))
	ev := s.Next()
	if ev.Kind != EventStartTag || string(ev.Name) != "title" || string(ev.Raw) != "dc:title" {
		t.Fatalf("got %+v", ev)
	}
}

func TestScannerUnterminatedTag(t *testing.T) {
	s := New([]byte(`<p`))
	ev := s.Next()
	if ev.Kind != EventError {
		t.Fatalf("kind = %v, want error", ev.Kind)
	}
	if s.Next().Kind != EventEOF {
		t.Fatal("expected EOF after error")
	}
}

func TestDecodeEntitiesNumeric(t *testing.T) {
	got := string(DecodeEntities([]byte("&#65;&#x42;C")))
	if got != "ABC" {
		t.Errorf("got %q, want ABC", got)
	}
}

func TestDecodeEntitiesSinglePass(t *testing.T) {
	got := string(DecodeEntities([]byte("&amp;amp;")))
	if got != "&amp;" {
		t.Errorf("got %q, want &amp;", got)
	}
}

func TestDecodeEntitiesUnknownPassthrough(t *testing.T) {
	got := string(DecodeEntities([]byte("&foo;")))
	if got != "&foo;" {
		t.Errorf("got %q, want &foo;", got)
	}
}

func TestScannerNamespaceResolution(t *testing.T) {
	doc := `<container xmlns="urn:oasis:names:tc:opendocument:xmlns:container">` +
		`<rootfiles><rootfile full-path="OEBPS/content.opf"/></rootfiles></container>`
	s := New([]byte(doc))

	for _, wantName := range []string{"container", "rootfiles", "rootfile"} {
		ev := s.Next()
		if string(ev.Name) != wantName {
			t.Fatalf("got %q, want %q", ev.Name, wantName)
		}
		if ev.NSURI != NamespaceContainer {
			t.Errorf("%s: NSURI = %q, want %q", wantName, ev.NSURI, NamespaceContainer)
		}
	}
}

func TestScannerPrefixedNamespaceAndAttr(t *testing.T) {
	doc := `<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">` +
		`<nav epub:type="toc"></nav></html>`
	s := New([]byte(doc))

	ev := s.Next() // html
	if ev.NSURI != NamespaceXHTML {
		t.Fatalf("html NSURI = %q", ev.NSURI)
	}
	ev = s.Next() // nav
	if ev.NSURI != NamespaceXHTML {
		t.Errorf("nav NSURI = %q, want inherited default", ev.NSURI)
	}
	name, val, ok := ev.Attrs.Next()
	if !ok || string(Local(name)) != "type" || string(val) != "toc" {
		t.Fatalf("attr = %q=%q ok=%v", name, val, ok)
	}
	if uri := ev.AttrNSURI(name); uri != NamespaceEpub {
		t.Errorf("epub:type NSURI = %q, want %q", uri, NamespaceEpub)
	}
	if uri := ev.AttrNSURI([]byte("href")); uri != "" {
		t.Errorf("unprefixed attr NSURI = %q, want empty", uri)
	}
}

func TestScannerNamespaceScopeRestoredAfterEndTag(t *testing.T) {
	doc := `<a xmlns="outer"><b xmlns="inner"/><c xmlns:p="q"><d/></c><e/></a>`
	s := New([]byte(doc))

	if ev := s.Next(); ev.NSURI != "outer" { // a
		t.Fatalf("a NSURI = %q", ev.NSURI)
	}
	if ev := s.Next(); ev.NSURI != "inner" { // b, self-closing override
		t.Fatalf("b NSURI = %q", ev.NSURI)
	}
	if ev := s.Next(); ev.NSURI != "outer" { // c, b's binding gone
		t.Fatalf("c NSURI = %q", ev.NSURI)
	}
	if ev := s.Next(); ev.NSURI != "outer" { // d
		t.Fatalf("d NSURI = %q", ev.NSURI)
	}
	s.Next() // </c>
	if ev := s.Next(); ev.NSURI != "outer" { // e, c's prefix binding gone
		t.Fatalf("e NSURI = %q", ev.NSURI)
	}
}

func TestScannerUnboundPrefixResolvesEmpty(t *testing.T) {
	s := New([]byte(`<dc:title>T</dc:title>`))
	ev := s.Next()
	if string(ev.Name) != "title" || ev.NSURI != "" {
		t.Errorf("got name=%q NSURI=%q, want title with empty NSURI", ev.Name, ev.NSURI)
	}
}
