package epubstruct

import "testing"

func TestParseContainer(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)
	path, err := ParseContainer(data)
	if err != nil {
		t.Fatalf("ParseContainer: %v", err)
	}
	if path != "OEBPS/content.opf" {
		t.Errorf("got %q", path)
	}
}

func TestParseContainerMissingRootfile(t *testing.T) {
	data := []byte(`<container><rootfiles></rootfiles></container>`)
	_, err := ParseContainer(data)
	if err == nil {
		t.Fatal("expected error when no rootfile present")
	}
}

func TestParseOPFMetadataAndManifestAndSpine(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<package version="3.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata>
    <dc:title>T</dc:title>
    <dc:creator>A</dc:creator>
    <dc:title>Second Title Ignored</dc:title>
  </metadata>
  <manifest>
    <item id="c1" href="chap1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="chap2.xhtml" media-type="application/xhtml+xml"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="c1"/>
    <itemref idref="c2" linear="no"/>
  </spine>
</package>`)

	pkg, err := ParseOPF(data, "OEBPS")
	if err != nil {
		t.Fatalf("ParseOPF: %v", err)
	}
	if pkg.Meta.TitleStr() != "T" {
		t.Errorf("title = %q, want T (first-wins)", pkg.Meta.TitleStr())
	}
	if pkg.Meta.AuthorStr() != "A" {
		t.Errorf("author = %q, want A", pkg.Meta.AuthorStr())
	}
	if len(pkg.Manifest) != 3 {
		t.Fatalf("manifest has %d items, want 3", len(pkg.Manifest))
	}
	if pkg.Manifest["c1"].Href != "chap1.xhtml" {
		t.Errorf("c1 href = %q", pkg.Manifest["c1"].Href)
	}
	if len(pkg.Spine) != 2 {
		t.Fatalf("spine has %d items, want 2", len(pkg.Spine))
	}
	if !pkg.Spine[0].Linear {
		t.Error("spine[0] should be linear (default)")
	}
	if pkg.Spine[1].Linear {
		t.Error("spine[1] has linear=\"no\", should be recorded as non-linear")
	}
	if pkg.SpineTocRef != "ncx" {
		t.Errorf("SpineTocRef = %q, want ncx", pkg.SpineTocRef)
	}
}

func TestResolveSpine(t *testing.T) {
	data := []byte(`<package xmlns="http://www.idpf.org/2007/opf">
  <manifest>
    <item id="c1" href="chap1.xhtml" media-type="application/xhtml+xml"/>
    <item id="missing" href="ghost.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="c1"/>
    <itemref idref="missing"/>
    <itemref idref="nosuchid"/>
  </spine>
</package>`)
	pkg, err := ParseOPF(data, "OEBPS")
	if err != nil {
		t.Fatal(err)
	}

	zipNames := map[string]int{"OEBPS/chap1.xhtml": 0}
	find := func(name string) (int, bool) {
		i, ok := zipNames[name]
		return i, ok
	}
	pkg.ResolveSpine(find)

	if pkg.Spine[0].Err != nil || pkg.Spine[0].EntryIndex != 0 {
		t.Errorf("spine[0]: index=%d err=%v, want index=0 err=nil", pkg.Spine[0].EntryIndex, pkg.Spine[0].Err)
	}
	if pkg.Spine[1].Err == nil {
		t.Error("spine[1] references an entry not in the zip index, expected error")
	}
	if pkg.Spine[2].Err == nil {
		t.Error("spine[2] references an unknown manifest id, expected error")
	}
}

func TestResolveHrefNormalizationAndRejection(t *testing.T) {
	cases := []struct {
		dir, href, want string
		wantErr         bool
	}{
		{"OEBPS", "chap1.xhtml", "OEBPS/chap1.xhtml", false},
		{"OEBPS/text", "../images/cover.png", "OEBPS/images/cover.png", false},
		{"OEBPS", "chap%201.xhtml", "OEBPS/chap 1.xhtml", false},
		{"OEBPS", "/etc/passwd", "", true},
		{"OEBPS", "http://example.com/x", "", true},
		{".", "../../escape.xhtml", "", true},
	}
	for _, c := range cases {
		got, err := ResolveHref(c.dir, c.href)
		if c.wantErr {
			if err == nil {
				t.Errorf("ResolveHref(%q,%q) = %q, want error", c.dir, c.href, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveHref(%q,%q): %v", c.dir, c.href, err)
			continue
		}
		if got != c.want {
			t.Errorf("ResolveHref(%q,%q) = %q, want %q", c.dir, c.href, got, c.want)
		}
	}
}

func TestFindTOCSourcePrefersSpineToc(t *testing.T) {
	pkg := &Package{
		Manifest: map[string]ManifestEntry{
			"ncx": {Href: "toc.ncx", MediaType: "application/x-dtbncx+xml"},
			"nav": {Href: "nav.xhtml", Properties: "nav"},
		},
		SpineTocRef: "ncx",
	}
	kind, href, ok := pkg.FindTOCSource()
	if !ok || kind != TocNCX || href != "toc.ncx" {
		t.Errorf("got kind=%v href=%q ok=%v", kind, href, ok)
	}
}

func TestFindTOCSourceFallsBackToNav(t *testing.T) {
	pkg := &Package{
		Manifest: map[string]ManifestEntry{
			"nav": {Href: "nav.xhtml", Properties: "nav"},
		},
	}
	kind, href, ok := pkg.FindTOCSource()
	if !ok || kind != TocNAV || href != "nav.xhtml" {
		t.Errorf("got kind=%v href=%q ok=%v", kind, href, ok)
	}
}

func TestParseNCX(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/">
  <navMap>
    <navPoint id="np1">
      <navLabel><text>Chapter One</text></navLabel>
      <content src="chap1.xhtml"/>
      <navPoint id="np1-1">
        <navLabel><text>Section 1.1</text></navLabel>
        <content src="chap1.xhtml#s1"/>
      </navPoint>
    </navPoint>
  </navMap>
</ncx>`)
	find := func(path string) (int, bool) {
		if path == "OEBPS/chap1.xhtml" {
			return 0, true
		}
		return -1, false
	}
	items, err := parseNCX(data, "OEBPS", find)
	if err != nil {
		t.Fatalf("parseNCX: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Label != "Chapter One" || items[0].SpineIndex != 0 || items[0].Depth != 1 {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].Label != "Section 1.1" || items[1].Fragment != "s1" || items[1].Depth != 2 {
		t.Errorf("items[1] = %+v", items[1])
	}
}

func TestParseNAV(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
  <nav epub:type="toc">
    <ol>
      <li><a href="chap1.xhtml">Chapter One</a></li>
      <li><a href="missing.xhtml">Dropped</a></li>
    </ol>
  </nav>
</body>
</html>`)
	find := func(path string) (int, bool) {
		if path == "OEBPS/chap1.xhtml" {
			return 0, true
		}
		return -1, false
	}
	items, err := parseNAV(data, "OEBPS", find)
	if err != nil {
		t.Fatalf("parseNAV: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 (unmatched href dropped)", len(items))
	}
	if items[0].Label != "Chapter One" {
		t.Errorf("label = %q", items[0].Label)
	}
}

func TestParseContainerForeignNamespaceRejected(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<container xmlns="urn:example:not-a-container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf"/>
  </rootfiles>
</container>`)
	if _, err := ParseContainer(data); err == nil {
		t.Fatal("rootfile under a foreign namespace must not resolve")
	}
}

func TestParseOPFForeignNamespaceItemsIgnored(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:x="urn:example:other">
  <manifest>
    <item id="real" href="a.xhtml" media-type="application/xhtml+xml"/>
    <x:item id="fake" href="b.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="real"/>
    <x:itemref idref="fake"/>
  </spine>
</package>`)
	pkg, err := ParseOPF(data, "OEBPS")
	if err != nil {
		t.Fatalf("ParseOPF: %v", err)
	}
	if _, ok := pkg.Manifest["fake"]; ok {
		t.Error("foreign-namespace item must not enter the manifest")
	}
	if _, ok := pkg.Manifest["real"]; !ok {
		t.Error("OPF-namespace item missing from the manifest")
	}
	if len(pkg.Spine) != 1 || pkg.Spine[0].ManifestID != "real" {
		t.Errorf("spine = %+v, want only the OPF-namespace itemref", pkg.Spine)
	}
}

func TestParseNCXForeignNamespaceIgnored(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<ncx xmlns="urn:example:not-ncx">
  <navMap>
    <navPoint id="np1">
      <navLabel><text>Chapter One</text></navLabel>
      <content src="chap1.xhtml"/>
    </navPoint>
  </navMap>
</ncx>`)
	find := func(path string) (int, bool) { return 0, true }
	items, err := parseNCX(data, "OEBPS", find)
	if err != nil {
		t.Fatalf("parseNCX: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("got %d items from a foreign-namespace document, want 0", len(items))
	}
}

func TestParseNAVTypeInForeignNamespaceIgnored(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:z="urn:example:other">
<body>
  <nav z:type="toc">
    <ol><li><a href="chap1.xhtml">Chapter One</a></li></ol>
  </nav>
</body>
</html>`)
	find := func(path string) (int, bool) { return 0, true }
	items, err := parseNAV(data, "OEBPS", find)
	if err != nil {
		t.Fatalf("parseNAV: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("got %d items, want 0 (type attribute not in the ops namespace)", len(items))
	}
}
