package htmlstrip

// htmlEntities extends the XML scanner's five predefined entities with the
// minimal HTML named set a reflowable-text strip needs. Unknown named
// entities pass through unchanged, same as xmlscan's default behavior.
// nbsp decodes to U+00A0 rather than a plain space so the whitespace
// collapser (which only treats ASCII space/tab/CR/LF as collapsible)
// leaves it intact.
var htmlEntities = map[string]rune{
	"amp":  '&',
	"lt":   '<',
	"gt":   '>',
	"quot": '"',
	"apos": '\'',

	"nbsp":   '\u00a0',
	"mdash":  '—',
	"ndash":  '–',
	"hellip": '…',
	"lsquo":  '‘',
	"rsquo":  '’',
	"ldquo":  '“',
	"rdquo":  '”',
}
