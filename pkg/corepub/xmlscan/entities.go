package xmlscan

import (
	"bytes"
	"strconv"
)

// xmlNamedEntities is the fixed set of named entities the XML scanner
// honors. htmlstrip layers a larger, HTML-flavoured set on top
// by calling DecodeEntitiesWith with its own table.
var xmlNamedEntities = map[string]rune{
	"amp":  '&',
	"lt":   '<',
	"gt":   '>',
	"quot": '"',
	"apos": '\'',
}

// DecodeEntities decodes XML's five named entities plus numeric character
// references (&#dd; and &#xhh;) in a single pass. Unknown named entities
// pass through unchanged.
func DecodeEntities(b []byte) []byte {
	return DecodeEntitiesWith(b, xmlNamedEntities)
}

// DecodeEntitiesWith decodes using a caller-supplied named-entity table in
// addition to numeric references, letting htmlstrip extend the XML set
// without duplicating the scanning loop.
func DecodeEntitiesWith(b []byte, named map[string]rune) []byte {
	if !bytes.ContainsRune(b, '&') {
		return b
	}
	var out bytes.Buffer
	out.Grow(len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '&' {
			out.WriteByte(b[i])
			continue
		}
		semi := bytes.IndexByte(b[i:], ';')
		if semi < 0 {
			out.WriteByte(b[i])
			continue
		}
		semi += i
		entity := b[i+1 : semi]
		if r, ok := decodeOne(entity, named); ok {
			out.WriteRune(r)
			i = semi
			continue
		}
		out.WriteByte(b[i])
	}
	return out.Bytes()
}

func decodeOne(entity []byte, named map[string]rune) (rune, bool) {
	if len(entity) == 0 {
		return 0, false
	}
	if entity[0] == '#' {
		if len(entity) > 1 && (entity[1] == 'x' || entity[1] == 'X') {
			n, err := strconv.ParseUint(string(entity[2:]), 16, 32)
			if err != nil {
				return 0, false
			}
			return rune(n), true
		}
		n, err := strconv.ParseUint(string(entity[1:]), 10, 32)
		if err != nil {
			return 0, false
		}
		return rune(n), true
	}
	if r, ok := named[string(entity)]; ok {
		return r, true
	}
	return 0, false
}
