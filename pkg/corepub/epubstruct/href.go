package epubstruct

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/adammathes/epubreader/pkg/corepub/errs"
)

// ResolveHref resolves a manifest/spine/TOC href relative to dir (the OPF
// or TOC document's directory) into a container-relative path matching ZIP
// entry naming. Hrefs are percent-decoded (manifest hrefs are IRI-encoded
// but ZIP entry names are not) and NFC-normalized, since some authoring
// tools emit NFD-decomposed Unicode in hrefs while the ZIP entries
// themselves are NFC. "." and ".." segments are collapsed; an absolute
// href (leading "/" or a URL scheme) is rejected as malformed.
func ResolveHref(dir, href string) (string, error) {
	if href == "" {
		return "", errs.New(errs.BadFormat, "epubstruct.ResolveHref", nil)
	}
	if frag := strings.IndexByte(href, '#'); frag >= 0 {
		href = href[:frag]
	}
	if href == "" {
		return "", errs.New(errs.BadFormat, "epubstruct.ResolveHref", nil)
	}
	if strings.Contains(href, "://") || strings.HasPrefix(href, "/") {
		return "", errs.New(errs.BadFormat, "epubstruct.ResolveHref", nil)
	}

	decoded, err := url.PathUnescape(href)
	if err != nil {
		decoded = href
	}
	decoded = norm.NFC.String(decoded)

	var joined string
	if dir == "" || dir == "." {
		joined = decoded
	} else {
		joined = dir + "/" + decoded
	}
	clean := path.Clean(joined)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errs.New(errs.BadFormat, "epubstruct.ResolveHref", nil)
	}
	if len(clean) > MaxPathLen {
		return "", errs.New(errs.PathTooLong, "epubstruct.ResolveHref", nil)
	}
	return clean, nil
}

// SplitFragment separates href into its path and fragment ("a.xhtml#s2"
// -> "a.xhtml", "s2"). Used by TOC parsing, which needs the fragment kept
// separately from the resolved path.
func SplitFragment(href string) (path, fragment string) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i], href[i+1:]
	}
	return href, ""
}
