package routing

import "strings"

// Prefixer holds the site's base path, normalized to carry no leading or
// trailing slash, and reattaches it at the wire boundary. All route
// registration and Location headers go through Join so the slash handling
// lives in one place.
type Prefixer struct {
	prefix string
}

// NewPrefixer normalizes basePath: one leading and one trailing slash are
// stripped, so "", "/", "docs", "/docs" and "docs/" are all equivalent.
func NewPrefixer(basePath string) *Prefixer {
	p := strings.TrimPrefix(basePath, "/")
	p = strings.TrimSuffix(p, "/")
	return &Prefixer{prefix: p}
}

// Base returns the normalized prefix, e.g. "docs" or "a/b". Empty when the
// site is mounted at the host root.
func (p *Prefixer) Base() string {
	return p.prefix
}

// Join returns "/" + prefix + "/" + tail with duplicate slashes collapsed.
// With an empty prefix it degenerates to "/" + tail.
func (p *Prefixer) Join(tail string) string {
	return singleJoinSlash("/"+p.prefix, tail)
}

// Strip removes the prefix from a wire path, returning the site-relative
// remainder and whether the path was under the prefix at all. The remainder
// keeps a leading slash; stripping the bare prefix yields "/".
func (p *Prefixer) Strip(path string) (string, bool) {
	if p.prefix == "" {
		return path, true
	}
	full := "/" + p.prefix
	if path == full {
		return "/", true
	}
	if strings.HasPrefix(path, full+"/") {
		return path[len(full):], true
	}
	return "", false
}

// singleJoinSlash joins two path fragments with exactly one slash between
// them.
func singleJoinSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
