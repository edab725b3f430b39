package routing

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// Mux routes requests in two tiers. Exact paths (the status feed, the
// stream endpoint, pre-registered site files) live in a radix tree; the API
// subtree is mounted as a prefix handler consulted when the tree misses,
// because a tree catch-all under /api would conflict with the exact routes
// registered beside it. Whatever neither tier claims falls through to the
// catch-all handler.
type Mux struct {
	tree     *httprouter.Router
	prefixes []prefixEntry
	catchAll http.Handler
}

type prefixEntry struct {
	prefix  string
	handler http.Handler
}

// NewMux creates an empty Mux. Trailing-slash and path-case fixups are left
// off: path normalization is an explicit middleware decision, and one
// assembly deliberately runs without it.
func NewMux() *Mux {
	tree := httprouter.New()
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false
	tree.HandleMethodNotAllowed = false
	m := &Mux{tree: tree}
	tree.NotFound = http.HandlerFunc(m.fallback)
	return m
}

// Handle registers an exact route for one method.
func (m *Mux) Handle(method, path string, h http.Handler) {
	m.tree.Handler(method, path, h)
}

// HandlePrefix mounts h under path: it receives requests for path itself
// and anything beneath it, for any method, whenever no exact route matched.
// Prefixes are consulted in registration order.
func (m *Mux) HandlePrefix(path string, h http.Handler) {
	m.prefixes = append(m.prefixes, prefixEntry{prefix: path, handler: h})
}

// SetCatchAll installs the terminal fallback handler.
func (m *Mux) SetCatchAll(h http.Handler) {
	m.catchAll = h
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.tree.ServeHTTP(w, r)
}

func (m *Mux) fallback(w http.ResponseWriter, r *http.Request) {
	for _, pe := range m.prefixes {
		if pathHasPrefix(r.URL.Path, pe.prefix) {
			pe.handler.ServeHTTP(w, r)
			return
		}
	}
	if m.catchAll != nil {
		m.catchAll.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

// pathHasPrefix reports whether path equals prefix or sits beneath it on a
// segment boundary, so "/apifoo" is not under "/api".
func pathHasPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}
