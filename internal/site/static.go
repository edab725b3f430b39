package site

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jakubmeysner/kobweb/internal/routing"
)

// resolvedCacheSize bounds the extensionless-lookup memoization. Exported
// sites are immutable while serving, so entries never go stale.
const resolvedCacheSize = 4096

// StaticSite serves an exported static-layout site. Lookup order for a
// path: the file itself, a directory's index.html, then the path with
// ".html" appended, and finally the site's 404.html served with status
// 404. Redirect rules run before any disk lookup.
type StaticSite struct {
	prefixer  *routing.Prefixer
	redirects *routing.Redirects
	root      string
	resolved  *lru.Cache[string, string]
}

// NewStaticSite builds the handler rooted at root, which must be an
// existing directory.
func NewStaticSite(prefixer *routing.Prefixer, redirects *routing.Redirects, root string) (*StaticSite, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving site root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("site root %q: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("site root %q is not a directory", absRoot)
	}

	resolved, err := lru.New[string, string](resolvedCacheSize)
	if err != nil {
		return nil, err
	}
	return &StaticSite{
		prefixer:  prefixer,
		redirects: redirects,
		root:      absRoot,
		resolved:  resolved,
	}, nil
}

func (s *StaticSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rel, ok := s.prefixer.Strip(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if rewritten, changed := s.redirects.Rewrite(rel); changed {
		http.Redirect(w, r, s.prefixer.Join(rewritten), http.StatusMovedPermanently)
		return
	}

	target, ok := s.resolve(rel)
	if !ok {
		s.notFound(w)
		return
	}
	serveDisk(w, r, target)
}

// resolve maps a site-relative path to the file backing it.
func (s *StaticSite) resolve(rel string) (string, bool) {
	if strings.Contains(rel, "..") {
		return "", false
	}
	if target, ok := s.resolved.Get(rel); ok {
		return target, true
	}

	candidate := filepath.Join(s.root, filepath.FromSlash(rel))
	if info, err := os.Stat(candidate); err == nil {
		if info.Mode().IsRegular() {
			s.resolved.Add(rel, candidate)
			return candidate, true
		}
		if info.IsDir() {
			index := filepath.Join(candidate, "index.html")
			if info, err := os.Stat(index); err == nil && info.Mode().IsRegular() {
				s.resolved.Add(rel, index)
				return index, true
			}
		}
	}

	withExt := candidate + ".html"
	if info, err := os.Stat(withExt); err == nil && info.Mode().IsRegular() {
		s.resolved.Add(rel, withExt)
		return withExt, true
	}

	return "", false
}

// notFound serves the exported 404 page when the site ships one, an empty
// 404 otherwise.
func (s *StaticSite) notFound(w http.ResponseWriter) {
	body, err := os.ReadFile(filepath.Join(s.root, "404.html"))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write(body)
}
