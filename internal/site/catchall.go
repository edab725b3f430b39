package site

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jakubmeysner/kobweb/internal/routing"
)

// CatchAll resolves every GET no explicit route claimed. The steps run in
// a fixed order and exactly one responds:
//
//  1. the compiled script or its source map, matched by file name
//  2. redirect rules, answered with 301
//  3. the dev content root, when the path names a regular file there
//  4. a 404 for requests that do not accept text/html, so a missing
//     favicon or image stays a 404 instead of becoming the index page
//  5. the index page, from which the client app routes on its own
type CatchAll struct {
	prefixer  *routing.Prefixer
	redirects *routing.Redirects
	script    *ScriptServer
	extraRoot string
	indexPath string
}

// NewCatchAll builds the fallback chain. script may be nil (static
// layout), extraRoot may be empty (prod).
func NewCatchAll(prefixer *routing.Prefixer, redirects *routing.Redirects, script *ScriptServer, extraRoot, indexPath string) *CatchAll {
	return &CatchAll{
		prefixer:  prefixer,
		redirects: redirects,
		script:    script,
		extraRoot: extraRoot,
		indexPath: indexPath,
	}
}

func (c *CatchAll) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rel, ok := c.prefixer.Strip(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if c.script != nil {
		if segment := path.Base(rel); c.script.Matches(segment) {
			c.script.Serve(w, r, segment)
			return
		}
	}

	if rewritten, changed := c.redirects.Rewrite(rel); changed {
		http.Redirect(w, r, c.prefixer.Join(rewritten), http.StatusMovedPermanently)
		return
	}

	if c.extraRoot != "" && !strings.Contains(rel, "..") {
		full := filepath.Join(c.extraRoot, filepath.FromSlash(rel))
		if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
			serveDisk(w, r, full)
			return
		}
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	serveDisk(w, r, c.indexPath)
}
