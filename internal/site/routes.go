package site

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jakubmeysner/kobweb/internal/logging"
)

// FileRoute maps one exported file to the site-relative pattern it is
// served at.
type FileRoute struct {
	Pattern string
	Path    string
}

// WalkSiteRoutes builds the explicit route list for an exported fullstack
// site: every file under resources/ at its own path, every page under
// pages/ registered extensionless, index pages at their directory path.
// Two files claiming the same route keep the first and log the loser.
func WalkSiteRoutes(siteRoot string) ([]FileRoute, error) {
	var routes []FileRoute
	seen := make(map[string]string)

	add := func(pattern, filePath string) {
		if prev, ok := seen[pattern]; ok {
			logging.Warn("duplicate route in exported site",
				zap.String("pattern", pattern),
				zap.String("kept", prev),
				zap.String("skipped", filePath))
			return
		}
		seen[pattern] = filePath
		routes = append(routes, FileRoute{Pattern: pattern, Path: filePath})
	}

	if err := walkFiles(filepath.Join(siteRoot, "resources"), func(rel, filePath string) {
		add("/"+rel, filePath)
	}); err != nil {
		return nil, err
	}

	if err := walkFiles(filepath.Join(siteRoot, "pages"), func(rel, filePath string) {
		add(pagePattern(rel), filePath)
	}); err != nil {
		return nil, err
	}

	return routes, nil
}

// walkFiles visits every regular file under root with its slash-separated
// relative path. A missing root is fine; exports may omit a tree entirely.
func walkFiles(root string, visit func(rel, path string)) error {
	err := filepath.WalkDir(root, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, filePath)
		if err != nil {
			return err
		}
		visit(filepath.ToSlash(rel), filePath)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// pagePattern converts a pages/ relative path to its route: "a/b.html"
// serves at "/a/b", "foo/index.html" at "/foo", the root index at "/".
// Files without the .html suffix keep their full name.
func pagePattern(rel string) string {
	if !strings.HasSuffix(rel, ".html") {
		return "/" + rel
	}
	if path.Base(rel) == "index.html" {
		dir := path.Dir(rel)
		if dir == "." {
			return "/"
		}
		return "/" + dir
	}
	return "/" + strings.TrimSuffix(rel, ".html")
}
