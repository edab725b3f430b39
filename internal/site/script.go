package site

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jakubmeysner/kobweb/internal/config"
)

// ScriptServer serves the compiled site script and its source map. Both
// carry a weak ETag hashed from the file contents so clients revalidate
// cheaply; in dev the script changes on every rebuild and Cache-Control
// forces that revalidation, in prod it can be cached for a while. Script
// file names are not content-hashed, so long cache lifetimes are off the
// table.
type ScriptServer struct {
	env  config.Environment
	path string
	name string

	mu    sync.Mutex
	etags map[string]etagEntry
}

type etagEntry struct {
	size  int64
	mtime time.Time
	tag   string
}

// NewScriptServer serves the script at path plus the adjacent .map file.
func NewScriptServer(env config.Environment, path string) *ScriptServer {
	return &ScriptServer{
		env:   env,
		path:  path,
		name:  filepath.Base(path),
		etags: make(map[string]etagEntry),
	}
}

// Matches reports whether the final path segment names the script or its
// source map.
func (s *ScriptServer) Matches(segment string) bool {
	return segment == s.name || segment == s.name+".map"
}

// Serve responds with the script or map file named by segment.
func (s *ScriptServer) Serve(w http.ResponseWriter, r *http.Request, segment string) {
	target := s.path
	if segment == s.name+".map" {
		target += ".map"
	}

	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if tag, err := s.etagFor(target, info); err == nil {
		w.Header().Set("ETag", tag)
	}
	if s.env == config.EnvDev {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}

	serveDisk(w, r, target)
}

// etagFor hashes the file, reusing the previous hash while size and mtime
// are unchanged.
func (s *ScriptServer) etagFor(path string, info os.FileInfo) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.etags[path]; ok && e.size == info.Size() && e.mtime.Equal(info.ModTime()) {
		return e.tag, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	tag := fmt.Sprintf(`W/"%016x"`, h.Sum64())
	s.etags[path] = etagEntry{size: info.Size(), mtime: info.ModTime(), tag: tag}
	return tag, nil
}
