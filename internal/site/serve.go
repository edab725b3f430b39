package site

import (
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/jakubmeysner/kobweb/internal/logging"
)

// serveDisk writes the file at path through ServeContent, so range and
// conditional requests work while none of ServeFile's index.html and
// directory redirect special cases apply.
func serveDisk(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		logging.Warn("file vanished while serving", zap.String("path", path), zap.Error(err))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// FileHandler serves one fixed file on disk. The prod fullstack assembly
// registers one per exported page and resource.
func FileHandler(path string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveDisk(w, r, path)
	})
}
