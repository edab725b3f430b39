package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// CompressConfig configures the compression middleware
type CompressConfig struct {
	// Level is the compression level, 1 (fastest) to 11 (best). The same
	// number drives all algorithms; gzip clamps it to 9.
	Level int
	// MinSize is the minimum response size in bytes worth compressing
	MinSize int
}

// encodingWriter is an io.Writer that can be closed.
type encodingWriter interface {
	io.Writer
	Close() error
}

// optionalFlusher is implemented by writers that support flushing.
type optionalFlusher interface {
	Flush() error
}

// pooledZstdWriter wraps a *zstd.Encoder and returns it to a pool on Close.
type pooledZstdWriter struct {
	enc  *zstd.Encoder
	pool *sync.Pool
}

func (pw *pooledZstdWriter) Write(p []byte) (int, error) {
	return pw.enc.Write(p)
}

func (pw *pooledZstdWriter) Flush() error {
	return pw.enc.Flush()
}

func (pw *pooledZstdWriter) Close() error {
	err := pw.enc.Close()
	pw.pool.Put(pw.enc)
	return err
}

// encodingPref represents a parsed Accept-Encoding entry.
type encodingPref struct {
	encoding string
	quality  float64
}

// algoOrder is the server-preferred algorithm order.
var algoOrder = []string{"zstd", "br", "gzip"}

// compressibleTypes are the content types worth compressing. Everything
// else (images, fonts, archives) is served as-is.
var compressibleTypes = map[string]bool{
	"text/html":              true,
	"text/css":               true,
	"text/plain":             true,
	"text/javascript":        true,
	"application/javascript": true,
	"application/json":       true,
	"application/xml":        true,
	"text/xml":               true,
	"image/svg+xml":          true,
}

// compressor holds the tuning shared by every request.
type compressor struct {
	level    int
	minSize  int
	zstdPool sync.Pool
}

func newCompressor(cfg CompressConfig) *compressor {
	c := &compressor{
		level:   cfg.Level,
		minSize: cfg.MinSize,
	}

	if c.level <= 0 || c.level > 11 {
		c.level = 6
	}
	if c.minSize <= 0 {
		c.minSize = 1024
	}

	zstdLevel := zstd.EncoderLevelFromZstd(c.level)
	c.zstdPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
			return enc
		},
	}

	return c
}

// Compress creates a middleware that compresses eligible responses with
// the best algorithm the client accepts. Websocket upgrades bypass it
// entirely; responses that are too small, already encoded, or of a
// non-compressible content type (event streams included) pass through
// untouched.
func Compress(cfg CompressConfig) Middleware {
	c := newCompressor(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			algo := c.negotiate(r)
			if algo == "" {
				next.ServeHTTP(w, r)
				return
			}

			cw := &compressWriter{
				ResponseWriter: w,
				c:              c,
				algo:           algo,
				status:         http.StatusOK,
			}
			defer cw.Close()

			next.ServeHTTP(cw, r)
		})
	}
}

// parseAcceptEncoding parses the Accept-Encoding header per RFC 7231 §5.3.4.
func parseAcceptEncoding(header string) []encodingPref {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	prefs := make([]encodingPref, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		enc := part
		q := 1.0
		if idx := strings.Index(part, ";"); idx != -1 {
			enc = strings.TrimSpace(part[:idx])
			params := strings.TrimSpace(part[idx+1:])
			if strings.HasPrefix(params, "q=") {
				if v, err := strconv.ParseFloat(params[2:], 64); err == nil {
					q = v
				}
			}
		}
		prefs = append(prefs, encodingPref{encoding: enc, quality: q})
	}
	return prefs
}

// negotiate selects the best algorithm from Accept-Encoding, or "" when
// nothing suitable is offered.
func (c *compressor) negotiate(r *http.Request) string {
	prefs := parseAcceptEncoding(r.Header.Get("Accept-Encoding"))
	if len(prefs) == 0 {
		return ""
	}

	clientPrefs := make(map[string]float64, len(prefs))
	hasWildcard := false
	wildcardQ := 0.0
	for _, p := range prefs {
		if p.encoding == "*" {
			hasWildcard = true
			wildcardQ = p.quality
		} else {
			clientPrefs[p.encoding] = p.quality
		}
	}

	// Walk server preference order; pick best match.
	bestAlgo := ""
	bestQ := -1.0
	for _, algo := range algoOrder {
		q, explicit := clientPrefs[algo]
		if !explicit {
			if hasWildcard {
				q = wildcardQ
			} else {
				continue
			}
		}
		if q <= 0 {
			continue // q=0 means rejected
		}
		// Higher quality wins; on tie, server preference wins.
		if q > bestQ {
			bestQ = q
			bestAlgo = algo
		}
	}
	return bestAlgo
}

// newEncodingWriter creates a writer for the specified algorithm.
func (c *compressor) newEncodingWriter(w io.Writer, algo string) encodingWriter {
	switch algo {
	case "zstd":
		enc := c.zstdPool.Get().(*zstd.Encoder)
		enc.Reset(w)
		return &pooledZstdWriter{enc: enc, pool: &c.zstdPool}
	case "br":
		return brotli.NewWriterLevel(w, c.level)
	default:
		level := c.level
		if level > gzip.BestCompression {
			level = gzip.BestCompression
		}
		gz, _ := gzip.NewWriterLevel(w, level)
		return gz
	}
}

func compressibleType(contentType string) bool {
	ct := contentType
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return compressibleTypes[ct]
}

// compressWriter wraps a ResponseWriter and defers the compress-or-not
// decision until enough of the response is known: writes buffer until the
// content type is visible and minSize is reached, then the header goes
// out exactly once in the decided form.
type compressWriter struct {
	http.ResponseWriter
	c             *compressor
	algo          string
	enc           encodingWriter
	status        int
	headerWritten bool
	decided       bool
	compressing   bool
	buf           []byte
}

// passthrough reports whether the response headers rule compression out.
func (w *compressWriter) passthrough() bool {
	h := w.ResponseWriter.Header()
	if h.Get("Content-Encoding") != "" {
		return true
	}
	ct := h.Get("Content-Type")
	return ct != "" && !compressibleType(ct)
}

// WriteHeader captures the status code. When the headers already rule
// compression out it writes through immediately; otherwise the header is
// held back until the body size decides.
func (w *compressWriter) WriteHeader(code int) {
	if w.headerWritten {
		return
	}
	w.status = code

	if w.decided {
		w.writeHeader()
		return
	}

	if w.passthrough() {
		w.decided = true
		w.compressing = false
		w.writeHeader()
	}
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.decided {
		w.buf = append(w.buf, b...)

		if w.passthrough() {
			w.decided = true
			w.compressing = false
			w.flushBuffer()
			return len(b), nil
		}

		if len(w.buf) >= w.c.minSize {
			w.decided = true
			w.compressing = true
			w.flushBuffer()
			return len(b), nil
		}
		return len(b), nil
	}

	if w.compressing && w.enc != nil {
		return w.enc.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *compressWriter) writeHeader() {
	if w.headerWritten {
		return
	}
	w.headerWritten = true
	if w.compressing {
		w.ResponseWriter.Header().Del("Content-Length")
		w.ResponseWriter.Header().Set("Content-Encoding", w.algo)
		w.ResponseWriter.Header().Add("Vary", "Accept-Encoding")
		w.enc = w.c.newEncodingWriter(w.ResponseWriter, w.algo)
	}
	w.ResponseWriter.WriteHeader(w.status)
}

func (w *compressWriter) flushBuffer() {
	w.writeHeader()

	if len(w.buf) > 0 {
		if w.compressing && w.enc != nil {
			_, _ = w.enc.Write(w.buf)
		} else {
			_, _ = w.ResponseWriter.Write(w.buf)
		}
		w.buf = nil
	}
}

// Close finishes the response. Undecided (small) responses go out
// uncompressed here; after that the encoder trailer is flushed.
func (w *compressWriter) Close() {
	if !w.decided {
		w.decided = true
		w.compressing = false
		w.flushBuffer()
		return
	}
	if w.compressing && w.enc != nil {
		_ = w.enc.Close()
	}
}

// Flush implements http.Flusher. A flush forces the decision so streamed
// responses are never held in the buffer.
func (w *compressWriter) Flush() {
	if !w.decided {
		w.decided = true
		w.compressing = !w.passthrough() && len(w.buf) >= w.c.minSize
		w.flushBuffer()
	}
	if w.compressing && w.enc != nil {
		if f, ok := w.enc.(optionalFlusher); ok {
			_ = f.Flush()
		}
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (w *compressWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
