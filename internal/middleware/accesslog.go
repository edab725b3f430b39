package middleware

import (
	"bufio"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jakubmeysner/kobweb/internal/logging"
	"go.uber.org/zap"
)

var recorderPool = sync.Pool{
	New: func() any { return &responseRecorder{} },
}

// AccessLogConfig configures the access log middleware
type AccessLogConfig struct {
	// SkipPaths are glob patterns (doublestar syntax, so "/static/**"
	// works) matched against the request path; matching requests are not
	// logged.
	SkipPaths []string
}

// AccessLog creates an access log middleware with default config
func AccessLog() Middleware {
	return AccessLogWithConfig(AccessLogConfig{})
}

// AccessLogWithConfig creates an access log middleware with custom config
func AccessLogWithConfig(cfg AccessLogConfig) Middleware {
	patterns := make([]string, 0, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		if !doublestar.ValidatePattern(p) {
			logging.Warn("Ignoring malformed skip path pattern", zap.String("pattern", p))
			continue
		}
		patterns = append(patterns, p)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPath(patterns, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			rec := recorderPool.Get().(*responseRecorder)
			rec.ResponseWriter = w
			rec.status = http.StatusOK
			rec.bytes = 0

			next.ServeHTTP(rec, r)

			duration := time.Since(start)

			fields := make([]zap.Field, 0, 9)
			if id := RequestIDFromContext(r.Context()); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			fields = append(fields,
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int64("body_bytes", rec.bytes),
				zap.Duration("response_time", duration),
			)
			if r.URL.RawQuery != "" {
				fields = append(fields, zap.String("query", r.URL.RawQuery))
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, zap.String("user_agent", ua))
			}
			logging.Info("HTTP request", fields...)

			rec.ResponseWriter = nil
			recorderPool.Put(rec)
		})
	}
}

func skipPath(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// responseRecorder wraps http.ResponseWriter to capture status and bytes
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *responseRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (rec *responseRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so websocket upgrades work through the
// recorder. A hijacked request is logged as 101; the handshake bytes go
// straight to the connection and are not counted.
func (rec *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		rec.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}
