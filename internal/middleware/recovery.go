package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/jakubmeysner/kobweb/internal/logging"
	"go.uber.org/zap"
)

// Recovery creates a panic recovery middleware. It is the outer safety net
// for handlers that do not recover on their own (file serving, redirects);
// API routes convert panics into responses before they reach here. The
// client gets an empty 500 so no internal detail leaks regardless of
// environment.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					fields := []zap.Field{
						zap.Any("error", v),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					}
					if id := RequestIDFromContext(r.Context()); id != "" {
						fields = append(fields, zap.String("request_id", id))
					}
					logging.Error("Panic recovered", fields...)

					w.WriteHeader(http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
