package middleware

import (
	"net/http"
	"strings"
)

// NormalizeSlash rewrites request paths to their canonical form without a
// trailing slash, so "/about" and "/about/" reach the same route. The root
// path stays "/". The rewrite is internal; no redirect is sent.
func NormalizeSlash() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if len(p) > 1 && strings.HasSuffix(p, "/") {
				trimmed := strings.TrimRight(p, "/")
				if trimmed == "" {
					trimmed = "/"
				}

				r2 := new(http.Request)
				*r2 = *r
				u2 := *r.URL
				u2.Path = trimmed
				if u2.RawPath != "" {
					u2.RawPath = strings.TrimRight(u2.RawPath, "/")
				}
				r2.URL = &u2

				next.ServeHTTP(w, r2)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
