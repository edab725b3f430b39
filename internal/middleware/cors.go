package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware
type CORSConfig struct {
	// AllowOrigins are full origins ("https://example.com"), "*", or
	// subdomain wildcards ("*.example.com").
	AllowOrigins []string
	// AllowHeaders are the request headers allowed in preflight answers
	AllowHeaders []string
	// MaxAge is how long (seconds) clients may cache preflight answers
	MaxAge int
}

// corsPolicy is the compiled form of CORSConfig
type corsPolicy struct {
	allowOrigins    []string
	allowAllOrigins bool
	allowMethods    string
	allowHeaders    string
	maxAge          string
}

// CORS creates a middleware answering preflight requests and stamping
// allow headers on cross-origin responses. Requests without an Origin
// header pass through untouched, as do requests from origins outside the
// configured list.
func CORS(cfg CORSConfig) Middleware {
	p := &corsPolicy{
		allowOrigins: cfg.AllowOrigins,
		allowMethods: "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS",
	}

	if len(cfg.AllowHeaders) > 0 {
		p.allowHeaders = strings.Join(cfg.AllowHeaders, ", ")
	} else {
		p.allowHeaders = "Content-Type, Authorization"
	}

	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	} else {
		p.maxAge = "86400"
	}

	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.allowAllOrigins = true
			break
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if isPreflight(r) {
				p.handlePreflight(w, r, origin)
				return
			}

			p.applyHeaders(w, origin)
			next.ServeHTTP(w, r)
		})
	}
}

// isPreflight reports whether the request is a CORS preflight
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// handlePreflight writes a 204 response with CORS headers. A disallowed
// origin still gets the 204 but no allow headers, which browsers treat as
// a denial.
func (p *corsPolicy) handlePreflight(w http.ResponseWriter, r *http.Request, origin string) {
	if !p.isOriginAllowed(origin) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	respOrigin := origin
	if p.allowAllOrigins {
		respOrigin = "*"
	}

	w.Header().Set("Access-Control-Allow-Origin", respOrigin)
	w.Header().Set("Access-Control-Allow-Methods", p.allowMethods)
	w.Header().Set("Access-Control-Allow-Headers", p.allowHeaders)
	w.Header().Set("Access-Control-Max-Age", p.maxAge)
	w.Header().Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
	w.WriteHeader(http.StatusNoContent)
}

// applyHeaders adds CORS headers to a normal (non-preflight) response
func (p *corsPolicy) applyHeaders(w http.ResponseWriter, origin string) {
	if !p.isOriginAllowed(origin) {
		return
	}

	respOrigin := origin
	if p.allowAllOrigins {
		respOrigin = "*"
	}

	w.Header().Set("Access-Control-Allow-Origin", respOrigin)
	w.Header().Add("Vary", "Origin")
}

func (p *corsPolicy) isOriginAllowed(origin string) bool {
	if p.allowAllOrigins {
		return true
	}

	for _, allowed := range p.allowOrigins {
		if allowed == origin {
			return true
		}
		// Subdomain wildcard: *.example.com
		if strings.HasPrefix(allowed, "*.") {
			if strings.HasSuffix(origin, allowed[1:]) {
				return true
			}
		}
	}

	return false
}
