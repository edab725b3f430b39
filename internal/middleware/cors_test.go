package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsHandler(cfg CORSConfig) http.Handler {
	return CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
}

func TestCORSPreflightAllowed(t *testing.T) {
	final := corsHandler(CORSConfig{AllowOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest("OPTIONS", "/api/echo", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("expected allow origin header, got %q", got)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected allow methods header")
	}
	if rr.Header().Get("Access-Control-Max-Age") != "86400" {
		t.Errorf("expected default max age, got %q", rr.Header().Get("Access-Control-Max-Age"))
	}
	if rr.Body.Len() != 0 {
		t.Error("preflight should not reach the handler")
	}
}

func TestCORSPreflightDisallowedOrigin(t *testing.T) {
	final := corsHandler(CORSConfig{AllowOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest("OPTIONS", "/api/echo", nil)
	req.Header.Set("Origin", "https://evil.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow origin header, got %q", got)
	}
}

func TestCORSActualRequest(t *testing.T) {
	final := corsHandler(CORSConfig{AllowOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest("GET", "/api/echo", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("expected allow origin header, got %q", got)
	}
	if rr.Body.String() != "ok" {
		t.Error("handler should have run")
	}
}

func TestCORSActualRequestDisallowed(t *testing.T) {
	final := corsHandler(CORSConfig{AllowOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest("GET", "/api/echo", nil)
	req.Header.Set("Origin", "https://evil.test")
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	// The handler still runs; the browser enforces the missing header.
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow origin header, got %q", got)
	}
}

func TestCORSNoOriginPassesThrough(t *testing.T) {
	final := corsHandler(CORSConfig{AllowOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest("GET", "/api/echo", nil)
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("same-origin request should get no CORS headers")
	}
}

func TestCORSWildcardOrigin(t *testing.T) {
	final := corsHandler(CORSConfig{AllowOrigins: []string{"*"}})

	req := httptest.NewRequest("GET", "/api/echo", nil)
	req.Header.Set("Origin", "https://anywhere.test")
	rr := httptest.NewRecorder()

	final.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected '*', got %q", got)
	}
}

func TestCORSSubdomainWildcard(t *testing.T) {
	p := &corsPolicy{allowOrigins: []string{"*.example.com"}}

	if !p.isOriginAllowed("https://app.example.com") {
		t.Error("subdomain should be allowed")
	}
	if p.isOriginAllowed("https://example.org") {
		t.Error("other domain should not be allowed")
	}
}
