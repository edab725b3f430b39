package apis

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// ConnectionPoint describes one endpoint's view of the client connection.
type ConnectionPoint struct {
	Scheme        string
	Version       string
	LocalAddress  string
	LocalHost     string
	LocalPort     int
	RemoteAddress string
	RemoteHost    string
	RemotePort    int
	ServerHost    string
	ServerPort    int
}

// Connection pairs the origin view, which honors forwarding headers added
// by proxies in front of the server, with the local view of the physical
// socket.
type Connection struct {
	Origin ConnectionPoint
	Local  ConnectionPoint
}

// Request is the neutral form of an HTTP request handed to the bundle. It
// is fully materialized up front so bundle code never touches the
// underlying connection.
type Request struct {
	Connection Connection
	Method     string
	// Query maps each parameter name to its first value.
	Query map[string]string
	// Headers maps each header name to its values joined with ", ".
	Headers map[string]string
	// Cookies maps cookie names to their raw values.
	Cookies map[string]string
	// Body is nil unless the method is PATCH, POST or PUT and the request
	// carried a non-empty body.
	Body []byte
	// ContentType is set iff Body is.
	ContentType string
}

// hasBody lists the methods whose body is materialized for the bundle.
var hasBody = map[string]bool{
	http.MethodPatch: true,
	http.MethodPost:  true,
	http.MethodPut:   true,
}

// BuildRequest materializes r into its neutral form, consuming the body
// for methods that carry one.
func BuildRequest(r *http.Request) (*Request, error) {
	req := &Request{
		Connection: buildConnection(r),
		Method:     r.Method,
		Query:      make(map[string]string),
		Headers:    make(map[string]string),
		Cookies:    make(map[string]string),
	}

	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			req.Query[name] = values[0]
		}
	}

	for name, values := range r.Header {
		req.Headers[name] = strings.Join(values, ", ")
	}

	for _, c := range r.Cookies() {
		req.Cookies[c.Name] = c.Value
	}

	if hasBody[r.Method] && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		// An empty body stays nil so bundles can distinguish "no body"
		// without a length check.
		if len(body) > 0 {
			req.Body = body
			req.ContentType = r.Header.Get("Content-Type")
		}
	}

	return req, nil
}

func buildConnection(r *http.Request) Connection {
	local := buildLocalPoint(r)
	return Connection{
		Origin: buildOriginPoint(r, local),
		Local:  local,
	}
}

// buildLocalPoint describes the socket the request physically arrived on.
func buildLocalPoint(r *http.Request) ConnectionPoint {
	p := ConnectionPoint{
		Scheme:  "http",
		Version: r.Proto,
	}
	if r.TLS != nil {
		p.Scheme = "https"
	}

	p.ServerHost, p.ServerPort = splitHostPort(r.Host, defaultPort(p.Scheme))

	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		p.LocalAddress, p.LocalPort = splitHostPort(addr.String(), p.ServerPort)
	} else {
		p.LocalAddress, p.LocalPort = p.ServerHost, p.ServerPort
	}
	// No reverse DNS: the host mirrors the address.
	p.LocalHost = p.LocalAddress

	p.RemoteAddress, p.RemotePort = splitHostPort(r.RemoteAddr, 0)
	p.RemoteHost = p.RemoteAddress

	return p
}

// buildOriginPoint starts from the local view and applies the de-facto
// forwarding headers, so bundles behind a reverse proxy see the outside
// world's coordinates.
func buildOriginPoint(r *http.Request, local ConnectionPoint) ConnectionPoint {
	origin := local

	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		origin.Scheme = proto
	}
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		origin.ServerHost, origin.ServerPort = splitHostPort(host, defaultPort(origin.Scheme))
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First entry is the originating client; later ones are proxies.
		first := fwd
		if idx := strings.IndexByte(fwd, ','); idx != -1 {
			first = fwd[:idx]
		}
		origin.RemoteAddress = strings.TrimSpace(first)
		origin.RemoteHost = origin.RemoteAddress
		origin.RemotePort = 0
	}

	return origin
}

func splitHostPort(hostport string, fallbackPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, fallbackPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = fallbackPort
	}
	return host, port
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}
