package apis

import (
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jakubmeysner/kobweb/internal/config"
	"github.com/jakubmeysner/kobweb/internal/logging"
	"github.com/jakubmeysner/kobweb/internal/routing"
)

// apiMethods are the methods the dispatcher forwards to the bundle.
var apiMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Dispatcher serves the {prefix}/api subtree by translating requests into
// their neutral form and handing them to the bundle.
type Dispatcher struct {
	bundle   Bundle
	prefixer *routing.Prefixer
	env      config.Environment
	stop     FrameFilter
}

// NewDispatcher wires a dispatcher to a bundle. stop controls where dev
// traces are cut off; pass DefaultFrameFilter unless the bundle loader
// supplies its own.
func NewDispatcher(bundle Bundle, prefixer *routing.Prefixer, env config.Environment, stop FrameFilter) *Dispatcher {
	return &Dispatcher{bundle: bundle, prefixer: prefixer, env: env, stop: stop}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !apiMethods[r.Method] {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	rel, ok := d.prefixer.Strip(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	apiPath := strings.TrimPrefix(rel, "/api")
	if apiPath == "" {
		apiPath = "/"
	}

	req, err := BuildRequest(r)
	if err != nil {
		logging.Warn("failed to read api request body",
			zap.String("path", apiPath), zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp, err := d.invoke(r.Context(), apiPath, req)
	if err != nil {
		d.writeFailure(w, r, apiPath, err)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resp.Write(w, r.Method == http.MethodHead)
}

// invoke calls the bundle, converting a panic into an ordinary error so
// one broken handler cannot take the server down.
func (d *Dispatcher) invoke(ctx context.Context, path string, req *Request) (resp *Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = RecoveredError(v)
		}
	}()
	return d.bundle.Handle(ctx, path, req)
}

func (d *Dispatcher) writeFailure(w http.ResponseWriter, r *http.Request, apiPath string, err error) {
	logging.Error("api handler failed",
		zap.String("method", r.Method),
		zap.String("path", apiPath),
		zap.String("trace", FormatTruncated(err, nil)),
	)

	// In dev, failures that passed through known dispatch plumbing come
	// back with a trace cut off at the plumbing boundary, so the user
	// sees their own frames first. Everything else is an opaque 500.
	if d.env == config.EnvDev && HasStopFrame(err, d.stop) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, FormatTruncated(err, d.stop))
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
}
