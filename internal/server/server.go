package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jakubmeysner/kobweb/internal/apis"
	"github.com/jakubmeysner/kobweb/internal/config"
	"github.com/jakubmeysner/kobweb/internal/logging"
	"github.com/jakubmeysner/kobweb/internal/metrics"
	"github.com/jakubmeysner/kobweb/internal/middleware"
	"github.com/jakubmeysner/kobweb/internal/tracing"
)

// Server runs one assembled site behind its middleware chain, plus the
// optional admin listener. Construction routes everything; Start binds the
// listeners; Serve blocks until the context ends and then shuts down.
type Server struct {
	cfg      *config.Config
	assembly *assembly
	handler  http.Handler
	metrics  *metrics.Metrics
	tracer   *tracing.Tracer

	httpServer    *http.Server
	adminServer   *http.Server
	listener      net.Listener
	adminListener net.Listener

	baseCancel context.CancelFunc
	startTime  time.Time
}

// New assembles a server from the loaded config. bundle carries the site's
// api implementation and may be nil; static layouts ignore it entirely.
func New(cfg *config.Config, bundle apis.Bundle) (*Server, error) {
	var mt *metrics.Metrics
	if cfg.Server.Admin.Enabled {
		mt = metrics.New()
	}

	if nlu, ok := bundle.(apis.NativeLibraryUser); ok {
		nlu.SetNativeLibraryMappings(cfg.Server.NativeLibraryMappings)
	}

	tracer, err := tracing.New(cfg.Server.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	a, err := assemble(cfg, bundle, mt)
	if err != nil {
		return nil, err
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:        cfg,
		assembly:   a,
		metrics:    mt,
		tracer:     tracer,
		baseCancel: baseCancel,
		startTime:  time.Now(),
	}
	s.handler = s.buildHandler()

	// No WriteTimeout: the status feed and websocket sessions hold their
	// responses open for the life of the client.
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	if cfg.Server.Admin.Enabled {
		s.adminServer = &http.Server{
			Handler:      s.adminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

// buildHandler stacks the middleware chain over the routed mux. Order
// matters: request IDs come first so every later stage can log them,
// recovery sits inside the logging stages so a panic still produces an
// access log line and a counted 500, and CORS answers preflights before
// any routing decision. Compression is innermost so upgraded and streamed
// responses pass it untouched.
func (s *Server) buildHandler() http.Handler {
	cfg := s.cfg.Server
	normalizeSlash := !(cfg.Environment == config.EnvProd && cfg.Layout == config.LayoutStatic)

	chain := middleware.NewBuilder().
		Use(middleware.RequestID()).
		Use(s.tracer.Middleware()).
		Use(s.metrics.Middleware()).
		Use(middleware.AccessLogWithConfig(middleware.AccessLogConfig{
			SkipPaths: cfg.Logging.SkipPaths,
		})).
		Use(middleware.Recovery()).
		UseIf(len(cfg.CORS.AllowedOrigins) > 0, middleware.CORS(middleware.CORSConfig{
			AllowOrigins: cfg.CORS.AllowedOrigins,
			AllowHeaders: cfg.CORS.AllowedHeaders,
			MaxAge:       cfg.CORS.MaxAge,
		})).
		UseIf(normalizeSlash, middleware.NormalizeSlash()).
		UseIf(cfg.Compression.Enabled, middleware.Compress(middleware.CompressConfig{
			Level:   cfg.Compression.Level,
			MinSize: cfg.Compression.MinSize,
		})).
		Build()

	return chain.Then(s.assembly.mux)
}

// Handler returns the site handler with the full middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listeners and starts the build watcher. Addr is valid
// once Start returns.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("site listener: %w", err)
	}
	s.listener = ln

	if s.adminServer != nil {
		adminAddr := net.JoinHostPort(s.cfg.Server.Admin.Host, strconv.Itoa(s.cfg.Server.Admin.Port))
		aln, err := net.Listen("tcp", adminAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("admin listener: %w", err)
		}
		s.adminListener = aln
	}

	if s.assembly.watcher != nil {
		s.assembly.watcher.Start()
	}

	logging.Info("Server started",
		zap.String("address", ln.Addr().String()),
		zap.String("environment", string(s.cfg.Server.Environment)),
		zap.String("layout", string(s.cfg.Server.Layout)),
		zap.String("base_path", s.cfg.Site.BasePath),
	)
	return nil
}

// Addr returns the bound site address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// AdminAddr returns the bound admin address, empty when the admin listener
// is disabled or not yet started.
func (s *Server) AdminAddr() string {
	if s.adminListener == nil {
		return ""
	}
	return s.adminListener.Addr().String()
}

// Serve accepts connections until ctx ends, then shuts down gracefully and
// returns whatever the shutdown produced. Start must have been called.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("site listener: %w", err)
		}
		return nil
	})

	if s.adminServer != nil {
		g.Go(func() error {
			logging.Info("Admin listener started",
				zap.String("address", s.adminListener.Addr().String()))
			if err := s.adminServer.Serve(s.adminListener); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("admin listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown(s.cfg.Server.ShutdownTimeout)
	})

	return g.Wait()
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Shutdown stops accepting connections and unwinds the long-lived work:
// in-flight handlers observe context cancellation at their next blocking
// point, stream sessions are closed so their receive loops run cleanup,
// and both listeners drain within the timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	logging.Info("Shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.baseCancel()

	if s.assembly.multiplexer != nil {
		s.assembly.multiplexer.CloseAll()
	}
	if s.assembly.watcher != nil {
		if err := s.assembly.watcher.Stop(); err != nil {
			logging.Warn("Watcher stop error", zap.Error(err))
		}
	}

	if s.adminServer != nil {
		if err := s.adminServer.Shutdown(ctx); err != nil {
			logging.Error("Admin listener shutdown error", zap.Error(err))
		}
	}

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		logging.Error("Site listener shutdown error", zap.Error(err))
	}

	if cerr := s.tracer.Close(); cerr != nil {
		logging.Warn("Tracer close error", zap.Error(cerr))
	}

	logging.Info("Server shutdown complete")
	return err
}

// adminHandler serves the diagnostics surface. It never shares a port with
// the site, so nothing here changes what the site itself exposes.
func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().Format(time.RFC3339),
		"uptime":      time.Since(s.startTime).String(),
		"environment": s.cfg.Server.Environment,
		"layout":      s.cfg.Server.Layout,
	}
	if s.assembly.multiplexer != nil {
		response["stream_sessions"] = s.assembly.multiplexer.Sessions()
	}

	json.NewEncoder(w).Encode(response)
}
