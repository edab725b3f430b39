package server

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/jakubmeysner/kobweb/internal/apis"
	"github.com/jakubmeysner/kobweb/internal/config"
	"github.com/jakubmeysner/kobweb/internal/errors"
	"github.com/jakubmeysner/kobweb/internal/logging"
	"github.com/jakubmeysner/kobweb/internal/metrics"
	"github.com/jakubmeysner/kobweb/internal/routing"
	"github.com/jakubmeysner/kobweb/internal/site"
	"github.com/jakubmeysner/kobweb/internal/status"
	"github.com/jakubmeysner/kobweb/internal/stream"
	"github.com/jakubmeysner/kobweb/internal/watch"
)

// assembly is one fully routed site: the mux plus the long-lived components
// behind it that the server lifecycle has to start and stop.
type assembly struct {
	mux         *routing.Mux
	multiplexer *stream.Multiplexer
	globals     *status.Globals
	watcher     *watch.Watcher
}

// assemble selects and builds one of the four route maps from the
// environment/layout pair. The bundle may be nil; it is further gated by
// layout and by artifact presence before any API route is installed.
func assemble(cfg *config.Config, bundle apis.Bundle, mt *metrics.Metrics) (*assembly, error) {
	prefixer := routing.NewPrefixer(cfg.Site.BasePath)
	redirects, err := routing.NewRedirects(cfg.Server.Redirects)
	if err != nil {
		return nil, fmt.Errorf("compiling redirects: %w", err)
	}

	bundle = resolveBundle(cfg, bundle)

	if cfg.Server.Environment == config.EnvProd {
		if cfg.Server.Layout == config.LayoutStatic {
			return assembleProdStatic(cfg, prefixer, redirects)
		}
		return assembleProdFullstack(cfg, prefixer, redirects, bundle, mt)
	}
	return assembleDev(cfg, prefixer, redirects, bundle, mt)
}

// resolveBundle decides whether the provided bundle serves at all. Static
// layouts never carry one, and in dev a configured api artifact must exist
// on disk; a missing artifact is a warning, not a startup failure, so the
// site keeps serving while the first api build is still running.
func resolveBundle(cfg *config.Config, bundle apis.Bundle) apis.Bundle {
	if bundle == nil || cfg.Server.Layout != config.LayoutFullstack {
		return nil
	}
	if cfg.Server.Environment == config.EnvDev {
		if apiPath := cfg.Server.Files.Dev.API; apiPath != "" {
			if _, err := os.Stat(apiPath); err != nil {
				logging.Warn("Api artifact not found, serving without apis",
					zap.String("path", apiPath),
					zap.Error(err))
				return nil
			}
		}
	}
	return bundle
}

// assembleDev routes a live development site: the status feed always, api
// and stream endpoints when a bundle is present, and a catch-all over the
// processed content root. The build watcher drives the version counter the
// status feed reports.
func assembleDev(cfg *config.Config, prefixer *routing.Prefixer, redirects *routing.Redirects, bundle apis.Bundle, mt *metrics.Metrics) (*assembly, error) {
	a := &assembly{
		mux:     routing.NewMux(),
		globals: status.NewGlobals(),
	}

	feed := status.NewFeed(a.globals)
	feed.SetMetrics(mt)
	a.mux.Handle(http.MethodGet, prefixer.Join("api/kobweb-status"), feed)

	if bundle != nil {
		a.multiplexer = stream.NewMultiplexer(bundle, cfg.Server.Environment, cfg.Server.Streaming, apis.DefaultFrameFilter)
		a.multiplexer.SetMetrics(mt)
		a.mux.Handle(http.MethodGet, prefixer.Join("api/kobweb-streams"), a.multiplexer)
		a.mux.HandlePrefix(prefixer.Join("api"),
			apis.NewDispatcher(bundle, prefixer, cfg.Server.Environment, apis.DefaultFrameFilter))
	}

	var script *site.ScriptServer
	if cfg.ScriptPath() != "" {
		script = site.NewScriptServer(cfg.Server.Environment, cfg.ScriptPath())
	}
	a.mux.SetCatchAll(site.NewCatchAll(prefixer, redirects, script, cfg.Server.Files.Dev.ContentRoot, cfg.IndexPath()))

	w, err := watch.New(a.globals, cfg.Server.Files.Dev.Script, cfg.Server.Files.Dev.ContentRoot)
	if err != nil {
		logging.Warn("Live reload disabled", zap.Error(err))
	} else {
		a.watcher = w
	}

	return a, nil
}

// assembleProdFullstack routes an exported fullstack site: one explicit
// route per exported file, api and stream endpoints per the bundle, and the
// index fallback behind them. The stream endpoint is only installed when
// the bundle declares streams, so a stream-free site never pays for the
// websocket plumbing.
func assembleProdFullstack(cfg *config.Config, prefixer *routing.Prefixer, redirects *routing.Redirects, bundle apis.Bundle, mt *metrics.Metrics) (*assembly, error) {
	if err := validateExport(cfg); err != nil {
		return nil, err
	}

	a := &assembly{mux: routing.NewMux()}

	fileRoutes, err := site.WalkSiteRoutes(cfg.Server.Files.Prod.SiteRoot)
	if err != nil {
		return nil, fmt.Errorf("walking exported site: %w", err)
	}
	for _, fr := range fileRoutes {
		a.mux.Handle(http.MethodGet, routePattern(prefixer, fr.Pattern), site.FileHandler(fr.Path))
	}

	if bundle != nil {
		if bundle.NumStreams() > 0 {
			a.multiplexer = stream.NewMultiplexer(bundle, cfg.Server.Environment, cfg.Server.Streaming, apis.DefaultFrameFilter)
			a.multiplexer.SetMetrics(mt)
			a.mux.Handle(http.MethodGet, prefixer.Join("api/kobweb-streams"), a.multiplexer)
		}
		a.mux.HandlePrefix(prefixer.Join("api"),
			apis.NewDispatcher(bundle, prefixer, cfg.Server.Environment, apis.DefaultFrameFilter))
	}

	var script *site.ScriptServer
	if cfg.ScriptPath() != "" {
		script = site.NewScriptServer(cfg.Server.Environment, cfg.ScriptPath())
	}
	a.mux.SetCatchAll(site.NewCatchAll(prefixer, redirects, script, "", cfg.IndexPath()))

	return a, nil
}

// assembleProdStatic routes an exported static site: the static handler is
// the whole route map, redirects included.
func assembleProdStatic(cfg *config.Config, prefixer *routing.Prefixer, redirects *routing.Redirects) (*assembly, error) {
	staticSite, err := site.NewStaticSite(prefixer, redirects, cfg.Server.Files.Prod.SiteRoot)
	if err != nil {
		return nil, errors.NewConfigError("cannot serve static site").Wrap(err)
	}

	a := &assembly{mux: routing.NewMux()}
	a.mux.SetCatchAll(staticSite)
	return a, nil
}

// validateExport checks the prod fullstack prerequisites up front so a bad
// site root fails at startup instead of surfacing as per-request 404s. A
// site root without a system folder is the signature of a static export
// being pointed at by a fullstack config.
func validateExport(cfg *config.Config) error {
	siteRoot := cfg.Server.Files.Prod.SiteRoot
	info, err := os.Stat(siteRoot)
	if err != nil {
		return errors.NewConfigError("site root %q not found", siteRoot).
			WithHint(`run "kobweb export" first, or point server.files.prod.site_root at the exported site`).
			Wrap(err)
	}
	if !info.IsDir() {
		return errors.NewConfigError("site root %q is not a directory", siteRoot)
	}

	if info, err := os.Stat(cfg.SystemRoot()); err != nil || !info.IsDir() {
		return errors.NewConfigError("site root %q has no system folder", siteRoot).
			WithHint(`the export was made with --layout static; re-export with "kobweb export" or set server.layout to "static"`)
	}
	return nil
}

// routePattern converts a site-relative file pattern to its registered
// route. Patterns register with the trailing slash stripped, matching what
// the slash-normalization middleware hands the router.
func routePattern(prefixer *routing.Prefixer, sitePattern string) string {
	p := prefixer.Join(strings.TrimPrefix(sitePattern, "/"))
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
