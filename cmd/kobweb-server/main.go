package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jakubmeysner/kobweb/internal/apis"
	"github.com/jakubmeysner/kobweb/internal/config"
	"github.com/jakubmeysner/kobweb/internal/errors"
	"github.com/jakubmeysner/kobweb/internal/logging"
	"github.com/jakubmeysner/kobweb/internal/server"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// bundle is the site's api implementation. A fullstack site links its own
// implementation in here; the stock binary serves sites without one.
var bundle apis.Bundle

func main() {
	configPath := flag.String("config", ".kobweb/conf.yaml", "Path to site configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Kobweb Server %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting Kobweb Server",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("site", cfg.Site.Title),
	)

	srv, err := server.New(cfg, bundle)
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		if ce, ok := errors.AsConfigError(err); ok && ce.Hint != "" {
			fmt.Fprintf(os.Stderr, "%v\nhint: %s\n", ce, ce.Hint)
		}
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
