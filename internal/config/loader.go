package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Environment variables the launcher may set to override the config file.
// These take precedence over the YAML values so one exported site can be
// served in different modes without editing its config.
const (
	EnvVarEnvironment = "KOBWEB_SERVER_ENVIRONMENT"
	EnvVarLayout      = "KOBWEB_SERVER_LAYOUT"
	EnvVarPort        = "KOBWEB_SERVER_PORT"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal YAML into config
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyEnvOverrides(cfg)
	normalize(cfg)

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// applyEnvOverrides lets the launching process force environment, layout
// and port without touching the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvVarEnvironment); v != "" {
		cfg.Server.Environment = Environment(v)
	}
	if v := os.Getenv(EnvVarLayout); v != "" {
		cfg.Server.Layout = SiteLayout(v)
	}
	if v := os.Getenv(EnvVarPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// normalize folds enum-like fields to their canonical lowercase form.
func normalize(cfg *Config) {
	cfg.Server.Environment = Environment(strings.ToLower(string(cfg.Server.Environment)))
	cfg.Server.Layout = SiteLayout(strings.ToLower(string(cfg.Server.Layout)))
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	switch cfg.Server.Environment {
	case EnvDev, EnvProd:
	default:
		return fmt.Errorf("invalid environment %q (want %q or %q)",
			cfg.Server.Environment, EnvDev, EnvProd)
	}

	switch cfg.Server.Layout {
	case LayoutFullstack, LayoutStatic:
	default:
		return fmt.Errorf("invalid layout %q (want %q or %q)",
			cfg.Server.Layout, LayoutFullstack, LayoutStatic)
	}

	for i, rd := range cfg.Server.Redirects {
		if rd.From == "" {
			return fmt.Errorf("redirect %d: from pattern is empty", i)
		}
		if _, err := regexp.Compile(rd.From); err != nil {
			return fmt.Errorf("redirect %d: bad pattern %q: %w", i, rd.From, err)
		}
	}

	if cfg.Server.Environment == EnvDev {
		if cfg.Server.Files.Dev.ContentRoot == "" {
			return fmt.Errorf("server.files.dev.content_root is required in dev")
		}
		if cfg.Server.Files.Dev.Script == "" {
			return fmt.Errorf("server.files.dev.script is required in dev")
		}
	} else {
		if cfg.Server.Files.Prod.SiteRoot == "" {
			return fmt.Errorf("server.files.prod.site_root is required in prod")
		}
		if cfg.Server.Layout == LayoutFullstack && cfg.Server.Files.Prod.Script == "" {
			return fmt.Errorf("server.files.prod.script is required in prod fullstack")
		}
	}

	if cfg.Server.Streaming.Timeout <= 0 {
		return fmt.Errorf("server.streaming.timeout must be positive")
	}
	if cfg.Server.Streaming.PingPeriod < 0 {
		return fmt.Errorf("server.streaming.ping_period must not be negative")
	}

	if cfg.Server.Logging.EnableFileLogging && cfg.Server.Logging.LogRoot == "" {
		return fmt.Errorf("server.logging.log_root is required when file logging is enabled")
	}

	if cfg.Server.Admin.Enabled {
		if cfg.Server.Admin.Port < 1 || cfg.Server.Admin.Port > 65535 {
			return fmt.Errorf("invalid admin port: %d", cfg.Server.Admin.Port)
		}
		if cfg.Server.Admin.Port == cfg.Server.Port {
			return fmt.Errorf("admin port must differ from server port")
		}
	}

	for _, origin := range cfg.Server.CORS.AllowedOrigins {
		if origin == "*" || strings.HasPrefix(origin, "*.") {
			continue
		}
		if !strings.Contains(origin, "://") {
			return fmt.Errorf("invalid CORS origin %q: must include a scheme", origin)
		}
	}

	return nil
}
