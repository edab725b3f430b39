package config

import (
	"path/filepath"
	"time"
)

// Environment selects between dev-mode behavior (live reload, status feed,
// verbose errors) and prod-mode behavior (immutable site, quiet errors).
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
)

// SiteLayout describes what kind of site the server fronts: a fullstack
// site that may carry a server API bundle, or a purely static export.
type SiteLayout string

const (
	LayoutFullstack SiteLayout = "fullstack"
	LayoutStatic    SiteLayout = "static"
)

// Config is the root configuration for the server.
type Config struct {
	Site   SiteConfig   `yaml:"site"`
	Server ServerConfig `yaml:"server"`
}

// SiteConfig holds site-wide identity settings.
type SiteConfig struct {
	Title string `yaml:"title"`
	// BasePath mounts the whole site under a sub-path, e.g. "docs" or
	// "/a/b". Empty means the site is served from the host root.
	BasePath string `yaml:"base_path"`
}

// ServerConfig holds everything the HTTP server needs to come up.
type ServerConfig struct {
	Host        string      `yaml:"host"`
	Port        int         `yaml:"port"`
	Environment Environment `yaml:"environment"`
	Layout      SiteLayout  `yaml:"layout"`

	Files     FilesConfig      `yaml:"files"`
	Redirects []RedirectConfig `yaml:"redirects"`
	Streaming StreamingConfig  `yaml:"streaming"`
	CORS      CORSConfig       `yaml:"cors"`
	Logging   LoggingConfig    `yaml:"logging"`

	// NativeLibraryMappings maps logical native library names to filesystem
	// paths. The server only carries them; the api bundle consumes them.
	NativeLibraryMappings map[string]string `yaml:"native_library_mappings"`

	Compression CompressionConfig `yaml:"compression"`
	Admin       AdminConfig       `yaml:"admin"`
	Tracing     TracingConfig     `yaml:"tracing"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// FilesConfig names the on-disk artifacts the server fronts. The dev and
// prod halves are independent; only the half matching the active
// environment is consulted.
type FilesConfig struct {
	Dev  DevFilesConfig  `yaml:"dev"`
	Prod ProdFilesConfig `yaml:"prod"`
}

// DevFilesConfig points at live build outputs.
type DevFilesConfig struct {
	// ContentRoot is the directory of processed public resources,
	// including the generated index.html.
	ContentRoot string `yaml:"content_root"`
	// Script is the path to the development site script. Its directory is
	// watched for rebuilds.
	Script string `yaml:"script"`
	// API is the path to the server API bundle, if the site has one.
	API string `yaml:"api"`
}

// ProdFilesConfig points at an exported site.
type ProdFilesConfig struct {
	// Script is the path to the exported site script.
	Script string `yaml:"script"`
	// SiteRoot is the root of the exported site, containing pages/,
	// resources/ and system/ subfolders.
	SiteRoot string `yaml:"site_root"`
}

// RedirectConfig is a single path rewrite rule. From is a regular
// expression matched against the prefix-stripped path; To may reference
// capture groups as $1, $2, ...
type RedirectConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// StreamingConfig tunes the websocket endpoint backing API streams.
type StreamingConfig struct {
	// PingPeriod is how often the server pings each client. Zero disables
	// pings.
	PingPeriod time.Duration `yaml:"ping_period"`
	// Timeout bounds every websocket write (and ping). A write that does
	// not complete in time closes the session.
	Timeout time.Duration `yaml:"timeout"`
	// MaxMessageSize caps inbound message size in bytes. Zero means no
	// limit.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// CORSConfig lists origins allowed to call the server API cross-origin.
type CORSConfig struct {
	// AllowedOrigins are full origins ("https://example.com") or "*".
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// LoggingConfig mirrors the logging block of the site config.
type LoggingConfig struct {
	Level                string `yaml:"level"`
	EnableConsoleLogging bool   `yaml:"enable_console_logging"`
	EnableFileLogging    bool   `yaml:"enable_file_logging"`
	LogRoot              string `yaml:"log_root"`
	LogFileBaseName      string `yaml:"log_file_base_name"`
	ClearLogsOnStart     bool   `yaml:"clear_logs_on_start"`
	MaxFileCount         int    `yaml:"max_file_count"`
	MaxFileSizeMegabytes int    `yaml:"max_file_size_megabytes"`
	CompressHistory      bool   `yaml:"compress_history"`
	// SkipPaths are access-log exclusions, matched as glob patterns
	// against the request path.
	SkipPaths []string `yaml:"skip_paths"`
}

// CompressionConfig tunes response compression.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`
	Level   int  `yaml:"level"`
	MinSize int  `yaml:"min_size"`
}

// AdminConfig exposes the diagnostics listener (metrics, health). It binds
// separately from the site listener so it can stay private.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// TracingConfig configures the optional OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
}

// DefaultConfig returns a Config with every default applied. Loading merges
// the YAML file over these values.
func DefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Title: "Kobweb Site",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Environment: EnvDev,
			Layout:      LayoutFullstack,
			Files: FilesConfig{
				Prod: ProdFilesConfig{
					SiteRoot: ".kobweb/site",
				},
			},
			Streaming: StreamingConfig{
				PingPeriod: 0,
				Timeout:    15 * time.Second,
			},
			Logging: LoggingConfig{
				Level:                "info",
				EnableConsoleLogging: true,
				EnableFileLogging:    true,
				LogRoot:              ".kobweb/server/logs",
				LogFileBaseName:      "kobweb-server",
				ClearLogsOnStart:     true,
				MaxFileCount:         5,
				MaxFileSizeMegabytes: 10,
				CompressHistory:      true,
			},
			Compression: CompressionConfig{
				Enabled: true,
				Level:   6,
				MinSize: 1024,
			},
			Admin: AdminConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    9090,
			},
			Tracing: TracingConfig{
				SampleRate: 1.0,
			},
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
	}
}

// ScriptPath returns the filesystem location of the site script for the
// active environment.
func (c *Config) ScriptPath() string {
	if c.Server.Environment == EnvProd {
		return c.Server.Files.Prod.Script
	}
	return c.Server.Files.Dev.Script
}

// ScriptName returns the bare file name of the site script, e.g. "site.js".
func (c *Config) ScriptName() string {
	p := c.ScriptPath()
	if p == "" {
		return ""
	}
	return filepath.Base(p)
}

// IndexPath returns the location of the fallback index page for the active
// environment. In dev the index lives with the processed resources; in prod
// it is part of the exported system folder.
func (c *Config) IndexPath() string {
	if c.Server.Environment == EnvProd {
		return filepath.Join(c.Server.Files.Prod.SiteRoot, "system", "index.html")
	}
	return filepath.Join(c.Server.Files.Dev.ContentRoot, "index.html")
}

// SystemRoot returns the prod system folder, which holds artifacts the
// exported site needs at runtime but which are not routable content.
func (c *Config) SystemRoot() string {
	return filepath.Join(c.Server.Files.Prod.SiteRoot, "system")
}
