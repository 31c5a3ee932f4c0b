package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/forgeboard/internal/shared/paths"
)

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig
	Layout    LayoutConfig
	Tools     ToolsConfig
	Ports     PortsConfig
	Proxy     ProxyConfig
	Logs      LogsConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the control API listener configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8040"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LayoutConfig holds the on-disk artifact layout.
type LayoutConfig struct {
	RegistryFile   string `envconfig:"REGISTRY_FILE" default:"/etc/forgeboard/apps.yml"`
	SystemdDir     string `envconfig:"SYSTEMD_DIR" default:"/etc/systemd/system"`
	FragmentsDir   string `envconfig:"ROUTE_FRAGMENTS_DIR" default:"/var/lib/forgeboard/routes"`
	// StagingDir must share a filesystem with ActiveDir: the reloader
	// activates a staged route set by rename.
	StagingDir     string `envconfig:"ROUTE_STAGING_DIR" default:"/etc/nginx/.forgeboard-staging"`
	ActiveDir      string `envconfig:"ROUTE_ACTIVE_DIR" default:"/etc/nginx/forgeboard"`
	SitesAvailable string `envconfig:"NGINX_SITES_AVAILABLE" default:"/etc/nginx/sites-available"`
	SitesEnabled   string `envconfig:"NGINX_SITES_ENABLED" default:"/etc/nginx/sites-enabled"`
}

// ToolsConfig holds external tool binaries and their bounded timeouts.
type ToolsConfig struct {
	Systemctl  string        `envconfig:"SYSTEMCTL_BIN" default:"systemctl"`
	Journalctl string        `envconfig:"JOURNALCTL_BIN" default:"journalctl"`
	Nginx      string        `envconfig:"NGINX_BIN" default:"nginx"`
	Timeout    time.Duration `envconfig:"TOOL_TIMEOUT" default:"10s"`
	LogTimeout time.Duration `envconfig:"LOG_TIMEOUT" default:"5s"`
}

// PortsConfig holds the auto-allocation range for app ports.
type PortsConfig struct {
	RangeStart int `envconfig:"PORT_RANGE_START" default:"9001"`
	RangeEnd   int `envconfig:"PORT_RANGE_END" default:"9999"`
}

// ProxyConfig holds routing behavior shared by all apps.
type ProxyConfig struct {
	// SharedHost is the server_name apps are mounted under when they have
	// no distinct fully-qualified domain of their own.
	SharedHost string `envconfig:"PROXY_SHARED_HOST" default:"_"`
	ListenPort int    `envconfig:"PROXY_LISTEN_PORT" default:"80"`
}

// LogsConfig bounds app log retrieval.
type LogsConfig struct {
	DefaultLines int `envconfig:"LOG_DEFAULT_LINES" default:"50"`
	MaxLines     int `envconfig:"LOG_MAX_LINES" default:"500"`
}

// LogConfig holds daemon logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds control API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from FORGEBOARD_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("forgeboard", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	l := paths.Default()
	return &Config{
		Server: ServerConfig{Port: "8040", Host: "0.0.0.0"},
		Layout: LayoutConfig{
			RegistryFile:   l.RegistryFile,
			SystemdDir:     l.SystemdDir,
			FragmentsDir:   l.FragmentsDir,
			StagingDir:     l.StagingDir,
			ActiveDir:      l.ActiveDir,
			SitesAvailable: l.SitesAvailable,
			SitesEnabled:   l.SitesEnabled,
		},
		Tools: ToolsConfig{
			Systemctl:  "systemctl",
			Journalctl: "journalctl",
			Nginx:      "nginx",
			Timeout:    10 * time.Second,
			LogTimeout: 5 * time.Second,
		},
		Ports:     PortsConfig{RangeStart: 9001, RangeEnd: 9999},
		Proxy:     ProxyConfig{SharedHost: "_", ListenPort: 80},
		Logs:      LogsConfig{DefaultLines: 50, MaxLines: 500},
		Logging:   LogConfig{Level: "info", Development: false},
		RateLimit: RateLimitConfig{RequestsPerSecond: 50, Burst: 100, Enabled: true},
	}
}

// PathLayout converts the config into the shared layout type.
func (c *Config) PathLayout() paths.Layout {
	return paths.Layout{
		RegistryFile:   c.Layout.RegistryFile,
		SystemdDir:     c.Layout.SystemdDir,
		FragmentsDir:   c.Layout.FragmentsDir,
		StagingDir:     c.Layout.StagingDir,
		ActiveDir:      c.Layout.ActiveDir,
		SitesAvailable: c.Layout.SitesAvailable,
		SitesEnabled:   c.Layout.SitesEnabled,
	}
}
