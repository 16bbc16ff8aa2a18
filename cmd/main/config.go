package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/Drosera/pkg/pages"
	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP servers and the page site.
type ServerConfig struct {
	ServerAddr        string            `json:"server_addr"`
	ApiAddr           string            `json:"api_addr"`
	LogLevel          string            `json:"log_level"`
	TrustedProxies    []string          `json:"trusted_proxies"`
	PagesDir          string            `json:"pages_dir"`
	LayoutTemplate    string            `json:"layout_template"`
	AppTitle          string            `json:"app_title"`
	DefaultPage       string            `json:"default_page"`
	DataMaxBytes      int64             `json:"data_max_bytes"`
	AuthDatabasePath  string            `json:"auth_database_path"`
	StatsDatabasePath string            `json:"stats_database_path"`
	Headers           map[string]string `json:"headers"`
	Pages             []pages.Page      `json:"pages"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig              `json:"server_config"`
	Templates *templating.TemplateConfig `json:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:        ":8080",
		ApiAddr:           ":8081",
		LogLevel:          "info",
		TrustedProxies:    []string{},
		PagesDir:          "./pages",
		LayoutTemplate:    "",
		AppTitle:          "My Application",
		DefaultPage:       "home",
		DataMaxBytes:      4 << 20,
		AuthDatabasePath:  "./data/drosera_auth.db?_journal_mode=WAL&_busy_timeout=5000",
		StatsDatabasePath: "./data/drosera_stats.db?_journal_mode=WAL&_busy_timeout=5000",
		Headers: map[string]string{
			"Cache-Control":           "no-cache",
			"Content-Security-Policy": "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline';",
			"Content-Type":            "text/html; charset=utf-8",
		},
		Pages: []pages.Page{
			{Name: "home", Icon: "🏠"},
			{Name: "settings", Icon: "⚙️"},
		},
	}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Templates: templating.DefaultConfig(),
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Templates == nil {
		config.Templates = templating.DefaultConfig()
	}
	return config, nil
}

// parseLogLevel maps the config's level string to a slog.Level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigManager handles thread-safe access to configuration and derived state (trusted proxies).
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
	tm           *templating.TemplateManager
	onUpdate     []func(Config) error
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetTemplateManager registers the template manager to receive config updates.
func (cm *ConfigManager) SetTemplateManager(tm *templating.TemplateManager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
	if tm != nil {
		tm.SetConfig(cm.config.Templates)
	}
}

// SetLogger sets the logger used for config warnings.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// OnUpdate registers fn to run after every successful Update with the new
// configuration. Errors are logged; the saved configuration stays in effect.
func (cm *ConfigManager) OnUpdate(fn func(Config) error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onUpdate = append(cm.onUpdate, fn)
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates and applies a new configuration, saves it to disk and then
// runs the OnUpdate hooks. Template settings are applied to the registered
// TemplateManager first and rolled back if the manager cannot refresh with them.
func (cm *ConfigManager) Update(newConfig Config) error {
	if err := cm.apply(newConfig); err != nil {
		return err
	}

	cm.mu.RLock()
	hooks, cfg, logger := cm.onUpdate, *cm.config, cm.logger
	cm.mu.RUnlock()
	for _, fn := range hooks {
		if err := fn(cfg); err != nil {
			logger.Error("Failed to apply updated configuration", "error", err)
		}
	}
	return nil
}

func (cm *ConfigManager) apply(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Templates == nil {
		return fmt.Errorf("config must contain server_config and template_config")
	}
	if _, err := pages.NewRegistry(newConfig.Server.Pages...); err != nil {
		return fmt.Errorf("page configuration rejected: %w", err)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.tm != nil {
		oldTmplConfig := cm.config.Templates

		cm.tm.SetConfig(newConfig.Templates)
		if err := cm.tm.Refresh(); err != nil {
			cm.tm.SetConfig(oldTmplConfig)
			_ = cm.tm.Refresh()
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}

	*cm.config = newConfig
	cm.refreshCache()

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}
	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}
	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else {
			ip := net.ParseIP(t)
			if ip != nil {
				ips = append(ips, ip)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
			}
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}
