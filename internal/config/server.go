package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the only configuration file version understood.
const SchemaVersion = 1

const (
	DefaultBind         = "0.0.0.0"
	DefaultPort         = 8080
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultInstance     = "otafleet"

	// DefaultServerURL is where the operator CLI looks for a server when
	// neither --server nor OTAFLEET_SERVER is set.
	DefaultServerURL = "http://localhost:8080"
)

// fileMutex serializes Save calls.
var fileMutex sync.Mutex

// ServerConfig holds everything the OTA server needs to start.
type ServerConfig struct {
	Version           int           `yaml:"version"`
	Bind              string        `yaml:"bind"`
	Port              int           `yaml:"port"`
	BaseURL           string        `yaml:"base_url,omitempty"`
	FirmwarePath      string        `yaml:"firmware_path,omitempty"`
	FirmwareDir       string        `yaml:"firmware_dir,omitempty"`
	FirmwareVersion   string        `yaml:"firmware_version,omitempty"`
	ProvisioningToken string        `yaml:"provisioning_token,omitempty"`
	RequireApproval   bool          `yaml:"require_approval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Only enable behind a reverse proxy that sets them.
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
	MDNS              MDNSConfig    `yaml:"mdns"`
	TLS               TLSConfig     `yaml:"tls,omitempty"`
	LogLevel          string        `yaml:"log_level,omitempty"`
}

// TLSConfig enables HTTPS when both paths are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// Enabled reports whether HTTPS is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// MDNSConfig controls service advertisement.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance,omitempty"`
}

// Default returns the built-in configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Version:         SchemaVersion,
		Bind:            DefaultBind,
		Port:            DefaultPort,
		RequireApproval: true,
		PollInterval:    DefaultPollInterval,
		MDNS: MDNSConfig{
			Enabled:  true,
			Instance: DefaultInstance,
		},
	}
}

// Load reads path over the defaults and applies OTA_* environment
// overrides. An empty path means the default location, which may be absent.
// An explicit path must exist.
func Load(path string) (*ServerConfig, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if cfg.Version != SchemaVersion {
			return nil, fmt.Errorf("unsupported config version: %d (expected %d)", cfg.Version, SchemaVersion)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from OTA_* variables found by lookup.
func (c *ServerConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("OTA_BIND", &c.Bind)
	str("OTA_BASE_URL", &c.BaseURL)
	str("OTA_FIRMWARE", &c.FirmwarePath)
	str("OTA_FIRMWARE_DIR", &c.FirmwareDir)
	str("OTA_VERSION", &c.FirmwareVersion)
	str("OTA_TOKEN", &c.ProvisioningToken)

	if v, ok := lookup("OTA_TRUST_PROXY_HEADERS"); ok && v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OTA_TRUST_PROXY_HEADERS %q: %w", v, err)
		}
		c.TrustProxyHeaders = trust
	}

	if v, ok := lookup("OTA_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid OTA_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range (1-65535)", c.Port)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls requires both cert_file and key_file")
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url must start with http:// or https://, got %q", c.BaseURL)
	}
	return nil
}

// ListenAddr returns bind:port.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// PublicURL is the URL devices use to download firmware. localIP is used
// when no base URL is configured.
func (c *ServerConfig) PublicURL(localIP string) string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	scheme := "http"
	if c.TLS.Enabled() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, localIP, c.Port)
}

// Save writes the configuration to path atomically.
func (c *ServerConfig) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# otafleet server configuration\n# Location: " + path + "\n\n")
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// ResolveServerURL picks the server URL for the operator CLI: flag, then
// OTAFLEET_SERVER, then DefaultServerURL.
func ResolveServerURL(flag string) string {
	if flag != "" {
		return strings.TrimRight(flag, "/")
	}
	if env := os.Getenv("OTAFLEET_SERVER"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return DefaultServerURL
}
