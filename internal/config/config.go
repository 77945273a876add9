// Package config loads the gateway's runtime configuration from the
// environment (and an optional .env found by walking up from the working
// directory to a repo-root marker), with an optional YAML overlay, and
// publishes it as an atomically-swappable snapshot that fsnotify-driven
// hot-reload can replace without locking readers.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 8045
	DefaultUserAgent        = "antigravity/1.11.3 windows/amd64"
	DefaultTimeoutMS        = 180_000
	DefaultRetryMaxAttempts = 3
	DefaultEndpointMode     = "daily"
	DefaultDataDir          = "./data"

	// DefaultGoogleClientID/Secret are the upstream OAuth app's published
	// installed-app credentials, used whenever an operator hasn't supplied
	// their own.
	DefaultGoogleClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	DefaultGoogleClientSecret = "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"
)

// Config is one immutable configuration snapshot.
type Config struct {
	Host string
	Port int

	APIUserAgent string
	TimeoutMS    int
	Proxy        string

	APIKey string

	RetryStatusCodes []int
	RetryMaxAttempts int

	Debug string

	EndpointMode string

	GoogleClientID     string
	GoogleClientSecret string

	DataDir                string
	WebUIPassword          string
	Gemini3MediaResolution string

	// PostgresDSN optionally mirrors the credential store to Postgres; empty
	// disables the mirror.
	PostgresDSN string
}

// EffectiveGoogleClientID returns the configured client id, or the upstream
// default if unset.
func (c *Config) EffectiveGoogleClientID() string {
	if v := strings.TrimSpace(c.GoogleClientID); v != "" {
		return v
	}
	return DefaultGoogleClientID
}

// EffectiveGoogleClientSecret returns the configured client secret, or the
// upstream default if unset.
func (c *Config) EffectiveGoogleClientSecret() string {
	if v := strings.TrimSpace(c.GoogleClientSecret); v != "" {
		return v
	}
	return DefaultGoogleClientSecret
}

// Timeout returns TimeoutMS as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Load builds a Config from .env (if found) overlaid by the process
// environment, then by config.yaml in DataDir if present, then by the
// "-debug <level>" CLI override.
func Load(args []string) *Config {
	loadDotenv()

	cfg := &Config{
		Host:                   getEnv("HOST", DefaultHost),
		Port:                   getEnvInt("PORT", DefaultPort),
		APIUserAgent:           getEnv("API_USER_AGENT", DefaultUserAgent),
		TimeoutMS:              getEnvInt("TIMEOUT", DefaultTimeoutMS),
		Proxy:                  getEnv("PROXY", ""),
		APIKey:                 getEnv("API_KEY", ""),
		RetryStatusCodes:       parseStatusCodes(getEnv("RETRY_STATUS_CODES", "429,500")),
		RetryMaxAttempts:       getEnvInt("RETRY_MAX_ATTEMPTS", DefaultRetryMaxAttempts),
		Debug:                  getEnv("DEBUG", "off"),
		EndpointMode:           getEnv("ENDPOINT_MODE", DefaultEndpointMode),
		GoogleClientID:         getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:     getEnv("GOOGLE_CLIENT_SECRET", ""),
		DataDir:                getEnv("DATA_DIR", DefaultDataDir),
		WebUIPassword:          getEnv("WEBUI_PASSWORD", ""),
		Gemini3MediaResolution: getEnv("GEMINI3_MEDIA_RESOLUTION", ""),
		PostgresDSN:            getEnv("POSTGRES_DSN", ""),
	}

	applyYAMLOverlay(cfg, filepath.Join(cfg.DataDir, "config.yaml"))
	applyDebugFlag(cfg, args)
	return cfg
}

func applyDebugFlag(cfg *Config, args []string) {
	for i, a := range args {
		if a == "-debug" && i+1 < len(args) {
			cfg.Debug = args[i+1]
		}
	}
}

// yamlOverlay is the subset of fields an operator may override via
// config.yaml without touching the environment.
type yamlOverlay struct {
	Debug            *string `yaml:"debug"`
	EndpointMode     *string `yaml:"endpoint_mode"`
	RetryMaxAttempts *int    `yaml:"retry_max_attempts"`
	Proxy            *string `yaml:"proxy"`
	WebUIPassword    *string `yaml:"webui_password"`
}

func applyYAMLOverlay(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		log.WithError(err).Warnf("config: failed to parse %s, ignoring", path)
		return
	}
	if overlay.Debug != nil {
		cfg.Debug = *overlay.Debug
	}
	if overlay.EndpointMode != nil {
		cfg.EndpointMode = *overlay.EndpointMode
	}
	if overlay.RetryMaxAttempts != nil {
		cfg.RetryMaxAttempts = *overlay.RetryMaxAttempts
	}
	if overlay.Proxy != nil {
		cfg.Proxy = *overlay.Proxy
	}
	if overlay.WebUIPassword != nil {
		cfg.WebUIPassword = *overlay.WebUIPassword
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func parseStatusCodes(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return []int{429, 500}
	}
	return out
}

// loadDotenv walks up from the working directory looking for a .env file,
// stopping at the first repo-root marker (go.mod or .git) it crosses
// without finding one, then loads it into the process environment without
// overwriting variables already set.
func loadDotenv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			if err := godotenv.Load(candidate); err != nil {
				log.WithError(err).Warnf("config: failed to load %s", candidate)
			}
			return
		}
		if isRepoRootMarker(dir) {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func isRepoRootMarker(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
		return true
	}
	return false
}

// Snapshot is the arc-swap-style atomically-swappable current Config. Reads
// never block a concurrent Store.
type Snapshot struct {
	v atomic.Pointer[Config]
}

// NewSnapshot wraps an initial Config.
func NewSnapshot(cfg *Config) *Snapshot {
	s := &Snapshot{}
	s.v.Store(cfg)
	return s
}

// Load returns the current Config. Safe for concurrent use.
func (s *Snapshot) Load() *Config { return s.v.Load() }

// Store atomically replaces the current Config.
func (s *Snapshot) Store(cfg *Config) { s.v.Store(cfg) }
