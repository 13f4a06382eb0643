// Package config holds both halves of gangway configuration: the static
// process settings resolved once at startup, and the dynamic key/value store
// the admin service mutates at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Settings holds process-level configuration resolved at startup. Dynamic
// keys (JWT_SECRET, IP_ALLOWLIST, ...) live in the Store instead.
type Settings struct {
	ListenAddr     string `yaml:"listen_addr"`
	TLSCertFile    string `yaml:"tls_cert_file"`
	TLSKeyFile     string `yaml:"tls_key_file"`
	DatabaseURL    string `yaml:"database_url"`
	RedisURL       string `yaml:"redis_url"`
	DataDir        string `yaml:"data_dir"`
	PluginDir      string `yaml:"plugin_dir"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Environment    string `yaml:"environment"`
	LogLevel       string `yaml:"log_level"`
	RateLimitRPS   int    `yaml:"rate_limit_rps"`
	RateLimitBurst int    `yaml:"rate_limit_burst"`

	// MasterKey seals sensitive config values at rest. Env only, never
	// serialized.
	MasterKey string `yaml:"-" json:"-"`
}

// defaultSettings returns the baseline every load starts from.
func defaultSettings() *Settings {
	return &Settings{
		ListenAddr:     ":8443",
		DataDir:        "./data",
		Environment:    "development",
		LogLevel:       "INFO",
		RateLimitRPS:   0, // disabled
		RateLimitBurst: 0,
	}
}

// LoadSettings resolves settings from an optional YAML profile overlaid with
// environment variables (environment wins). profilePath may be empty.
func LoadSettings(profilePath string) (*Settings, error) {
	s := defaultSettings()

	if profilePath != "" {
		data, err := os.ReadFile(profilePath)
		if err != nil {
			return nil, fmt.Errorf("config: load profile %q: %w", profilePath, err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("config: parse profile %q: %w", profilePath, err)
		}
	}

	overlayEnv(s)
	return s, nil
}

func overlayEnv(s *Settings) {
	setIfPresent := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setIfPresent(&s.ListenAddr, "GANGWAY_LISTEN_ADDR")
	if port := os.Getenv("PORT"); port != "" {
		s.ListenAddr = ":" + port
	}
	setIfPresent(&s.TLSCertFile, "GANGWAY_TLS_CERT")
	setIfPresent(&s.TLSKeyFile, "GANGWAY_TLS_KEY")
	setIfPresent(&s.DatabaseURL, "DATABASE_URL")
	setIfPresent(&s.RedisURL, "REDIS_URL")
	setIfPresent(&s.DataDir, "GANGWAY_DATA_DIR")
	setIfPresent(&s.PluginDir, "GANGWAY_PLUGIN_DIR")
	setIfPresent(&s.OTLPEndpoint, "OTLP_ENDPOINT")
	setIfPresent(&s.Environment, "GANGWAY_ENV")
	setIfPresent(&s.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("GANGWAY_RATE_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.RateLimitRPS = n
		}
	}
	if v := os.Getenv("GANGWAY_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.RateLimitBurst = n
		}
	}

	s.MasterKey = os.Getenv("GANGWAY_MASTER_KEY")
}

// TLSEnabled reports whether both halves of the keypair are configured.
func (s *Settings) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}
