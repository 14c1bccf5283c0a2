// Package config provides environment-based configuration for the pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// VPNConfig describes the network fallback used before extraction starts.
type VPNConfig struct {
	// Gateways are tried in order until one connects and the probe succeeds.
	Gateways []string `validate:"min=1,dive,required"`
	// DialCommand is the external tunnel client invoked per gateway; the
	// gateway name is appended as its last argument.
	DialCommand string `validate:"required"`
	// ProbeURL must answer an HTTP GET once the tunnel is up.
	ProbeURL string `validate:"required,url"`
	// SwitchTimeout bounds one full pass over the gateway list.
	SwitchTimeout time.Duration `validate:"gt=0"`
}

// DatabaseConfig holds the Postgres connection settings for the load stage.
type DatabaseConfig struct {
	URL   string `validate:"required"`
	Table string `validate:"required"`
}

// ScraperConfig drives the portal extraction session.
type ScraperConfig struct {
	PortalURL   string `validate:"required,url"`
	Username    string `validate:"required"`
	Password    string `validate:"required"`
	DownloadDir string `validate:"required"`
	// ReportPrefix identifies the exported spreadsheet in DownloadDir.
	ReportPrefix    string        `validate:"required"`
	NavigateTimeout time.Duration `validate:"gt=0"`
	DownloadTimeout time.Duration `validate:"gt=0"`
}

// Config is built once at startup and treated as immutable afterwards. The
// orchestrator owns it and hands the sub-configs to the stage adapters by
// pointer.
type Config struct {
	VPN      VPNConfig
	Database DatabaseConfig
	Scraper  ScraperConfig

	MaxRetries int           `validate:"gte=1"`
	RetryDelay time.Duration `validate:"gte=0"`
}

const (
	defaultMaxRetries      = 3
	defaultRetryDelay      = 10 * time.Second
	defaultSwitchTimeout   = 90 * time.Second
	defaultNavigateTimeout = 60 * time.Second
	defaultDownloadTimeout = 120 * time.Second
	defaultReportPrefix    = "CONSULTA_TLP"
)

// Load reads configuration from the environment. Missing optional values
// fall back to defaults; required values are reported by Validate, not here.
func Load() (*Config, error) {
	cfg := &Config{
		VPN: VPNConfig{
			Gateways:      splitList(os.Getenv("VPN_GATEWAYS")),
			DialCommand:   os.Getenv("VPN_DIAL_COMMAND"),
			ProbeURL:      os.Getenv("VPN_PROBE_URL"),
			SwitchTimeout: defaultSwitchTimeout,
		},
		Database: DatabaseConfig{
			URL:   os.Getenv("DATABASE_URL"),
			Table: os.Getenv("TARGET_TABLE"),
		},
		Scraper: ScraperConfig{
			PortalURL:       os.Getenv("PORTAL_URL"),
			Username:        os.Getenv("PORTAL_USER"),
			Password:        os.Getenv("PORTAL_PASSWORD"),
			DownloadDir:     os.Getenv("DOWNLOAD_DIR"),
			ReportPrefix:    defaultReportPrefix,
			NavigateTimeout: defaultNavigateTimeout,
			DownloadTimeout: defaultDownloadTimeout,
		},
		MaxRetries: defaultMaxRetries,
		RetryDelay: defaultRetryDelay,
	}

	if cfg.Scraper.DownloadDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving download dir: %w", err)
		}
		cfg.Scraper.DownloadDir = filepath.Join(home, "Downloads")
	}
	if prefix := os.Getenv("REPORT_PREFIX"); prefix != "" {
		cfg.Scraper.ReportPrefix = prefix
	}

	var err error
	if cfg.VPN.SwitchTimeout, err = durationEnv("VPN_SWITCH_TIMEOUT", cfg.VPN.SwitchTimeout); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = durationEnv("RETRY_DELAY", cfg.RetryDelay); err != nil {
		return nil, err
	}
	if raw := os.Getenv("MAX_RETRIES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing MAX_RETRIES %q: %w", raw, err)
		}
		cfg.MaxRetries = n
	}

	return cfg, nil
}

// Validate checks that every required setting is present and in range.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// durationEnv reads an env var holding either a Go duration ("90s") or a
// bare number of seconds, matching how the job was previously configured.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: expected duration or seconds", key, raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
