// Package config loads runtime configuration from environment variables
// with an optional JSON config file underneath.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type RuntimeConfig struct {
	Bind     string
	Port     string
	Token    string
	StateDir string

	Headless         bool
	ChromeBinary     string
	ChromeExtraFlags string
	DefaultUserAgent string
	ViewportWidth    int
	ViewportHeight   int

	ScreenshotQuality int
	ScreenshotTTL     time.Duration
	CacheSweepTTL     time.Duration
	SessionTTL        time.Duration
	SweepInterval     time.Duration

	AuthTimeout   time.Duration
	AutoCloseWarn time.Duration
	AutoCloseTTL  time.Duration
	PollInterval  time.Duration

	ActionTimeout   time.Duration
	NavigateTimeout time.Duration
	ShutdownTimeout time.Duration
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

// FileConfig is the optional JSON config file. Environment variables win
// over file values.
type FileConfig struct {
	Port           string `json:"port"`
	Token          string `json:"token,omitempty"`
	StateDir       string `json:"stateDir"`
	Headless       *bool  `json:"headless,omitempty"`
	ChromeBinary   string `json:"chromeBinary,omitempty"`
	SessionTTLMin  int    `json:"sessionTtlMin,omitempty"`
	AuthTimeoutSec int    `json:"authTimeoutSec,omitempty"`
}

func Load() *RuntimeConfig {
	cfg := &RuntimeConfig{
		Bind:     envOr("BRIDGE_BIND", "127.0.0.1"),
		Port:     envOr("BRIDGE_PORT", "9868"),
		Token:    os.Getenv("BRIDGE_TOKEN"),
		StateDir: envOr("BRIDGE_STATE_DIR", filepath.Join(homeDir(), ".authbridge")),

		Headless:         envBoolOr("BRIDGE_HEADLESS", true),
		ChromeBinary:     os.Getenv("CHROME_BINARY"),
		ChromeExtraFlags: os.Getenv("CHROME_FLAGS"),
		DefaultUserAgent: os.Getenv("BRIDGE_USER_AGENT"),
		ViewportWidth:    envIntOr("BRIDGE_VIEWPORT_WIDTH", 1280),
		ViewportHeight:   envIntOr("BRIDGE_VIEWPORT_HEIGHT", 800),

		ScreenshotQuality: envIntOr("BRIDGE_SCREENSHOT_QUALITY", 80),
		ScreenshotTTL:     envDurationOr("BRIDGE_SCREENSHOT_TTL", time.Second),
		CacheSweepTTL:     envDurationOr("BRIDGE_CACHE_SWEEP_TTL", 5*time.Minute),
		SessionTTL:        envDurationOr("BRIDGE_SESSION_TTL", time.Hour),
		SweepInterval:     envDurationOr("BRIDGE_SWEEP_INTERVAL", 10*time.Minute),

		AuthTimeout:   envDurationOr("BRIDGE_AUTH_TIMEOUT", 5*time.Minute),
		AutoCloseWarn: envDurationOr("BRIDGE_AUTOCLOSE_WARN", 4*time.Minute),
		AutoCloseTTL:  envDurationOr("BRIDGE_AUTOCLOSE_TTL", 5*time.Minute),
		PollInterval:  envDurationOr("BRIDGE_POLL_INTERVAL", 5*time.Second),

		ActionTimeout:   envDurationOr("BRIDGE_ACTION_TIMEOUT", 15*time.Second),
		NavigateTimeout: envDurationOr("BRIDGE_NAVIGATE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: envDurationOr("BRIDGE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	configPath := envOr("BRIDGE_CONFIG", filepath.Join(homeDir(), ".authbridge", "config.json"))

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg
	}

	if fc.Port != "" && os.Getenv("BRIDGE_PORT") == "" {
		cfg.Port = fc.Port
	}
	if fc.Token != "" && os.Getenv("BRIDGE_TOKEN") == "" {
		cfg.Token = fc.Token
	}
	if fc.StateDir != "" && os.Getenv("BRIDGE_STATE_DIR") == "" {
		cfg.StateDir = fc.StateDir
	}
	if fc.Headless != nil && os.Getenv("BRIDGE_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if fc.ChromeBinary != "" && os.Getenv("CHROME_BINARY") == "" {
		cfg.ChromeBinary = fc.ChromeBinary
	}
	if fc.SessionTTLMin > 0 && os.Getenv("BRIDGE_SESSION_TTL") == "" {
		cfg.SessionTTL = time.Duration(fc.SessionTTLMin) * time.Minute
	}
	if fc.AuthTimeoutSec > 0 && os.Getenv("BRIDGE_AUTH_TIMEOUT") == "" {
		cfg.AuthTimeout = time.Duration(fc.AuthTimeoutSec) * time.Second
	}

	return cfg
}
