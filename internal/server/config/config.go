// Package config handles configuration for the server component, including
// defaults, JSON overlay, environment secrets and command-line flags.
package config

import "time"

// Config holds runtime settings for the mailvault server.
type Config struct {
	ListenAddr   string
	DataFilePath string

	// EncryptionKey enables at-rest encryption of stored secrets when
	// non-empty. Changing it makes previously encrypted values
	// unreadable.
	EncryptionKey string

	SessionSecret     string
	SessionTTL        time.Duration
	SessionCookieName string

	AdminUsername string
	AdminPassword string

	TokenURL          string
	BaseURL           string
	UpstreamTimeout   time.Duration
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RequestsPerSecond float64

	VerifyConcurrency int
	VerifyCronSpec    string

	CORSAllowedOrigins []string
}

// LoadDefaults populates Config with development defaults.
// NOTE: The session secret and admin password are insecure and must be
// overridden in production.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":8000"
	c.DataFilePath = "data/mailvault.json"
	c.EncryptionKey = ""
	c.SessionSecret = "insecure-dev-session-secret"
	c.SessionTTL = 24 * time.Hour
	c.SessionCookieName = "mailvault_session"
	c.AdminUsername = "admin"
	c.AdminPassword = "admin123"
	c.TokenURL = ""
	c.BaseURL = ""
	c.UpstreamTimeout = 30 * time.Second
	c.RetryMaxAttempts = 5
	c.RetryBaseDelay = 500 * time.Millisecond
	c.RetryMaxDelay = 30 * time.Second
	c.RequestsPerSecond = 0
	c.VerifyConcurrency = 10
	c.VerifyCronSpec = "@every 6h"
	c.CORSAllowedOrigins = []string{"http://localhost:5173"}
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, environment variables and finally
// command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
