package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/flagx"
	"github.com/dmitrijs2005/mailvault/internal/timex"
)

// JsonConfig is the intermediate DTO for the JSON configuration file. It uses
// timex.Duration for interval fields, which allows parsing both string values
// such as "30s" and integer nanoseconds. Only fields present in the file
// override the running configuration.
type JsonConfig struct {
	ListenAddr         *string         `json:"listen_addr"`
	DataFilePath       *string         `json:"data_file_path"`
	EncryptionKey      *string         `json:"encryption_key"`
	SessionSecret      *string         `json:"session_secret"`
	SessionTTL         *timex.Duration `json:"session_ttl"`
	SessionCookieName  *string         `json:"session_cookie_name"`
	AdminUsername      *string         `json:"admin_username"`
	AdminPassword      *string         `json:"admin_password"`
	TokenURL           *string         `json:"token_url"`
	BaseURL            *string         `json:"base_url"`
	UpstreamTimeout    *timex.Duration `json:"upstream_timeout"`
	RetryMaxAttempts   *int            `json:"retry_max_attempts"`
	RetryBaseDelay     *timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay      *timex.Duration `json:"retry_max_delay"`
	RequestsPerSecond  *float64        `json:"requests_per_second"`
	VerifyConcurrency  *int            `json:"verify_concurrency"`
	VerifyCronSpec     *string         `json:"verify_cron_spec"`
	CORSAllowedOrigins []string        `json:"cors_allowed_origins"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config command-line flags. Without the flag no file is loaded. Read or
// parse failures panic: a requested config file that cannot be used is a
// startup error.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.DataFilePath, c.DataFilePath)
	setString(&config.EncryptionKey, c.EncryptionKey)
	setString(&config.SessionSecret, c.SessionSecret)
	setDuration(&config.SessionTTL, c.SessionTTL)
	setString(&config.SessionCookieName, c.SessionCookieName)
	setString(&config.AdminUsername, c.AdminUsername)
	setString(&config.AdminPassword, c.AdminPassword)
	setString(&config.TokenURL, c.TokenURL)
	setString(&config.BaseURL, c.BaseURL)
	setDuration(&config.UpstreamTimeout, c.UpstreamTimeout)
	setDuration(&config.RetryBaseDelay, c.RetryBaseDelay)
	setDuration(&config.RetryMaxDelay, c.RetryMaxDelay)
	setString(&config.VerifyCronSpec, c.VerifyCronSpec)
	if c.RetryMaxAttempts != nil {
		config.RetryMaxAttempts = *c.RetryMaxAttempts
	}
	if c.RequestsPerSecond != nil {
		config.RequestsPerSecond = *c.RequestsPerSecond
	}
	if c.VerifyConcurrency != nil {
		config.VerifyConcurrency = *c.VerifyConcurrency
	}
	if c.CORSAllowedOrigins != nil {
		config.CORSAllowedOrigins = c.CORSAllowedOrigins
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = time.Duration(src.Duration)
	}
}
