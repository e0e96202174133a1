package config

import "os"

// parseEnv overlays the secret-bearing settings from environment variables,
// so deployments can keep them out of config files and process listings.
func parseEnv(config *Config) {
	if v, ok := os.LookupEnv("MAILVAULT_ENC_KEY"); ok {
		config.EncryptionKey = v
	}
	if v, ok := os.LookupEnv("MAILVAULT_SESSION_SECRET"); ok {
		config.SessionSecret = v
	}
	if v, ok := os.LookupEnv("MAILVAULT_ADMIN_USERNAME"); ok {
		config.AdminUsername = v
	}
	if v, ok := os.LookupEnv("MAILVAULT_ADMIN_PASSWORD"); ok {
		config.AdminPassword = v
	}
}
