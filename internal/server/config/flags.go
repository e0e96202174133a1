package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8000")
//	-f string   path to the JSON data file
//	-k string   at-rest encryption key
//	-s string   session HMAC secret key
//	-t int      session validity, hours
//	-n int      bulk verification concurrency
//	-v string   verification cron spec (e.g., "@every 6h")
//	-o string   comma-separated CORS origins
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with the -c/-config flags consumed by
// the JSON overlay.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-k", "-s", "-t", "-n", "-v", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port to run server")
	fs.StringVar(&config.DataFilePath, "f", config.DataFilePath, "path to the data file")
	fs.StringVar(&config.EncryptionKey, "k", config.EncryptionKey, "at-rest encryption key")
	fs.StringVar(&config.SessionSecret, "s", config.SessionSecret, "session secret key")

	sessionTTLHours := fs.Int("t", int(config.SessionTTL.Hours()), "session_ttl (in hours)")
	fs.IntVar(&config.VerifyConcurrency, "n", config.VerifyConcurrency, "verification concurrency")
	fs.StringVar(&config.VerifyCronSpec, "v", config.VerifyCronSpec, "verification cron spec")

	origins := fs.String("o", strings.Join(config.CORSAllowedOrigins, ","), "comma-separated CORS origins")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTLHours) * time.Hour
	if *origins == "" {
		config.CORSAllowedOrigins = nil
	} else {
		config.CORSAllowedOrigins = strings.Split(*origins, ",")
	}
}
