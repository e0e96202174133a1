package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJson_PartialOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"listen_addr": ":9000",
		"upstream_timeout": "10s",
		"verify_concurrency": 4
	}`), 0o660))

	origArgs := os.Args
	os.Args = []string{"mailvault", "-c", path}
	t.Cleanup(func() { os.Args = origArgs })

	var c Config
	c.LoadDefaults()
	parseJson(&c)

	assert.Equal(t, ":9000", c.ListenAddr)
	assert.Equal(t, 10*time.Second, c.UpstreamTimeout)
	assert.Equal(t, 4, c.VerifyConcurrency)

	// Untouched fields keep their defaults.
	assert.Equal(t, "data/mailvault.json", c.DataFilePath)
	assert.Equal(t, 5, c.RetryMaxAttempts)
	assert.Equal(t, "@every 6h", c.VerifyCronSpec)
}

func TestParseJson_NoFlagNoFile(t *testing.T) {
	origArgs := os.Args
	os.Args = []string{"mailvault"}
	t.Cleanup(func() { os.Args = origArgs })

	var c Config
	c.LoadDefaults()
	parseJson(&c)

	assert.Equal(t, ":8000", c.ListenAddr)
}
