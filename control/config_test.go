// File: control/config_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-httpc/api"
)

func TestParseConfig_OverridesDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
threads: 4
timeout: 2s
max_transfers: 128
user_agent: probe/1.0
rate_limit:
  rps: 50
  burst: 10
affinity: [0, 1]
`))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, def.ConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, def.MaxResponseSize, cfg.MaxResponseSize)
	assert.Equal(t, 128, cfg.MaxTransfers)
	assert.Equal(t, "probe/1.0", cfg.UserAgent)
	assert.Equal(t, RateLimit{RPS: 50, Burst: 10}, cfg.RateLimit)
	assert.Equal(t, []int{0, 1}, cfg.Affinity)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"negative threads":   "threads: -1",
		"burst missing":      "rate_limit: {rps: 5}",
		"negative cpu":       "affinity: [-2]",
		"negative body cap":  "max_response_size: -5",
		"not a duration":     "timeout: soon",
		"not a mapping":      "- a\n- b",
		"negative transfers": "max_transfers: -3",
	}
	for name, doc := range tests {
		doc := doc
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestValidate_WrapsInvalidArgument(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = -time.Second
	assert.ErrorIs(t, cfg.Validate(), api.ErrInvalidArgument)
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "httpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: 2\nconnect_timeout: 250ms\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Threads)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectTimeout)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
