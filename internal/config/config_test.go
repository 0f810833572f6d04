package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/models"
)

func TestParse_ExpandsEnvVarsAndDurations(t *testing.T) {
	t.Setenv("TEST_MONGO_URI", "mongodb://db:27017")

	cfg, err := Parse([]byte(`{
		"mongodb": {"uri": "${TEST_MONGO_URI}", "database": "rbw_test"},
		"queue": {"checkInterval": "2s", "partialBatchWait": 90},
		"warp": {"maxRetryAttempts": 5}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db:27017", cfg.MongoDB.URI)
	assert.Equal(t, 2*time.Second, cfg.Queue.CheckInterval.D())
	assert.Equal(t, 90*time.Second, cfg.Queue.PartialBatchWait.D())
	assert.Equal(t, 5, cfg.Warp.MaxRetryAttempts)
}

func TestParse_RejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte(`{"queue": {"checkInterval": "soon"}}`))
	assert.Error(t, err)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, 5*time.Second, cfg.Queue.CheckInterval.D())
	assert.Equal(t, 60*time.Second, cfg.Queue.PartialBatchWait.D())
	assert.Equal(t, 4, cfg.Queue.MinPartialBatch)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.LockTimeout.D())
	assert.Equal(t, 60*time.Second, cfg.Warp.Timeout.D())
	assert.Equal(t, 3, cfg.Warp.MaxRetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Warp.RetryDelay.D())
	assert.Equal(t, 60*time.Second, cfg.Bridge.RequestTimeout.D())
	assert.Equal(t, 30*time.Second, cfg.Bridge.PingInterval.D())
	assert.Equal(t, 10*time.Second, cfg.Bridge.PongTimeout.D())
	assert.Equal(t, "/rbw/websocket", cfg.Bridge.Path)
	assert.Equal(t, 30*time.Minute, cfg.Party.InactiveTimeout.D())
	assert.Equal(t, 1.0, cfg.Scoring.BoosterMultiplier)
	assert.Equal(t, 30, cfg.Moderation.StrikeDecayDays)
	assert.Equal(t, 15*time.Second, cfg.Channels.SweepInterval.D())
	assert.NotEmpty(t, cfg.Moderation.StrikeActions)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "memory backend needs no uri", mutate: func(c *Config) { c.Store.Backend = "memory" }},
		{name: "mongo without uri", mutate: func(c *Config) { c.Store.Backend = "mongo" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "redis" }, wantErr: true},
		{
			name: "bad strike key",
			mutate: func(c *Config) {
				c.Store.Backend = "memory"
				c.Moderation.StrikeActions = map[string]string{"xstrike": "1d"}
			},
			wantErr: true,
		},
		{
			name: "decay enabled without value",
			mutate: func(c *Config) {
				c.Store.Backend = "memory"
				c.Scoring.RatingDecay.Enabled = true
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.test.json"), []byte(`{
		"server": {"port": 9000},
		"store": {"backend": "memory"}
	}`), 0o600))

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("RBW_SERVER_PORT", "9100")
	t.Setenv("RBW_LOG_LEVEL", "debug")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestValidate_StrikeActions(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Backend = "memory"
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	for _, bad := range []map[string]string{
		{"strike": "warn"},
		{"0strike": "warn"},
		{"threestrike": "1d"},
		{"3strikes": "1d"},
		{"3strike": "forever"},
	} {
		cfg.Moderation.StrikeActions = bad
		err := cfg.Validate()
		assert.ErrorIs(t, err, models.ErrValidation, bad)
		assert.ErrorContains(t, err, "moderation.strikeActions", bad)
	}
}
