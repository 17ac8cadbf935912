package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LMS_SERVER_URL", "https://lms.example.com")
	t.Setenv("VAULT_DIR", t.TempDir())
	t.Setenv("VAULT_PASSPHRASE", "correct horse battery staple")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LMS_REQUEST_TIMEOUT", "")
	t.Setenv("DOWNLOAD_CONCURRENCY", "")
	t.Setenv("STREAM_TTL", "")
	t.Setenv("SYNC_INTERVAL", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://lms.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 2, cfg.Download.Concurrency)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "1h", cfg.Streaming.StreamTTL.String())
	assert.Contains(t, cfg.DatabasePath(), "vault.db")
	assert.Contains(t, cfg.MediaDir(), "media")
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{name: "missing server url", unset: "LMS_SERVER_URL"},
		{name: "missing passphrase", unset: "VAULT_PASSPHRASE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tt.unset, "")

			cfg, err := Load()

			assert.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.unset)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad concurrency", key: "DOWNLOAD_CONCURRENCY", value: "zero"},
		{name: "negative concurrency", key: "DOWNLOAD_CONCURRENCY", value: "-1"},
		{name: "bad stream ttl", key: "STREAM_TTL", value: "soon"},
		{name: "bad sync interval", key: "SYNC_INTERVAL", value: "often"},
		{name: "bad request timeout", key: "LMS_REQUEST_TIMEOUT", value: "30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()

			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
