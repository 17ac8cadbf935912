// Package config provides configuration for the application
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the offline vault kernel
type Config struct {
	Server    ServerConfig
	Vault     VaultConfig
	Download  DownloadConfig
	Streaming StreamingConfig
	Sync      SyncConfig
	Logging   LoggingConfig
}

// ServerConfig holds remote LMS server settings
type ServerConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// VaultConfig holds local vault settings
type VaultConfig struct {
	Dir        string
	Passphrase string
}

// DownloadConfig holds download orchestration settings
type DownloadConfig struct {
	Concurrency     int
	PackageDeadline time.Duration
}

// StreamingConfig holds local streaming server settings
type StreamingConfig struct {
	StreamTTL time.Duration
}

// SyncConfig holds outbox synchronization settings
type SyncConfig struct {
	Interval time.Duration
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (optional)
	godotenv.Load()

	cfg := &Config{}

	// Remote server configuration
	serverURL := os.Getenv("LMS_SERVER_URL")
	if serverURL == "" {
		return nil, fmt.Errorf("LMS_SERVER_URL is required")
	}
	cfg.Server.BaseURL = serverURL

	requestTimeoutStr := os.Getenv("LMS_REQUEST_TIMEOUT")
	if requestTimeoutStr == "" {
		requestTimeoutStr = "30s"
	}
	requestTimeout, err := time.ParseDuration(requestTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LMS_REQUEST_TIMEOUT: %w", err)
	}
	cfg.Server.RequestTimeout = requestTimeout

	// Vault configuration
	vaultDir := os.Getenv("VAULT_DIR")
	if vaultDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("VAULT_DIR is not set and home directory is unavailable: %w", err)
		}
		vaultDir = filepath.Join(home, ".coursevault")
	}
	cfg.Vault.Dir = vaultDir

	passphrase := os.Getenv("VAULT_PASSPHRASE")
	if passphrase == "" {
		return nil, fmt.Errorf("VAULT_PASSPHRASE is required")
	}
	cfg.Vault.Passphrase = passphrase

	// Download configuration
	concurrencyStr := os.Getenv("DOWNLOAD_CONCURRENCY")
	if concurrencyStr == "" {
		concurrencyStr = "2" // default concurrent course downloads
	}
	concurrency, err := strconv.Atoi(concurrencyStr)
	if err != nil || concurrency < 1 {
		return nil, fmt.Errorf("invalid DOWNLOAD_CONCURRENCY: %q", concurrencyStr)
	}
	cfg.Download.Concurrency = concurrency

	packageDeadlineStr := os.Getenv("PACKAGE_DEADLINE")
	if packageDeadlineStr == "" {
		packageDeadlineStr = "5m"
	}
	packageDeadline, err := time.ParseDuration(packageDeadlineStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PACKAGE_DEADLINE: %w", err)
	}
	cfg.Download.PackageDeadline = packageDeadline

	// Streaming configuration
	streamTTLStr := os.Getenv("STREAM_TTL")
	if streamTTLStr == "" {
		streamTTLStr = "1h"
	}
	streamTTL, err := time.ParseDuration(streamTTLStr)
	if err != nil {
		return nil, fmt.Errorf("invalid STREAM_TTL: %w", err)
	}
	cfg.Streaming.StreamTTL = streamTTL

	// Sync configuration
	syncIntervalStr := os.Getenv("SYNC_INTERVAL")
	if syncIntervalStr == "" {
		syncIntervalStr = "1m"
	}
	syncInterval, err := time.ParseDuration(syncIntervalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	cfg.Sync.Interval = syncInterval

	// Logging configuration
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info" // default level
	}
	cfg.Logging.Level = logLevel

	return cfg, nil
}

// DatabasePath returns the path of the vault database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Vault.Dir, "vault.db")
}

// MediaDir returns the directory holding encrypted media envelopes
func (c *Config) MediaDir() string {
	return filepath.Join(c.Vault.Dir, "media")
}
