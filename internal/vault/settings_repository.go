package vault

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Well-known settings keys.
const (
	SettingDeviceID      = "device_id"
	SettingKeySalt       = "key_salt"
	SettingSchemaVersion = "schema_version"
	SettingLastSyncAt    = "last_sync_at"
)

// SettingsRepository stores small key/value configuration inside the vault
// so it travels with the database file.
type SettingsRepository struct {
	store *Store
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(store *Store) *SettingsRepository {
	return &SettingsRepository{store: store}
}

// Get returns the value for key, or ErrNotFound
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.store.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

// Set writes the value for key, replacing any existing value
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *SettingsRepository) Delete(ctx context.Context, key string) error {
	_, err := r.store.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// DeviceID returns the stable device identifier, generating and persisting
// one on first use.
func (r *SettingsRepository) DeviceID(ctx context.Context) (string, error) {
	id, err := r.Get(ctx, SettingDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	id = uuid.NewString()
	if err := r.Set(ctx, SettingDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// KeySalt returns the persisted key-derivation salt, generating one via
// gen on first use. The salt never leaves the vault database.
func (r *SettingsRepository) KeySalt(ctx context.Context, gen func() ([]byte, error)) ([]byte, error) {
	encoded, err := r.Get(ctx, SettingKeySalt)
	if err == nil {
		salt, decErr := hex.DecodeString(encoded)
		if decErr != nil {
			return nil, fmt.Errorf("failed to decode stored key salt: %w", decErr)
		}
		return salt, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	salt, err := gen()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key salt: %w", err)
	}
	if err := r.Set(ctx, SettingKeySalt, hex.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}
