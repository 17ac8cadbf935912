package vault

import (
	"context"
	"database/sql"
	"encoding/hex"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSettingsTestRepository(t *testing.T) (*SettingsRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewSettingsRepository(NewStore(db))

	cleanup := func() {
		db.Close()
	}

	return repo, mock, cleanup
}

func TestSettingsRepository_GetSet(t *testing.T) {
	repo, mock, cleanup := setupSettingsTestRepository(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("last_sync_at", "2024-05-01T10:00:00Z").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \?`).
		WithArgs("last_sync_at").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("2024-05-01T10:00:00Z"))

	err := repo.Set(context.Background(), SettingLastSyncAt, "2024-05-01T10:00:00Z")
	require.NoError(t, err)

	value, err := repo.Get(context.Background(), SettingLastSyncAt)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01T10:00:00Z", value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepository_Get_NotFound(t *testing.T) {
	repo, mock, cleanup := setupSettingsTestRepository(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT value FROM settings WHERE key = \?`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepository_DeviceID(t *testing.T) {
	t.Run("returns existing id", func(t *testing.T) {
		repo, mock, cleanup := setupSettingsTestRepository(t)
		defer cleanup()

		existing := uuid.NewString()
		mock.ExpectQuery(`SELECT value FROM settings WHERE key = \?`).
			WithArgs("device_id").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(existing))

		id, err := repo.DeviceID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, existing, id)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("generates and persists on first use", func(t *testing.T) {
		repo, mock, cleanup := setupSettingsTestRepository(t)
		defer cleanup()

		mock.ExpectQuery(`SELECT value FROM settings WHERE key = \?`).
			WithArgs("device_id").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO settings`).
			WithArgs("device_id", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		id, err := repo.DeviceID(context.Background())
		require.NoError(t, err)
		_, parseErr := uuid.Parse(id)
		assert.NoError(t, parseErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettingsRepository_KeySalt(t *testing.T) {
	salt := []byte{0x01, 0x02, 0x03, 0x04}

	t.Run("returns stored salt", func(t *testing.T) {
		repo, mock, cleanup := setupSettingsTestRepository(t)
		defer cleanup()

		mock.ExpectQuery(`SELECT value FROM settings WHERE key = \?`).
			WithArgs("key_salt").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(hex.EncodeToString(salt)))

		got, err := repo.KeySalt(context.Background(), func() ([]byte, error) {
			t.Fatal("generator must not run when a salt exists")
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, salt, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("generates and persists on first use", func(t *testing.T) {
		repo, mock, cleanup := setupSettingsTestRepository(t)
		defer cleanup()

		mock.ExpectQuery(`SELECT value FROM settings WHERE key = \?`).
			WithArgs("key_salt").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(`INSERT INTO settings`).
			WithArgs("key_salt", hex.EncodeToString(salt)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		got, err := repo.KeySalt(context.Background(), func() ([]byte, error) {
			return salt, nil
		})
		require.NoError(t, err)
		assert.Equal(t, salt, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func setupCacheTestRepository(t *testing.T) (*CacheRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewCacheRepository(NewStore(db))

	cleanup := func() {
		db.Close()
	}

	return repo, mock, cleanup
}

func TestCacheRepository_Get(t *testing.T) {
	now := time.Now().UTC()

	t.Run("live entry", func(t *testing.T) {
		repo, mock, cleanup := setupCacheTestRepository(t)
		defer cleanup()

		mock.ExpectQuery(`SELECT value, expires_at FROM cache WHERE key = \?`).
			WithArgs("courses").
			WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).
				AddRow([]byte(`[{"id":1}]`), now.Add(time.Hour)))

		value, err := repo.Get(context.Background(), "courses", now)
		require.NoError(t, err)
		assert.Equal(t, []byte(`[{"id":1}]`), value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired entry is evicted", func(t *testing.T) {
		repo, mock, cleanup := setupCacheTestRepository(t)
		defer cleanup()

		mock.ExpectQuery(`SELECT value, expires_at FROM cache WHERE key = \?`).
			WithArgs("courses").
			WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).
				AddRow([]byte(`[]`), now.Add(-time.Minute)))
		mock.ExpectExec(`DELETE FROM cache WHERE key = \?`).
			WithArgs("courses").
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := repo.Get(context.Background(), "courses", now)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing entry", func(t *testing.T) {
		repo, mock, cleanup := setupCacheTestRepository(t)
		defer cleanup()

		mock.ExpectQuery(`SELECT value, expires_at FROM cache WHERE key = \?`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "missing", now)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCacheRepository_Set(t *testing.T) {
	repo, mock, cleanup := setupCacheTestRepository(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO cache`).
		WithArgs("courses", []byte(`[]`), now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Set(context.Background(), "courses", []byte(`[]`), time.Hour, now)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepository_Purge(t *testing.T) {
	repo, mock, cleanup := setupCacheTestRepository(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM cache WHERE expires_at <= \?`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.Purge(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
