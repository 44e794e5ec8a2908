package storage

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// Settings keys.
const (
	SettingCheckinTime  = "checkin_time"
	SettingCheckoutTime = "checkout_time"
)

// SettingsRepository provides access to the key/value settings table.
type SettingsRepository struct {
	BaseRepository
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{BaseRepository: NewBaseRepository(db)}
}

// EnsureDefaults stores each value whose key is not yet set. Existing values
// are left alone so operator edits survive restarts.
func (r *SettingsRepository) EnsureDefaults(ctx context.Context, defaults map[string]string) error {
	for key, value := range defaults {
		_, err := r.DB().ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`, key, value, r.Now())
		if err != nil {
			return errors.Wrapf(err, "seeding setting %s", key)
		}
	}
	return nil
}

// Get returns the value for key, or fallback when unset.
func (r *SettingsRepository) Get(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := r.DB().QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "querying setting %s", key)
	}
	return value, nil
}

// All returns every stored setting.
func (r *SettingsRepository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.DB().QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, errors.Wrap(err, "querying settings")
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "scanning setting")
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// Set upserts every non-empty value in one transaction.
func (r *SettingsRepository) Set(ctx context.Context, values map[string]string) error {
	return r.Transaction(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			if value == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			`, key, value, r.Now())
			if err != nil {
				return errors.Wrapf(err, "updating setting %s", key)
			}
		}
		return nil
	})
}
