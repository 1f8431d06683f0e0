package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ayusman/kinesis/internal/control"
)

// Setting keys.
const (
	SettingControlLaw = "control_law"
	SettingEnabled    = "enabled"
)

// SettingsRepository stores key-value application settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the raw value for key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Set upserts key.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Law returns the persisted control law, or ErrNotFound if none was saved.
func (r *SettingsRepository) Law() (control.Law, error) {
	raw, err := r.Get(SettingControlLaw)
	if err != nil {
		return control.Law{}, err
	}
	var law control.Law
	if err := json.Unmarshal([]byte(raw), &law); err != nil {
		return control.Law{}, fmt.Errorf("decode %s: %w", SettingControlLaw, err)
	}
	return law, nil
}

// SetLaw validates and persists law.
func (r *SettingsRepository) SetLaw(law control.Law) error {
	if err := law.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(law)
	if err != nil {
		return err
	}
	return r.Set(SettingControlLaw, string(raw))
}

// Enabled returns the persisted enable flag, defaulting to true.
func (r *SettingsRepository) Enabled() (bool, error) {
	raw, err := r.Get(SettingEnabled)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return raw == "true", nil
}

// SetEnabled persists the enable flag.
func (r *SettingsRepository) SetEnabled(enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return r.Set(SettingEnabled, v)
}
