package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"streamlink/models"
)

// GetSettings returns the stored stream settings.
//
// A missing or undecodable row yields the defaults. Fields absent from the
// stored document keep their default values.
func (s *Store) GetSettings() (models.StreamSettings, error) {
	settings := models.DefaultStreamSettings()

	var raw string
	err := s.db.QueryRow(`SELECT data FROM settings WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings, nil
		}
		return settings, fmt.Errorf("get settings: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return models.DefaultStreamSettings(), nil
	}

	return settings, nil
}

// SaveSettings replaces the stored stream settings.
func (s *Store) SaveSettings(settings models.StreamSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if _, err := s.db.Exec(
		`INSERT INTO settings (id, data, updated_timestamp)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_timestamp = excluded.updated_timestamp`,
		string(raw),
		nowUnixMilli(),
	); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	return nil
}
