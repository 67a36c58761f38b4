package storage

import (
	"errors"
	"fmt"

	"streamlink/models"
)

// UpdateApps inserts or updates the given apps for a host, in order.
func (s *Store) UpdateApps(hostUUID string, apps []*models.App) error {
	if hostUUID == "" {
		return errors.New("host_uuid is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin update apps transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := upsertApps(tx, hostUUID, apps); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update apps for %q: %w", hostUUID, err)
	}

	return nil
}

// ListApps returns the stored apps of a host in catalog order.
func (s *Store) ListApps(hostUUID string) ([]*models.App, error) {
	rows, err := s.db.Query(
		`SELECT
			app_id,
			name,
			hdr_supported,
			hidden
		FROM apps
		WHERE host_uuid = ?
		ORDER BY position, app_id`,
		hostUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("list apps for %q: %w", hostUUID, err)
	}
	defer rows.Close()

	apps := make([]*models.App, 0)
	for rows.Next() {
		var (
			app         models.App
			hdr, hidden int
		)
		if err := rows.Scan(&app.ID, &app.Name, &hdr, &hidden); err != nil {
			continue
		}
		app.HDRSupported = hdr != 0
		app.Hidden = hidden != 0
		app.HostUUID = hostUUID
		apps = append(apps, &app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate app rows for %q: %w", hostUUID, err)
	}

	return apps, nil
}

// SetAppHidden updates the user-controlled hidden flag of one app.
func (s *Store) SetAppHidden(hostUUID, appID string, hidden bool) error {
	res, err := s.db.Exec(
		`UPDATE apps SET hidden = ? WHERE host_uuid = ? AND app_id = ?`,
		boolToInt(hidden),
		hostUUID,
		appID,
	)
	if err != nil {
		return fmt.Errorf("update app %q hidden flag: %w", appID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for app %q hidden flag: %w", appID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RemoveApp deletes one app of a host.
func (s *Store) RemoveApp(hostUUID, appID string) error {
	if hostUUID == "" || appID == "" {
		return errors.New("host_uuid and app_id are required")
	}

	res, err := s.db.Exec(`DELETE FROM apps WHERE host_uuid = ? AND app_id = ?`, hostUUID, appID)
	if err != nil {
		return fmt.Errorf("remove app %q of %q: %w", appID, hostUUID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for remove app %q: %w", appID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func upsertApps(tx execer, hostUUID string, apps []*models.App) error {
	for position, app := range apps {
		if app == nil || app.ID == "" {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO apps (
				host_uuid,
				app_id,
				name,
				hdr_supported,
				hidden,
				position
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(host_uuid, app_id) DO UPDATE SET
				name = excluded.name,
				hdr_supported = excluded.hdr_supported,
				hidden = excluded.hidden,
				position = excluded.position`,
			hostUUID,
			app.ID,
			app.Name,
			boolToInt(app.HDRSupported),
			boolToInt(app.Hidden),
			position,
		); err != nil {
			return fmt.Errorf("upsert app %q of %q: %w", app.ID, hostUUID, err)
		}
	}

	return nil
}
