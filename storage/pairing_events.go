package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LogPairingEvent inserts a pairing outcome and applies retention pruning.
func (s *Store) LogPairingEvent(event PairingEvent) error {
	if strings.TrimSpace(event.HostUUID) == "" {
		return errors.New("host_uuid is required")
	}
	if err := validatePairingOutcome(event.Outcome); err != nil {
		return err
	}
	if event.Details == "" {
		event.Details = "{}"
	}
	if !json.Valid([]byte(event.Details)) {
		return errors.New("details must be valid JSON text")
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO pairing_events (
			host_uuid,
			outcome,
			details,
			timestamp
		) VALUES (?, ?, ?, ?)`,
		event.HostUUID,
		event.Outcome,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert pairing event for %q: %w", event.HostUUID, err)
	}

	if s.pairingEventRetention > 0 {
		cutoff := time.Now().Add(-s.pairingEventRetention).UnixMilli()
		if _, err := s.PrunePairingEvents(cutoff); err != nil {
			return fmt.Errorf("prune pairing events: %w", err)
		}
	}

	return nil
}

// GetPairingEvents returns the newest pairing events, optionally for one host.
func (s *Store) GetPairingEvents(hostUUID string, limit int) ([]PairingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		host_uuid,
		outcome,
		details,
		timestamp
	FROM pairing_events`)

	args := make([]any, 0, 2)
	if hostUUID != "" {
		query.WriteString(" WHERE host_uuid = ?")
		args = append(args, hostUUID)
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get pairing events: %w", err)
	}
	defer rows.Close()

	events := make([]PairingEvent, 0)
	for rows.Next() {
		var event PairingEvent
		if err := rows.Scan(
			&event.ID,
			&event.HostUUID,
			&event.Outcome,
			&event.Details,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan pairing event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairing event rows: %w", err)
	}

	return events, nil
}

// PrunePairingEvents removes pairing events older than cutoffTimestamp.
func (s *Store) PrunePairingEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM pairing_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune pairing events: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for pairing event prune: %w", err)
	}

	return rowsAffected, nil
}
