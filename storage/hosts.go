package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"streamlink/models"
)

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

const hostColumns = `
	uuid,
	name,
	address,
	local_address,
	external_address,
	ipv6_address,
	mac,
	https_port,
	server_cert,
	pair_state,
	server_codec_mode_support,
	is_nvidia`

// SaveHost inserts or updates a host row together with its apps.
//
// Apps missing from host.Apps are left in place; remove them with RemoveApp.
func (s *Store) SaveHost(host models.Host) error {
	if host.UUID == "" {
		return errors.New("uuid is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save host transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(
		`INSERT INTO hosts (`+hostColumns+`,
			updated_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			local_address = excluded.local_address,
			external_address = excluded.external_address,
			ipv6_address = excluded.ipv6_address,
			mac = excluded.mac,
			https_port = excluded.https_port,
			server_cert = excluded.server_cert,
			pair_state = excluded.pair_state,
			server_codec_mode_support = excluded.server_codec_mode_support,
			is_nvidia = excluded.is_nvidia,
			updated_timestamp = excluded.updated_timestamp`,
		host.UUID,
		host.Name,
		nullString(host.Address),
		nullString(host.LocalAddress),
		nullString(host.ExternalAddress),
		nullString(host.IPv6Address),
		nullString(host.MAC),
		int(host.HTTPSPort),
		nullBytes(host.ServerCert),
		pairStateToText(host.PairState),
		host.ServerCodecModeSupport,
		boolToInt(host.IsNvidiaServerSoftware),
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert host %q: %w", host.UUID, err)
	}

	if err := upsertApps(tx, host.UUID, host.Apps); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save host %q: %w", host.UUID, err)
	}

	return nil
}

// HasHost reports whether a host row exists.
func (s *Store) HasHost(uuid string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM hosts WHERE uuid = ?)`,
		uuid,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check host %q: %w", uuid, err)
	}

	return exists == 1, nil
}

// GetHost fetches a host by uuid, including its apps.
func (s *Store) GetHost(uuid string) (*models.Host, error) {
	row := s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE uuid = ?`, uuid)

	host, err := scanHost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get host %q: %w", uuid, err)
	}

	apps, err := s.ListApps(uuid)
	if err != nil {
		return nil, err
	}
	host.Apps = apps

	return host, nil
}

// ListHosts returns every stored host sorted by name, with apps attached.
//
// Rows that cannot be decoded are skipped and counted in skipped. Legacy
// bracketed IPv6 addresses are rewritten to host:port form and the active
// address is recomputed.
func (s *Store) ListHosts() (hosts []models.Host, skipped int, err error) {
	rows, err := s.db.Query(`SELECT ` + hostColumns + ` FROM hosts ORDER BY name, uuid`)
	if err != nil {
		return nil, 0, fmt.Errorf("list hosts: %w", err)
	}

	hosts = make([]models.Host, 0)
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			skipped++
			continue
		}
		hosts = append(hosts, *host)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, fmt.Errorf("iterate host rows: %w", err)
	}
	rows.Close()

	for i := range hosts {
		apps, err := s.ListApps(hosts[i].UUID)
		if err != nil {
			return nil, 0, err
		}
		hosts[i].Apps = apps
	}

	return hosts, skipped, nil
}

// RemoveHost deletes a host by uuid. Its apps are removed by cascade.
func (s *Store) RemoveHost(uuid string) error {
	if uuid == "" {
		return errors.New("uuid is required")
	}

	res, err := s.db.Exec(`DELETE FROM hosts WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("remove host %q: %w", uuid, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for remove host %q: %w", uuid, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func scanHost(row scanner) (*models.Host, error) {
	var (
		uuid, name, pairState               sql.NullString
		address, local, external, ipv6, mac sql.NullString
		httpsPort, codecSupport, isNvidia   sql.NullInt64
		serverCert                          []byte
	)
	if err := row.Scan(
		&uuid,
		&name,
		&address,
		&local,
		&external,
		&ipv6,
		&mac,
		&httpsPort,
		&serverCert,
		&pairState,
		&codecSupport,
		&isNvidia,
	); err != nil {
		return nil, err
	}
	if !uuid.Valid || uuid.String == "" {
		return nil, errors.New("host row has no uuid")
	}
	if httpsPort.Int64 < 0 || httpsPort.Int64 > 65535 {
		return nil, fmt.Errorf("host %q has invalid https port %d", uuid.String, httpsPort.Int64)
	}

	state, err := pairStateFromText(pairState.String)
	if err != nil {
		state = models.PairStateUnknown
	}

	host := &models.Host{
		UUID:                   uuid.String,
		Name:                   name.String,
		Address:                models.NormalizeLegacyIPv6(address.String, models.DefaultHTTPPort),
		LocalAddress:           models.NormalizeLegacyIPv6(local.String, models.DefaultHTTPPort),
		ExternalAddress:        models.NormalizeLegacyIPv6(external.String, models.DefaultHTTPPort),
		IPv6Address:            models.NormalizeLegacyIPv6(ipv6.String, models.DefaultHTTPPort),
		MAC:                    mac.String,
		HTTPSPort:              uint16(httpsPort.Int64),
		ServerCert:             serverCert,
		PairState:              state,
		ServerCodecModeSupport: int32(codecSupport.Int64),
		IsNvidiaServerSoftware: isNvidia.Int64 != 0,
	}
	host.Normalize()

	return host, nil
}
