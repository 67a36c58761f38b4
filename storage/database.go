package storage

import (
	"cmp"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under the data directory.
	DefaultDBFileName = "streamlink.db"
	// DefaultMaintenanceInterval is how often the WAL is truncated and old
	// pairing history is pruned.
	DefaultMaintenanceInterval = 24 * time.Hour
	// DefaultPairingEventRetention bounds how long pairing history is kept.
	DefaultPairingEventRetention = 180 * 24 * time.Hour
)

type migration struct {
	name string
	stmt string
}

var migrations = []migration{
	{
		name: "create hosts",
		stmt: `
CREATE TABLE IF NOT EXISTS hosts (
  uuid                      TEXT PRIMARY KEY,
  name                      TEXT NOT NULL DEFAULT '',
  address                   TEXT,
  local_address             TEXT,
  external_address          TEXT,
  ipv6_address              TEXT,
  mac                       TEXT,
  https_port                INTEGER NOT NULL DEFAULT 0,
  server_cert               BLOB,
  pair_state                TEXT CHECK(pair_state IN ('unknown','unpaired','paired')) DEFAULT 'unpaired',
  server_codec_mode_support INTEGER NOT NULL DEFAULT 0,
  is_nvidia                 INTEGER NOT NULL DEFAULT 0,
  updated_timestamp         INTEGER NOT NULL
);
`,
	},
	{
		name: "create apps",
		stmt: `
CREATE TABLE IF NOT EXISTS apps (
  host_uuid     TEXT NOT NULL REFERENCES hosts(uuid) ON DELETE CASCADE,
  app_id        TEXT NOT NULL,
  name          TEXT NOT NULL DEFAULT '',
  hdr_supported INTEGER NOT NULL DEFAULT 0,
  hidden        INTEGER NOT NULL DEFAULT 0,
  position      INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (host_uuid, app_id)
);
`,
	},
	{
		name: "index apps by position",
		stmt: `
CREATE INDEX IF NOT EXISTS idx_apps_host_position
ON apps (host_uuid, position, app_id);
`,
	},
	{
		name: "create settings",
		stmt: `
CREATE TABLE IF NOT EXISTS settings (
  id                INTEGER PRIMARY KEY CHECK(id = 1),
  data              TEXT NOT NULL,
  updated_timestamp INTEGER NOT NULL
);
`,
	},
	{
		name: "create pairing events",
		stmt: `
CREATE TABLE IF NOT EXISTS pairing_events (
  id        INTEGER PRIMARY KEY AUTOINCREMENT,
  host_uuid TEXT NOT NULL,
  outcome   TEXT NOT NULL CHECK(outcome IN ('succeeded','failed','already_paired','unpaired')),
  details   TEXT NOT NULL,
  timestamp INTEGER NOT NULL
);
`,
	},
	{
		name: "index pairing events by host",
		stmt: `
CREATE INDEX IF NOT EXISTS idx_pairing_events_host_time
ON pairing_events (host_uuid, timestamp DESC, id DESC);
`,
	},
}

// Options configures a Store.
type Options struct {
	// MaintenanceInterval defaults to DefaultMaintenanceInterval. A negative
	// value disables the background maintenance loop.
	MaintenanceInterval time.Duration
	// PairingEventRetention defaults to DefaultPairingEventRetention.
	PairingEventRetention time.Duration
	Logger                *slog.Logger
}

// Store persists hosts, their app catalogs, stream settings and pairing
// history in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	pairingEventRetention time.Duration
	maintenanceInterval   time.Duration
	stopC                 chan struct{}
	wg                    sync.WaitGroup
	closeOnce             sync.Once
}

// Open opens (or creates) the database under dataDir. It returns the
// resolved database path alongside the store.
func Open(dataDir string, opts Options) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath, opts)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens the database at dbPath and brings its schema up to date.
func OpenPath(dbPath string, opts Options) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{
		db:                    db,
		logger:                cmp.Or(opts.Logger, slog.New(slog.NewTextHandler(io.Discard, nil))).With("component", "storage"),
		pairingEventRetention: cmp.Or(opts.PairingEventRetention, DefaultPairingEventRetention),
		maintenanceInterval:   cmp.Or(opts.MaintenanceInterval, DefaultMaintenanceInterval),
		stopC:                 make(chan struct{}),
	}

	for _, step := range []func() error{db.Ping, store.enableWAL, store.migrate, store.checkpoint} {
		if err := step(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if store.maintenanceInterval > 0 {
		store.wg.Add(1)
		go store.maintain()
	}

	return store, nil
}

// Close stops background maintenance and closes the database. It is safe to
// call more than once.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		close(s.stopC)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// migrate applies every migration past the recorded user_version in a single
// transaction.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, m := range migrations[version:] {
		if _, err := tx.Exec(m.stmt); err != nil {
			return fmt.Errorf("migration %q: %w", m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", version+i+1)); err != nil {
			return fmt.Errorf("migration %q: set schema version: %w", m.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func (s *Store) enableWAL() error {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("enable WAL mode: journal mode is %q", mode)
	}
	return nil
}

func (s *Store) checkpoint() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("truncate WAL: %w", err)
	}
	return nil
}

func (s *Store) maintain() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runMaintenance()
		case <-s.stopC:
			return
		}
	}
}

func (s *Store) runMaintenance() {
	cutoff := time.Now().Add(-s.pairingEventRetention).UnixMilli()
	pruned, err := s.PrunePairingEvents(cutoff)
	if err != nil {
		s.logger.Warn("Prune pairing history failed", "err", err)
	} else if pruned > 0 {
		s.logger.Debug("Pruned pairing history", "count", pruned)
	}

	if err := s.checkpoint(); err != nil {
		s.logger.Warn("WAL checkpoint failed", "err", err)
	}
}
