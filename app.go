package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"streamlink/config"
	"streamlink/crypto"
	"streamlink/directory"
	"streamlink/discovery"
	"streamlink/pairing"
	"streamlink/session"
	"streamlink/storage"
	"streamlink/transport"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg      *config.Config
	cfgPath  string
	identity *crypto.Identity
	store    *storage.Store
	client   *transport.Client
	dir      *directory.Directory
	pairing  *pairing.Coordinator
	logger   *slog.Logger
	stdout   io.Writer

	closers []func()
}

func newApp(logger *slog.Logger, stdout io.Writer) (*app, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dataDir := filepath.Dir(cfgPath)

	identity, err := crypto.EnsureClientIdentity(cfg.Identity.CertPath, cfg.Identity.KeyPath, cfg.DeviceName)
	if err != nil {
		return nil, fmt.Errorf("prepare client identity: %w", err)
	}

	store, dbPath, err := storage.Open(dataDir, storage.Options{
		PairingEventRetention: cfg.Storage.PairingHistoryRetention,
		Logger:                logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Debug("Storage opened", "path", dbPath)

	a := &app{
		cfg:      cfg,
		cfgPath:  cfgPath,
		identity: identity,
		store:    store,
		logger:   logger,
		stdout:   stdout,
	}
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn("Database close error", "err", err)
		}
	})

	a.client = transport.NewClient(transport.Options{
		Identity:   identity,
		UniqueID:   cfg.UniqueID,
		DeviceName: cfg.DeviceName,
		Timeout:    cfg.RequestTimeout,
		Logger:     logger,
	})

	a.dir = directory.New(directory.Options{
		Client: a.client,
		Store:  store,
		NewProbe: func() (directory.Probe, error) {
			scanner, err := discovery.NewScanner(discovery.Config{RefreshInterval: cfg.Discovery.PollInterval, Logger: logger})
			if err != nil {
				return nil, err
			}
			return scanner, nil
		},
		Resolver:     discovery.NewResolver(),
		PollInterval: cfg.Discovery.PollInterval,
		RefreshLimit: cfg.Discovery.RefreshLimit,
		Logger:       logger,
	})
	a.closers = append(a.closers, a.dir.Close)

	a.pairing = pairing.New(pairing.Options{
		Directory: a.dir,
		Client:    a.client,
		History:   store,
		Logger:    logger,
	})
	a.closers = append(a.closers, a.pairing.Close)

	if err := a.dir.LoadSavedHosts(); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) tracker(caps session.Capabilities) *session.Tracker {
	return session.NewTracker(caps, a.logger)
}

// withApp wires the components, runs fn and releases them.
func withApp(ctx context.Context, logger *slog.Logger, stdout io.Writer, fn func(context.Context, *app) error) error {
	a, err := newApp(logger, stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
