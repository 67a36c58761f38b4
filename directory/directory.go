// Package directory owns the in-memory list of known streaming hosts.
//
// All host and app state is mutated on a single actor goroutine. Network and
// storage calls run on the calling goroutine or on background workers, and
// their results are handed to the actor to be applied in one step.
package directory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"streamlink/discovery"
	"streamlink/models"
	"streamlink/storage"
	"streamlink/transport"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultChanSize     = 64
	defaultRefreshLimit = 4
)

var (
	// ErrHostNotFound is returned when no host with the requested uuid is known.
	ErrHostNotFound = errors.New("host not found")
	// ErrClosed is returned by operations on a closed directory.
	ErrClosed = errors.New("directory closed")
)

// HostClient is the subset of the transport client the directory needs.
type HostClient interface {
	ServerInfo(ctx context.Context, target transport.Target, useHTTPS bool) (*transport.ServerInfo, error)
	AppList(ctx context.Context, target transport.Target) ([]transport.AppInfo, error)
	QuitApp(ctx context.Context, target transport.Target) error
}

// Store is the persistence contract used by the directory.
type Store interface {
	ListHosts() ([]models.Host, int, error)
	HasHost(uuid string) (bool, error)
	SaveHost(host models.Host) error
	RemoveHost(uuid string) error
	UpdateApps(hostUUID string, apps []*models.App) error
	SetAppHidden(hostUUID, appID string, hidden bool) error
	RemoveApp(hostUUID, appID string) error
}

// Probe is a source of host advertisements. *discovery.Scanner implements it.
type Probe interface {
	Start() error
	Stop()
	Events() <-chan discovery.Event
	Advertisements() []discovery.Advertisement
}

// ProbeFactory creates a fresh Probe each time discovery starts.
type ProbeFactory func() (Probe, error)

// AddressResolver turns a user supplied address or hostname into an
// advertisement. *discovery.Resolver implements it.
type AddressResolver interface {
	Resolve(ctx context.Context, addressOrName string) (discovery.Advertisement, error)
}

// Options holds the dependencies of a Directory.
type Options struct {
	Client   HostClient
	Store    Store
	NewProbe ProbeFactory
	Resolver AddressResolver
	// IsAuthorizationError selects the server-info failures that trigger a
	// single retry over plain HTTP. Defaults to transport.IsAuthorizationError.
	IsAuthorizationError func(error) bool
	// PollInterval is the cadence at which known hosts are re-probed while
	// discovery runs.
	PollInterval time.Duration
	// RefreshLimit bounds concurrent requests made by RefreshAll.
	RefreshLimit int
	// ChanSize sizes both the actor queue and each subscriber's event buffer.
	ChanSize int
	Logger   *slog.Logger
}

type action func()

// Directory is the authoritative collection of known hosts.
type Directory struct {
	client       HostClient
	store        Store
	newProbe     ProbeFactory
	resolver     AddressResolver
	isAuthErr    func(error) bool
	pollInterval time.Duration
	refreshLimit int
	bus          *bus
	logger       *slog.Logger

	actorC  chan action
	closedC chan struct{}
	doneC   chan struct{}
	closeMu sync.Once

	// Owned by the actor goroutine.
	hosts    []*models.Host
	paused   map[string]int
	inflight map[string]struct{}

	discoveryMu sync.Mutex
	discovery   *discoveryRun
	stopWG      sync.WaitGroup
}

// New creates a Directory and starts its actor goroutine. Close must be
// called to release it.
func New(opts Options) *Directory {
	logger := cmp.Or(opts.Logger, slog.Default()).With("component", "directory")
	isAuthErr := opts.IsAuthorizationError
	if isAuthErr == nil {
		isAuthErr = transport.IsAuthorizationError
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = discovery.NewResolver()
	}

	d := &Directory{
		client:       opts.Client,
		store:        opts.Store,
		newProbe:     opts.NewProbe,
		resolver:     resolver,
		isAuthErr:    isAuthErr,
		pollInterval: cmp.Or(opts.PollInterval, defaultPollInterval),
		refreshLimit: cmp.Or(opts.RefreshLimit, defaultRefreshLimit),
		bus:          newBus(cmp.Or(opts.ChanSize, defaultChanSize), logger),
		logger:       logger,
		actorC:       make(chan action, cmp.Or(opts.ChanSize, defaultChanSize)),
		closedC:      make(chan struct{}),
		doneC:        make(chan struct{}),
		paused:       make(map[string]int),
		inflight:     make(map[string]struct{}),
	}

	go d.actorLoop()

	return d
}

// Close stops discovery, waits for it to finish and shuts down the actor.
// Subscriber channels are closed.
func (d *Directory) Close() {
	d.closeMu.Do(func() {
		d.StopDiscoveryBlocking()
		close(d.closedC)
		<-d.doneC
		d.bus.close()
	})
}

func (d *Directory) actorLoop() {
	defer close(d.doneC)

	for {
		select {
		case act := <-d.actorC:
			act()
		case <-d.closedC:
			return
		}
	}
}

// exec runs fn on the actor goroutine and waits for it to complete.
func (d *Directory) exec(fn func()) error {
	doneC := make(chan struct{})
	select {
	case d.actorC <- func() { fn(); close(doneC) }:
	case <-d.closedC:
		return ErrClosed
	}

	select {
	case <-doneC:
		return nil
	case <-d.doneC:
		return ErrClosed
	}
}

// Subscribe returns a channel receiving every subsequent change. The channel
// is buffered. Events are dropped for subscribers that fall behind.
func (d *Directory) Subscribe() <-chan Event {
	return d.bus.subscribe()
}

// Unsubscribe stops delivery to ch and closes it.
func (d *Directory) Unsubscribe(ch <-chan Event) {
	d.bus.unsubscribe(ch)
}

// Hosts returns a snapshot of every known host in directory order.
func (d *Directory) Hosts() []models.Host {
	var out []models.Host
	_ = d.exec(func() {
		out = make([]models.Host, 0, len(d.hosts))
		for _, host := range d.hosts {
			out = append(out, host.Clone())
		}
	})
	return out
}

// Host returns a snapshot of the host with the given uuid.
func (d *Directory) Host(uuid string) (models.Host, bool) {
	var (
		out   models.Host
		found bool
	)
	_ = d.exec(func() {
		if host := d.find(uuid); host != nil {
			out, found = host.Clone(), true
		}
	})
	return out, found
}

// LoadSavedHosts adds every persisted host to the directory. Hosts already
// known are merged with the persisted record. Malformed records are skipped.
func (d *Directory) LoadSavedHosts() error {
	hosts, skipped, err := d.store.ListHosts()
	if err != nil {
		return fmt.Errorf("list saved hosts: %w", err)
	}
	if skipped > 0 {
		d.logger.Warn("Skipped malformed saved hosts", "count", skipped)
	}

	return d.exec(func() {
		for _, saved := range hosts {
			saved.State = models.HostStateUnknown
			if existing := d.find(saved.UUID); existing != nil {
				changed := existing.Merge(saved)
				if len(existing.Apps) == 0 && len(saved.Apps) > 0 {
					existing.Apps = saved.Clone().Apps
					changed = true
				}
				if changed {
					d.emit(EventHostUpdated, existing)
				}
				continue
			}

			host := saved.Clone()
			host.Normalize()
			d.hosts = append(d.hosts, &host)
			d.emit(EventHostAdded, &host)
		}
	})
}

// RemoveHost removes the host from the directory and from the persistent
// store. Removing an unknown host is not an error.
func (d *Directory) RemoveHost(uuid string) error {
	err := d.exec(func() {
		idx := slices.IndexFunc(d.hosts, func(h *models.Host) bool { return h.UUID == uuid })
		if idx < 0 {
			return
		}
		removed := d.hosts[idx]
		d.hosts = slices.Delete(d.hosts, idx, idx+1)
		delete(d.paused, uuid)
		d.emit(EventHostRemoved, removed)
	})
	if err != nil {
		return err
	}

	if err := d.store.RemoveHost(uuid); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("remove host %s: %w", uuid, err)
	}
	return nil
}

// SetServerCert records the trust credential obtained by pairing and
// persists the host.
func (d *Directory) SetServerCert(uuid string, certPEM []byte) error {
	var (
		snapshot models.Host
		found    bool
	)
	err := d.exec(func() {
		host := d.find(uuid)
		if host == nil {
			return
		}
		host.Merge(models.Host{ServerCert: certPEM, PairState: models.PairStatePaired})
		snapshot, found = host.Clone(), true
		d.emit(EventHostUpdated, host)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrHostNotFound
	}

	if err := d.store.SaveHost(snapshot); err != nil {
		return fmt.Errorf("save paired host %s: %w", uuid, err)
	}
	return nil
}

// ClearServerCert drops the trust credential of a host, leaving it
// unpaired. A saved host is persisted.
func (d *Directory) ClearServerCert(uuid string) error {
	var (
		snapshot models.Host
		found    bool
	)
	err := d.exec(func() {
		host := d.find(uuid)
		if host == nil {
			return
		}
		host.ServerCert = nil
		host.Normalize()
		snapshot, found = host.Clone(), true
		d.emit(EventHostUpdated, host)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrHostNotFound
	}

	d.persistIfStored(snapshot)
	return nil
}

// SaveHost persists the current state of a known host.
func (d *Directory) SaveHost(uuid string) error {
	snapshot, ok := d.Host(uuid)
	if !ok {
		return ErrHostNotFound
	}
	if err := d.store.SaveHost(snapshot); err != nil {
		return fmt.Errorf("save host %s: %w", uuid, err)
	}
	return nil
}

// SetAppHidden sets the user controlled hidden flag of one app.
func (d *Directory) SetAppHidden(uuid, appID string, hidden bool) error {
	var found, stored bool
	err := d.exec(func() {
		host := d.find(uuid)
		if host == nil {
			return
		}
		app, ok := host.App(appID)
		if !ok {
			return
		}
		found = true
		if app.Hidden != hidden {
			app.Hidden = hidden
			d.emit(EventAppsChanged, host)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("app %s on host %s: %w", appID, uuid, ErrHostNotFound)
	}

	stored, err = d.store.HasHost(uuid)
	if err != nil {
		return fmt.Errorf("check saved host %s: %w", uuid, err)
	}
	if !stored {
		return nil
	}
	if err := d.store.SetAppHidden(uuid, appID, hidden); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("save hidden flag: %w", err)
	}
	return nil
}

// persistIfStored writes host to the store only when it was saved before.
// Discovered hosts stay ephemeral until they are paired or saved explicitly.
func (d *Directory) persistIfStored(host models.Host) {
	if host.UUID == "" {
		return
	}
	stored, err := d.store.HasHost(host.UUID)
	if err != nil {
		d.logger.Warn("Failed to check saved host", "host", host.UUID, "err", err)
		return
	}
	if !stored {
		return
	}
	if err := d.store.SaveHost(host); err != nil {
		d.logger.Warn("Failed to save host", "host", host.UUID, "err", err)
	}
}

// find must be called on the actor goroutine.
func (d *Directory) find(uuid string) *models.Host {
	for _, host := range d.hosts {
		if host.UUID == uuid {
			return host
		}
	}
	return nil
}

// upsert merges an observation into the directory, keyed by uuid. It must be
// called on the actor goroutine.
func (d *Directory) upsert(observed models.Host) (*models.Host, bool) {
	if existing := d.find(observed.UUID); existing != nil {
		if existing.Merge(observed) {
			d.emit(EventHostUpdated, existing)
			return existing, true
		}
		return existing, false
	}

	host := observed.Clone()
	host.Apps = nil
	host.Normalize()
	d.hosts = append(d.hosts, &host)
	d.emit(EventHostAdded, &host)
	return &host, true
}

func (d *Directory) emit(typ EventType, host *models.Host) {
	d.bus.send(Event{Type: typ, Host: host.Clone()})
}
