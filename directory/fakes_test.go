package directory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streamlink/discovery"
	"streamlink/models"
	"streamlink/storage"
	"streamlink/transport"
)

type infoCall struct {
	address  string
	useHTTPS bool
}

type fakeClient struct {
	mu         sync.Mutex
	serverInfo func(ctx context.Context, target transport.Target, useHTTPS bool) (*transport.ServerInfo, error)
	appList    func(ctx context.Context, target transport.Target) ([]transport.AppInfo, error)
	quitErr    error
	infoCalls  []infoCall
	quitCalls  int
}

func (c *fakeClient) ServerInfo(ctx context.Context, target transport.Target, useHTTPS bool) (*transport.ServerInfo, error) {
	c.mu.Lock()
	c.infoCalls = append(c.infoCalls, infoCall{address: target.Address, useHTTPS: useHTTPS})
	fn := c.serverInfo
	c.mu.Unlock()
	return fn(ctx, target, useHTTPS)
}

func (c *fakeClient) AppList(ctx context.Context, target transport.Target) ([]transport.AppInfo, error) {
	return c.appList(ctx, target)
}

func (c *fakeClient) QuitApp(context.Context, transport.Target) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quitCalls++
	return c.quitErr
}

func (c *fakeClient) calls() []infoCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]infoCall(nil), c.infoCalls...)
}

func serverInfo(uuid, name string) *transport.ServerInfo {
	return &transport.ServerInfo{
		UniqueID:    uuid,
		Hostname:    name,
		HTTPSPort:   "47984",
		CurrentGame: "0",
		PairStatus:  "0",
		State:       "SUNSHINE_SERVER_FREE",
	}
}

type fakeStore struct {
	mu           sync.Mutex
	hosts        map[string]models.Host
	removedApps  []string
	removedHosts []string
	skipped      int
}

func newFakeStore(hosts ...models.Host) *fakeStore {
	s := &fakeStore{hosts: make(map[string]models.Host)}
	for _, host := range hosts {
		s.hosts[host.UUID] = host.Clone()
	}
	return s
}

func (s *fakeStore) ListHosts() ([]models.Host, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Host, 0, len(s.hosts))
	for _, host := range s.hosts {
		out = append(out, host.Clone())
	}
	return out, s.skipped, nil
}

func (s *fakeStore) HasHost(uuid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hosts[uuid]
	return ok, nil
}

func (s *fakeStore) SaveHost(host models.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[host.UUID] = host.Clone()
	return nil
}

func (s *fakeStore) RemoveHost(uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hosts[uuid]; !ok {
		return storage.ErrNotFound
	}
	delete(s.hosts, uuid)
	s.removedHosts = append(s.removedHosts, uuid)
	return nil
}

func (s *fakeStore) UpdateApps(hostUUID string, apps []*models.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	host := s.hosts[hostUUID]
	host.Apps = (&models.Host{Apps: apps}).Clone().Apps
	s.hosts[hostUUID] = host
	return nil
}

func (s *fakeStore) SetAppHidden(hostUUID, appID string, hidden bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	host, ok := s.hosts[hostUUID]
	if !ok {
		return storage.ErrNotFound
	}
	app, ok := host.App(appID)
	if !ok {
		return storage.ErrNotFound
	}
	app.Hidden = hidden
	return nil
}

func (s *fakeStore) RemoveApp(hostUUID, appID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedApps = append(s.removedApps, hostUUID+"/"+appID)
	return nil
}

func (s *fakeStore) host(uuid string) (models.Host, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	host, ok := s.hosts[uuid]
	return host.Clone(), ok
}

type fakeProbe struct {
	events chan discovery.Event

	mu      sync.Mutex
	ads     []discovery.Advertisement
	stopped bool
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{events: make(chan discovery.Event, 8)}
}

func (p *fakeProbe) Start() error { return nil }

func (p *fakeProbe) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.events)
	}
}

func (p *fakeProbe) Events() <-chan discovery.Event { return p.events }

func (p *fakeProbe) Advertisements() []discovery.Advertisement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]discovery.Advertisement(nil), p.ads...)
}

func (p *fakeProbe) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeResolver struct {
	ad  discovery.Advertisement
	err error
}

func (r fakeResolver) Resolve(context.Context, string) (discovery.Advertisement, error) {
	return r.ad, r.err
}

func advertisement(name, ip string) discovery.Advertisement {
	return discovery.Advertisement{Name: name, Addresses: []string{ip}, Port: models.DefaultHTTPPort}
}

func newTestDirectory(t *testing.T, client *fakeClient, store *fakeStore, probe *fakeProbe, mutators ...func(*Options)) *Directory {
	t.Helper()

	opts := Options{
		Client:   client,
		Store:    store,
		Resolver: fakeResolver{ad: advertisement("manual", "192.168.1.20")},
		NewProbe: func() (Probe, error) {
			require.NotNil(t, probe, "test did not provide a probe")
			return probe, nil
		},
		PollInterval: 20 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, mutate := range mutators {
		mutate(&opts)
	}

	d := New(opts)
	t.Cleanup(d.Close)
	return d
}

func savedHost(uuid, name, address string, apps ...*models.App) models.Host {
	host := models.Host{
		UUID:      uuid,
		Name:      name,
		Address:   address,
		PairState: models.PairStateUnpaired,
		Apps:      apps,
	}
	host.Normalize()
	return host
}
