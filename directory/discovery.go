package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"streamlink/discovery"
	"streamlink/models"
	"streamlink/transport"
)

// discoveryRun is one start/stop cycle of background discovery.
type discoveryRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	probe  Probe
}

func (r *discoveryRun) wait() {
	r.wg.Wait()
	r.probe.Stop()
}

// probeRequest describes one server-info probe issued by discovery.
type probeRequest struct {
	// key collapses concurrent probes of the same host or address.
	key string
	// uuid is set when a known host is re-probed.
	uuid      string
	endpoints []string
}

// StartDiscovery starts listening for advertisements and polling known
// hosts. Starting an already running discovery is a no-op.
func (d *Directory) StartDiscovery() error {
	d.discoveryMu.Lock()
	defer d.discoveryMu.Unlock()

	select {
	case <-d.closedC:
		return ErrClosed
	default:
	}
	if d.discovery != nil {
		return nil
	}
	if d.newProbe == nil {
		return errors.New("no network probe configured")
	}

	probe, err := d.newProbe()
	if err != nil {
		return fmt.Errorf("create network probe: %w", err)
	}
	if err := probe.Start(); err != nil {
		return fmt.Errorf("start network probe: %w", err)
	}

	run := &discoveryRun{probe: probe}
	run.ctx, run.cancel = context.WithCancel(context.Background())
	run.wg.Add(2)
	go d.watchAdvertisements(run)
	go d.pollHosts(run)

	d.discovery = run
	d.logger.Info("Discovery started")

	return nil
}

// StopDiscovery cancels discovery without waiting for in-flight probes.
// Results of those probes are discarded.
func (d *Directory) StopDiscovery() {
	run := d.takeDiscovery()
	if run == nil {
		return
	}
	run.cancel()
	d.stopWG.Add(1)
	go func() {
		defer d.stopWG.Done()
		run.wait()
	}()
	d.logger.Info("Discovery stopped")
}

// StopDiscoveryBlocking cancels discovery and returns once no discovery I/O
// is in flight. No discovery sourced mutation happens after it returns.
func (d *Directory) StopDiscoveryBlocking() {
	if run := d.takeDiscovery(); run != nil {
		run.cancel()
		run.wait()
		d.logger.Info("Discovery stopped")
	}
	d.stopWG.Wait()
}

// DiscoveryRunning reports whether background discovery is active.
func (d *Directory) DiscoveryRunning() bool {
	d.discoveryMu.Lock()
	defer d.discoveryMu.Unlock()
	return d.discovery != nil
}

func (d *Directory) takeDiscovery() *discoveryRun {
	d.discoveryMu.Lock()
	defer d.discoveryMu.Unlock()

	run := d.discovery
	d.discovery = nil
	return run
}

// ResetDiscoveryState forgets in-flight probe bookkeeping and marks every
// idle host's connectivity as unknown so the next poll observes it afresh.
func (d *Directory) ResetDiscoveryState() error {
	return d.exec(func() {
		clear(d.inflight)
		for _, host := range d.hosts {
			if d.paused[host.UUID] > 0 || host.State == models.HostStateUnknown {
				continue
			}
			host.State = models.HostStateUnknown
			d.emit(EventHostUpdated, host)
		}
	})
}

// PauseDiscovery stops discovery from touching the host until a matching
// ResumeDiscovery. Pauses nest.
func (d *Directory) PauseDiscovery(uuid string) error {
	return d.exec(func() {
		d.paused[uuid]++
	})
}

// ResumeDiscovery undoes one PauseDiscovery.
func (d *Directory) ResumeDiscovery(uuid string) error {
	return d.exec(func() {
		d.resume(uuid)
	})
}

// resume must be called on the actor goroutine.
func (d *Directory) resume(uuid string) {
	switch n := d.paused[uuid]; {
	case n > 1:
		d.paused[uuid] = n - 1
	case n == 1:
		delete(d.paused, uuid)
	}
}

// DiscoverHost resolves a user supplied address or hostname in the
// background and calls callback exactly once, with the host or an error.
// Unreachable hosts are never added.
func (d *Directory) DiscoverHost(ctx context.Context, addressOrName string, callback func(models.Host, error)) {
	go func() {
		callback(d.AddHost(ctx, addressOrName))
	}()
}

// AddHost is the synchronous form of DiscoverHost.
func (d *Directory) AddHost(ctx context.Context, addressOrName string) (models.Host, error) {
	ad, err := d.resolver.Resolve(ctx, addressOrName)
	if err != nil {
		return models.Host{}, fmt.Errorf("resolve %s: %w", addressOrName, err)
	}

	lastErr := errors.New("no usable address")
	for _, endpoint := range ad.Endpoints() {
		info, err := d.client.ServerInfo(ctx, transport.Target{Address: endpoint}, false)
		if err != nil {
			lastErr = err
			continue
		}
		observed := observation(info, endpoint, false)
		if observed.UUID == "" {
			lastErr = errors.New("host did not report a unique id")
			continue
		}

		var snapshot models.Host
		if err := d.exec(func() {
			host, _ := d.upsert(observed)
			snapshot = host.Clone()
		}); err != nil {
			return models.Host{}, err
		}
		d.logger.Info("Host added", "host", snapshot.UUID, "name", snapshot.Name, "address", endpoint)
		return snapshot, nil
	}

	return models.Host{}, fmt.Errorf("could not reach host at %s: %w", addressOrName, lastErr)
}

func (d *Directory) watchAdvertisements(run *discoveryRun) {
	defer run.wg.Done()

	for {
		select {
		case <-run.ctx.Done():
			return
		case evt, ok := <-run.probe.Events():
			if !ok {
				return
			}
			if evt.Type != discovery.EventHostAdvertised {
				continue
			}
			endpoints := evt.Advertisement.Endpoints()
			if len(endpoints) == 0 {
				continue
			}
			d.spawnProbe(run, probeRequest{key: endpoints[0], endpoints: endpoints})
		}
	}
}

func (d *Directory) pollHosts(run *discoveryRun) {
	defer run.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.pollOnce(run)

		select {
		case <-run.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce re-probes every idle known host and every advertisement that does
// not belong to a known host.
func (d *Directory) pollOnce(run *discoveryRun) {
	var requests []probeRequest
	known := make(map[string]struct{})

	err := d.exec(func() {
		for _, host := range d.hosts {
			endpoints := hostEndpoints(host)
			for _, endpoint := range endpoints {
				known[endpoint] = struct{}{}
			}
			if d.paused[host.UUID] > 0 || host.UpdatePending || len(endpoints) == 0 {
				continue
			}
			requests = append(requests, probeRequest{key: host.UUID, uuid: host.UUID, endpoints: endpoints})
		}
	})
	if err != nil {
		return
	}

	for _, req := range requests {
		d.spawnProbe(run, req)
	}

	for _, ad := range run.probe.Advertisements() {
		endpoints := ad.Endpoints()
		if len(endpoints) == 0 || anyKnown(endpoints, known) {
			continue
		}
		d.spawnProbe(run, probeRequest{key: endpoints[0], endpoints: endpoints})
	}
}

// spawnProbe starts a probe unless one with the same key is in flight. It
// must be called from a goroutine counted in run.wg.
func (d *Directory) spawnProbe(run *discoveryRun, req probeRequest) {
	if run.ctx.Err() != nil {
		return
	}

	claimed := false
	if err := d.exec(func() {
		if _, busy := d.inflight[req.key]; busy {
			return
		}
		d.inflight[req.key] = struct{}{}
		claimed = true
	}); err != nil || !claimed {
		return
	}

	run.wg.Add(1)
	go func() {
		defer run.wg.Done()
		defer func() {
			_ = d.exec(func() { delete(d.inflight, req.key) })
		}()

		d.probe(run.ctx, req)
	}()
}

func (d *Directory) probe(ctx context.Context, req probeRequest) {
	var lastErr error
	for _, endpoint := range req.endpoints {
		if ctx.Err() != nil {
			return
		}
		info, err := d.client.ServerInfo(ctx, transport.Target{Address: endpoint}, false)
		if err != nil {
			lastErr = err
			continue
		}
		d.applyDiscovered(ctx, observation(info, endpoint, false))
		return
	}

	if ctx.Err() != nil {
		return
	}
	d.logger.Debug("Host probe failed", "key", req.key, "err", lastErr)
	if req.uuid != "" {
		d.applyDiscovered(ctx, models.Host{UUID: req.uuid, State: models.HostStateOffline})
	}
}

// applyDiscovered merges a discovery observation unless discovery was
// stopped or the host is paused by another operation.
func (d *Directory) applyDiscovered(ctx context.Context, observed models.Host) {
	if observed.UUID == "" {
		d.logger.Debug("Ignoring host without unique id", "address", observed.Address)
		return
	}

	var (
		snapshot models.Host
		changed  bool
	)
	err := d.exec(func() {
		if ctx.Err() != nil || d.paused[observed.UUID] > 0 {
			return
		}
		existing := d.find(observed.UUID)
		if existing == nil && observed.State != models.HostStateOnline {
			return
		}
		if existing != nil && existing.UpdatePending {
			return
		}
		host, ok := d.upsert(observed)
		if ok {
			snapshot, changed = host.Clone(), true
		}
	})
	if err != nil || !changed {
		return
	}

	d.persistIfStored(snapshot)
}

// observation converts a server-info response into a host observation. Plain
// HTTP responses do not carry a trustworthy pair status.
func observation(info *transport.ServerInfo, contacted string, encrypted bool) models.Host {
	observed := info.Host(contacted)
	if !encrypted {
		observed.PairState = models.PairStateUnknown
	}
	return observed
}

// hostEndpoints lists a host's distinct addresses, active address first.
func hostEndpoints(h *models.Host) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, addr := range []string{h.ActiveAddress, h.LocalAddress, h.ExternalAddress, h.Address, h.IPv6Address} {
		if addr == "" {
			continue
		}
		host, port := models.SplitAddress(models.NormalizeLegacyIPv6(addr, models.DefaultHTTPPort), models.DefaultHTTPPort)
		addr = net.JoinHostPort(host, strconv.Itoa(port))
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}

func anyKnown(endpoints []string, known map[string]struct{}) bool {
	for _, endpoint := range endpoints {
		if _, ok := known[endpoint]; ok {
			return true
		}
	}
	return false
}
