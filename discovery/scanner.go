// Package discovery finds streaming hosts on the local network over mDNS and
// resolves manually entered addresses.
package discovery

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service advertised by streaming hosts.
	DefaultService = "_nvstream._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	defaultInterval   = 10 * time.Second
	defaultWindow     = 3 * time.Second
	defaultEventsSize = 128
)

// EventType identifies discovery updates.
type EventType string

const (
	// EventHostAdvertised is emitted when a host appears or its advertisement changes.
	EventHostAdvertised EventType = "host_advertised"
	// EventHostGone is emitted when a previously advertised host disappears.
	EventHostGone EventType = "host_gone"
)

// Event carries one discovery update.
type Event struct {
	Type          EventType
	Advertisement Advertisement
}

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config configures a Scanner. Zero values take defaults.
type Config struct {
	Service string
	Domain  string
	// RefreshInterval is the pause between browse windows.
	RefreshInterval time.Duration
	// ScanTimeout is the length of a browse window.
	ScanTimeout time.Duration
	Logger      *slog.Logger

	browseFn browseFunc
}

// Scanner browses for hosts in fixed windows. Each window replaces the
// previous snapshot, so a host missing from a full window is reported gone.
type Scanner struct {
	service  string
	domain   string
	interval time.Duration
	window   time.Duration
	browse   browseFunc
	logger   *slog.Logger

	mu    sync.RWMutex
	hosts map[string]Advertisement

	eventsC chan Event

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewScanner creates a Scanner. It does not start browsing.
func NewScanner(cfg Config) (*Scanner, error) {
	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &Scanner{
		service:  cmp.Or(cfg.Service, DefaultService),
		domain:   cmp.Or(cfg.Domain, DefaultDomain),
		interval: cmp.Or(cfg.RefreshInterval, defaultInterval),
		window:   cmp.Or(cfg.ScanTimeout, defaultWindow),
		browse:   browse,
		logger:   cmp.Or(cfg.Logger, slog.New(slog.NewTextHandler(io.Discard, nil))).With("component", "mdns"),
		hosts:    make(map[string]Advertisement),
		eventsC:  make(chan Event, defaultEventsSize),
	}, nil
}

// Start begins background browsing. Calling Start more than once has no
// further effect.
func (s *Scanner) Start() error {
	s.startOnce.Do(func() {
		var ctx context.Context
		ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.run(ctx)
	})
	return nil
}

// Stop ends browsing and waits for the current window to finish. The events
// channel is closed once Stop returns.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.eventsC)
	})
}

// Events returns the channel of discovery updates.
func (s *Scanner) Events() <-chan Event {
	return s.eventsC
}

// Advertisements returns the hosts seen in the most recent complete window,
// ordered by name.
func (s *Scanner) Advertisements() []Advertisement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.SortedFunc(maps.Values(s.hosts), func(a, b Advertisement) int {
		return strings.Compare(a.Name, b.Name)
	})
}

func (s *Scanner) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		if err := s.scan(ctx); err != nil {
			s.logger.Warn("mDNS browse failed", "err", err)
		}

		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			return
		}
	}
}

// scan runs a single browse window and publishes its snapshot. A window cut
// short by Stop is discarded.
func (s *Scanner) scan(ctx context.Context) error {
	windowCtx, cancel := context.WithTimeout(ctx, s.window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	found := make(map[string]Advertisement)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for {
			select {
			case <-windowCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				if ad, ok := advertisementFromEntry(entry); ok {
					ad.LastSeen = time.Now()
					found[ad.Name] = ad
				}
			}
		}
	}()

	err := s.browse(windowCtx, s.service, s.domain, entries)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		cancel()
		<-collected
		return err
	}

	<-windowCtx.Done()
	<-collected

	if ctx.Err() != nil {
		return nil
	}

	s.publish(found)
	return nil
}

func (s *Scanner) publish(next map[string]Advertisement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.hosts
	s.hosts = next

	for name, ad := range next {
		if old, ok := previous[name]; !ok || !old.sameAs(ad) {
			s.send(Event{Type: EventHostAdvertised, Advertisement: ad})
		}
	}
	for name, ad := range previous {
		if _, ok := next[name]; !ok {
			s.send(Event{Type: EventHostGone, Advertisement: ad})
		}
	}
}

func (s *Scanner) send(event Event) {
	select {
	case s.eventsC <- event:
	default:
		s.logger.Warn("Discovery event dropped", "type", event.Type, "name", event.Advertisement.Name)
	}
}
