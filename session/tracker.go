package session

import (
	"cmp"
	"log/slog"
	"sync"

	"streamlink/models"
)

// Tracker holds the active session and raises the "now streaming" signal
// when a new one is launched. Connecting to the host is left to the
// streaming engine that consumes the signal.
type Tracker struct {
	caps   Capabilities
	logger *slog.Logger

	mu     sync.Mutex
	active *Descriptor

	streamingC chan Descriptor
}

// NewTracker creates a Tracker building descriptors with caps.
func NewTracker(caps Capabilities, logger *slog.Logger) *Tracker {
	return &Tracker{
		caps:       caps,
		logger:     cmp.Or(logger, slog.Default()).With("component", "session"),
		streamingC: make(chan Descriptor, 1),
	}
}

// Launch builds a descriptor, makes it the active session and signals
// NowStreaming. A previous active session is replaced.
func (t *Tracker) Launch(host models.Host, app models.App, settings models.StreamSettings) (Descriptor, error) {
	desc, err := Build(host, app, settings, t.caps)
	if err != nil {
		return Descriptor{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = &desc

	// Only the latest launch is of interest to a slow consumer.
	select {
	case <-t.streamingC:
	default:
	}
	t.streamingC <- desc

	t.logger.Info(
		"Session ready",
		"host", desc.HostUUID,
		"app", desc.AppName,
		"width", desc.Width,
		"height", desc.Height,
		"formats", desc.SupportedVideoFormats.String(),
	)

	return desc, nil
}

// Active returns the active session, if any.
func (t *Tracker) Active() (Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return Descriptor{}, false
	}
	return *t.active, true
}

// NowStreaming yields each launched descriptor.
func (t *Tracker) NowStreaming() <-chan Descriptor {
	return t.streamingC
}

// End clears the active session.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = nil
}
