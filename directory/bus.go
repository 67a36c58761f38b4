package directory

import (
	"log/slog"
	"slices"
	"sync"

	"streamlink/models"
)

// EventType identifies a directory change.
type EventType string

const (
	// EventHostAdded is sent when a host with a new uuid enters the directory.
	EventHostAdded EventType = "host_added"
	// EventHostUpdated is sent when fields of a known host change.
	EventHostUpdated EventType = "host_updated"
	// EventHostRemoved is sent when a host leaves the directory.
	EventHostRemoved EventType = "host_removed"
	// EventAppsChanged is sent when a host's app collection is replaced.
	EventAppsChanged EventType = "apps_changed"
)

// Event is a snapshot of one host taken right after a change.
type Event struct {
	Type EventType
	Host models.Host
}

// bus fans events out to subscribers. A subscriber that does not keep up
// loses events rather than stalling the directory.
type bus struct {
	mu          sync.Mutex
	subscribers []chan Event
	chanSize    int
	logger      *slog.Logger
}

func newBus(chanSize int, logger *slog.Logger) *bus {
	return &bus{chanSize: chanSize, logger: logger}
}

func (b *bus) subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.chanSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *bus) unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = slices.DeleteFunc(b.subscribers, func(sub chan Event) bool {
		if (<-chan Event)(sub) == ch {
			close(sub)
			return true
		}
		return false
	})
}

func (b *bus) send(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("Event dropped", "type", evt.Type, "host", evt.Host.UUID)
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
