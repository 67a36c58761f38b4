// Package pairing drives the PIN exchange that establishes trust with a host.
package pairing

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"streamlink/models"
	"streamlink/storage"
	"streamlink/transport"
)

// ErrClosed is reported for pairing requests made after Close.
var ErrClosed = errors.New("pairing coordinator closed")

// State is a step of the pairing state machine.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingPIN   State = "awaiting_pin"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
	StateAlreadyPaired State = "already_paired"
)

// Terminal reports whether s ends a pairing attempt.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAlreadyPaired
}

// Event is a state transition of one pairing attempt.
type Event struct {
	State    State
	HostUUID string
	// PIN is set with StateAwaitingPIN. It must be shown to the user, who
	// types it on the host.
	PIN string
	// Err is set with StateFailed.
	Err error
}

// Directory is the part of the host directory pairing depends on.
type Directory interface {
	Host(uuid string) (models.Host, bool)
	StopDiscoveryBlocking()
	StartDiscovery() error
	PauseDiscovery(uuid string) error
	ResumeDiscovery(uuid string) error
	SetServerCert(uuid string, certPEM []byte) error
	UpdateHost(ctx context.Context, uuid string) error
}

// Client performs the pairing requests against a host.
type Client interface {
	ServerInfo(ctx context.Context, target transport.Target, useHTTPS bool) (*transport.ServerInfo, error)
	Pair(ctx context.Context, target transport.Target, onPIN func(pin string)) (*transport.PairResult, error)
}

// History records pairing outcomes. *storage.Store implements it.
type History interface {
	LogPairingEvent(event storage.PairingEvent) error
}

// Options holds the dependencies of a Coordinator. History is optional.
type Options struct {
	Directory Directory
	Client    Client
	History   History
	QueueSize int
	Logger    *slog.Logger
}

type job struct {
	ctx      context.Context
	hostUUID string
	events   chan Event
}

// Coordinator runs pairing attempts one at a time, in request order.
type Coordinator struct {
	dir     Directory
	client  Client
	history History
	logger  *slog.Logger

	jobC    chan job
	closedC chan struct{}
	doneC   chan struct{}
	once    sync.Once

	refreshWG sync.WaitGroup
}

// New creates a Coordinator and starts its worker.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		dir:     opts.Directory,
		client:  opts.Client,
		history: opts.History,
		logger:  cmp.Or(opts.Logger, slog.Default()).With("component", "pairing"),
		jobC:    make(chan job, cmp.Or(opts.QueueSize, 8)),
		closedC: make(chan struct{}),
		doneC:   make(chan struct{}),
	}

	go c.run()

	return c
}

// Close stops accepting requests, waits for the current attempt and any
// status refresh it started. Queued attempts that have not started fail with
// ErrClosed.
func (c *Coordinator) Close() {
	c.once.Do(func() {
		close(c.closedC)
		<-c.doneC
		c.refreshWG.Wait()
	})
}

// TryPair queues a pairing attempt with the host. The returned channel
// yields at most one StateAwaitingPIN event followed by exactly one terminal
// event, and is then closed.
func (c *Coordinator) TryPair(ctx context.Context, hostUUID string) <-chan Event {
	events := make(chan Event, 2)
	j := job{ctx: ctx, hostUUID: hostUUID, events: events}

	select {
	case <-c.closedC:
		c.finish(j, Event{State: StateFailed, HostUUID: hostUUID, Err: ErrClosed})
		return events
	default:
	}

	select {
	case c.jobC <- j:
	case <-c.closedC:
		c.finish(j, Event{State: StateFailed, HostUUID: hostUUID, Err: ErrClosed})
	case <-ctx.Done():
		c.finish(j, Event{State: StateFailed, HostUUID: hostUUID, Err: ctx.Err()})
	}
	return events
}

// Pair is the synchronous form of TryPair. onPIN is called with the PIN to
// display.
func (c *Coordinator) Pair(ctx context.Context, hostUUID string, onPIN func(pin string)) (State, error) {
	for evt := range c.TryPair(ctx, hostUUID) {
		switch evt.State {
		case StateAwaitingPIN:
			if onPIN != nil {
				onPIN(evt.PIN)
			}
		case StateFailed:
			return evt.State, evt.Err
		default:
			if evt.State.Terminal() {
				return evt.State, nil
			}
		}
	}
	return StateFailed, ErrClosed
}

func (c *Coordinator) run() {
	defer close(c.doneC)

	for {
		select {
		case j := <-c.jobC:
			c.process(j)
		case <-c.closedC:
			for {
				select {
				case j := <-c.jobC:
					c.finish(j, Event{State: StateFailed, HostUUID: j.hostUUID, Err: ErrClosed})
				default:
					return
				}
			}
		}
	}
}

type outcome struct {
	state State
	cert  []byte
	err   error
}

func (c *Coordinator) process(j job) {
	if err := j.ctx.Err(); err != nil {
		c.finish(j, Event{State: StateFailed, HostUUID: j.hostUUID, Err: err})
		return
	}

	// The per-host hold keeps discovery off the host even if another caller
	// restarts discovery before this attempt ends.
	if err := c.dir.PauseDiscovery(j.hostUUID); err != nil {
		c.finish(j, Event{State: StateFailed, HostUUID: j.hostUUID, Err: err})
		return
	}
	c.dir.StopDiscoveryBlocking()
	result := c.pair(j)
	c.endPairing(j, result)
}

func (c *Coordinator) pair(j job) outcome {
	host, ok := c.dir.Host(j.hostUUID)
	if !ok {
		return outcome{state: StateFailed, err: fmt.Errorf("host %s not found", j.hostUUID)}
	}
	target := transport.TargetFor(&host)

	if len(host.ServerCert) > 0 {
		info, err := c.client.ServerInfo(j.ctx, target, true)
		if err == nil && strings.TrimSpace(info.PairStatus) == "1" {
			return outcome{state: StateAlreadyPaired}
		}
		if err != nil {
			c.logger.Debug("Pair status check failed", "host", j.hostUUID, "err", err)
		}
	}

	c.logger.Info("Pairing started", "host", j.hostUUID, "name", host.Name)
	result, err := c.client.Pair(j.ctx, target, func(pin string) {
		j.events <- Event{State: StateAwaitingPIN, HostUUID: j.hostUUID, PIN: pin}
	})
	if err != nil {
		return outcome{state: StateFailed, err: err}
	}
	return outcome{state: StateSucceeded, cert: result.ServerCert}
}

// endPairing is the single exit of every attempt that reached the worker.
// The host hold is always released and discovery restarted. A trusted host
// gets a status refresh.
func (c *Coordinator) endPairing(j job, result outcome) {
	if result.state == StateSucceeded {
		if err := c.dir.SetServerCert(j.hostUUID, result.cert); err != nil {
			result = outcome{state: StateFailed, err: fmt.Errorf("store server certificate: %w", err)}
		}
	}

	c.record(j.hostUUID, result)

	if err := c.dir.ResumeDiscovery(j.hostUUID); err != nil {
		c.logger.Warn("Failed to release discovery hold", "host", j.hostUUID, "err", err)
	}
	if err := c.dir.StartDiscovery(); err != nil {
		c.logger.Warn("Failed to resume discovery", "err", err)
	}

	if result.state != StateFailed {
		c.refreshWG.Add(1)
		go func() {
			defer c.refreshWG.Done()
			if err := c.dir.UpdateHost(context.WithoutCancel(j.ctx), j.hostUUID); err != nil {
				c.logger.Debug("Status refresh after pairing failed", "host", j.hostUUID, "err", err)
			}
		}()
	}

	switch result.state {
	case StateFailed:
		c.logger.Warn("Pairing failed", "host", j.hostUUID, "err", result.err)
	default:
		c.logger.Info("Pairing finished", "host", j.hostUUID, "state", result.state)
	}

	c.finish(j, Event{State: result.state, HostUUID: j.hostUUID, Err: result.err})
}

func (c *Coordinator) record(hostUUID string, result outcome) {
	if c.history == nil {
		return
	}

	event := storage.PairingEvent{HostUUID: hostUUID}
	switch result.state {
	case StateSucceeded:
		event.Outcome = storage.PairingOutcomeSucceeded
	case StateAlreadyPaired:
		event.Outcome = storage.PairingOutcomeAlreadyPaired
	default:
		event.Outcome = storage.PairingOutcomeFailed
		if details, err := json.Marshal(map[string]string{"error": result.err.Error()}); err == nil {
			event.Details = string(details)
		}
	}

	if err := c.history.LogPairingEvent(event); err != nil {
		c.logger.Warn("Failed to record pairing event", "host", hostUUID, "err", err)
	}
}

func (c *Coordinator) finish(j job, evt Event) {
	j.events <- evt
	close(j.events)
}
