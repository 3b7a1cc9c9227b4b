// Package connection owns the chat subscription: it connects, reconnects
// with exponential backoff and feeds every message through the
// Dispatcher.
package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/metrics"
)

// Backoff schedule for reconnects.
const (
	InitialBackoff = time.Second
	MaxBackoff     = 30 * time.Second
)

// Factory builds the chat source for a channel. Errors are returned to
// the caller of Start.
type Factory func(channel string) (domain.ChatSource, error)

// Handler receives every chat message, one at a time.
type Handler func(msg domain.ChatMessage)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStateListener registers a callback for state transitions.
func WithStateListener(fn func(domain.ConnState)) ManagerOption {
	return func(m *Manager) {
		m.onState = fn
	}
}

// WithWait replaces the backoff sleep (tests). wait must return early with
// ctx.Err() when ctx is cancelled.
func WithWait(fn func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) {
		m.wait = fn
	}
}

// Manager runs the Idle -> Connecting -> Connected -> (Stopped |
// Connecting) state machine for one channel at a time.
type Manager struct {
	factory Factory
	handler Handler
	log     *logger.Logger
	onState func(domain.ConnState)
	wait    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	state   domain.ConnState
	channel string
	source  domain.ChatSource
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates an idle manager.
func NewManager(factory Factory, handler Handler, log *logger.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		factory: factory,
		handler: handler,
		log:     log,
		wait:    sleepCtx,
		state:   domain.StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Channel returns the channel being followed, or "".
func (m *Manager) Channel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Start begins following channel. It fails without side effects when the
// channel is empty, the manager is already running or the source cannot
// be constructed.
func (m *Manager) Start(ctx context.Context, channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return domain.ErrNoChannel
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return domain.ErrAlreadyRunning
	}

	src, err := m.factory(channel)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create chat source: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.source = src
	m.channel = channel
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.log.Info("[init] channel: %s", channel)
	m.setState(domain.StateConnecting)
	go m.run(runCtx, src, done)
	return nil
}

// Stop cancels the connection loop (including a pending backoff wait),
// releases the subscription and moves to Stopped. Calling Stop when not
// running does nothing.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done, src := m.cancel, m.done, m.source
	m.cancel, m.done, m.source = nil, nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if err := src.Close(); err != nil {
		m.log.Debug("connection: close: %v", err)
	}

	m.mu.Lock()
	m.channel = ""
	m.mu.Unlock()
	m.setState(domain.StateStopped)
}

// setState records s and notifies the listener outside the lock.
func (m *Manager) setState(s domain.ConnState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	metrics.ConnectionState.Set(float64(s))
	if m.onState != nil {
		m.onState(s)
	}
}

func newBackoff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         MaxBackoff,
	}
	b.Reset()
	return b
}

func (m *Manager) run(ctx context.Context, src domain.ChatSource, done chan struct{}) {
	defer close(done)
	b := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}
		m.setState(domain.StateConnecting)

		if err := src.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d := b.NextBackOff()
			m.log.Warn("[conn] connect failed: %v (retry in %s)", err, d)
			metrics.ReconnectAttempts.Inc()
			if m.wait(ctx, d) != nil {
				return
			}
			continue
		}

		m.pump(ctx, src, b)
		if ctx.Err() != nil {
			return
		}

		d := b.NextBackOff()
		m.log.Info("[conn] reconnecting in %s", d)
		metrics.ReconnectAttempts.Inc()
		if m.wait(ctx, d) != nil {
			return
		}
	}
}

// pump processes events until the connection drops or ctx ends.
func (m *Manager) pump(ctx context.Context, src domain.ChatSource, b *backoff.ExponentialBackOff) {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case domain.EventReady:
				b.Reset()
				m.setState(domain.StateConnected)
				m.log.Info("[conn] connected to chat")
			case domain.EventError:
				m.log.Warn("[conn] client error: %v", ev.Err)
			case domain.EventDisconnect, domain.EventClose:
				m.log.Warn("[conn] %s: %v", ev.Kind, ev.Err)
				return
			case domain.EventMessage:
				m.handler(ev.Message)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
