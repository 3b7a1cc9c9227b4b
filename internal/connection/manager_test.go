package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

// fakeSource fails the first failures Connect calls, then succeeds and
// emits ready when succeed is set.
type fakeSource struct {
	mu       sync.Mutex
	failures int
	connects int
	closed   int
	events   chan domain.ChatEvent
}

func newFakeSource(failures int) *fakeSource {
	return &fakeSource{failures: failures, events: make(chan domain.ChatEvent, 16)}
}

func (f *fakeSource) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.failures {
		return errors.New("dial refused")
	}
	f.events <- domain.ChatEvent{Kind: domain.EventReady}
	return nil
}

func (f *fakeSource) Events() <-chan domain.ChatEvent { return f.events }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSource) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// recordingWait records requested delays and returns immediately.
type recordingWait struct {
	mu     sync.Mutex
	delays []time.Duration
	block  bool
}

func (w *recordingWait) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	block := w.block
	w.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

func (w *recordingWait) Delays() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

type stateLog struct {
	mu     sync.Mutex
	states []domain.ConnState
}

func (s *stateLog) record(st domain.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateLog) Last() domain.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return domain.StateIdle
	}
	return s.states[len(s.states)-1]
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestManager(src domain.ChatSource, w *recordingWait, states *stateLog, handler Handler) *Manager {
	if handler == nil {
		handler = func(domain.ChatMessage) {}
	}
	return NewManager(
		func(string) (domain.ChatSource, error) { return src, nil },
		handler,
		logger.New(logger.LevelOff, nil),
		WithWait(w.wait),
		WithStateListener(states.record),
	)
}

func TestBackoffSchedule(t *testing.T) {
	src := newFakeSource(7)
	w := &recordingWait{}
	states := &stateLog{}
	m := newTestManager(src, w, states, nil)

	if err := m.Start(context.Background(), "streamer"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	eventually(t, func() bool { return m.State() == domain.StateConnected })

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	got := w.Delays()
	if len(got) != len(want) {
		t.Fatalf("got %d retries %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("retry %d: got %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestBackoffResetsAfterReady(t *testing.T) {
	src := newFakeSource(2)
	w := &recordingWait{}
	states := &stateLog{}
	m := newTestManager(src, w, states, nil)

	m.Start(context.Background(), "streamer")
	defer m.Stop()
	eventually(t, func() bool { return m.State() == domain.StateConnected })

	// Drop the connection; the next delay starts from 1s again.
	src.events <- domain.ChatEvent{Kind: domain.EventDisconnect, Err: errors.New("eof")}
	eventually(t, func() bool { return src.Connects() == 4 })
	eventually(t, func() bool { return m.State() == domain.StateConnected })

	got := w.Delays()
	if len(got) != 3 || got[2] != time.Second {
		t.Fatalf("expected reset to 1s after ready, got %v", got)
	}
}

func TestStopDuringBackoff(t *testing.T) {
	src := newFakeSource(100)
	w := &recordingWait{block: true}
	states := &stateLog{}
	m := newTestManager(src, w, states, nil)

	m.Start(context.Background(), "streamer")
	eventually(t, func() bool { return len(w.Delays()) == 1 })

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the backoff wait")
	}

	if m.State() != domain.StateStopped || states.Last() != domain.StateStopped {
		t.Fatalf("expected stopped, got %v / %v", m.State(), states.Last())
	}
	if src.Connects() != 1 {
		t.Fatalf("no retry should happen after stop, got %d connects", src.Connects())
	}
	src.mu.Lock()
	closed := src.closed
	src.mu.Unlock()
	if closed != 1 {
		t.Fatalf("source should be closed once, got %d", closed)
	}

	// Idempotent.
	m.Stop()
}

func TestStartErrors(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	boom := errors.New("no transport")
	m := NewManager(func(string) (domain.ChatSource, error) { return nil, boom }, func(domain.ChatMessage) {}, log)

	if err := m.Start(context.Background(), "  "); !errors.Is(err, domain.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	if err := m.Start(context.Background(), "streamer"); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if m.State() != domain.StateIdle {
		t.Fatalf("failed start must leave the manager idle, got %v", m.State())
	}

	src := newFakeSource(0)
	ok := NewManager(func(string) (domain.ChatSource, error) { return src, nil }, func(domain.ChatMessage) {}, log)
	if err := ok.Start(context.Background(), "streamer"); err != nil {
		t.Fatal(err)
	}
	defer ok.Stop()
	if err := ok.Start(context.Background(), "other"); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if ok.Channel() != "streamer" {
		t.Fatalf("channel = %q", ok.Channel())
	}
}

func TestMessagesReachHandler(t *testing.T) {
	src := newFakeSource(0)
	w := &recordingWait{}
	states := &stateLog{}

	var mu sync.Mutex
	var got []string
	m := newTestManager(src, w, states, func(msg domain.ChatMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.Content)
	})
	m.Start(context.Background(), "streamer")
	defer m.Stop()

	src.events <- domain.ChatEvent{Kind: domain.EventError, Err: errors.New("transient")}
	src.events <- domain.ChatEvent{Kind: domain.EventMessage, Message: domain.ChatMessage{Content: "one"}}
	src.events <- domain.ChatEvent{Kind: domain.EventMessage, Message: domain.ChatMessage{Content: "two"}}

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	if m.State() != domain.StateConnected {
		t.Fatalf("error events must not drop the connection, state %v", m.State())
	}
}
