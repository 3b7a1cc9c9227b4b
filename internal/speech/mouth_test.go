package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/queue"
)

// fakeBackend records spoken chunks. A chunk containing "slow" blocks
// until cancelled; "boom" fails; "panic" panics.
type fakeBackend struct {
	mu       sync.Mutex
	spoken   []string
	params   []domain.VoiceParams
	started  chan string
	released chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		started:  make(chan string, 16),
		released: make(chan string, 16),
	}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Speak(ctx context.Context, text string, v domain.VoiceParams) error {
	f.started <- text
	defer func() { f.released <- text }()

	switch text {
	case "slow.":
		<-ctx.Done()
		return ctx.Err()
	case "boom.":
		return errors.New("synth failed")
	case "panic.":
		panic("driver crashed")
	}
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.params = append(f.params, v)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
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

func newTestMouth(b domain.SpeechBackend, q *queue.Queue, opts ...MouthOption) *Mouth {
	opts = append([]MouthOption{WithTiming(time.Millisecond, 5*time.Millisecond, 5*time.Millisecond)}, opts...)
	return NewMouth(b, q, logger.New(logger.LevelOff, nil), opts...)
}

func TestMouthSpeaksInOrder(t *testing.T) {
	b := newFakeBackend()
	q := queue.New(10)
	m := newTestMouth(b, q)

	q.Enqueue(domain.Utterance{Text: "normal."}, false)
	q.Enqueue(domain.Utterance{Text: "vip."}, true)
	m.Start(context.Background())
	defer m.Stop()

	eventually(t, func() bool { return len(b.Spoken()) == 2 })
	got := b.Spoken()
	if got[0] != "vip." || got[1] != "normal." {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestMouthSkipInterruptsAndContinues(t *testing.T) {
	b := newFakeBackend()
	q := queue.New(10)
	m := newTestMouth(b, q)
	m.Start(context.Background())
	defer m.Stop()

	if m.Skip() {
		t.Fatal("skip with nothing playing should report false")
	}

	q.Enqueue(domain.Utterance{Text: "slow."}, false)
	waitFor(t, b.started, "slow.")
	q.Enqueue(domain.Utterance{Text: "next."}, false)
	if got := m.Current(); got != "slow." {
		t.Fatalf("current = %q while speaking", got)
	}

	if !m.Skip() {
		t.Fatal("skip should report true while speaking")
	}
	waitFor(t, b.released, "slow.")
	waitFor(t, b.started, "next.")
	eventually(t, func() bool { return len(b.Spoken()) == 1 })
	eventually(t, func() bool { return m.Current() == "" })
}

func TestMouthMuteAbandonsAndHoldsQueue(t *testing.T) {
	b := newFakeBackend()
	q := queue.New(10)
	m := newTestMouth(b, q)
	m.Start(context.Background())
	defer m.Stop()

	q.Enqueue(domain.Utterance{Text: "slow."}, false)
	waitFor(t, b.started, "slow.")
	q.Enqueue(domain.Utterance{Text: "later."}, false)

	if !m.SetPaused(true) {
		t.Fatal("mute should change state")
	}
	waitFor(t, b.released, "slow.")

	time.Sleep(30 * time.Millisecond)
	if _, normal := q.Len(); normal != 1 {
		t.Fatalf("queued item should wait while muted, queue has %d", normal)
	}
	if len(b.Spoken()) != 0 {
		t.Fatalf("nothing should be spoken while muted: %v", b.Spoken())
	}

	if m.TogglePaused() {
		t.Fatal("toggle should unmute")
	}
	waitFor(t, b.started, "later.")
}

func TestMouthConcurrentToggles(t *testing.T) {
	m := newTestMouth(newFakeBackend(), queue.New(10))

	const n = 200
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		muted int
	)
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TogglePaused() {
				mu.Lock()
				muted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if m.Paused() {
		t.Fatal("an even number of toggles must leave playback unmuted")
	}
	if muted != n {
		t.Fatalf("%d toggles reported muted, want %d", muted, n)
	}
}

func TestMouthSurvivesBackendFailures(t *testing.T) {
	b := newFakeBackend()
	q := queue.New(10)
	m := newTestMouth(b, q)

	q.Enqueue(domain.Utterance{Text: "boom."}, false)
	q.Enqueue(domain.Utterance{Text: "panic."}, false)
	q.Enqueue(domain.Utterance{Text: "fine."}, false)
	m.Start(context.Background())
	defer m.Stop()

	eventually(t, func() bool { return len(b.Spoken()) == 1 })
	if b.Spoken()[0] != "fine." {
		t.Fatalf("expected fine. after failures, got %v", b.Spoken())
	}
}

func TestMouthReadsParamsPerUtterance(t *testing.T) {
	b := newFakeBackend()
	q := queue.New(10)

	var mu sync.Mutex
	rate := 1.0
	params := func() Params {
		mu.Lock()
		defer mu.Unlock()
		return Params{Voice: domain.VoiceParams{Rate: rate, Volume: 80}, Chunking: true}
	}
	m := newTestMouth(b, q, WithParams(params))
	m.Start(context.Background())
	defer m.Stop()

	q.Enqueue(domain.Utterance{Text: "one."}, false)
	eventually(t, func() bool { return len(b.Spoken()) == 1 })

	mu.Lock()
	rate = 1.5
	mu.Unlock()
	q.Enqueue(domain.Utterance{Text: "two."}, false)
	eventually(t, func() bool { return len(b.Spoken()) == 2 })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.params[0].Rate != 1.0 || b.params[1].Rate != 1.5 || b.params[1].Volume != 80 {
		t.Fatalf("unexpected params: %+v", b.params)
	}
}

func TestMouthChunksLongUtterances(t *testing.T) {
	b := newFakeBackend()
	q := queue.New(10)
	m := newTestMouth(b, q, WithChunkSize(16))
	m.Start(context.Background())
	defer m.Stop()

	q.Enqueue(domain.Utterance{Text: "hello there. general kenobi."}, false)
	eventually(t, func() bool { return len(b.Spoken()) == 2 })
	got := b.Spoken()
	if got[0] != "hello there." || got[1] != "general kenobi." {
		t.Fatalf("unexpected chunks: %v", got)
	}
}

func TestMouthStopReleasesInFlight(t *testing.T) {
	b := newFakeBackend()
	q := queue.New(10)
	m := newTestMouth(b, q)
	m.Start(context.Background())

	q.Enqueue(domain.Utterance{Text: "slow."}, false)
	waitFor(t, b.started, "slow.")

	m.Stop()
	// Stop waits for the loop, so the backend must have returned already.
	select {
	case <-b.released:
	default:
		t.Fatal("backend still holding the utterance after Stop")
	}
	if m.Running() {
		t.Fatal("mouth should not be running")
	}
	m.Stop()
}
