// Package speech plays queued utterances through a text-to-speech backend.
package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/metrics"
)

// Source is where the Mouth takes utterances from.
type Source interface {
	Dequeue() (domain.Utterance, bool)
	Ready() <-chan struct{}
}

// Params are read once at the start of every utterance.
type Params struct {
	Voice    domain.VoiceParams
	Chunking bool
}

// Prefetcher is implemented by backends that can prepare audio for text
// before it is spoken.
type Prefetcher interface {
	Prefetch(ctx context.Context, texts []string, v domain.VoiceParams)
}

// MouthOption configures the Mouth.
type MouthOption func(*Mouth)

// WithChunkSize sets the max rune count per backend call.
func WithChunkSize(n int) MouthOption {
	return func(m *Mouth) {
		m.chunkSize = n
	}
}

// WithParams sets the function consulted for rate, volume, voice and
// chunking before each utterance.
func WithParams(fn func() Params) MouthOption {
	return func(m *Mouth) {
		m.params = fn
	}
}

// WithTiming overrides the settle delay and poll intervals.
func WithTiming(settle, pausedPoll, idlePoll time.Duration) MouthOption {
	return func(m *Mouth) {
		m.settle = settle
		m.pausedPoll = pausedPoll
		m.idlePoll = idlePoll
	}
}

// Mouth is the single playback consumer. It drains the Source one
// utterance at a time, splits each into chunks and speaks them in order.
// Mute and Skip cancel the utterance in flight; the backend call returns
// only after its resources are released, so nothing overlaps.
type Mouth struct {
	backend domain.SpeechBackend
	source  Source
	log     *logger.Logger

	chunkSize  int
	settle     time.Duration
	pausedPoll time.Duration
	idlePoll   time.Duration
	params     func() Params

	mu      sync.Mutex
	paused  bool
	cancel  context.CancelFunc // cancels the utterance in flight, nil when idle
	current string
	resume  chan struct{}

	runMu   sync.Mutex
	stop    context.CancelFunc
	done    chan struct{}
	running bool
}

// NewMouth creates a playback engine for backend reading from source.
func NewMouth(backend domain.SpeechBackend, source Source, log *logger.Logger, opts ...MouthOption) *Mouth {
	m := &Mouth{
		backend:    backend,
		source:     source,
		log:        log,
		chunkSize:  DefaultChunkSize,
		settle:     SettleDelay,
		pausedPoll: PausedPoll,
		idlePoll:   IdlePoll,
		params: func() Params {
			return Params{Voice: domain.VoiceParams{Rate: 1, Volume: 100}, Chunking: true}
		},
		resume: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the consumer loop. Calling Start on a running Mouth is a
// no-op.
func (m *Mouth) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.loop(ctx, m.done)
	m.log.Debug("mouth started (backend=%s)", m.backend.Name())
}

// Stop ends the loop, interrupts the utterance in flight and waits until
// the backend has let go of it. Safe to call more than once.
func (m *Mouth) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.runMu.Unlock()

	stop()
	<-done

	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.log.Debug("mouth stopped")
}

// Running reports whether the consumer loop is active.
func (m *Mouth) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

// SetPaused mutes or unmutes playback. Muting abandons the utterance in
// flight; queued items wait. It reports whether the state changed.
func (m *Mouth) SetPaused(paused bool) bool {
	m.mu.Lock()
	if m.paused == paused {
		m.mu.Unlock()
		return false
	}
	m.paused = paused
	cancel := m.cancel
	m.mu.Unlock()

	m.pauseChanged(paused, cancel)
	return true
}

// TogglePaused flips the mute state and returns the new value.
func (m *Mouth) TogglePaused() bool {
	m.mu.Lock()
	m.paused = !m.paused
	paused, cancel := m.paused, m.cancel
	m.mu.Unlock()

	m.pauseChanged(paused, cancel)
	return paused
}

func (m *Mouth) pauseChanged(paused bool, cancel context.CancelFunc) {
	if paused {
		if cancel != nil {
			cancel()
		}
		return
	}
	select {
	case m.resume <- struct{}{}:
	default:
	}
}

// Paused reports whether playback is muted.
func (m *Mouth) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Skip abandons the utterance in flight. It reports whether there was one.
func (m *Mouth) Skip() bool {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Current returns the utterance being spoken, or "".
func (m *Mouth) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Mouth) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		if m.Paused() {
			m.wait(ctx, m.pausedPoll, m.resume)
			continue
		}
		u, ok := m.source.Dequeue()
		if !ok {
			m.wait(ctx, m.idlePoll, m.source.Ready())
			continue
		}
		m.render(ctx, u)
	}
}

// wait sleeps for d, or less when wake fires or ctx ends.
func (m *Mouth) wait(ctx context.Context, d time.Duration, wake <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-wake:
	case <-t.C:
	}
}

// render speaks one utterance chunk by chunk.
func (m *Mouth) render(ctx context.Context, u domain.Utterance) {
	uctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.paused {
		// Muted between dequeue and here: the item is dropped like any
		// utterance in flight.
		m.mu.Unlock()
		metrics.Utterances.WithLabelValues("interrupted").Inc()
		return
	}
	m.cancel = cancel
	m.current = u.Text
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cancel = nil
		m.current = ""
		m.mu.Unlock()
	}()

	p := m.params()
	chunks := []string{u.Text}
	if p.Chunking {
		chunks = SplitChunks(u.Text, m.chunkSize)
	}
	if len(chunks) == 0 {
		return
	}

	m.log.Info("[TTS] %s", u.Text)
	if pf, ok := m.backend.(Prefetcher); ok && len(chunks) > 1 {
		pf.Prefetch(uctx, chunks[1:], p.Voice)
	}

	for i, chunk := range chunks {
		if uctx.Err() != nil {
			break
		}
		start := time.Now()
		err := m.speak(uctx, chunk, p.Voice)
		metrics.ChunkLatency.Observe(float64(time.Since(start).Milliseconds()))

		if uctx.Err() != nil {
			break
		}
		if err != nil {
			m.log.Error("[TTS] error: %v", err)
			metrics.Utterances.WithLabelValues("failed").Inc()
			return
		}
		if i < len(chunks)-1 && !m.sleep(uctx, m.settle) {
			break
		}
	}

	if uctx.Err() != nil && ctx.Err() == nil {
		m.log.Debug("mouth: utterance interrupted: %s", truncate(u.Text, 60))
		metrics.Utterances.WithLabelValues("interrupted").Inc()
		return
	}
	metrics.Utterances.WithLabelValues("spoken").Inc()
}

// speak calls the backend and turns a panic into an error.
func (m *Mouth) speak(ctx context.Context, text string, v domain.VoiceParams) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend %s panicked: %v", m.backend.Name(), r)
		}
	}()
	return m.backend.Speak(ctx, text, v)
}

func (m *Mouth) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
