package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/kickvox/internal/connection"
	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/options"
	"github.com/hammamikhairi/kickvox/internal/speech"
	"github.com/hammamikhairi/kickvox/internal/storage"
)

type fakeSource struct {
	events chan domain.ChatEvent
}

func (f *fakeSource) Connect(ctx context.Context) error {
	f.events <- domain.ChatEvent{Kind: domain.EventReady}
	return nil
}

func (f *fakeSource) Events() <-chan domain.ChatEvent { return f.events }
func (f *fakeSource) Close() error                    { return nil }

func (f *fakeSource) say(user, text string, sender domain.SenderInfo) {
	sender.Username = user
	f.events <- domain.ChatEvent{
		Kind:    domain.EventMessage,
		Message: domain.ChatMessage{Sender: sender, Content: text},
	}
}

type fakeBackend struct {
	mu     sync.Mutex
	spoken []string
	voices []string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Speak(ctx context.Context, text string, v domain.VoiceParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeBackend) ListVoices(ctx context.Context) ([]string, error) {
	if f.voices == nil {
		return nil, errors.New("no voices")
	}
	return f.voices, nil
}

func (f *fakeBackend) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type recorder struct {
	mu     sync.Mutex
	lines  []string
	states []domain.ConnState
	mutes  []bool
}

func (r *recorder) Log(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recorder) StateChanged(s domain.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) MuteChanged(m bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutes = append(r.mutes, m)
}

func (r *recorder) hasState(s domain.ConnState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func (r *recorder) Mutes() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.mutes...)
}

func (r *recorder) logged(sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

// watchedStore is a MemoryStore whose external edits are pushed by the test.
type watchedStore struct {
	*storage.MemoryStore
	onChange chan func(map[string]any)
}

func (w *watchedStore) Watch(ctx context.Context, fn func(map[string]any)) error {
	w.onChange <- fn
	<-ctx.Done()
	return nil
}

type harness struct {
	bot     *Bot
	backend *fakeBackend
	obs     *recorder
	mu      sync.Mutex
	sources []*fakeSource
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{backend: &fakeBackend{}, obs: &recorder{}}
	factory := func(channel string) (domain.ChatSource, error) {
		src := &fakeSource{events: make(chan domain.ChatEvent, 16)}
		h.mu.Lock()
		h.sources = append(h.sources, src)
		h.mu.Unlock()
		return src, nil
	}
	log := logger.New(logger.LevelOff, nil)
	opts = append([]Option{
		WithObserver(h.obs),
		WithMouthOptions(speech.WithTiming(0, 5*time.Millisecond, 5*time.Millisecond)),
	}, opts...)
	h.bot = New(h.backend, connection.Factory(factory), log, opts...)
	t.Cleanup(h.bot.Close)
	return h
}

func (h *harness) source() *fakeSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sources[len(h.sources)-1]
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRequiresChannel(t *testing.T) {
	h := newHarness(t)
	err := h.bot.Start(context.Background(), "  ", nil)
	if !errors.Is(err, domain.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	if h.bot.Running() || h.bot.State() != domain.StateIdle {
		t.Fatalf("bot must stay stopped, state=%s", h.bot.State())
	}
}

func TestFailedStartKeepsOptions(t *testing.T) {
	mem := storage.NewMemoryStore(nil, logger.New(logger.LevelOff, nil))
	h := newHarness(t, WithSettings(mem), WithSaveDelay(time.Millisecond))
	before := h.bot.Options()

	initial := map[string]any{options.KeyVolume: 10, options.KeyMaxQueue: 2}
	if err := h.bot.Start(context.Background(), "", initial); !errors.Is(err, domain.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	if o := h.bot.Options(); o.Volume != before.Volume || o.MaxQueue != before.MaxQueue {
		t.Fatalf("failed start changed options: %+v", o)
	}

	h.bot.Close()
	saved, _ := mem.Load()
	if v, ok := saved[options.KeyVolume]; ok && v == 10 {
		t.Fatalf("initial options from a failed start were saved: %v", saved)
	}
}

func TestChatIsSpoken(t *testing.T) {
	h := newHarness(t)
	if err := h.bot.Start(context.Background(), "streamer", nil); err != nil {
		t.Fatal(err)
	}
	eventually(t, "connected", func() bool { return h.bot.State() == domain.StateConnected })
	if !h.obs.hasState(domain.StateConnecting) || !h.obs.hasState(domain.StateConnected) {
		t.Fatalf("observer missed state changes: %v", h.obs.states)
	}

	h.source().say("viewer", "hello there", domain.SenderInfo{})
	eventually(t, "speech", func() bool {
		s := h.backend.Spoken()
		return len(s) == 1 && s[0] == "viewer hello there."
	})

	if err := h.bot.Start(context.Background(), "streamer", nil); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("second start: %v", err)
	}

	h.bot.Stop()
	if h.bot.State() != domain.StateStopped || h.bot.Running() {
		t.Fatalf("expected stopped, got %s", h.bot.State())
	}
	h.bot.Stop()
}

func TestDirectiveMutesAndObserversHear(t *testing.T) {
	h := newHarness(t)
	if err := h.bot.Start(context.Background(), "streamer", nil); err != nil {
		t.Fatal(err)
	}
	eventually(t, "connected", func() bool { return h.bot.State() == domain.StateConnected })

	h.source().say("mod", "!tts mute", domain.SenderInfo{IsModerator: true})
	eventually(t, "muted", h.bot.Muted)
	if m := h.obs.Mutes(); len(m) != 1 || !m[0] {
		t.Fatalf("mute events = %v", m)
	}
	if !h.obs.logged("muted by directive") {
		t.Fatal("log line was not forwarded")
	}

	h.source().say("mod", "!tts volume 40", domain.SenderInfo{IsModerator: true})
	eventually(t, "volume", func() bool { return h.bot.Options().Volume == 40 })

	if h.bot.ToggleMute() {
		t.Fatal("toggle should unmute")
	}
	if m := h.obs.Mutes(); len(m) != 2 || m[1] {
		t.Fatalf("mute events = %v", m)
	}
}

func TestSetOption(t *testing.T) {
	h := newHarness(t)
	if h.bot.SetOption("nope", 1) {
		t.Fatal("unknown key accepted")
	}
	if h.bot.SetOption(options.KeyRate, "fast") {
		t.Fatal("bad value accepted")
	}
	if !h.bot.SetOption(options.KeyRate, 9) || h.bot.Options().Rate != options.MaxRate {
		t.Fatalf("rate not clamped: %v", h.bot.Options().Rate)
	}
	h.bot.SetVoice("  en-US-JennyNeural ")
	if got := h.bot.Options().VoiceName; got != "en-US-JennyNeural" {
		t.Fatalf("voice = %q", got)
	}
	if !h.obs.logged("WARN: [config] nope") {
		t.Fatal("rejection was not logged")
	}
}

func TestListVoices(t *testing.T) {
	h := newHarness(t)
	if v := h.bot.ListVoices(context.Background()); v != nil {
		t.Fatalf("expected nil on error, got %v", v)
	}
	h.backend.voices = []string{"a", "b"}
	if v := h.bot.ListVoices(context.Background()); len(v) != 2 {
		t.Fatalf("voices = %v", v)
	}
}

func TestSettingsRememberChannelAndReload(t *testing.T) {
	mem := storage.NewMemoryStore(map[string]any{options.KeyRate: 1.5}, logger.New(logger.LevelOff, nil))
	ws := &watchedStore{MemoryStore: mem, onChange: make(chan func(map[string]any), 1)}
	h := newHarness(t, WithSettings(ws), WithSaveDelay(time.Millisecond))

	if got := h.bot.Options().Rate; got != 1.5 {
		t.Fatalf("saved rate not loaded: %v", got)
	}
	if err := h.bot.Start(context.Background(), "Streamer", nil); err != nil {
		t.Fatal(err)
	}

	var reload func(map[string]any)
	select {
	case reload = <-ws.onChange:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not started")
	}
	reload(map[string]any{options.KeyVolume: 25, options.KeyMaxQueue: 3})
	if o := h.bot.Options(); o.Volume != 25 || o.MaxQueue != 3 {
		t.Fatalf("reload not applied: %+v", o)
	}

	h.bot.Stop()
	saved, _ := mem.Load()
	if saved[options.KeyLastChannel] != "Streamer" {
		t.Fatalf("lastChannel not saved: %v", saved[options.KeyLastChannel])
	}

	if err := h.bot.Start(context.Background(), "", nil); err != nil {
		t.Fatalf("restart with remembered channel: %v", err)
	}
	if h.bot.Channel() != "Streamer" {
		t.Fatalf("channel = %q", h.bot.Channel())
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	s := h.bot.Status()
	for _, want := range []string{"idle", "muted=false", "backend=fake", "voice=default"} {
		if !strings.Contains(s, want) {
			t.Errorf("status %q missing %q", s, want)
		}
	}
}
