// Package bot is the controller that ties chat intake, admission, the
// speech queue and playback together behind one control surface.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hammamikhairi/kickvox/internal/admission"
	"github.com/hammamikhairi/kickvox/internal/command"
	"github.com/hammamikhairi/kickvox/internal/connection"
	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/options"
	"github.com/hammamikhairi/kickvox/internal/queue"
	"github.com/hammamikhairi/kickvox/internal/sanitize"
	"github.com/hammamikhairi/kickvox/internal/speech"
)

// Watcher is an optional interface a SettingsStore can satisfy to report
// edits made outside the process.
type Watcher interface {
	Watch(ctx context.Context, onChange func(map[string]any)) error
}

// Option configures the bot.
type Option func(*Bot)

// WithSettings loads saved options from s and persists changes back to it.
// If s also implements Watcher, external edits are applied while running.
func WithSettings(s domain.SettingsStore) Option {
	return func(b *Bot) {
		b.settings = s
	}
}

// WithSaveDelay sets the debounce window for settings writes.
func WithSaveDelay(d time.Duration) Option {
	return func(b *Bot) {
		b.saveDelay = d
	}
}

// WithObserver registers an observer at construction time.
func WithObserver(o domain.Observer) Option {
	return func(b *Bot) {
		b.observers = append(b.observers, o)
	}
}

// WithMouthOptions passes options through to the playback engine.
func WithMouthOptions(opts ...speech.MouthOption) Option {
	return func(b *Bot) {
		b.mouthOpts = append(b.mouthOpts, opts...)
	}
}

// WithManagerOptions passes options through to the connection manager.
func WithManagerOptions(opts ...connection.ManagerOption) Option {
	return func(b *Bot) {
		b.managerOpts = append(b.managerOpts, opts...)
	}
}

// Bot owns the live options and every pipeline stage. All methods are
// safe for concurrent use.
type Bot struct {
	backend     domain.SpeechBackend
	log         *logger.Logger
	settings    domain.SettingsStore
	saveDelay   time.Duration
	mouthOpts   []speech.MouthOption
	managerOpts []connection.ManagerOption

	store      *options.Store
	queue      *queue.Queue
	gate       *admission.Gate
	mouth      *speech.Mouth
	manager    *connection.Manager
	dispatcher *connection.Dispatcher

	mu          sync.Mutex
	observers   []domain.Observer
	running     bool
	stopWatch   context.CancelFunc
	watchDone   chan struct{}
	lastChannel string
}

// New builds an idle bot speaking through backend and reading chat from
// sources made by factory. The logger's sink is taken over to forward
// lines to observers.
func New(backend domain.SpeechBackend, factory connection.Factory, log *logger.Logger, opts ...Option) *Bot {
	b := &Bot{
		backend:   backend,
		log:       log,
		saveDelay: options.DefaultSaveDelay,
	}
	for _, opt := range opts {
		opt(b)
	}

	var storeOpts []options.StoreOption
	if b.settings != nil {
		storeOpts = append(storeOpts, options.WithPersistence(b.settings, b.saveDelay))
	}
	b.store = options.NewStore(options.Defaults(), log, storeOpts...)
	b.loadSettings()

	o := b.store.Get()
	b.lastChannel = o.LastChannel
	b.queue = queue.New(o.MaxQueue)
	b.gate = admission.New(
		time.Duration(o.UserCooldownMs)*time.Millisecond,
		time.Duration(o.DedupWindowMs)*time.Millisecond,
	)

	mouthOpts := append([]speech.MouthOption{speech.WithParams(b.params)}, b.mouthOpts...)
	b.mouth = speech.NewMouth(backend, b.queue, log, mouthOpts...)

	b.dispatcher = connection.NewDispatcher(
		b.store.Get,
		func() string { return b.manager.Channel() },
		b.gate,
		sanitize.New(),
		command.New(directiveControls{b}, log),
		b.queue,
		log,
	)

	managerOpts := append([]connection.ManagerOption{connection.WithStateListener(b.stateChanged)}, b.managerOpts...)
	b.manager = connection.NewManager(factory, b.dispatcher.Handle, log, managerOpts...)

	log.SetSink(b.forwardLog)
	return b
}

func (b *Bot) loadSettings() {
	if b.settings == nil {
		return
	}
	saved, err := b.settings.Load()
	if err != nil {
		b.log.Warn("[init] settings unreadable, using defaults: %v", err)
	}
	if len(saved) > 0 {
		b.store.Apply(saved)
	}
}

// AddObserver registers o for log, state and mute events.
func (b *Bot) AddObserver(o domain.Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Start connects to channel and begins speaking. initial is overlaid on
// the current options first. An empty channel falls back to the last one
// used. On error the bot stays stopped and initial is discarded.
func (b *Bot) Start(ctx context.Context, channel string, initial map[string]any) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = b.lastChannel
	}
	b.mu.Unlock()

	prev := b.store.Get()
	if len(initial) > 0 {
		b.store.Apply(initial)
	}
	o := b.store.Get()
	b.queue.SetCapacity(o.MaxQueue)
	b.gate.Reset()

	if err := b.manager.Start(ctx, channel); err != nil {
		b.store.Restore(prev)
		b.queue.SetCapacity(prev.MaxQueue)
		b.log.Error("[init] cannot start: %v", err)
		return err
	}
	b.mouth.Start(ctx)

	b.mu.Lock()
	b.running = true
	b.lastChannel = b.manager.Channel()
	b.mu.Unlock()

	if _, err := b.store.Set(options.KeyLastChannel, b.manager.Channel()); err != nil {
		b.log.Debug("bot: remembering channel: %v", err)
	}
	b.startWatch(ctx)

	b.log.Info("[init] reading chat with %s (rate=%.2f, volume=%d)", b.backend.Name(), o.Rate, o.Volume)
	return nil
}

// Stop disconnects, halts playback and drops anything still queued.
// Calling Stop on a stopped bot does nothing.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stopWatch, watchDone := b.stopWatch, b.watchDone
	b.stopWatch, b.watchDone = nil, nil
	b.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
		<-watchDone
	}

	wasMuted := b.mouth.Paused()
	b.manager.Stop()
	b.mouth.Stop()
	dropped := b.queue.Clear()
	b.store.Flush()

	if wasMuted {
		b.notifyMute(false)
	}
	b.log.Info("[init] stopped (%d queued messages dropped)", dropped)
}

// Close stops the bot and writes any pending settings.
func (b *Bot) Close() {
	b.Stop()
	b.store.Close()
	b.log.SetSink(nil)
}

// Running reports whether Start has succeeded and Stop has not been called.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// State returns the connection state.
func (b *Bot) State() domain.ConnState {
	return b.manager.State()
}

// Channel returns the channel being read, or "".
func (b *Bot) Channel() string {
	return b.manager.Channel()
}

// ToggleMute flips mute and returns the new value.
func (b *Bot) ToggleMute() bool {
	muted := b.mouth.TogglePaused()
	b.notifyMute(muted)
	return muted
}

// SetMuted sets mute explicitly and returns the resulting value.
func (b *Bot) SetMuted(muted bool) bool {
	if b.mouth.SetPaused(muted) {
		b.notifyMute(muted)
	}
	return muted
}

// Muted reports whether playback is muted.
func (b *Bot) Muted() bool {
	return b.mouth.Paused()
}

// Skip abandons the utterance being spoken.
func (b *Bot) Skip() bool {
	return b.mouth.Skip()
}

// Queued returns the number of utterances waiting in both lanes.
func (b *Bot) Queued() int {
	vip, normal := b.queue.Len()
	return vip + normal
}

// ClearQueue drops every queued utterance and returns how many there were.
func (b *Bot) ClearQueue() int {
	return b.queue.Clear()
}

// Options returns a copy of the live options.
func (b *Bot) Options() options.Options {
	return b.store.Get()
}

// SetOption assigns one option. Invalid keys or values are logged and
// leave the options untouched.
func (b *Bot) SetOption(key string, value any) bool {
	if err := b.applyOption(key, value); err != nil {
		b.log.Warn("[config] %s: %v", key, err)
		return false
	}
	return true
}

// SetVoice selects the backend voice. An empty name restores the default.
func (b *Bot) SetVoice(name string) {
	b.SetOption(options.KeyVoiceName, strings.TrimSpace(name))
}

// ListVoices asks the backend for its voices. Backends that cannot
// enumerate voices yield nil.
func (b *Bot) ListVoices(ctx context.Context) []string {
	lister, ok := b.backend.(domain.VoiceLister)
	if !ok {
		return nil
	}
	voices, err := lister.ListVoices(ctx)
	if err != nil {
		b.log.Warn("[voices] %v", err)
		return nil
	}
	return voices
}

// Status summarizes the bot in one line.
func (b *Bot) Status() string {
	o := b.store.Get()
	vip, normal := b.queue.Len()
	voice := o.VoiceName
	if voice == "" {
		voice = "default"
	}
	channel := b.manager.Channel()
	if channel == "" {
		channel = "-"
	}
	s := fmt.Sprintf("%s %s | muted=%v | queue=%d+%d | backend=%s voice=%s rate=%.2f volume=%d",
		b.manager.State(), channel, b.mouth.Paused(), vip, normal,
		b.backend.Name(), voice, o.Rate, o.Volume)
	if cur := b.mouth.Current(); cur != "" {
		s += fmt.Sprintf(" | speaking %q", cur)
	}
	return s
}

func (b *Bot) applyOption(key string, value any) error {
	o, err := b.store.Set(key, value)
	if err != nil {
		return err
	}
	if key == options.KeyMaxQueue {
		b.queue.SetCapacity(o.MaxQueue)
	}
	return nil
}

func (b *Bot) params() speech.Params {
	o := b.store.Get()
	return speech.Params{Voice: o.VoiceParams(), Chunking: o.Chunking}
}

func (b *Bot) startWatch(ctx context.Context) {
	w, ok := b.settings.(Watcher)
	if !ok {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	b.mu.Lock()
	b.stopWatch, b.watchDone = cancel, done
	b.mu.Unlock()

	go func() {
		defer close(done)
		if err := w.Watch(wctx, b.applyExternal); err != nil {
			b.log.Warn("[config] settings watcher: %v", err)
		}
	}()
}

// applyExternal takes options edited outside the process.
func (b *Bot) applyExternal(m map[string]any) {
	o := b.store.Apply(m)
	b.queue.SetCapacity(o.MaxQueue)
	b.log.Info("[config] settings reloaded from disk")
}

func (b *Bot) snapshotObservers() []domain.Observer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Observer(nil), b.observers...)
}

func (b *Bot) forwardLog(level, line string) {
	if level != "info" {
		line = strings.ToUpper(level) + ": " + line
	}
	for _, o := range b.snapshotObservers() {
		o.Log(line)
	}
}

func (b *Bot) stateChanged(s domain.ConnState) {
	for _, o := range b.snapshotObservers() {
		o.StateChanged(s)
	}
}

func (b *Bot) notifyMute(muted bool) {
	for _, o := range b.snapshotObservers() {
		o.MuteChanged(muted)
	}
}

// directiveControls exposes the bot to chat directives, which need the
// error from an option assignment.
type directiveControls struct {
	*Bot
}

var _ command.Controls = directiveControls{}

func (c directiveControls) SetOption(key string, value any) error {
	return c.applyOption(key, value)
}
