package options

import (
	"sync"
	"time"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

// DefaultSaveDelay is the quiescence window before options are written.
const DefaultSaveDelay = 400 * time.Millisecond

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersistence writes the options to settings after every change,
// debounced by delay. Writes are skipped while RememberSettings is false.
func WithPersistence(settings domain.SettingsStore, delay time.Duration) StoreOption {
	return func(s *Store) {
		s.settings = settings
		s.saveDelay = delay
	}
}

// Store owns the live Options. Every write validates the full set under
// the lock, so readers never observe a partially applied change.
type Store struct {
	mu   sync.RWMutex
	opts Options
	log  *logger.Logger

	settings  domain.SettingsStore
	saveDelay time.Duration
	saver     *Debouncer
}

// NewStore creates a store seeded with initial (validated).
func NewStore(initial Options, log *logger.Logger, opts ...StoreOption) *Store {
	s := &Store{
		opts:      initial.Validate(),
		log:       log,
		saveDelay: DefaultSaveDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.settings != nil {
		s.saver = NewDebouncer(s.saveDelay, s.persist)
	}
	return s
}

// Get returns a copy of the current options.
func (s *Store) Get() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Clone()
}

// Set assigns a single option. On error nothing changes.
func (s *Store) Set(key string, value any) (Options, error) {
	s.mu.Lock()
	next, err := s.opts.Set(key, value)
	if err != nil {
		s.mu.Unlock()
		return s.Get(), err
	}
	s.opts = next
	s.mu.Unlock()

	s.schedule()
	return next.Clone(), nil
}

// Update applies fn to a copy of the options and stores the validated
// result atomically.
func (s *Store) Update(fn func(Options) Options) Options {
	s.mu.Lock()
	next := fn(s.opts.Clone()).Validate()
	s.opts = next
	s.mu.Unlock()

	s.schedule()
	return next.Clone()
}

// Apply overlays a mapping (e.g. a reloaded settings file) without
// scheduling a save.
func (s *Store) Apply(m map[string]any) Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = FromMap(s.opts, m)
	return s.opts.Clone()
}

// Restore puts back a snapshot taken with Get, without scheduling a save.
func (s *Store) Restore(o Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = o.Validate()
}

// Flush writes pending changes immediately.
func (s *Store) Flush() {
	if s.saver != nil {
		s.saver.Flush()
	}
}

// Close stops the pending save timer after flushing it.
func (s *Store) Close() {
	if s.saver != nil {
		s.saver.Flush()
		s.saver.Stop()
	}
}

func (s *Store) schedule() {
	if s.saver == nil {
		return
	}
	if !s.Get().RememberSettings {
		return
	}
	s.saver.Trigger()
}

func (s *Store) persist() {
	o := s.Get()
	if !o.RememberSettings {
		return
	}
	if err := s.settings.Save(o.ToMap()); err != nil {
		s.log.Error("options: saving settings: %v", err)
		return
	}
	s.log.Debug("options: settings saved")
}
