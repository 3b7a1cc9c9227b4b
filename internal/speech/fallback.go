package speech

import (
	"context"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/metrics"
)

// Compile-time interface checks.
var (
	_ domain.SpeechBackend = (*Fallback)(nil)
	_ domain.VoiceLister   = (*Fallback)(nil)
	_ Prefetcher           = (*Fallback)(nil)
)

// Fallback speaks through primary and, when a chunk fails, retries that
// single chunk on secondary.
type Fallback struct {
	primary   domain.SpeechBackend
	secondary domain.SpeechBackend
	log       *logger.Logger
}

// NewFallback creates a fallback chain.
func NewFallback(primary, secondary domain.SpeechBackend, log *logger.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, log: log}
}

// Name implements domain.SpeechBackend.
func (f *Fallback) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

// Speak implements domain.SpeechBackend.
func (f *Fallback) Speak(ctx context.Context, text string, v domain.VoiceParams) error {
	err := f.primary.Speak(ctx, text, v)
	if err == nil || ctx.Err() != nil {
		return err
	}
	f.log.Warn("[TTS] %s failed (%v), falling back to %s", f.primary.Name(), err, f.secondary.Name())
	metrics.BackendFallbacks.Inc()

	// The primary's voice name rarely exists on the secondary.
	v.Voice = ""
	return f.secondary.Speak(ctx, text, v)
}

// Prefetch forwards to the primary when it supports prefetching.
func (f *Fallback) Prefetch(ctx context.Context, texts []string, v domain.VoiceParams) {
	if pf, ok := f.primary.(Prefetcher); ok {
		pf.Prefetch(ctx, texts, v)
	}
}

// ListVoices lists the primary's voices, or the secondary's when the
// primary cannot enumerate.
func (f *Fallback) ListVoices(ctx context.Context) ([]string, error) {
	if vl, ok := f.primary.(domain.VoiceLister); ok {
		return vl.ListVoices(ctx)
	}
	if vl, ok := f.secondary.(domain.VoiceLister); ok {
		return vl.ListVoices(ctx)
	}
	return nil, domain.ErrNotImplemented
}
