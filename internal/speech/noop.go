package speech

import (
	"context"
	"time"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

// Compile-time interface check.
var _ domain.SpeechBackend = (*NoOp)(nil)

// NoOp is a backend that only logs. Used with --backend none and when no
// synthesizer is available; it still takes time proportional to the text
// so skip and mute behave as they would with real audio.
type NoOp struct {
	log     *logger.Logger
	perRune time.Duration
}

// NewNoOp creates a silent backend.
func NewNoOp(log *logger.Logger) *NoOp {
	return &NoOp{log: log, perRune: 30 * time.Millisecond}
}

// Name implements domain.SpeechBackend.
func (n *NoOp) Name() string { return "none" }

// Speak waits as long as reading text aloud would take, or until ctx ends.
func (n *NoOp) Speak(ctx context.Context, text string, v domain.VoiceParams) error {
	n.log.Debug("speech no-op: would say %q", text)
	rate := v.Rate
	if rate <= 0 {
		rate = 1
	}
	d := time.Duration(float64(n.perRune) * float64(len([]rune(text))) / rate)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
