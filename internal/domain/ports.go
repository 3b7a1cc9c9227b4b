package domain

import "context"

// ChatSource is a live subscription to one channel's chat. Connect dials
// and subscribes; afterwards events flow on Events until the connection
// drops (EventDisconnect/EventClose) or Close is called. Connect may be
// called again after a drop to resubscribe.
type ChatSource interface {
	Connect(ctx context.Context) error
	Events() <-chan ChatEvent
	Close() error
}

// SpeechBackend renders one chunk of text as audible speech. Speak blocks
// until playback finishes. Cancelling ctx stops playback; Speak must not
// return before the underlying resource (process, audio player) has been
// released.
type SpeechBackend interface {
	Name() string
	Speak(ctx context.Context, text string, v VoiceParams) error
}

// VoiceLister is implemented by backends that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]string, error)
}

// SettingsStore loads and saves the flat options mapping. Load returns an
// empty map (not an error) when nothing has been saved yet.
type SettingsStore interface {
	Load() (map[string]any, error)
	Save(values map[string]any) error
}

// Observer receives the bot's outward events.
type Observer interface {
	Log(line string)
	StateChanged(state ConnState)
	MuteChanged(muted bool)
}
