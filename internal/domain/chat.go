package domain

import (
	"strings"
	"time"
)

// SenderInfo describes who sent a chat message. It is built once at the
// boundary where a chat event is received; nothing downstream inspects raw
// transport payloads.
type SenderInfo struct {
	ID          string
	Username    string
	DisplayName string
	Slug        string

	IsBroadcaster bool
	IsOwner       bool
	IsModerator   bool
	IsAdmin       bool
	IsSubscriber  bool
	IsVIP         bool
	IsFounder     bool
	IsOG          bool

	// Roles holds raw role/badge tags reported by the platform
	// (e.g. "moderator", "vip", "sub_gifter").
	Roles []string
}

// Name returns the best available user name, or "anon".
func (s SenderInfo) Name() string {
	for _, n := range []string{s.Username, s.DisplayName, s.Slug, s.ID} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return "anon"
}

// HasRole reports whether any of the given tags is present in Roles
// (case-insensitive).
func (s SenderInfo) HasRole(tags ...string) bool {
	for _, r := range s.Roles {
		for _, t := range tags {
			if strings.EqualFold(strings.TrimSpace(r), t) {
				return true
			}
		}
	}
	return false
}

// ChatMessage is a single message received from the chat source.
type ChatMessage struct {
	ID       string
	Sender   SenderInfo
	Content  string
	SentAt   time.Time
	Received time.Time
}

// ChatEventKind classifies events emitted by a ChatSource.
type ChatEventKind int

const (
	EventMessage ChatEventKind = iota
	EventReady
	EventError
	EventDisconnect
	EventClose
)

// String returns a human-readable event kind.
func (k ChatEventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventReady:
		return "ready"
	case EventError:
		return "error"
	case EventDisconnect:
		return "disconnect"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// ChatEvent is what a ChatSource emits. Message is set for EventMessage,
// Err for EventError and optionally for EventDisconnect/EventClose.
type ChatEvent struct {
	Kind    ChatEventKind
	Message ChatMessage
	Err     error
}
