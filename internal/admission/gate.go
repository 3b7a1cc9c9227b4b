// Package admission decides whether a chat message may enter the speech
// queue, based on a per-user cooldown and a short-term duplicate filter.
package admission

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// SweepCeiling is the number of tracked entries above which expired
	// ones are swept.
	SweepCeiling = 1000

	hashRunes = 200
)

// Gate tracks when each user last spoke and when each message body was
// last seen. It is safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	cooldown time.Duration
	dedup    time.Duration
	lastUser map[string]time.Time
	lastHash map[uint64]time.Time
}

// New creates a gate with the given windows.
func New(cooldown, dedup time.Duration) *Gate {
	return &Gate{
		cooldown: cooldown,
		dedup:    dedup,
		lastUser: make(map[string]time.Time),
		lastHash: make(map[uint64]time.Time),
	}
}

// SetWindows updates the cooldown and dedup windows. Existing entries are
// judged against the new windows.
func (g *Gate) SetWindows(cooldown, dedup time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = cooldown
	g.dedup = dedup
}

// ShouldAccept reports whether user may speak content at now. On
// acceptance both the user and the content hash are recorded.
func (g *Gate) ShouldAccept(user, content string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastUser[user]; ok && now.Sub(last) < g.cooldown {
		return false
	}
	h := ContentHash(content)
	if last, ok := g.lastHash[h]; ok && now.Sub(last) < g.dedup {
		return false
	}

	g.lastUser[user] = now
	g.lastHash[h] = now
	if len(g.lastHash) > SweepCeiling || len(g.lastUser) > SweepCeiling {
		g.sweep(now)
	}
	return true
}

// Reset forgets every user and hash.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.lastUser)
	clear(g.lastHash)
}

// Len returns the number of tracked users and hashes.
func (g *Gate) Len() (users, hashes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lastUser), len(g.lastHash)
}

func (g *Gate) sweep(now time.Time) {
	for h, t := range g.lastHash {
		if now.Sub(t) >= g.dedup {
			delete(g.lastHash, h)
		}
	}
	for u, t := range g.lastUser {
		if now.Sub(t) >= g.cooldown {
			delete(g.lastUser, u)
		}
	}
}

// ContentHash hashes the lowercased first 200 runes of content.
func ContentHash(content string) uint64 {
	r := []rune(strings.ToLower(strings.TrimSpace(content)))
	if len(r) > hashRunes {
		r = r[:hashRunes]
	}
	return xxhash.Sum64String(string(r))
}
