package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hammamikhairi/kickvox/internal/logger"
)

// DefaultCacheEntries bounds the in-memory layer. Chat rarely repeats
// itself, so a small cache is enough for prefetched chunks and common
// phrases.
const DefaultCacheEntries = 256

// CacheKey identifies synthesized audio: the same text with another voice
// or rate is a different entry.
func CacheKey(voice string, rate float64, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%.2f:%s", voice, rate, text)))
	return hex.EncodeToString(h[:])
}

// AudioCache is a thread-safe two-tier cache (in-memory + filesystem) for
// synthesized audio, keyed by CacheKey.
//
// The memory layer holds at most maxEntries items and evicts in insertion
// order. The disk layer is read whenever cacheDir is set and written only
// when diskWrite is true.
type AudioCache struct {
	mu         sync.RWMutex
	entries    map[string][]byte
	order      []string
	maxEntries int
	log        *logger.Logger
	cacheDir   string
	diskWrite  bool
	hits       int64
	misses     int64
}

// NewAudioCache creates an audio cache. An empty cacheDir disables the
// disk layer.
func NewAudioCache(cacheDir string, diskWrite bool, maxEntries int, log *logger.Logger) *AudioCache {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	c := &AudioCache{
		entries:    make(map[string][]byte),
		maxEntries: maxEntries,
		log:        log,
		cacheDir:   cacheDir,
		diskWrite:  diskWrite,
	}

	if cacheDir != "" && diskWrite {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			log.Error("cache: failed to create cache dir %s: %v", cacheDir, err)
		}
	}
	return c
}

// Get returns cached audio for key, checking memory then disk.
func (c *AudioCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	data, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return data, true
	}

	if c.cacheDir != "" {
		if diskData, diskOK := c.readDisk(key); diskOK {
			c.mu.Lock()
			c.storeLocked(key, diskData)
			c.hits++
			c.mu.Unlock()
			c.log.Debug("cache hit (disk): %s (%d bytes)", key[:12], len(diskData))
			return diskData, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores audio under key.
func (c *AudioCache) Put(key string, audio []byte) {
	c.mu.Lock()
	c.storeLocked(key, audio)
	size := len(c.entries)
	c.mu.Unlock()

	c.log.Debug("cache store (mem): %s (%d bytes, %d entries)", key[:12], len(audio), size)

	if c.cacheDir != "" && c.diskWrite {
		c.writeDisk(key, audio)
	}
}

// Has reports whether key is cached in memory or on disk.
func (c *AudioCache) Has(key string) bool {
	c.mu.RLock()
	_, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return true
	}
	if c.cacheDir != "" {
		_, err := os.Stat(c.diskPath(key))
		return err == nil
	}
	return false
}

// Len returns the number of in-memory entries.
func (c *AudioCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *AudioCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *AudioCache) storeLocked(key string, audio []byte) {
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = audio
	for len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *AudioCache) diskPath(key string) string {
	return filepath.Join(c.cacheDir, key+".wav")
}

func (c *AudioCache) readDisk(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.diskPath(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *AudioCache) writeDisk(key string, audio []byte) {
	path := c.diskPath(key)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		c.log.Error("cache: disk write failed for %s: %v", path, err)
	}
}
