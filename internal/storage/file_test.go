package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hammamikhairi/kickvox/internal/logger"
)

func TestFileStoreRoundTrip(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	store := NewFileStore(path, log)
	if store.Path() != path {
		t.Fatalf("path = %q", store.Path())
	}

	// Missing file is not an error.
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}

	if err := store.Save(map[string]any{"rate": 1.25, "prefix": "{user} says "}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["rate"] != 1.25 {
		t.Fatalf("expected rate 1.25, got %v", got["rate"])
	}
	if got["prefix"] != "{user} says " {
		t.Fatalf("expected prefix preserved, got %q", got["prefix"])
	}
}

func TestFileStoreLenientAndCorrupt(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	dir := t.TempDir()

	lenient := filepath.Join(dir, "lenient.json")
	body := "{\n  // hand edited\n  maxLen: 120,\n  skipBots: false,\n}\n"
	if err := os.WriteFile(lenient, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := NewFileStore(lenient, log).Load()
	if err != nil {
		t.Fatalf("lenient load: %v", err)
	}
	if got["maxLen"] != float64(120) || got["skipBots"] != false {
		t.Fatalf("unexpected lenient values: %v", got)
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = NewFileStore(corrupt, log).Load()
	if err == nil {
		t.Fatal("expected parse error for corrupt file")
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty fallback map, got %v", got)
	}
}

func TestFileStoreEnsureDefaults(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewFileStore(path, log)

	if err := store.EnsureDefaults(map[string]any{"volume": 100}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := store.Save(map[string]any{"volume": 40}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Existing file must not be overwritten.
	if err := store.EnsureDefaults(map[string]any{"volume": 100}); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	got, _ := store.Load()
	if got["volume"] != float64(40) {
		t.Fatalf("expected volume 40 kept, got %v", got["volume"])
	}
}

func TestFileStoreWatchIgnoresOwnWrites(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewFileStore(path, log)
	if err := store.Save(map[string]any{"rate": 1.0}); err != nil {
		t.Fatal(err)
	}

	var (
		mu      sync.Mutex
		changes []map[string]any
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Watch(ctx, func(m map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, m)
	})
	time.Sleep(100 * time.Millisecond)

	if err := store.Save(map[string]any{"rate": 1.5}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	if len(changes) != 0 {
		mu.Unlock()
		t.Fatalf("own write should be ignored, got %v", changes)
	}
	mu.Unlock()

	if err := os.WriteFile(path, []byte(`{"rate": 1.75}`), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) == 0 {
		t.Fatal("expected external edit to be reported")
	}
	if changes[len(changes)-1]["rate"] != 1.75 {
		t.Fatalf("unexpected reloaded values: %v", changes[len(changes)-1])
	}
}
