package main

import (
	"strings"
	"testing"

	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/speech"
)

func TestBuildBackend(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	t.Setenv(speech.EnvAzureSpeechKey, "")
	t.Setenv(speech.EnvAzureSpeechRegion, "")

	b, err := buildBackend("none", "", log)
	if err != nil || b.Name() != "none" {
		t.Fatalf("none: %v %v", b, err)
	}

	if _, err := buildBackend("bogus", "", log); err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("bogus: %v", err)
	}

	if _, err := buildBackend("azure", "", log); err == nil || !strings.Contains(err.Error(), speech.EnvAzureSpeechKey) {
		t.Fatalf("azure without credentials: %v", err)
	}

	b, err = buildBackend("auto", "", log)
	if err != nil {
		t.Fatalf("auto never fails: %v", err)
	}
	if n := b.Name(); n == "azure" {
		t.Fatalf("auto picked azure without credentials")
	}
}

func TestResolveConfigPath(t *testing.T) {
	old := flagConfig
	defer func() { flagConfig = old }()

	flagConfig = ""
	t.Setenv(EnvConfig, "")
	if got := resolveConfigPath(); got != "settings.json" {
		t.Fatalf("default = %q", got)
	}
	t.Setenv(EnvConfig, "/tmp/kv.json")
	if got := resolveConfigPath(); got != "/tmp/kv.json" {
		t.Fatalf("env = %q", got)
	}
	flagConfig = "x.json"
	if got := resolveConfigPath(); got != "x.json" {
		t.Fatalf("flag = %q", got)
	}
}
