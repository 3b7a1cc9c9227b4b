package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/speech"
)

// buildBackend resolves the --backend flag. "auto" prefers Azure when its
// credentials are set and the audio device opens, falling back to the
// platform voice per chunk; otherwise it uses the platform voice, and
// finally a silent backend so the bot still runs.
func buildBackend(name, cacheDir string, log *logger.Logger) (domain.SpeechBackend, error) {
	system := speech.NewCommandBackend(log)

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return speech.NewNoOp(log), nil

	case "system", "sapi", "say", "espeak", "espeak-ng":
		if !system.Available() {
			return nil, fmt.Errorf("speech backend %s: %w on this system", system.Name(), domain.ErrNotImplemented)
		}
		return system, nil

	case "azure":
		return newAzure(cacheDir, log)

	case "", "auto":
		azure, err := newAzure(cacheDir, log)
		if err != nil {
			log.Info("[init] azure tts unavailable (%v)", err)
		}
		switch {
		case err == nil && system.Available():
			return speech.NewFallback(azure, system, log), nil
		case err == nil:
			return azure, nil
		case system.Available():
			return system, nil
		default:
			log.Warn("[init] no speech backend available, messages will not be heard")
			return speech.NewNoOp(log), nil
		}

	default:
		return nil, fmt.Errorf("unknown backend %q (want auto, system, azure or none)", name)
	}
}

func newAzure(cacheDir string, log *logger.Logger) (*speech.AzureBackend, error) {
	key := os.Getenv(speech.EnvAzureSpeechKey)
	region := os.Getenv(speech.EnvAzureSpeechRegion)
	if key == "" || region == "" {
		return nil, fmt.Errorf("set %s and %s", speech.EnvAzureSpeechKey, speech.EnvAzureSpeechRegion)
	}

	player, err := speech.NewPlayer(log)
	if err != nil {
		return nil, fmt.Errorf("audio player: %w", err)
	}
	client := speech.NewAzureClient(key, region, log)
	cache := speech.NewAudioCache(cacheDir, cacheDir != "", 0, log)
	log.Info("[init] azure tts enabled (region=%s, default voice=%s)", region, speech.DefaultVoice)
	return speech.NewAzureBackend(client, player, cache, log), nil
}
