package speech

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

// Compile-time interface checks.
var (
	_ domain.SpeechBackend = (*AzureBackend)(nil)
	_ domain.VoiceLister   = (*AzureBackend)(nil)
	_ Prefetcher           = (*AzureBackend)(nil)
)

// AzureOption configures the Azure TTS client.
type AzureOption func(*AzureClient)

// WithVoice sets the voice used when an utterance names none.
func WithVoice(voice string) AzureOption {
	return func(c *AzureClient) {
		c.voice = voice
	}
}

// WithAudioFormat sets the audio output format.
func WithAudioFormat(format string) AzureOption {
	return func(c *AzureClient) {
		c.format = format
	}
}

// WithHTTPTimeout sets the HTTP client timeout for TTS requests.
func WithHTTPTimeout(d time.Duration) AzureOption {
	return func(c *AzureClient) {
		c.httpClient.Timeout = d
	}
}

// WithEndpoint overrides the service base URL (tests).
func WithEndpoint(base string) AzureOption {
	return func(c *AzureClient) {
		c.endpoint = strings.TrimRight(base, "/")
	}
}

// AzureClient handles text-to-speech synthesis via Azure Cognitive Services.
type AzureClient struct {
	subscriptionKey string
	endpoint        string
	voice           string
	format          string
	httpClient      *http.Client
	log             *logger.Logger
}

// NewAzureClient creates an Azure TTS client with the given credentials.
func NewAzureClient(key, region string, log *logger.Logger, opts ...AzureOption) *AzureClient {
	c := &AzureClient{
		subscriptionKey: key,
		endpoint:        fmt.Sprintf("https://%s.tts.speech.microsoft.com", region),
		voice:           DefaultVoice,
		format:          DefaultAudioFormat,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Voice returns the voice that v resolves to.
func (c *AzureClient) Voice(v domain.VoiceParams) string {
	if v.Voice != "" {
		return v.Voice
	}
	return c.voice
}

// Synthesize converts text to speech audio data (WAV bytes).
func (c *AzureClient) Synthesize(ctx context.Context, text string, v domain.VoiceParams) ([]byte, error) {
	voice := c.Voice(v)
	ssml := BuildSSML(text, voice, v.Rate)
	c.log.Debug("azure tts: synthesizing %d chars with voice %s", len(text), voice)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/cognitiveservices/v1", strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", c.format)
	req.Header.Set("User-Agent", "kickvox/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("azure tts error %d: %s", resp.StatusCode, string(body))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio data: %w", err)
	}

	c.log.Debug("azure tts: got %d bytes of audio", len(audioData))
	return audioData, nil
}

type azureVoice struct {
	ShortName   string `json:"ShortName"`
	DisplayName string `json:"DisplayName"`
	Locale      string `json:"Locale"`
}

// ListVoices returns the short names of every voice in the region.
func (c *AzureClient) ListVoices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/cognitiveservices/voices/list", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voices request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("azure voices error %d: %s", resp.StatusCode, string(body))
	}

	var voices []azureVoice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("decoding voices: %w", err)
	}
	names := make([]string, 0, len(voices))
	for _, v := range voices {
		if v.ShortName != "" {
			names = append(names, v.ShortName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// BuildSSML wraps text in a voice and prosody element. rate 1.0 is the
// voice's normal speed; volume is applied at playback instead so cached
// audio stays reusable.
func BuildSSML(text, voice string, rate float64) string {
	var esc strings.Builder
	xml.EscapeText(&esc, []byte(text))

	if rate <= 0 {
		rate = 1
	}
	pct := int(math.Round((rate - 1) * 100))

	return fmt.Sprintf(
		`<speak version='1.0' xml:lang='%s'><voice xml:lang='%s' name='%s'><prosody rate='%+d%%'>%s</prosody></voice></speak>`,
		voiceLocale(voice), voiceLocale(voice), voice, pct, esc.String(),
	)
}

// voiceLocale extracts "pl-PL" from "pl-PL-ZofiaNeural".
func voiceLocale(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 3 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

// AzureBackend speaks through Azure TTS, caching synthesized audio and
// playing it with the shared oto Player.
type AzureBackend struct {
	client *AzureClient
	player *Player
	cache  *AudioCache
	log    *logger.Logger
}

// NewAzureBackend wires an Azure client, audio cache and player together.
func NewAzureBackend(client *AzureClient, player *Player, cache *AudioCache, log *logger.Logger) *AzureBackend {
	return &AzureBackend{client: client, player: player, cache: cache, log: log}
}

// Name implements domain.SpeechBackend.
func (b *AzureBackend) Name() string { return "azure" }

// Speak synthesizes (or loads from cache) and plays text. Returns once
// playback finished or ctx was cancelled and the player released.
func (b *AzureBackend) Speak(ctx context.Context, text string, v domain.VoiceParams) error {
	audio, err := b.audio(ctx, text, v)
	if err != nil {
		return err
	}
	return b.player.Play(ctx, audio, v.Volume)
}

// Prefetch synthesizes texts in the background so later chunks start
// without a network round trip.
func (b *AzureBackend) Prefetch(ctx context.Context, texts []string, v domain.VoiceParams) {
	for _, text := range texts {
		key := CacheKey(b.client.Voice(v), v.Rate, text)
		if b.cache.Has(key) {
			continue
		}
		go func(t string) {
			if _, err := b.audio(ctx, t, v); err != nil && ctx.Err() == nil {
				b.log.Debug("prefetch: synthesis failed: %v", err)
			}
		}(text)
	}
}

// ListVoices implements domain.VoiceLister.
func (b *AzureBackend) ListVoices(ctx context.Context) ([]string, error) {
	return b.client.ListVoices(ctx)
}

func (b *AzureBackend) audio(ctx context.Context, text string, v domain.VoiceParams) ([]byte, error) {
	key := CacheKey(b.client.Voice(v), v.Rate, text)
	if audio, ok := b.cache.Get(key); ok {
		return audio, nil
	}
	audio, err := b.client.Synthesize(ctx, text, v)
	if err != nil {
		return nil, err
	}
	b.cache.Put(key, audio)
	return audio, nil
}
