package speech

import "time"

// Default Azure voice. Full list:
// https://learn.microsoft.com/en-us/azure/ai-services/speech-service/language-support
const DefaultVoice = "pl-PL-ZofiaNeural"

// Audio format returned by Azure and expected by the player.
const DefaultAudioFormat = "riff-24khz-16bit-mono-pcm"

// Audio parameters matching the default format.
const (
	SampleRate   = 24000
	ChannelCount = 1
	BitDepth     = 16
)

// Env var names for Azure Speech credentials.
const (
	EnvAzureSpeechKey    = "AZURE_SPEECH_KEY"
	EnvAzureSpeechRegion = "AZURE_SPEECH_REGION"
)

// Playback timing. The poll intervals bound how long the loop may sit
// idle before noticing new work or an unmute; queue and resume signals
// usually wake it sooner.
const (
	DefaultChunkSize = 140
	SettleDelay      = 60 * time.Millisecond
	PausedPoll       = 80 * time.Millisecond
	IdlePoll         = 50 * time.Millisecond
)
