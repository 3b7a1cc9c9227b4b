// Package options holds the bot's live configuration: a flat set of named
// settings that is clamped to documented ranges on every assignment.
package options

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hammamikhairi/kickvox/internal/domain"
)

// Option keys. These are also the keys of the persisted settings file.
const (
	KeyMaxLen           = "maxLen"
	KeyRate             = "rate"
	KeyVolume           = "volume"
	KeyChunking         = "chunking"
	KeyMaxQueue         = "maxQueue"
	KeyReadCommands     = "readCommands"
	KeySpeakTtsCommands = "speakTtsCommands"
	KeySpeakBotCommands = "speakBotCommands"
	KeyProfanity        = "profanity"
	KeySkipBots         = "skipBots"
	KeyPrefix           = "prefix"
	KeyVoiceName        = "voiceName"
	KeyRememberSettings = "rememberSettings"
	KeyUserCooldownMs   = "userCooldownMs"
	KeyDedupWindowMs    = "dedupWindowMs"
	KeyLastChannel      = "lastChannel"
	KeyAllowedUsers     = "allowedUsers"
)

// Documented ranges.
const (
	MinMaxLen, MaxMaxLen             = 20, 500
	MinRate, MaxRate                 = 0.5, 2.0
	MinVolume, MaxVolume             = 0, 100
	MinMaxQueue, MaxMaxQueue         = 1, 500
	MinCooldownMs, MaxCooldownMs     = 0, 600_000
	MinDedupMs, MaxDedupMs           = 0, 3_600_000
	maxPrefixRunes, maxVoiceRunes    = 64, 128
	maxChannelRunes, maxAllowedUsers = 64, 1000
)

// Options is the live configuration. The zero value is not valid; start
// from Defaults.
type Options struct {
	MaxLen           int      `json:"maxLen"`
	Rate             float64  `json:"rate"`
	Volume           int      `json:"volume"`
	Chunking         bool     `json:"chunking"`
	MaxQueue         int      `json:"maxQueue"`
	ReadCommands     bool     `json:"readCommands"`
	SpeakTtsCommands bool     `json:"speakTtsCommands"`
	SpeakBotCommands bool     `json:"speakBotCommands"`
	Profanity        bool     `json:"profanity"`
	SkipBots         bool     `json:"skipBots"`
	Prefix           string   `json:"prefix"`
	VoiceName        string   `json:"voiceName"`
	RememberSettings bool     `json:"rememberSettings"`
	UserCooldownMs   int      `json:"userCooldownMs"`
	DedupWindowMs    int      `json:"dedupWindowMs"`
	LastChannel      string   `json:"lastChannel"`
	AllowedUsers     []string `json:"allowedUsers"`
}

// Defaults returns the built-in configuration.
func Defaults() Options {
	return Options{
		MaxLen:           220,
		Rate:             0.75,
		Volume:           100,
		Chunking:         true,
		MaxQueue:         60,
		ReadCommands:     false,
		SpeakTtsCommands: true,
		SpeakBotCommands: false,
		Profanity:        true,
		SkipBots:         true,
		Prefix:           "{user} ",
		VoiceName:        "",
		RememberSettings: true,
		UserCooldownMs:   1500,
		DedupWindowMs:    15000,
		LastChannel:      "",
		AllowedUsers:     []string{},
	}
}

// Keys returns every known option key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(kinds))
	for k := range kinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type kind int

const (
	kindInt kind = iota
	kindFloat
	kindBool
	kindString
	kindList
)

var kinds = map[string]kind{
	KeyMaxLen:           kindInt,
	KeyRate:             kindFloat,
	KeyVolume:           kindInt,
	KeyChunking:         kindBool,
	KeyMaxQueue:         kindInt,
	KeyReadCommands:     kindBool,
	KeySpeakTtsCommands: kindBool,
	KeySpeakBotCommands: kindBool,
	KeyProfanity:        kindBool,
	KeySkipBots:         kindBool,
	KeyPrefix:           kindString,
	KeyVoiceName:        kindString,
	KeyRememberSettings: kindBool,
	KeyUserCooldownMs:   kindInt,
	KeyDedupWindowMs:    kindInt,
	KeyLastChannel:      kindString,
	KeyAllowedUsers:     kindList,
}

// Known reports whether key names an option.
func Known(key string) bool {
	_, ok := kinds[key]
	return ok
}

// Validate clamps every numeric field into range, bounds strings and
// normalizes the allow-list. It never fails.
func (o Options) Validate() Options {
	o.MaxLen = clampInt(o.MaxLen, MinMaxLen, MaxMaxLen)
	o.Rate = clampFloat(o.Rate, MinRate, MaxRate, 0.75)
	o.Volume = clampInt(o.Volume, MinVolume, MaxVolume)
	o.MaxQueue = clampInt(o.MaxQueue, MinMaxQueue, MaxMaxQueue)
	o.UserCooldownMs = clampInt(o.UserCooldownMs, MinCooldownMs, MaxCooldownMs)
	o.DedupWindowMs = clampInt(o.DedupWindowMs, MinDedupMs, MaxDedupMs)
	o.Prefix = limitRunes(o.Prefix, maxPrefixRunes)
	o.VoiceName = limitRunes(strings.TrimSpace(o.VoiceName), maxVoiceRunes)
	o.LastChannel = limitRunes(strings.TrimSpace(o.LastChannel), maxChannelRunes)
	o.AllowedUsers = normalizeUsers(o.AllowedUsers)
	return o
}

// Set assigns one option from a loosely typed value (JSON number, string
// from a chat command, bool from a checkbox). The returned Options is
// validated. On error the receiver is returned unchanged.
func (o Options) Set(key string, value any) (Options, error) {
	k, ok := kinds[key]
	if !ok {
		return o, fmt.Errorf("%w: %q", domain.ErrUnknownOption, key)
	}
	next := o
	next.AllowedUsers = append([]string(nil), o.AllowedUsers...)

	switch k {
	case kindInt:
		n, err := toFloat(value)
		if err != nil {
			return o, fmt.Errorf("%w: %s: %v", domain.ErrInvalidValue, key, err)
		}
		next.setInt(key, roundInt(n))
	case kindFloat:
		n, err := toFloat(value)
		if err != nil {
			return o, fmt.Errorf("%w: %s: %v", domain.ErrInvalidValue, key, err)
		}
		next.Rate = n
	case kindBool:
		next.setBool(key, toBool(value))
	case kindString:
		next.setString(key, toString(value))
	case kindList:
		next.AllowedUsers = toList(value)
	}
	return next.Validate(), nil
}

// FromMap overlays a persisted mapping onto base. Unknown keys and values
// that cannot be coerced are skipped; the rest is applied. The result is
// validated.
func FromMap(base Options, m map[string]any) Options {
	out := base
	for key, value := range m {
		if next, err := out.Set(key, value); err == nil {
			out = next
		}
	}
	return out.Validate()
}

// ToMap returns the flat key/value mapping used for persistence and
// display.
func (o Options) ToMap() map[string]any {
	users := make([]any, 0, len(o.AllowedUsers))
	for _, u := range o.AllowedUsers {
		users = append(users, u)
	}
	return map[string]any{
		KeyMaxLen:           o.MaxLen,
		KeyRate:             o.Rate,
		KeyVolume:           o.Volume,
		KeyChunking:         o.Chunking,
		KeyMaxQueue:         o.MaxQueue,
		KeyReadCommands:     o.ReadCommands,
		KeySpeakTtsCommands: o.SpeakTtsCommands,
		KeySpeakBotCommands: o.SpeakBotCommands,
		KeyProfanity:        o.Profanity,
		KeySkipBots:         o.SkipBots,
		KeyPrefix:           o.Prefix,
		KeyVoiceName:        o.VoiceName,
		KeyRememberSettings: o.RememberSettings,
		KeyUserCooldownMs:   o.UserCooldownMs,
		KeyDedupWindowMs:    o.DedupWindowMs,
		KeyLastChannel:      o.LastChannel,
		KeyAllowedUsers:     users,
	}
}

// Clone returns a deep copy.
func (o Options) Clone() Options {
	o.AllowedUsers = append([]string{}, o.AllowedUsers...)
	return o
}

// VoiceParams returns the speech parameters for the next utterance.
func (o Options) VoiceParams() domain.VoiceParams {
	return domain.VoiceParams{Rate: o.Rate, Volume: o.Volume, Voice: o.VoiceName}
}

// IsAllowed reports whether a normalized user name passes the allow-list.
// An empty list allows everyone.
func (o Options) IsAllowed(user string) bool {
	if len(o.AllowedUsers) == 0 {
		return true
	}
	for _, u := range o.AllowedUsers {
		if u == user {
			return true
		}
	}
	return false
}

func (o *Options) setInt(key string, n int) {
	switch key {
	case KeyMaxLen:
		o.MaxLen = n
	case KeyVolume:
		o.Volume = n
	case KeyMaxQueue:
		o.MaxQueue = n
	case KeyUserCooldownMs:
		o.UserCooldownMs = n
	case KeyDedupWindowMs:
		o.DedupWindowMs = n
	}
}

func (o *Options) setBool(key string, b bool) {
	switch key {
	case KeyChunking:
		o.Chunking = b
	case KeyReadCommands:
		o.ReadCommands = b
	case KeySpeakTtsCommands:
		o.SpeakTtsCommands = b
	case KeySpeakBotCommands:
		o.SpeakBotCommands = b
	case KeyProfanity:
		o.Profanity = b
	case KeySkipBots:
		o.SkipBots = b
	case KeyRememberSettings:
		o.RememberSettings = b
	}
}

func (o *Options) setString(key, s string) {
	switch key {
	case KeyPrefix:
		o.Prefix = s
	case KeyVoiceName:
		o.VoiceName = s
	case KeyLastChannel:
		o.LastChannel = s
	}
}

// ── coercion ─────────────────────────────────────────────────────

// roundInt rounds n, saturating at the int32 range so huge inputs still
// clamp to the option's maximum.
func roundInt(n float64) int {
	n = math.Round(n)
	switch {
	case n > math.MaxInt32:
		return math.MaxInt32
	case n < math.MinInt32:
		return math.MinInt32
	}
	return int(n)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("not a finite number")
		}
		return x, nil
	case float32:
		return toFloat(float64(x))
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(x, ",", ".")), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return toFloat(f)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on", "y":
			return true
		}
		return false
	case nil:
		return false
	default:
		f, err := toFloat(v)
		return err == nil && f != 0
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func toList(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, toString(item))
		}
		return out
	case string:
		return strings.FieldsFunc(x, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\n'
		})
	default:
		return []string{toString(x)}
	}
}

func normalizeUsers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, u := range in {
		u = NormalizeUser(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if len(out) >= maxAllowedUsers {
			break
		}
	}
	return out
}

// NormalizeUser trims, strips a leading "@" and lowercases a user name.
func NormalizeUser(u string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return math.Max(lo, math.Min(hi, v))
}

func limitRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
