// Package command interprets in-band "!tts" directives sent by the
// channel's moderators.
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/metrics"
	"github.com/hammamikhairi/kickvox/internal/options"
)

// Prefix starts every directive.
const Prefix = "!tts"

// Controls is the slice of the bot a directive may act on.
type Controls interface {
	SetMuted(muted bool) bool
	ToggleMute() bool
	Skip() bool
	ClearQueue() int
	Status() string
	SetOption(key string, value any) error
}

// Outcome says what Handle did with a message.
type Outcome int

const (
	// NotDirective means the message does not start with the prefix.
	NotDirective Outcome = iota
	// Executed means an admin subcommand ran.
	Executed
	// Refused means the sender lacked permission; nothing changed.
	Refused
	// Invalid means the arguments were rejected; nothing changed.
	Invalid
	// Speak means the directive carried free text to be spoken.
	Speak
	// Empty means a bare "!tts" with nothing after it.
	Empty
)

func (o Outcome) String() string {
	switch o {
	case NotDirective:
		return "not_directive"
	case Executed:
		return "executed"
	case Refused:
		return "refused"
	case Invalid:
		return "invalid"
	case Speak:
		return "speak"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Result is returned by Handle.
type Result struct {
	Outcome Outcome
	Command string // subcommand name, empty for Speak
	Text    string // text to speak when Outcome is Speak
}

// privilegedRoles are badge tags that grant directive access.
var privilegedRoles = []string{"broadcaster", "owner", "moderator", "admin", "staff", "super_admin"}

type handler func(in *Interpreter, args string) error

type subcommand struct {
	name  string
	regex *regexp.Regexp
	run   handler
}

// Interpreter parses and runs directives. Its only state is the table
// of subcommands; everything it changes lives behind Controls.
type Interpreter struct {
	log      *logger.Logger
	controls Controls
	commands []subcommand
}

// New creates an interpreter acting on controls.
func New(controls Controls, log *logger.Logger) *Interpreter {
	in := &Interpreter{log: log, controls: controls}
	in.commands = []subcommand{
		{"mute", regexp.MustCompile(`(?i)^mute$`), func(in *Interpreter, _ string) error {
			in.controls.SetMuted(true)
			in.log.Info("[tts] muted by directive")
			return nil
		}},
		{"unmute", regexp.MustCompile(`(?i)^unmute$`), func(in *Interpreter, _ string) error {
			in.controls.SetMuted(false)
			in.log.Info("[tts] unmuted by directive")
			return nil
		}},
		{"toggle", regexp.MustCompile(`(?i)^toggle$`), func(in *Interpreter, _ string) error {
			muted := in.controls.ToggleMute()
			in.log.Info("[tts] mute toggled by directive (muted=%v)", muted)
			return nil
		}},
		{"skip", regexp.MustCompile(`(?i)^skip$`), func(in *Interpreter, _ string) error {
			if in.controls.Skip() {
				in.log.Info("[tts] skipped current message")
			} else {
				in.log.Info("[tts] nothing to skip")
			}
			return nil
		}},
		{"clear", regexp.MustCompile(`(?i)^clear$`), func(in *Interpreter, _ string) error {
			n := in.controls.ClearQueue()
			in.log.Info("[tts] queue cleared (%d dropped)", n)
			return nil
		}},
		{"status", regexp.MustCompile(`(?i)^status$`), func(in *Interpreter, _ string) error {
			in.log.Info("[tts] %s", in.controls.Status())
			return nil
		}},
		{"rate", regexp.MustCompile(`(?i)^rate(?:\s+|$)`), numberArg("rate", options.KeyRate, options.MinRate, options.MaxRate, false)},
		{"volume", regexp.MustCompile(`(?i)^volume(?:\s+|$)`), numberArg("volume", options.KeyVolume, options.MinVolume, options.MaxVolume, true)},
		{"maxqueue", regexp.MustCompile(`(?i)^maxqueue(?:\s+|$)`), numberArg("maxqueue", options.KeyMaxQueue, options.MinMaxQueue, options.MaxMaxQueue, true)},
		{"voice", regexp.MustCompile(`(?i)^voice(?:\s+|$)`), textArg("voice", options.KeyVoiceName, false)},
		{"prefix", regexp.MustCompile(`(?i)^prefix(?:\s+|$)`), textArg("prefix", options.KeyPrefix, true)},
	}
	return in
}

// IsDirective reports whether content starts with the directive prefix
// as a whole word.
func IsDirective(content string) bool {
	t := strings.TrimSpace(content)
	if len(t) < len(Prefix) || !strings.EqualFold(t[:len(Prefix)], Prefix) {
		return false
	}
	return len(t) == len(Prefix) || t[len(Prefix)] == ' ' || t[len(Prefix)] == '\t'
}

// IsPrivileged reports whether sender may run admin subcommands in
// channel.
func IsPrivileged(sender domain.SenderInfo, channel string) bool {
	if sender.IsBroadcaster || sender.IsOwner || sender.IsModerator || sender.IsAdmin {
		return true
	}
	ch := options.NormalizeUser(channel)
	if ch != "" {
		for _, n := range []string{sender.Username, sender.Slug, sender.DisplayName} {
			if options.NormalizeUser(n) == ch {
				return true
			}
		}
	}
	return sender.HasRole(privilegedRoles...)
}

// Handle interprets content sent by sender in channel.
func (in *Interpreter) Handle(sender domain.SenderInfo, content, channel string) Result {
	if !IsDirective(content) {
		return Result{Outcome: NotDirective}
	}
	rest := strings.TrimSpace(strings.TrimSpace(content)[len(Prefix):])
	if rest == "" {
		return Result{Outcome: Empty}
	}

	for _, cmd := range in.commands {
		loc := cmd.regex.FindStringIndex(rest)
		if loc == nil {
			continue
		}
		if !IsPrivileged(sender, channel) {
			in.log.Warn("[tts] %s tried !tts %s without permission", sender.Name(), cmd.name)
			metrics.Directives.WithLabelValues(cmd.name, Refused.String()).Inc()
			return Result{Outcome: Refused, Command: cmd.name}
		}
		args := strings.TrimSpace(rest[loc[1]:])
		if err := cmd.run(in, args); err != nil {
			in.log.Warn("[tts] !tts %s: %v", cmd.name, err)
			metrics.Directives.WithLabelValues(cmd.name, Invalid.String()).Inc()
			return Result{Outcome: Invalid, Command: cmd.name}
		}
		metrics.Directives.WithLabelValues(cmd.name, Executed.String()).Inc()
		return Result{Outcome: Executed, Command: cmd.name}
	}

	metrics.Directives.WithLabelValues("say", Speak.String()).Inc()
	return Result{Outcome: Speak, Text: rest}
}

// numberArg parses one number and rejects anything outside [lo, hi]
// instead of clamping it.
func numberArg(name, key string, lo, hi float64, integer bool) handler {
	return func(in *Interpreter, args string) error {
		if args == "" {
			return fmt.Errorf("usage: !tts %s <%v-%v>", name, lo, hi)
		}
		n, err := strconv.ParseFloat(strings.ReplaceAll(args, ",", "."), 64)
		if err != nil {
			return fmt.Errorf("%q is not a number (expected %v-%v)", args, lo, hi)
		}
		if n < lo || n > hi {
			return fmt.Errorf("%v out of range (expected %v-%v)", n, lo, hi)
		}
		if integer && n != float64(int(n)) {
			return fmt.Errorf("%v is not a whole number", n)
		}
		if err := in.controls.SetOption(key, n); err != nil {
			return err
		}
		in.log.Info("[tts] %s set to %v", key, n)
		return nil
	}
}

// textArg assigns the remainder of the line. An empty argument is only
// allowed when allowEmpty is set.
func textArg(name, key string, allowEmpty bool) handler {
	return func(in *Interpreter, args string) error {
		if args == "" && !allowEmpty {
			return fmt.Errorf("usage: !tts %s <text>", name)
		}
		if err := in.controls.SetOption(key, args); err != nil {
			return err
		}
		in.log.Info("[tts] %s set to %q", key, args)
		return nil
	}
}
