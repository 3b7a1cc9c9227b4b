// Package console turns lines typed at the control prompt into actions on
// the bot.
package console

import (
	"regexp"
	"strings"

	"github.com/hammamikhairi/kickvox/internal/logger"
)

// Action is what a console line asks for.
type Action int

const (
	ActionUnknown Action = iota
	ActionStart
	ActionStop
	ActionMute
	ActionSkip
	ActionClear
	ActionGet
	ActionSet
	ActionVoice
	ActionVoices
	ActionStatus
	ActionHelp
	ActionQuit
)

// String returns the action's command word.
func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionMute:
		return "mute"
	case ActionSkip:
		return "skip"
	case ActionClear:
		return "clear"
	case ActionGet:
		return "get"
	case ActionSet:
		return "set"
	case ActionVoice:
		return "voice"
	case ActionVoices:
		return "voices"
	case ActionStatus:
		return "status"
	case ActionHelp:
		return "help"
	case ActionQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is one parsed console line. Arg holds the remainder after the
// command word; for set it is split into Key and Value.
type Command struct {
	Action Action
	Arg    string
	Key    string
	Value  string
}

type patternRule struct {
	regex  *regexp.Regexp
	action Action
}

// Parser matches console input against a fixed table of patterns.
type Parser struct {
	log      *logger.Logger
	patterns []patternRule
}

// NewParser creates a console parser.
func NewParser(log *logger.Logger) *Parser {
	p := &Parser{log: log}
	p.patterns = []patternRule{
		{regexp.MustCompile(`(?i)^(start|connect|join)(\s+|$)`), ActionStart},
		{regexp.MustCompile(`(?i)^(stop|disconnect|leave)$`), ActionStop},
		{regexp.MustCompile(`(?i)^(mute|unmute|m)$`), ActionMute},
		{regexp.MustCompile(`(?i)^(skip|s|next)$`), ActionSkip},
		{regexp.MustCompile(`(?i)^(clear|flush)$`), ActionClear},
		{regexp.MustCompile(`(?i)^(get|options|opts)(\s+|$)`), ActionGet},
		{regexp.MustCompile(`(?i)^set(\s+|$)`), ActionSet},
		{regexp.MustCompile(`(?i)^voices$`), ActionVoices},
		{regexp.MustCompile(`(?i)^voice(\s+|$)`), ActionVoice},
		{regexp.MustCompile(`(?i)^(status|info)$`), ActionStatus},
		{regexp.MustCompile(`(?i)^(help|h|\?)$`), ActionHelp},
		{regexp.MustCompile(`(?i)^(quit|exit|q)$`), ActionQuit},
	}
	return p
}

// Parse converts a console line into a Command. Unmatched input yields
// ActionUnknown with the line in Arg.
func (p *Parser) Parse(input string) Command {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Command{Action: ActionUnknown}
	}

	for _, rule := range p.patterns {
		loc := rule.regex.FindStringIndex(trimmed)
		if loc == nil {
			continue
		}
		cmd := Command{Action: rule.action, Arg: strings.TrimSpace(trimmed[loc[1]:])}
		if cmd.Action == ActionSet {
			key, value, _ := strings.Cut(cmd.Arg, " ")
			cmd.Key = strings.TrimSpace(key)
			cmd.Value = strings.TrimSpace(value)
		}
		p.log.Debug("console: %s %q", cmd.Action, cmd.Arg)
		return cmd
	}

	p.log.Debug("console: no match for %q", trimmed)
	return Command{Action: ActionUnknown, Arg: trimmed}
}
