package console

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/options"
)

// Controls is the bot surface the console drives.
type Controls interface {
	Start(ctx context.Context, channel string, initial map[string]any) error
	Stop()
	Running() bool
	ToggleMute() bool
	Skip() bool
	ClearQueue() int
	Options() options.Options
	SetOption(key string, value any) bool
	SetVoice(name string)
	ListVoices(ctx context.Context) []string
	Status() string
}

// HelpText lists the console commands.
const HelpText = `commands:
  start <channel>     connect and start reading (no channel = last one)
  stop                disconnect and drop the queue
  mute                toggle mute
  skip                skip the message being read
  clear               drop everything queued
  get [key]           show options
  set <key> <value>   change an option
  voice [name]        pick a voice (no name = default)
  voices              list voices
  status              one-line summary
  quit                exit`

// Runner executes console lines against the bot and writes replies to out.
type Runner struct {
	controls Controls
	parser   *Parser
	out      func(string)
	log      *logger.Logger
}

// NewRunner creates a runner. out receives every reply line.
func NewRunner(controls Controls, out func(string), log *logger.Logger) *Runner {
	return &Runner{
		controls: controls,
		parser:   NewParser(log),
		out:      out,
		log:      log,
	}
}

// Exec runs one line. It reports true when the user asked to quit.
func (r *Runner) Exec(ctx context.Context, line string) (quit bool) {
	cmd := r.parser.Parse(line)

	switch cmd.Action {
	case ActionStart:
		if err := r.controls.Start(ctx, cmd.Arg, nil); err != nil {
			r.out("cannot start: " + err.Error())
		}
	case ActionStop:
		if !r.controls.Running() {
			r.out(domain.ErrNotRunning.Error())
			return false
		}
		r.controls.Stop()
	case ActionMute:
		if r.controls.ToggleMute() {
			r.out("muted")
		} else {
			r.out("unmuted")
		}
	case ActionSkip:
		if !r.controls.Skip() {
			r.out("nothing to skip")
		}
	case ActionClear:
		r.out(fmt.Sprintf("dropped %d queued messages", r.controls.ClearQueue()))
	case ActionGet:
		r.get(cmd.Arg)
	case ActionSet:
		if cmd.Key == "" {
			r.out("usage: set <key> <value>")
			return false
		}
		if r.controls.SetOption(cmd.Key, cmd.Value) {
			r.get(cmd.Key)
		}
	case ActionVoice:
		r.controls.SetVoice(cmd.Arg)
		r.get(options.KeyVoiceName)
	case ActionVoices:
		voices := r.controls.ListVoices(ctx)
		if len(voices) == 0 {
			r.out("no voices reported by the speech backend")
			return false
		}
		r.out(strings.Join(voices, "\n"))
	case ActionStatus:
		r.out(r.controls.Status())
	case ActionHelp:
		r.out(HelpText)
	case ActionQuit:
		return true
	default:
		if cmd.Arg != "" {
			r.out(fmt.Sprintf("unknown command %q, type 'help'", cmd.Arg))
		}
	}
	return false
}

func (r *Runner) get(key string) {
	m := r.controls.Options().ToMap()
	if key != "" {
		if !options.Known(key) {
			r.out(fmt.Sprintf("unknown option %q", key))
			return
		}
		r.out(fmt.Sprintf("%s = %v", key, m[key]))
		return
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-17s %v", k, m[k]))
	}
	r.out(strings.Join(lines, "\n"))
}
