package connection

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/hammamikhairi/kickvox/internal/admission"
	"github.com/hammamikhairi/kickvox/internal/command"
	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/metrics"
	"github.com/hammamikhairi/kickvox/internal/options"
	"github.com/hammamikhairi/kickvox/internal/sanitize"
)

// Enqueuer accepts finished utterances.
type Enqueuer interface {
	Enqueue(u domain.Utterance, vip bool) (evicted bool)
}

// Verdict describes what happened to one message.
type Verdict struct {
	Enqueued  bool
	Reason    string // drop reason (metrics label) when not enqueued
	Directive command.Result
	Utterance string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher runs each chat message through allow-list, directive, bot,
// admission and sanitize checks and queues what survives. It is called
// from the connection loop only, one message at a time.
type Dispatcher struct {
	options   func() options.Options
	channel   func() string
	gate      *admission.Gate
	sanitizer *sanitize.Sanitizer
	directive *command.Interpreter
	queue     Enqueuer
	log       *logger.Logger
	now       func() time.Time
}

// NewDispatcher wires the pipeline stages together. opts is read on every
// message so option changes apply immediately.
func NewDispatcher(
	opts func() options.Options,
	channel func() string,
	gate *admission.Gate,
	sanitizer *sanitize.Sanitizer,
	directive *command.Interpreter,
	queue Enqueuer,
	log *logger.Logger,
	dopts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		options:   opts,
		channel:   channel,
		gate:      gate,
		sanitizer: sanitizer,
		directive: directive,
		queue:     queue,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range dopts {
		opt(d)
	}
	return d
}

// Handle is the Handler form of Dispatch.
func (d *Dispatcher) Handle(msg domain.ChatMessage) {
	d.Dispatch(msg)
}

// Dispatch processes one message. A panic in any stage is logged and the
// message dropped.
func (d *Dispatcher) Dispatch(msg domain.ChatMessage) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("[chat] message from %s dropped: %v", msg.Sender.Name(), r)
			metrics.MessagesDropped.WithLabelValues(metrics.ReasonPanic).Inc()
			v = Verdict{Reason: metrics.ReasonPanic}
		}
	}()
	metrics.MessagesReceived.Inc()

	v = d.dispatch(msg)
	if v.Enqueued {
		metrics.MessagesAccepted.Inc()
	} else if v.Reason != "" {
		metrics.MessagesDropped.WithLabelValues(v.Reason).Inc()
	}
	return v
}

func (d *Dispatcher) dispatch(msg domain.ChatMessage) Verdict {
	o := d.options()

	user := msg.Sender.Name()
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return Verdict{Reason: metrics.ReasonEmpty}
	}
	content = norm.NFC.String(content)
	userKey := options.NormalizeUser(norm.NFC.String(user))

	if !o.IsAllowed(userKey) {
		return Verdict{Reason: metrics.ReasonNotAllow}
	}

	text := content
	switch {
	case command.IsDirective(content):
		res := d.directive.Handle(msg.Sender, content, d.channel())
		if res.Outcome != command.Speak {
			return Verdict{Directive: res}
		}
		if !o.SpeakTtsCommands {
			return Verdict{Directive: res, Reason: metrics.ReasonCommand}
		}
		text = res.Text

	case strings.HasPrefix(content, "!"):
		allowed := o.ReadCommands
		if IsKnownBot(userKey) {
			allowed = o.SpeakBotCommands
		}
		if !allowed {
			return Verdict{Reason: metrics.ReasonCommand}
		}
		fallthrough

	default:
		if o.SkipBots && IsKnownBot(userKey) {
			return Verdict{Reason: metrics.ReasonBot}
		}
	}

	d.gate.SetWindows(
		time.Duration(o.UserCooldownMs)*time.Millisecond,
		time.Duration(o.DedupWindowMs)*time.Millisecond,
	)
	if !d.gate.ShouldAccept(userKey, text, d.now()) {
		d.log.Debug("[chat] throttled %s", user)
		return Verdict{Reason: metrics.ReasonThrottled}
	}

	clean := d.sanitizer.Clean(text, o.MaxLen, o.Profanity)
	if clean == "" {
		return Verdict{Reason: metrics.ReasonSanitized}
	}

	out := Compose(o.Prefix, user, clean)
	vip := IsVIP(msg.Sender)
	if d.queue.Enqueue(domain.Utterance{Text: out, User: userKey, Enqueued: d.now()}, vip) {
		d.log.Debug("[queue] full, dropped oldest item")
	}
	return Verdict{Enqueued: true, Utterance: out}
}

// Compose fills {user} in the prefix template and joins it to text with
// exactly one space.
func Compose(prefix, user, text string) string {
	p := strings.TrimSpace(strings.ReplaceAll(prefix, "{user}", user))
	if p == "" {
		return text
	}
	return p + " " + text
}

// IsVIP reports whether the sender's messages go to the priority lane.
func IsVIP(s domain.SenderInfo) bool {
	if s.IsSubscriber || s.IsModerator || s.IsVIP || s.IsFounder || s.IsOG || s.IsBroadcaster || s.IsOwner {
		return true
	}
	return s.HasRole("subscriber", "sub_gifter", "vip", "founder", "og", "moderator", "broadcaster")
}
