// Package display provides the terminal UI using Bubble Tea.
//
// The [UI] type shows a status bar (connection state, channel, mute,
// queue) and a control prompt at the bottom of the terminal. Log lines
// are printed above the rendered area, so concurrent writes never garble
// the display. UI implements domain.Observer.
package display

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hammamikhairi/kickvox/internal/domain"
)

// ── Styles ───────────────────────────────────────────────────────

var (
	barBg = lipgloss.NewStyle().
		Background(lipgloss.Color("#27272a")).
		Foreground(lipgloss.Color("#a1a1aa"))

	connectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bbf7d0"))

	connectingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fde68a"))

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a")).
			Italic(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fca5a5"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#a1a1aa"))

	sepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#52525b"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	// BannerStyle is used for the startup banner and hints.
	BannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94a3b8"))

	// Spoken lines.
	ttsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bae6fd"))

	primaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4d4d8"))

	secondaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#71717a"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fde68a"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fca5a5"))

	userInputEchoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#a1a1aa"))
)

const prompt = "kickvox> "

// Status is what the status bar shows. It is polled once per second.
type Status struct {
	State   domain.ConnState
	Channel string
	Muted   bool
	Queued  int
	Backend string
}

var _ domain.Observer = (*UI)(nil)

// ── UI ───────────────────────────────────────────────────────────

// UI manages the terminal through Bubble Tea.
//
// Call [NewUI] then [UI.Run] (blocking). Observer callbacks may arrive
// from any goroutine at any time, including before Run; they are
// buffered and drained by the event loop.
type UI struct {
	program *tea.Program
	status  func() Status
	inputCh chan string
	events  chan tea.Msg
	readyCh chan struct{}
	quitCh  chan struct{}
	dropped atomic.Int64
}

// NewUI creates the display. status feeds the status bar.
func NewUI(status func() Status) *UI {
	return &UI{
		status:  status,
		inputCh: make(chan string, 16),
		events:  make(chan tea.Msg, 512),
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

// Log implements domain.Observer.
func (u *UI) Log(line string) { u.post(logMsg(line)) }

// StateChanged implements domain.Observer.
func (u *UI) StateChanged(s domain.ConnState) { u.post(stateMsg(s)) }

// MuteChanged implements domain.Observer.
func (u *UI) MuteChanged(muted bool) { u.post(muteMsg(muted)) }

// Println prints a reply line above the prompt.
func (u *UI) Println(text string) { u.post(replyMsg(text)) }

// post never blocks: a flooded UI drops lines rather than stalling the
// bot.
func (u *UI) post(m tea.Msg) {
	select {
	case u.events <- m:
	default:
		u.dropped.Add(1)
	}
}

// InputChan returns completed user-input lines.
func (u *UI) InputChan() <-chan string { return u.inputCh }

// Ready is closed once the Bubble Tea event loop is running.
func (u *UI) Ready() <-chan struct{} { return u.readyCh }

// Quit tells Bubble Tea to exit.
func (u *UI) Quit() {
	if u.program != nil {
		u.program.Quit()
	}
}

// QuitChan is closed when Run returns.
func (u *UI) QuitChan() <-chan struct{} { return u.quitCh }

// Run starts the Bubble Tea event loop. Blocks until quit.
func (u *UI) Run() error {
	ti := textinput.New()
	// Plain-text prompt keeps the textinput width math correct.
	ti.Prompt = prompt
	ti.PromptStyle = promptStyle
	ti.TextStyle = userInputEchoStyle
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))
	ti.Focus()
	ti.CharLimit = 300
	ti.Width = 60 // updated on first WindowSizeMsg

	m := model{
		input:   ti,
		inputCh: u.inputCh,
		readyCh: u.readyCh,
		events:  u.events,
		status:  u.status,
	}
	if u.status != nil {
		m.bar = u.status()
	}

	u.program = tea.NewProgram(m)
	_, err := u.program.Run()
	close(u.quitCh)
	return err
}

// ── Bubble Tea model ─────────────────────────────────────────────

type model struct {
	input   textinput.Model
	inputCh chan<- string
	readyCh chan struct{}
	events  <-chan tea.Msg
	status  func() Status
	bar     Status
	width   int
}

// Messages.
type (
	tickMsg  time.Time
	logMsg   string
	replyMsg string
	stateMsg domain.ConnState
	muteMsg  bool
)

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		tickCmd(),
		signalReady(m.readyCh),
		listen(m.events),
	)
}

func signalReady(ch chan struct{}) tea.Cmd {
	return func() tea.Msg {
		close(ch)
		return nil
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listen waits for the next observer event.
func listen(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			v := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(v) == "" {
				return m, nil
			}
			select {
			case m.inputCh <- v:
			default:
			}
			return m, tea.Println(promptStyle.Render(strings.TrimSpace(prompt)) + " " + userInputEchoStyle.Render(v))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > len(prompt) {
			m.input.Width = msg.Width - len(prompt)
		}
		return m, nil

	case tickMsg:
		if m.status != nil {
			m.bar = m.status()
		}
		return m, tea.Batch(tickCmd(), tea.SetWindowTitle(m.titleStr()))

	case logMsg:
		return m, tea.Batch(tea.Println(styleLog(string(msg))), listen(m.events))

	case replyMsg:
		return m, tea.Batch(tea.Println(primaryStyle.Render(string(msg))), listen(m.events))

	case stateMsg:
		m.bar.State = domain.ConnState(msg)
		return m, listen(m.events)

	case muteMsg:
		m.bar.Muted = bool(msg)
		return m, listen(m.events)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) titleStr() string {
	if m.bar.Channel == "" {
		return "kickvox"
	}
	return fmt.Sprintf("kickvox | %s | %s", m.bar.Channel, m.bar.State)
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.renderBar())
	b.WriteByte('\n')
	b.WriteString(m.input.View())
	return b.String()
}

func (m model) renderBar() string {
	var state string
	switch m.bar.State {
	case domain.StateConnected:
		state = connectedStyle.Render("● " + m.bar.State.String())
	case domain.StateConnecting:
		state = connectingStyle.Render("◌ " + m.bar.State.String())
	default:
		state = stoppedStyle.Render("○ " + m.bar.State.String())
	}

	channel := m.bar.Channel
	if channel == "" {
		channel = "-"
	}
	mute := labelStyle.Render("live")
	if m.bar.Muted {
		mute = mutedStyle.Render("MUTED")
	}

	parts := []string{
		state,
		labelStyle.Render("channel: ") + primaryStyle.Render(channel),
		mute,
		labelStyle.Render(fmt.Sprintf("queue: %d", m.bar.Queued)),
	}
	if m.bar.Backend != "" {
		parts = append(parts, labelStyle.Render("tts: "+m.bar.Backend))
	}
	content := " " + strings.Join(parts, sepStyle.Render("  │  ")) + " "

	w := m.width
	if w <= 0 {
		w = 80
	}
	return barBg.Width(w).Render(content)
}

// styleLog colours a forwarded log line by its level and tag.
func styleLog(line string) string {
	switch {
	case strings.HasPrefix(line, "ERROR: "):
		return errorStyle.Render(line)
	case strings.HasPrefix(line, "WARN: "):
		return warnStyle.Render(line)
	case strings.HasPrefix(line, "[TTS]"):
		return ttsStyle.Render(line)
	case strings.HasPrefix(line, "[init]"), strings.HasPrefix(line, "[config]"):
		return primaryStyle.Render(line)
	default:
		return secondaryStyle.Render(line)
	}
}
