package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
)

// Compile-time interface checks.
var (
	_ domain.SpeechBackend = (*CommandBackend)(nil)
	_ domain.VoiceLister   = (*CommandBackend)(nil)
)

// CommandBackend speaks through the operating system's own synthesizer:
// SAPI via PowerShell on Windows, say on macOS, espeak-ng elsewhere. Each
// chunk runs in its own process; cancelling the context kills it.
type CommandBackend struct {
	goos string
	log  *logger.Logger
	run  func(ctx context.Context, name string, args []string, stdin string) ([]byte, error)
}

// CommandOption configures a CommandBackend.
type CommandOption func(*CommandBackend)

// WithGOOS pretends to run on another platform (tests).
func WithGOOS(goos string) CommandOption {
	return func(b *CommandBackend) {
		b.goos = goos
	}
}

// WithRunner replaces process execution (tests).
func WithRunner(run func(ctx context.Context, name string, args []string, stdin string) ([]byte, error)) CommandOption {
	return func(b *CommandBackend) {
		b.run = run
	}
}

// NewCommandBackend creates a backend for the current platform.
func NewCommandBackend(log *logger.Logger, opts ...CommandOption) *CommandBackend {
	b := &CommandBackend{goos: runtime.GOOS, log: log, run: runProcess}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements domain.SpeechBackend.
func (b *CommandBackend) Name() string {
	switch b.goos {
	case "windows":
		return "sapi"
	case "darwin":
		return "say"
	default:
		return "espeak-ng"
	}
}

// Available reports whether the synthesizer binary is on PATH.
func (b *CommandBackend) Available() bool {
	name, _, _ := b.command("", domain.VoiceParams{Rate: 1, Volume: 100})
	_, err := exec.LookPath(name)
	return err == nil
}

// Speak implements domain.SpeechBackend.
func (b *CommandBackend) Speak(ctx context.Context, text string, v domain.VoiceParams) error {
	name, args, stdin := b.command(text, v)
	b.log.Debug("%s: speaking %d chars (rate=%.2f vol=%d)", b.Name(), len(text), v.Rate, v.Volume)
	if _, err := b.run(ctx, name, args, stdin); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", b.Name(), err)
	}
	return nil
}

// ListVoices implements domain.VoiceLister.
func (b *CommandBackend) ListVoices(ctx context.Context) ([]string, error) {
	var (
		name  string
		args  []string
		parse func(string) []string
	)
	switch b.goos {
	case "windows":
		name = "powershell.exe"
		args = []string{"-NoProfile", "-Command", `$v=New-Object -ComObject SAPI.SpVoice; $v.GetVoices()|%{$_.GetDescription()}`}
		parse = parseLines
	case "darwin":
		name, args, parse = "say", []string{"-v", "?"}, parseSayVoices
	default:
		name, args, parse = "espeak-ng", []string{"--voices"}, parseEspeakVoices
	}

	out, err := b.run(ctx, name, args, "")
	if err != nil {
		return nil, fmt.Errorf("%s voices: %w", b.Name(), err)
	}
	return parse(string(out)), nil
}

// command builds the process invocation for one chunk.
func (b *CommandBackend) command(text string, v domain.VoiceParams) (name string, args []string, stdin string) {
	switch b.goos {
	case "windows":
		voice := ""
		if v.Voice != "" {
			quoted := strings.ReplaceAll(v.Voice, "'", "''")
			voice = fmt.Sprintf(`$tok=$v.GetVoices()|Where-Object{$_.GetDescription() -like '*%s*'}|Select-Object -First 1; if($tok){$v.Voice=$tok;} `, quoted)
		}
		script := fmt.Sprintf(
			`$v=New-Object -ComObject SAPI.SpVoice; $v.Volume=%d; $v.Rate=%d; %s$in=[Console]::In.ReadToEnd(); $v.Speak($in)|Out-Null;`,
			v.Volume, SAPIRate(v.Rate), voice,
		)
		return "powershell.exe", []string{"-NoProfile", "-Command", script}, text
	case "darwin":
		args = []string{"-r", fmt.Sprint(wordsPerMinute(v.Rate))}
		if v.Voice != "" {
			args = append(args, "-v", v.Voice)
		}
		args = append(args, "-f", "-")
		return "say", args, fmt.Sprintf("[[volm %.2f]] %s", float64(v.Volume)/100, text)
	default:
		args = []string{"-s", fmt.Sprint(wordsPerMinute(v.Rate)), "-a", fmt.Sprint(v.Volume * 2)}
		if v.Voice != "" {
			args = append(args, "-v", v.Voice)
		}
		args = append(args, "--stdin")
		return "espeak-ng", args, text
	}
}

// SAPIRate maps a 0.5..2.0 speed factor to SAPI's -10..10 scale.
func SAPIRate(rate float64) int {
	rate = math.Max(0.5, math.Min(2.0, rate))
	return int(math.Round((rate - 1.0) * 5))
}

// wordsPerMinute maps a speed factor to say/espeak's 175 wpm baseline.
func wordsPerMinute(rate float64) int {
	if rate <= 0 {
		rate = 1
	}
	return int(math.Round(175 * rate))
}

func runProcess(ctx context.Context, name string, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	// Do not let a stuck grandchild holding our pipes delay the kill.
	cmd.WaitDelay = 500 * time.Millisecond
	err := cmd.Run()
	return out.Bytes(), err
}

func parseLines(out string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names = append(names, line)
		}
	}
	return names
}

// parseSayVoices reads `say -v ?` output: "Zosia    pl_PL    # Witaj...".
func parseSayVoices(out string) []string {
	var names []string
	for _, line := range parseLines(out) {
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// The name may contain spaces; the locale is the last field.
		names = append(names, strings.Join(fields[:len(fields)-1], " "))
	}
	return names
}

// parseEspeakVoices reads `espeak-ng --voices`: a header line followed by
// "Pty Language Age/Gender VoiceName File Other".
func parseEspeakVoices(out string) []string {
	var names []string
	for i, line := range parseLines(out) {
		if i == 0 && strings.HasPrefix(line, "Pty") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 4 {
			names = append(names, fields[3])
		}
	}
	return names
}
