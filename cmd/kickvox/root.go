package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hammamikhairi/kickvox/internal/bot"
	"github.com/hammamikhairi/kickvox/internal/chat/kick"
	"github.com/hammamikhairi/kickvox/internal/console"
	"github.com/hammamikhairi/kickvox/internal/display"
	"github.com/hammamikhairi/kickvox/internal/domain"
	"github.com/hammamikhairi/kickvox/internal/logger"
	"github.com/hammamikhairi/kickvox/internal/metrics"
	"github.com/hammamikhairi/kickvox/internal/options"
	"github.com/hammamikhairi/kickvox/internal/storage"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

// EnvConfig overrides the default settings file location.
const EnvConfig = "KICKVOX_CONFIG"

var (
	flagChannel     string
	flagConfig      string
	flagVerbose     bool
	flagQuiet       bool
	flagLogFile     string
	flagBackend     string
	flagMetricsAddr string
	flagCacheDir    string
	flagHeadless    bool
)

var rootCmd = &cobra.Command{
	Use:           "kickvox [channel]",
	Short:         "kickvox reads Kick chat aloud",
	Long:          "kickvox connects to a Kick channel's chat, filters and sanitizes messages and reads them aloud with a local or Azure voice. Moderators control it in chat with !tts.",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := flagChannel
		if channel == "" && len(args) == 1 {
			channel = args[0]
		}
		return run(channel)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "settings file (default: settings.json or $"+EnvConfig+")")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "disable all logging")
	pf.StringVar(&flagLogFile, "log-file", "", "file to write logs to (default: .kickvox/kickvox.log with the console, stderr when headless)")
	pf.StringVar(&flagBackend, "backend", "auto", "speech backend: auto, system, azure or none")
	pf.StringVar(&flagCacheDir, "cache-dir", ".kickvox/cache", "directory for the Azure audio cache")

	f := rootCmd.Flags()
	f.StringVarP(&flagChannel, "channel", "c", "", "Kick channel to read (default: last channel used)")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	f.BoolVar(&flagHeadless, "headless", false, "run without the console, logging to stderr")

	rootCmd.AddCommand(voicesCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kickvox %s\n", Version)
		},
	}
}

func voicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices the selected backend offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog := setupLogging(true)
			defer closeLog()

			backend, err := buildBackend(flagBackend, flagCacheDir, log)
			if err != nil {
				return err
			}
			lister, ok := backend.(domain.VoiceLister)
			if !ok {
				return fmt.Errorf("backend %s cannot list voices: %w", backend.Name(), domain.ErrNotImplemented)
			}
			voices, err := lister.ListVoices(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range voices {
				fmt.Println(v)
			}
			return nil
		},
	}
}

func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if v := os.Getenv(EnvConfig); v != "" {
		return v
	}
	return "settings.json"
}

// setupLogging builds the logger. With the console up, logs go to a file
// by default so the prompt stays clean.
func setupLogging(headless bool) (*logger.Logger, func()) {
	level := logger.LevelNormal
	if flagVerbose {
		level = logger.LevelVerbose
	}
	if flagQuiet {
		level = logger.LevelOff
	}

	path := flagLogFile
	if path == "" && !headless {
		path = filepath.Join(".kickvox", "kickvox.log")
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if path != "" && path != "stderr" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v (falling back to stderr)\n", path, err)
		} else {
			out = f
			closeFn = func() { f.Close() }
		}
	}

	// Third-party packages log through the std logger; keep them off the
	// terminal too.
	stdlog.SetOutput(out)
	stdlog.SetFlags(stdlog.Ltime)

	return logger.New(level, out), closeFn
}

func run(channel string) error {
	log, closeLog := setupLogging(flagHeadless)
	defer closeLog()

	settings := storage.NewFileStore(resolveConfigPath(), log)
	if err := settings.EnsureDefaults(options.Defaults().ToMap()); err != nil {
		log.Warn("[config] %v", err)
	}
	log.Debug("settings file: %s", settings.Path())

	backend, err := buildBackend(flagBackend, flagCacheDir, log)
	if err != nil {
		return err
	}

	factory := func(ch string) (domain.ChatSource, error) {
		return kick.New(ch, log)
	}
	b := bot.New(backend, factory, log, bot.WithSettings(settings))
	defer b.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gctx, flagMetricsAddr, log)
	})

	if flagHeadless {
		if err := b.Start(gctx, channel, nil); err != nil {
			cancel()
			g.Wait()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			b.Stop()
			return nil
		})
		return g.Wait()
	}

	ui := display.NewUI(func() display.Status {
		return display.Status{
			State:   b.State(),
			Channel: b.Channel(),
			Muted:   b.Muted(),
			Queued:  b.Queued(),
			Backend: backend.Name(),
		}
	})
	b.AddObserver(ui)
	runner := console.NewRunner(b, ui.Println, log)

	fmt.Println(display.RenderBanner())
	fmt.Println(display.BannerStyle.Render("  Type 'help' for commands, 'quit' to exit."))
	fmt.Println()

	g.Go(func() error {
		defer cancel()
		return ui.Run()
	})
	g.Go(func() error {
		select {
		case <-ui.Ready():
		case <-gctx.Done():
			return nil
		}
		if channel != "" || b.Options().LastChannel != "" {
			b.Start(gctx, channel, nil)
		}
		for {
			select {
			case <-gctx.Done():
				b.Stop()
				ui.Quit()
				return nil
			case line := <-ui.InputChan():
				if runner.Exec(gctx, line) {
					b.Stop()
					ui.Quit()
					return nil
				}
			}
		}
	})
	return g.Wait()
}
