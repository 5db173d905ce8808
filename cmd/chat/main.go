package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/transcript"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const errLoggerKey = "err"

type options struct {
	url          string
	threadID     string
	instructions string
	pollInterval time.Duration
	pollTimeout  time.Duration
	logLevel     string
	logFile      string
	altScreen    bool
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an assistant through the assistant proxy",
		Long: `chat opens a thread on the assistant proxy served by the web UI and runs
conversation turns against it from the terminal.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.Flags()
	flags.StringVarP(&opts.url, "url", "u", "http://localhost:8080/api/assistants", "assistant proxy base url")
	flags.StringVarP(&opts.threadID, "thread", "t", "", "resume an existing thread instead of opening a new one")
	flags.StringVar(&opts.instructions, "instructions", "", "instructions sent with every run")
	flags.DurationVar(&opts.pollInterval, "poll-interval", time.Second, "delay between run status checks")
	flags.DurationVar(&opts.pollTimeout, "poll-timeout", 10*time.Minute, "give up on a run after this long, 0 waits forever")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFile, "log-file", "", "write logs to this file, logs are discarded when empty")
	flags.BoolVar(&opts.altScreen, "alt-screen", false, "run in the terminal alternate screen")

	return cmd
}

func run(ctx context.Context, opts options) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	// The terminal belongs to the UI, so logs only go to a file
	var out io.Writer = io.Discard
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	client := services.NewProxyClient(opts.url, &http.Client{Timeout: 30 * time.Second}, logger)
	orch := turn.NewOrchestrator(client, transcript.NewStore(), turn.Config{
		Instructions: opts.instructions,
		PollInterval: opts.pollInterval,
		PollTimeout:  opts.pollTimeout,
	}, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	programOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithMouseCellMotion()}
	if opts.altScreen {
		programOpts = append(programOpts, tea.WithAltScreen())
	}

	p := tea.NewProgram(newModel(ctx, orch, client, opts.threadID), programOpts...)
	if _, err := p.Run(); err != nil {
		logger.Error("Terminal client stopped", slog.String(errLoggerKey, err.Error()))
		return err
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
