// Package cli provides the chatmux command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"chatmux/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	logLevel string

	cfg *config.Config
	app *App
)

var rootCmd = &cobra.Command{
	Use:   "chatmux",
	Short: "Chat with Qwen, DeepSeek, Kimi or a local Ollama model",
	Long: `chatmux sends chat messages to one of several LLM providers and keeps
the conversation history in a local or shared key-value store.

Run "chatmux serve" for the HTTP API, or use the other commands directly.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}

		// serve logs to stdout like any service; the other commands keep
		// stdout for their own output.
		var w io.Writer = os.Stderr
		if cmd.Name() == "serve" {
			w = os.Stdout
		}
		setupLogger(level, w)

		app, err = buildApp(cmd.Context(), cfg, log.Logger)
		return err
	},
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// run executes one command line. The app is closed whether or not the
// command succeeded.
func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	defer func() {
		if app != nil {
			app.Close()
			app = nil
		}
	}()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(settingsCmd)
}

func setupLogger(level string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
