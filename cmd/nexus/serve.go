package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nexus-ai/nexus-chat/internal/completion"
	"github.com/nexus-ai/nexus-chat/internal/config"
	"github.com/nexus-ai/nexus-chat/internal/llm"
	"github.com/nexus-ai/nexus-chat/internal/metrics"
	"github.com/nexus-ai/nexus-chat/internal/server"
	"github.com/nexus-ai/nexus-chat/internal/storage"
	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat session server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, warnings, err := loadConfig(os.Stdout, false)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	provider, model, err := llm.ParseModel(cfg.Model)
	if err != nil {
		return err
	}
	llmOpts := []llm.Option{llm.WithMaxTokens(cfg.MaxTokens)}
	if cfg.ProviderBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.ProviderBaseURL))
	}
	if cfg.Temperature != nil {
		llmOpts = append(llmOpts, llm.WithTemperature(*cfg.Temperature))
	}
	llmClient, err := llm.NewClient(provider, cfg.APIKeyFor(provider), model, llmOpts...)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	gateway := completion.NewGateway(llmClient,
		completion.WithSystemPrompt(cfg.SystemPrompt),
		completion.WithTimeout(cfg.ParsedCompletionTimeout()),
	)

	opts := server.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxPendingTurns: cfg.MaxPendingTurns,
		RateLimitRPS:    cfg.RateLimit.RPS,
		RateLimitBurst:  cfg.RateLimit.Burst,
		Metrics:         metrics.New(),
		Warnings:        func() []string { return warnings },
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Warn().Err(err).Msg("session storage unavailable, running without history")
	} else {
		defer store.Close()
		if n, err := store.CloseDangling(time.Now()); err != nil {
			log.Warn().Err(err).Msg("close dangling sessions")
		} else if n > 0 {
			log.Info().Int64("count", n).Msg("closed sessions left open by a previous run")
		}
		opts.Ledger = store
		opts.Sessions = store
	}

	var transcripts *transcript.Registry
	if cfg.Transcript.Scope == config.ScopeProcess {
		transcripts = transcript.NewSharedRegistry(cfg.Transcript.MaxTurns)
	} else {
		transcripts = transcript.NewRegistry(cfg.Transcript.MaxTurns)
	}

	srv := server.New(gateway, transcripts, opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("model", cfg.Model).
		Str("transcript_scope", cfg.Transcript.Scope).
		Msgf("nexus: session server on %s", cfg.ListenAddr)

	if err := srv.Serve(ctx, cfg.ListenAddr); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Msg("nexus: shut down")
	return nil
}
