package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/PLark-droid/lark-slack-connector/internal/api"
	"github.com/PLark-droid/lark-slack-connector/internal/conf"
	"github.com/PLark-droid/lark-slack-connector/internal/data"
	"github.com/PLark-droid/lark-slack-connector/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, envErr != nil); err != nil {
		_ = service.WriteErrorLine(os.Stdout, err)
		fmt.Fprintf(os.Stderr, "connector: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, noDotenv bool) error {
	cfg, err := conf.Load(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := newLogger(cfg.Env.LogFormat, cfg.Env.LogLevel, os.Stderr)
	if noDotenv {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	store, err := data.NewStore(ctx, cfg.StoreConfig())
	if err != nil {
		return fmt.Errorf("open %s ledger: %w", cfg.Env.LedgerBackend, err)
	}
	log.Info().Str("backend", cfg.Env.LedgerBackend).Msg("Ledger store opened")

	relay := service.NewOrchestrator(store, log)
	defer func() {
		if err := relay.Close(); err != nil {
			log.Error().Err(err).Msg("Close ledger store")
		}
	}()

	for _, wc := range cfg.Workspaces {
		ws, err := buildWorkspace(wc, cfg.Env, store, log)
		if err != nil {
			return fmt.Errorf("workspace %s: %w", wc.ID, err)
		}
		if err := relay.Register(ws); err != nil {
			return err
		}
	}

	apiServer := api.NewServer(relay, cfg.Env.ListenAddr, log)
	port, err := apiServer.Listen()
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Env.ListenAddr, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- apiServer.Serve()
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown")
		}
	}()

	if err := relay.Start(ctx); err != nil {
		return err
	}
	defer relay.Stop()

	if err := service.WriteReadyLine(os.Stdout, port); err != nil {
		return err
	}
	_ = service.WriteStatusLine(os.Stdout, relay.Status())
	log.Info().Int("port", port).Msg("Lark-Slack connector running")

	var tick <-chan time.Time
	if cfg.Env.StatusLineInterval > 0 {
		ticker := time.NewTicker(cfg.Env.StatusLineInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down...")
			relay.Stop()
			_ = service.WriteStatusLine(os.Stdout, relay.Status())
			return nil
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("http server: %w", err)
			}
		case <-tick:
			_ = service.WriteStatusLine(os.Stdout, relay.Status())
		}
	}
}

func newLogger(format, level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
