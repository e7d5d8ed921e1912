package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pauljones0/free-games-bot/internal/ai"
	"github.com/pauljones0/free-games-bot/internal/config"
	"github.com/pauljones0/free-games-bot/internal/engine"
	"github.com/pauljones0/free-games-bot/internal/ledger"
	"github.com/pauljones0/free-games-bot/internal/models"
	"github.com/pauljones0/free-games-bot/internal/notifier"
	"github.com/pauljones0/free-games-bot/internal/scheduler"
	"github.com/pauljones0/free-games-bot/internal/source"
	"github.com/pauljones0/free-games-bot/internal/source/epic"
	"github.com/pauljones0/free-games-bot/internal/source/steam"
	"github.com/pauljones0/free-games-bot/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg))
	slog.Info("Starting free games bot...", "sources", cfg.Sources, "ledger", cfg.LedgerBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		slog.Error("Critical error initializing ledger backend", "error", err)
		os.Exit(1)
	}
	defer closeBackend()
	l := ledger.Open(ctx, backend)

	sources, err := buildSources(cfg)
	if err != nil {
		slog.Error("Critical error initializing sources", "error", err)
		os.Exit(1)
	}
	feed := source.NewFetcher(cfg.FetchTimeout, sources...)

	sink := notifier.New(cfg.DiscordWebhookURL, cfg.NotifyRate)
	gemini, err := ai.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Warn("Failed to initialize Gemini client, posting without taglines", "error", err)
	} else if gemini != nil {
		sink.WithEnricher(gemini)
	}

	eng := engine.New(l, sink, feed, engine.Config{
		NotifyTimeout: cfg.NotifyTimeout,
		CheckTimeout:  cfg.FetchTimeout,
	})
	sched := scheduler.New(eng, scheduler.Config{
		Interval:     cfg.PollInterval,
		ErrorBackoff: cfg.ErrorBackoff,
		CycleTimeout: cfg.CycleTimeout,
	})

	srv := &Server{
		publisher: eng,
		records:   l,
		trigger:   sched,
		token:     cfg.AdminToken,
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go sched.Run(ctx)
	go func() {
		slog.Info("Listening on port", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to listen and serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	select {
	case <-sched.Done():
	case <-shutdownCtx.Done():
		slog.Warn("Cycle still running at shutdown deadline")
	}
	slog.Info("Server stopped.")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openBackend(ctx context.Context, cfg *config.Config) (ledger.Backend, func(), error) {
	if cfg.LedgerBackend == config.LedgerBackendFirestore {
		fs, err := storage.NewFirestore(ctx, cfg.ProjectID, cfg.FirestoreCollection, cfg.FirestoreCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {
			if err := fs.Close(); err != nil {
				slog.Warn("Failed to close Firestore client", "error", err)
			}
		}, nil
	}
	return storage.NewFile(cfg.LedgerPath), func() {}, nil
}

func buildSources(cfg *config.Config) ([]source.Source, error) {
	out := make([]source.Source, 0, len(cfg.Sources))
	for _, name := range cfg.Sources {
		switch name {
		case models.SourceEpic:
			out = append(out, epic.New(cfg.EpicLocale, cfg.EpicPrimaryRegion, cfg.EpicReferenceRegion, cfg.HTTPTimeout))
		case models.SourceSteam:
			s, err := steam.New(cfg.SteamCountries, cfg.SteamMinDiscount, cfg.HTTPTimeout)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}
	return out, nil
}
