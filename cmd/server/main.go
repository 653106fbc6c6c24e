// Command server runs the notification backend: the linking and preference
// API, the store poller and scheduled scanners, and the outbound chat
// webhook dispatcher.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/avelis/go-tasker-notify/internal/cliq"
	"github.com/avelis/go-tasker-notify/internal/config"
	httpapi "github.com/avelis/go-tasker-notify/internal/http"
	"github.com/avelis/go-tasker-notify/internal/observability"
	"github.com/avelis/go-tasker-notify/internal/repo"
	"github.com/avelis/go-tasker-notify/internal/services"
	"github.com/avelis/go-tasker-notify/internal/sysutil"
	"github.com/avelis/go-tasker-notify/internal/watch"
)

var version = sysutil.Version("dev")

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting notification backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	// Outbound webhook client
	client := cliq.NewClient(cliq.Config{
		BaseURL:     cfg.Cliq.BaseURL,
		BotName:     cfg.Cliq.BotName,
		Token:       cfg.Cliq.Token,
		SendTimeout: cfg.Cliq.SendTimeout,
		RetryDelay:  cfg.Cliq.RetryDelay,
		RPS:         cfg.Cliq.RateRPS,
		Burst:       cfg.Cliq.RateBurst,
	}, log.Logger)
	if !client.Configured() {
		log.Warn().Msg("CLIQ_API_TOKEN not set; outbound delivery will fail")
	}

	// Background pipeline: dispatcher ← source ← poller, plus scanners
	dispatcher := &services.Dispatcher{
		DB:            db,
		Prefs:         &services.PreferenceService{DB: db},
		Sender:        client,
		Formatter:     &cliq.Formatter{AppBaseURL: cfg.AppBaseURL},
		Log:           log.Logger,
		MaxConcurrent: cfg.DispatchSize,
	}
	source := &watch.Source{
		Sink:        dispatcher,
		Log:         log.Logger,
		GraceWindow: cfg.Scan.ReplayGrace,
	}
	poller := &watch.Poller{
		DB:       db,
		Source:   source,
		Log:      log.Logger,
		Interval: cfg.Scan.PollInterval,
	}
	scanner := &watch.Scanner{
		DB:              db,
		Sink:            dispatcher,
		Log:             log.Logger,
		OverdueInterval: cfg.Scan.OverdueInterval,
		DueSoonInterval: cfg.Scan.DueSoonInterval,
		DueSoonWindow:   cfg.Scan.DueSoonWindow,
	}
	poller.Start(ctx)
	scanner.Start(ctx)
	defer scanner.Stop()
	defer poller.Stop()

	// HTTP transport
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, client, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Fatal().Err(err).Msg("server failed")
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
