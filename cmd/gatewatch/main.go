package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gatewatch/internal/config"
	"gatewatch/internal/db"
	"gatewatch/internal/detect"
	httpapi "gatewatch/internal/http"
	"gatewatch/internal/identify"
	"gatewatch/internal/logger"
	"gatewatch/internal/material"
	"gatewatch/internal/metrics"
	"gatewatch/internal/notify"
	"gatewatch/internal/pipeline"
	"gatewatch/internal/repository"
	"gatewatch/internal/service"
	"gatewatch/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.Log)

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := storage.NewS3Store(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("blob store init failed")
	}

	m := metrics.New()

	eventRepo := repository.NewEventRepository(gdb)
	cameraRepo := repository.NewCameraRepository(gdb)
	ruleRepo := repository.NewRuleRepository(gdb)

	dispatcher := notify.NewDispatcher(ruleRepo, notify.NewSenders(cfg.Notify), m, log, notify.Options{
		DebounceWindow: cfg.Notify.Debounce,
		QueueSize:      cfg.Notify.QueueSize,
		RuleCacheTTL:   cfg.Notify.RuleCacheTTL,
	})
	dispatcher.Start(ctx)

	detector := detect.New(cfg.Detection, log)
	identifier := identify.New(cfg.Identification, log)
	estimator := material.New(cfg.Material, log)

	supervisor := pipeline.NewSupervisor(
		cameraRepo,
		detector,
		identifier,
		estimator,
		blobs,
		eventRepo,
		dispatcher,
		m,
		cfg.Pipeline,
		identify.ParseMode(cfg.Identification.Mode),
		log,
	)
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		if err := supervisor.Run(ctx); err != nil {
			log.Error().Err(err).Msg("supervisor terminated")
		}
	}()

	eventService := service.NewEventService(eventRepo, cameraRepo, log)
	ruleService := service.NewRuleService(ruleRepo, dispatcher, log)

	if days := cfg.Pipeline.RetentionDays; days > 0 {
		go runRetentionJanitor(ctx, eventService, days, log)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpapi.CORSMiddleware(cfg.Server.CORSOrigins))

	handler := httpapi.NewHandler(eventService, ruleService, gdb, m, log)
	handler.Register(r, httpapi.AuthMiddleware(cfg.Auth.JWTSecret, log))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.Server.Addr).Msg("gatewatch listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server terminated")
	}

	// pipelines and the dispatcher drain before exit so no persisted event
	// loses its notification to the shutdown
	<-supervisorDone
	dispatcher.Wait()
	log.Info().Msg("shutdown complete")
}

func runRetentionJanitor(ctx context.Context, events *service.EventService, days int, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if _, err := events.CleanupOldEvents(ctx, days); err != nil {
			log.Error().Err(err).Msg("retention cleanup failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
