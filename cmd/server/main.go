package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway-go/internal/config"
	"github.com/openclaw/wa-gateway-go/internal/database"
	"github.com/openclaw/wa-gateway-go/internal/handler"
	"github.com/openclaw/wa-gateway-go/internal/health"
	"github.com/openclaw/wa-gateway-go/internal/ingest"
	"github.com/openclaw/wa-gateway-go/internal/jobs"
	"github.com/openclaw/wa-gateway-go/internal/mail"
	"github.com/openclaw/wa-gateway-go/internal/media"
	"github.com/openclaw/wa-gateway-go/internal/middleware"
	"github.com/openclaw/wa-gateway-go/internal/notify"
	"github.com/openclaw/wa-gateway-go/internal/provider/engine"
	"github.com/openclaw/wa-gateway-go/internal/qr"
	"github.com/openclaw/wa-gateway-go/internal/redis"
	"github.com/openclaw/wa-gateway-go/internal/repository"
	"github.com/openclaw/wa-gateway-go/internal/scheduler"
	"github.com/openclaw/wa-gateway-go/internal/session"
	"github.com/openclaw/wa-gateway-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	convRepo := repository.NewConversationRepository(db.DB)
	msgRepo := repository.NewMessageRepository(db.DB)

	bus := notify.NewRedisBus(redisClient)
	sseBroker := sse.NewBroker(redisClient)
	defer sseBroker.Close()

	qrBroker := qr.NewBroker(bus, cfg.QRExpiry())
	resolver := media.NewResolver(cfg.MediaDir)
	pipeline := ingest.NewPipeline(convRepo, msgRepo, resolver, bus, db)
	sched := scheduler.New(cfg.ReconnectBase(), cfg.ReconnectCap(), cfg.ReconnectMaxAttempts)
	registry := session.NewRegistry()

	engineClient := engine.NewClient(cfg.EngineBaseURL, cfg.EngineAPIKey)
	dispatcher := engine.NewDispatcher()
	factory := engine.NewFactory(engineClient, dispatcher)

	var mailer mail.Dispatcher
	if smtp := mail.NewSMTPDispatcher(cfg); smtp != nil {
		mailer = smtp
	}

	controller := session.NewController(
		cfg, registry, factory, accountRepo, sched, qrBroker, pipeline, bus, mailer,
	)

	healthMonitor := health.NewMonitor(registry, accountRepo, controller, cfg.HealthInterval())
	healthMonitor.Start()
	defer healthMonitor.Stop()

	orphanReconciler := jobs.NewOrphanReconciler(accountRepo, registry, controller, cfg.OrphanInterval())
	orphanReconciler.Start()
	defer orphanReconciler.Stop()

	authMiddleware := middleware.NewAuthMiddleware(accountRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	signatureMiddleware := middleware.NewSignatureMiddleware(cfg.EngineWebhookSecret)

	sessionHandler := handler.NewSessionHandler(controller, qrBroker, registry, accountRepo)
	eventsHandler := handler.NewEventsHandler(sseBroker)
	webhookHandler := handler.NewWebhookHandler(dispatcher)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/engine", func(r chi.Router) {
		r.Use(signatureMiddleware.Handler)
		r.Post("/webhook", webhookHandler.Webhook)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Mount("/sessions", sessionHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	controller.Close(shutdownCtx)

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
