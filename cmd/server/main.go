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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tably/grouporder-server/internal/config"
	"github.com/tably/grouporder-server/internal/database"
	"github.com/tably/grouporder-server/internal/engine"
	"github.com/tably/grouporder-server/internal/handler"
	"github.com/tably/grouporder-server/internal/jobs"
	"github.com/tably/grouporder-server/internal/metrics"
	"github.com/tably/grouporder-server/internal/middleware"
	"github.com/tably/grouporder-server/internal/model"
	"github.com/tably/grouporder-server/internal/notify"
	"github.com/tably/grouporder-server/internal/payment"
	"github.com/tably/grouporder-server/internal/redis"
	"github.com/tably/grouporder-server/internal/repository"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

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

	sessionRepo := repository.NewSessionRepository(db.DB)
	orderRepo := repository.NewOrderRepository(db.DB)
	store := repository.NewStore(sessionRepo, orderRepo)

	broker := notify.NewBroker(redisClient)
	defer broker.Close()

	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, "")
	engineMetrics := metrics.New(prometheus.DefaultRegisterer)

	registry := engine.NewRegistry(engine.Config{
		MaxActiveSessionsPerRestaurant: cfg.MaxActiveSessionsPerRestaurant,
		MaxParticipantsPerSession:      cfg.MaxParticipantsPerSession,
		MaxSessionTTL:                  cfg.MaxSessionTTL(),
		IdleExpiry:                     cfg.IdleExpiry(),
		ChargeTimeout:                  cfg.ChargeTimeout(),
		RemovedItemPolicy:              model.RemovedItemPolicy(cfg.RemovedItemPolicy),
	}, engine.Deps{
		Store:   store,
		Events:  broker,
		Gateway: gateway,
		Metrics: engineMetrics,
	})

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 30*time.Second)
	snaps, err := sessionRepo.ListNonTerminal(restoreCtx)
	restoreCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load session snapshots")
	}
	registry.Restore(snaps)

	registry.Start()
	defer registry.Stop()

	identityMiddleware := middleware.NewIdentityMiddleware()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(redisClient.Client, cfg.RateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	sessionHandler := handler.NewSessionHandler(registry, orderRepo, cfg.DefaultSessionTTL())
	eventsHandler := handler.NewEventsHandler(registry, broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"sessions":  registry.Len(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(identityMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Get("/{sessionID}/events", eventsHandler.ServeHTTP)
		r.Mount("/", sessionHandler.Routes())
	})

	reaperJob := jobs.NewReaperJob(registry, sessionRepo, cfg.Retention(), config.ReaperJobInterval)
	reaperJob.Start()
	defer reaperJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0, // SSE connections stay open
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
