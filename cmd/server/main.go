package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/aggregator"
	"github.com/dennisdiepolder/monti/handoff/internal/alerts"
	"github.com/dennisdiepolder/monti/handoff/internal/api"
	"github.com/dennisdiepolder/monti/handoff/internal/auth"
	"github.com/dennisdiepolder/monti/handoff/internal/cache"
	"github.com/dennisdiepolder/monti/handoff/internal/config"
	"github.com/dennisdiepolder/monti/handoff/internal/handoff"
	"github.com/dennisdiepolder/monti/handoff/internal/metrics"
	"github.com/dennisdiepolder/monti/handoff/internal/notify"
	"github.com/dennisdiepolder/monti/handoff/internal/resilience"
	"github.com/dennisdiepolder/monti/handoff/internal/storage"
	"github.com/dennisdiepolder/monti/handoff/internal/tracing"
	"github.com/dennisdiepolder/monti/handoff/internal/websocket"
	"github.com/dennisdiepolder/monti/handoff/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Str("service", cfg.ServiceName).Logger()

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("handoff_enabled", cfg.HandoffEnabled).
		Bool("queue_enabled", cfg.QueueEnabled).
		Int("max_concurrent_chats", cfg.MaxConcurrentChats).
		Msg("starting handoff service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	m := metrics.NewMetrics()

	store, err := storage.OpenSQL(ctx, storage.LoadSQLConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}
	defer store.Close()

	archive, err := storage.NewArchive(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise session archive")
	}

	presence := cache.NewPresenceTracker(cfg.PresenceTTL)

	mgr := handoff.NewManager(store, presence, handoff.Settings{
		Enabled:           cfg.HandoffEnabled,
		MaxConcurrent:     cfg.MaxConcurrentChats,
		QueueEnabled:      cfg.QueueEnabled,
		Roster:            cfg.AgentRoster,
		WaitingTemplate:   cfg.WaitingTemplate,
		ConnectedTemplate: cfg.ConnectedTemplate,
		OfflineTemplate:   cfg.OfflineTemplate,
		WaitingTimeout:    cfg.WaitingTimeout,
		SLTarget:          cfg.SLTarget,
		SLSeconds:         cfg.SLSeconds,
		MaxMessageLength:  cfg.MaxMessageLength,
	}, log.Logger)
	mgr.SetArchive(archive)
	mgr.SetMetrics(m)

	hub := websocket.NewHub(log.Logger)
	hub.SetMetrics(m)

	sinks := []notify.Sink{notify.NewWebSocketSink(hub)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL, resilience.DefaultConfig))
	}
	if cfg.AMQPURL != "" {
		amqpSink, err := notify.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect notification broker")
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}
	dispatcher := notify.NewDispatcher(log.Logger, sinks...)
	dispatcher.SetMetrics(m)
	mgr.SetNotifier(dispatcher)
	log.Info().Strs("sinks", dispatcher.Sinks()).Msg("notification sinks configured")

	agg := aggregator.NewAggregator(mgr, hub, alerts.Rules{
		WaitWarning:   cfg.AlertWaitWarning,
		WaitCritical:  cfg.AlertWaitCritical,
		MaxConcurrent: cfg.MaxConcurrentChats,
		HeartbeatLate: cfg.PresenceTTL / 2,
	}, cfg.DashboardInterval, log.Logger)
	agg.SetMetrics(m)

	sweeper := handoff.NewSweeper(mgr, cfg.SweepInterval, log.Logger)

	authn, err := auth.NewAuthenticator(auth.Options{
		SkipAuth:   cfg.SkipAuth,
		JWTSecret:  cfg.JWTSecret,
		OIDCIssuer: cfg.OIDCIssuer,
		AgentRoles: cfg.AgentRoles,
		AdminRoles: cfg.AdminRoles,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise authentication")
	}
	if cfg.SkipAuth {
		log.Warn().Msg("SKIP_AUTH is set, every request acts as the dev agent")
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(tracing.Middleware)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(m))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(store))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	api.Routes{
		Visitor:     api.NewVisitorHandler(mgr, log.Logger),
		Agent:       api.NewAgentActionsHandler(mgr, authn, log.Logger),
		Admin:       api.NewAdminHandler(mgr, agg, archive, log.Logger),
		SessionWS:   websocket.NewHandler(hub, cfg, api.SessionTopics(mgr), log.Logger),
		AgentWS:     websocket.NewHandler(hub, cfg, api.AgentTopics(authn), log.Logger),
		DashboardWS: websocket.NewHandler(hub, cfg, api.DashboardTopics(authn), log.Logger),
	}.Register(r, authn)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { agg.Start(gctx); return nil })
	g.Go(func() error { sweeper.Start(gctx); return nil })
	g.Go(func() error {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		dispatcher.Wait()
		return shutdownTracer(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

// healthHandler handles liveness checks
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"handoff-service"}`)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// readyHandler reports 503 while the session store is unreachable
func readyHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unavailable"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready"}`)
	}
}
