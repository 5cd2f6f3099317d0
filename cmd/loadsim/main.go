package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/loadsim"
	"github.com/dennisdiepolder/monti/handoff/pkg/client"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	var (
		backendURL   = flag.String("backend-url", "http://localhost:8080", "Handoff service URL")
		jwtSecret    = flag.String("jwt-secret", os.Getenv("JWT_SECRET"), "HS256 secret shared with the service")
		agentCount   = flag.Int("agents", 5, "Number of simulated agents")
		visitorCount = flag.Int("visitors", 20, "Number of simulated visitors")
		messages     = flag.Int("messages", 3, "Messages each visitor sends")
		poll         = flag.Duration("poll", 500*time.Millisecond, "Poll interval for agents and visitors")
		spread       = flag.Duration("spread", 30*time.Second, "Window in which visitors arrive")
		timeout      = flag.Duration("timeout", 10*time.Minute, "Abort the run after this long")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "loadsim").
		Logger()

	if *jwtSecret == "" {
		logger.Fatal().Msg("a JWT secret is required to sign agent tokens (-jwt-secret or JWT_SECRET)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := client.NewClient(*backendURL).Health(ctx); err != nil {
		logger.Fatal().Err(err).Str("backend_url", *backendURL).Msg("handoff service is not healthy")
	}

	logger.Info().
		Str("backend_url", *backendURL).
		Int("agents", *agentCount).
		Int("visitors", *visitorCount).
		Msg("starting simulation")

	sim := loadsim.NewSimulator(loadsim.Config{
		BaseURL:            *backendURL,
		JWTSecret:          *jwtSecret,
		Agents:             *agentCount,
		Visitors:           *visitorCount,
		MessagesPerVisitor: *messages,
		PollInterval:       *poll,
		VisitorSpread:      *spread,
	}, logger)

	stats, err := sim.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("simulation aborted")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(stats)

	if err != nil || stats.Failed > 0 {
		os.Exit(1)
	}
}
