package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	ServiceName    string

	// WebSocket push channel
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Handoff behaviour
	HandoffEnabled     bool
	QueueEnabled       bool
	MaxConcurrentChats int
	AgentRoster        []string
	WaitingTemplate    string
	ConnectedTemplate  string
	OfflineTemplate    string
	PresenceTTL        time.Duration
	WaitingTimeout     time.Duration
	SweepInterval      time.Duration
	SLTarget           int
	SLSeconds          int
	MaxMessageLength   int

	// Supervisor overview
	DashboardInterval time.Duration
	AlertWaitWarning  time.Duration
	AlertWaitCritical time.Duration

	// Auth
	SkipAuth   bool
	JWTSecret  string
	OIDCIssuer string
	AgentRoles []string
	AdminRoles []string

	// Notifications
	WebhookURL   string
	AMQPURL      string
	AMQPExchange string

	// Tracing
	OTLPEndpoint string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "handoff-service"),
		AgentRoster:       splitList(getEnv("AGENT_ROSTER", "")),
		WaitingTemplate:   os.Getenv("WAITING_TEMPLATE"),
		ConnectedTemplate: os.Getenv("CONNECTED_TEMPLATE"),
		OfflineTemplate:   os.Getenv("OFFLINE_TEMPLATE"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		OIDCIssuer:        os.Getenv("OIDC_ISSUER"),
		AgentRoles:        splitList(getEnv("AGENT_ROLES", "agent,supervisor,admin")),
		AdminRoles:        splitList(getEnv("ADMIN_ROLES", "supervisor,admin")),
		WebhookURL:        os.Getenv("NOTIFY_WEBHOOK_URL"),
		AMQPURL:           os.Getenv("NOTIFY_AMQP_URL"),
		AMQPExchange:      getEnv("NOTIFY_AMQP_EXCHANGE", "handoff.notifications"),
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"),
	}

	p := parser{}
	cfg.WSReadTimeout = p.seconds("WS_READ_TIMEOUT", 60)
	cfg.WSWriteTimeout = p.seconds("WS_WRITE_TIMEOUT", 10)
	cfg.HandoffEnabled = p.boolean("HANDOFF_ENABLED", true)
	cfg.QueueEnabled = p.boolean("QUEUE_ENABLED", true)
	cfg.MaxConcurrentChats = p.integer("MAX_CONCURRENT_CHATS", 3)
	cfg.PresenceTTL = p.seconds("PRESENCE_TTL", 300)
	cfg.WaitingTimeout = p.seconds("WAITING_TIMEOUT", 0)
	cfg.SweepInterval = p.seconds("SWEEP_INTERVAL", 30)
	cfg.SLTarget = p.integer("SL_TARGET", 80)
	cfg.SLSeconds = p.integer("SL_SECONDS", 60)
	cfg.MaxMessageLength = p.integer("MAX_MESSAGE_LENGTH", 4000)
	cfg.DashboardInterval = p.seconds("DASHBOARD_INTERVAL", 2)
	cfg.AlertWaitWarning = p.seconds("ALERT_WAIT_WARNING", 120)
	cfg.AlertWaitCritical = p.seconds("ALERT_WAIT_CRITICAL", 300)
	cfg.SkipAuth = p.boolean("SKIP_AUTH", false)
	if p.err != nil {
		return nil, p.err
	}

	if cfg.MaxConcurrentChats <= 0 {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_CHATS: must be positive, got %d", cfg.MaxConcurrentChats)
	}
	if cfg.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("invalid MAX_MESSAGE_LENGTH: must be positive, got %d", cfg.MaxMessageLength)
	}
	if cfg.SLTarget > 100 {
		return nil, fmt.Errorf("invalid SL_TARGET: %d is above 100", cfg.SLTarget)
	}

	// Calculate WebSocket constants
	cfg.PongWait = cfg.WSReadTimeout
	cfg.PingPeriod = (cfg.PongWait * 9) / 10 // Must be less than pongWait
	cfg.WriteWait = cfg.WSWriteTimeout
	cfg.MaxMessageSize = 512

	return cfg, nil
}

// parser keeps the first parse error so Load can read every key in sequence
type parser struct {
	err error
}

func (p *parser) integer(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return def
	}
	return v
}

func (p *parser) seconds(key string, def int) time.Duration {
	v := p.integer(key, def)
	if v < 0 && p.err == nil {
		p.err = fmt.Errorf("invalid %s: negative duration %d", key, v)
	}
	return time.Duration(v) * time.Second
}

func (p *parser) boolean(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return def
	}
	return v
}

// splitList splits a comma separated value, trimming blanks and dropping empties
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
