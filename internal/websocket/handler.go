package websocket

import (
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/handoff/internal/config"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrForbidden is returned by a TopicResolver to reject the upgrade with 403
var ErrForbidden = errors.New("forbidden")

// TopicResolver decides which topics a connecting request may listen on.
// It runs before the upgrade, so a plain HTTP error can still be written.
type TopicResolver func(r *http.Request) ([]string, error)

// Handler handles WebSocket upgrade requests for one kind of client
type Handler struct {
	hub      *Hub
	config   *config.Config
	resolve  TopicResolver
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, cfg *config.Config, resolve TopicResolver, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:     hub,
		config:  cfg,
		resolve: resolve,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: logger,
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and browsers from the configured origins. "*" allows all.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics, err := h.resolve(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrForbidden) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger, topics...)
	if !h.hub.join(client) {
		h.logger.Debug().Msg("hub stopped, closing upgraded connection")
		conn.Close()
		return
	}
	client.Start()
}
