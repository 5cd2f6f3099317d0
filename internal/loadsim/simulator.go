// Package loadsim drives a running handoff service with simulated agents and
// visitors over its public REST API.
package loadsim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/dennisdiepolder/monti/handoff/pkg/client"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config controls one simulation run
type Config struct {
	BaseURL            string
	JWTSecret          string // signs the agent tokens; must match the service
	Agents             int
	Visitors           int
	MessagesPerVisitor int
	PollInterval       time.Duration
	VisitorSpread      time.Duration // visitors arrive uniformly within this window
	HTTPClient         *http.Client
}

func (c Config) withDefaults() Config {
	if c.Agents <= 0 {
		c.Agents = 1
	}
	if c.MessagesPerVisitor <= 0 {
		c.MessagesPerVisitor = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// Stats summarises a run
type Stats struct {
	Served        int64         `json:"served"`
	Offline       int64         `json:"offline"`
	Failed        int64         `json:"failed"`
	Replies       int64         `json:"replies"`
	MaxQueueWait  time.Duration `json:"maxQueueWait"`
	MeanQueueWait time.Duration `json:"meanQueueWait"`
}

// Simulator runs agents and visitors against one service
type Simulator struct {
	cfg    Config
	rng    *rand.Rand
	logger zerolog.Logger

	served, offline, failed, replies atomic.Int64

	mu    sync.Mutex
	waits []time.Duration
}

// NewSimulator creates a new simulator
func NewSimulator(cfg Config, logger zerolog.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg.withDefaults(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With().Str("component", "loadsim").Logger(),
	}
}

// AgentToken signs a short-lived HS256 token carrying the agent role
func AgentToken(secret, agentID, name string, ttl time.Duration) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   agentID,
		"name":  name,
		"roles": []string{"agent"},
		"exp":   time.Now().Add(ttl).Unix(),
	}).SignedString([]byte(secret))
}

func (s *Simulator) newClient(token string) *client.Client {
	opts := []client.Option{client.WithToken(token)}
	if s.cfg.HTTPClient != nil {
		opts = append(opts, client.WithHTTPClient(s.cfg.HTTPClient))
	}
	return client.NewClient(s.cfg.BaseURL, opts...)
}

// Run starts the agents, lets every visitor finish its conversation, then
// takes the agents offline. It returns the first agent error, if any.
func (s *Simulator) Run(ctx context.Context) (Stats, error) {
	agentCtx, stopAgents := context.WithCancel(ctx)
	defer stopAgents()

	agents, agentCtx := errgroup.WithContext(agentCtx)
	ready := make(chan struct{}, s.cfg.Agents)
	for i := 0; i < s.cfg.Agents; i++ {
		id := fmt.Sprintf("sim-agent-%03d", i+1)
		token, err := AgentToken(s.cfg.JWTSecret, id, fmt.Sprintf("Agent %d", i+1), 24*time.Hour)
		if err != nil {
			return Stats{}, err
		}
		a := &simAgent{id: id, api: s.newClient(token), sim: s}
		agents.Go(func() error { return a.run(agentCtx, ready) })
	}
	for i := 0; i < s.cfg.Agents; i++ {
		select {
		case <-ready:
		case <-agentCtx.Done():
			return s.stats(), agents.Wait()
		}
	}
	s.logger.Info().Int("agents", s.cfg.Agents).Msg("agents online")

	var visitors sync.WaitGroup
	for i := 0; i < s.cfg.Visitors; i++ {
		delay := time.Duration(0)
		if s.cfg.VisitorSpread > 0 {
			delay = time.Duration(s.rng.Int63n(int64(s.cfg.VisitorSpread)))
		}
		v := &simVisitor{token: uuid.NewString(), api: s.newClient(""), sim: s}
		visitors.Add(1)
		go func() {
			defer visitors.Done()
			v.run(agentCtx, delay)
		}()
	}
	visitors.Wait()

	stopAgents()
	err := agents.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	st := s.stats()
	s.logger.Info().
		Int64("served", st.Served).
		Int64("offline", st.Offline).
		Int64("failed", st.Failed).
		Dur("max_queue_wait", st.MaxQueueWait).
		Msg("simulation finished")
	return st, err
}

func (s *Simulator) recordWait(d time.Duration) {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
}

func (s *Simulator) stats() Stats {
	st := Stats{
		Served:  s.served.Load(),
		Offline: s.offline.Load(),
		Failed:  s.failed.Load(),
		Replies: s.replies.Load(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, w := range s.waits {
		total += w
		if w > st.MaxQueueWait {
			st.MaxQueueWait = w
		}
	}
	if len(s.waits) > 0 {
		st.MeanQueueWait = total / time.Duration(len(s.waits))
	}
	return st
}

// simAgent answers every visitor message with an echo
type simAgent struct {
	id      string
	api     *client.Client
	sim     *Simulator
	cursors map[int64]int64
}

func (a *simAgent) run(ctx context.Context, ready chan<- struct{}) error {
	if _, err := a.api.SetStatus(ctx, types.StatusAvailable); err != nil {
		return fmt.Errorf("agent %s: set status: %w", a.id, err)
	}
	ready <- struct{}{}
	defer func() {
		// Best effort; the presence TTL catches anything missed here
		offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		a.api.SetStatus(offCtx, types.StatusOffline)
	}()

	a.cursors = make(map[int64]int64)
	ticker := time.NewTicker(a.sim.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.poll(ctx); err != nil && ctx.Err() == nil {
				a.sim.logger.Debug().Err(err).Str("agent_id", a.id).Msg("agent poll failed")
			}
		}
	}
}

func (a *simAgent) poll(ctx context.Context) error {
	if _, err := a.api.Heartbeat(ctx); err != nil {
		return err
	}
	sessions, err := a.api.AgentSessions(ctx)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		msgs, err := a.api.AgentMessages(ctx, sess.ID, a.cursors[sess.ID])
		if err != nil {
			return err
		}
		for _, m := range msgs {
			a.cursors[sess.ID] = m.ID
			if m.SenderType != types.SenderUser {
				continue
			}
			if _, err := a.api.AgentSend(ctx, sess.ID, "Re: "+m.Text); err != nil {
				return err
			}
			a.sim.replies.Add(1)
		}
	}
	return nil
}

// simVisitor requests a handoff, exchanges messages and ends the chat
type simVisitor struct {
	token string
	api   *client.Client
	sim   *Simulator
}

func (v *simVisitor) run(ctx context.Context, delay time.Duration) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	if err := v.converse(ctx); err != nil {
		if ctx.Err() == nil {
			v.sim.logger.Warn().Err(err).Str("chat_token", v.token).Msg("visitor conversation failed")
		}
		v.sim.failed.Add(1)
	}
}

func (v *simVisitor) converse(ctx context.Context) error {
	requested := time.Now()
	resp, err := v.api.RequestHandoff(ctx, types.HandoffRequest{
		ConversationRef: "sim-" + v.token,
		VisitorID:       "visitor-" + v.token[:8],
		ChatToken:       v.token,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		v.sim.offline.Add(1)
		return nil
	}

	if resp.Status == types.SessionWaiting {
		if err := v.awaitAgent(ctx); err != nil {
			return err
		}
	}
	v.sim.recordWait(time.Since(requested))

	for i := 0; i < v.sim.cfg.MessagesPerVisitor; i++ {
		id, err := v.api.VisitorSend(ctx, resp.SessionID, v.token, fmt.Sprintf("question %d", i+1))
		if err != nil {
			return err
		}
		if err := v.awaitReply(ctx, resp.SessionID, id); err != nil {
			return err
		}
	}

	if _, err := v.api.VisitorEnd(ctx, resp.SessionID, v.token); err != nil {
		return err
	}
	v.sim.served.Add(1)
	return nil
}

func (v *simVisitor) awaitAgent(ctx context.Context) error {
	ticker := time.NewTicker(v.sim.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		st, err := v.api.Status(ctx, v.token)
		if err != nil {
			return err
		}
		switch st.Status {
		case types.SessionActive:
			return nil
		case types.SessionEnded:
			return errors.New("session ended while waiting")
		}
	}
}

// awaitReply polls until an agent message newer than after shows up
func (v *simVisitor) awaitReply(ctx context.Context, sessionID, after int64) error {
	ticker := time.NewTicker(v.sim.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		msgs, err := v.api.VisitorMessages(ctx, sessionID, v.token, after)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			after = m.ID
			if m.SenderType == types.SenderAgent {
				return nil
			}
		}
	}
}
