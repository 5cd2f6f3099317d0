package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
)

const (
	// DefaultPresenceTTL is how long a heartbeat keeps an agent live (5 missed 60s keep-alives)
	DefaultPresenceTTL = 300 * time.Second
)

// profile is the display data remembered for every agent that was ever authorized
type profile struct {
	name      string
	avatarURL string
}

// PresenceTracker maintains the self-reported availability of all agents.
// Expiry is computed at read time; a row older than the TTL reads as offline.
type PresenceTracker struct {
	presence map[string]*types.Presence // agentID -> live row
	profiles map[string]profile         // agentID -> last known display data
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

// Option configures a PresenceTracker
type Option func(*PresenceTracker)

// WithClock replaces the wall clock, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(t *PresenceTracker) { t.now = now }
}

// NewPresenceTracker creates a new presence tracker with the given liveness window
func NewPresenceTracker(ttl time.Duration, opts ...Option) *PresenceTracker {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	t := &PresenceTracker{
		presence: make(map[string]*types.Presence),
		profiles: make(map[string]profile),
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL returns the liveness window
func (t *PresenceTracker) TTL() time.Duration {
	return t.ttl
}

// live reports whether p is present and fresh. Caller holds mu.
func (t *PresenceTracker) live(p *types.Presence, now time.Time) bool {
	return p != nil && now.Sub(p.LastHeartbeat) <= t.ttl
}

// SetStatus stores the agent's status with a fresh heartbeat. Setting offline
// clears the row. Returns false, and changes nothing, for unauthorized callers.
func (t *PresenceTracker) SetStatus(id types.AgentIdentity, status types.AgentStatus) bool {
	if !id.Authorized || id.AgentID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.profiles[id.AgentID] = profile{name: id.Name, avatarURL: id.AvatarURL}

	if status == types.StatusOffline {
		delete(t.presence, id.AgentID)
		return true
	}

	t.presence[id.AgentID] = &types.Presence{
		AgentID:       id.AgentID,
		Status:        status,
		LastHeartbeat: t.now(),
		Name:          id.Name,
		AvatarURL:     id.AvatarURL,
	}
	return true
}

// Heartbeat refreshes the agent's liveness and display data. An agent without
// live presence is initialised to available and initialized is true.
// Unauthorized callers read as offline and change nothing.
func (t *PresenceTracker) Heartbeat(id types.AgentIdentity) (status types.AgentStatus, initialized bool) {
	if !id.Authorized || id.AgentID == "" {
		return types.StatusOffline, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// An identity without display data keeps what is already known
	p := t.profiles[id.AgentID]
	if id.Name != "" || id.AvatarURL != "" {
		p = profile{name: id.Name, avatarURL: id.AvatarURL}
	}
	t.profiles[id.AgentID] = p

	now := t.now()
	existing := t.presence[id.AgentID]
	if t.live(existing, now) {
		existing.LastHeartbeat = now
		existing.Name = p.name
		existing.AvatarURL = p.avatarURL
		return existing.Status, false
	}

	t.presence[id.AgentID] = &types.Presence{
		AgentID:       id.AgentID,
		Status:        types.StatusAvailable,
		LastHeartbeat: now,
		Name:          p.name,
		AvatarURL:     p.avatarURL,
	}
	return types.StatusAvailable, true
}

// GetStatus returns the agent's status, offline when missing or stale
func (t *PresenceTracker) GetStatus(agentID string) types.AgentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p := t.presence[agentID]
	if !t.live(p, t.now()) {
		return types.StatusOffline
	}
	return p.Status
}

// ListOnline returns live agents among candidates annotated with their active
// session counts, ordered by agent id. An empty candidate list means every agent.
func (t *PresenceTracker) ListOnline(candidates []string, activeCounts map[string]int) []types.OnlineAgent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	online := make([]types.OnlineAgent, 0, len(t.presence))
	add := func(p *types.Presence) {
		online = append(online, types.OnlineAgent{
			AgentID:        p.AgentID,
			Name:           p.Name,
			Status:         p.Status,
			ActiveSessions: activeCounts[p.AgentID],
			LastHeartbeat:  p.LastHeartbeat,
		})
	}

	if len(candidates) == 0 {
		for _, p := range t.presence {
			if t.live(p, now) {
				add(p)
			}
		}
	} else {
		seen := make(map[string]bool, len(candidates))
		for _, id := range candidates {
			if seen[id] {
				continue
			}
			seen[id] = true
			if p := t.presence[id]; t.live(p, now) {
				add(p)
			}
		}
	}

	sort.Slice(online, func(i, j int) bool { return online[i].AgentID < online[j].AgentID })
	return online
}

// Profile returns the display summary for an agent, falling back to the id as name
func (t *PresenceTracker) Profile(agentID string) types.AgentSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.profiles[agentID]
	if !ok || p.name == "" {
		return types.AgentSummary{ID: agentID, Name: agentID, AvatarURL: p.avatarURL}
	}
	return types.AgentSummary{ID: agentID, Name: p.name, AvatarURL: p.avatarURL}
}

// Known returns the number of agents that ever set a status or sent a heartbeat
func (t *PresenceTracker) Known() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.profiles)
}

// KnownIDs returns the ids behind Known, sorted
func (t *PresenceTracker) KnownIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.profiles))
	for id := range t.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune removes expired presence rows and returns how many were dropped
func (t *PresenceTracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for id, p := range t.presence {
		if !t.live(p, now) {
			delete(t.presence, id)
			removed++
		}
	}
	return removed
}

// GetStatusCounts returns live agents per status
func (t *PresenceTracker) GetStatusCounts() map[types.AgentStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	counts := make(map[types.AgentStatus]int)
	for _, p := range t.presence {
		if t.live(p, now) {
			counts[p.Status]++
		}
	}
	return counts
}
