package handoff

import (
	"github.com/dennisdiepolder/monti/handoff/internal/types"
)

// RoutingStrategy selects the agent that should take the next session
type RoutingStrategy interface {
	SelectAgent(online []types.OnlineAgent, maxConcurrent int) *types.OnlineAgent
}

// LeastLoaded selects the available agent with the fewest active sessions
type LeastLoaded struct{}

// SelectAgent implements RoutingStrategy
func (LeastLoaded) SelectAgent(online []types.OnlineAgent, maxConcurrent int) *types.OnlineAgent {
	return FindAvailableAgent(online, maxConcurrent)
}

// FindAvailableAgent returns the available agent under the concurrency cap with
// the fewest active sessions, ties broken by agent id. Nil when nobody qualifies.
func FindAvailableAgent(online []types.OnlineAgent, maxConcurrent int) *types.OnlineAgent {
	var best *types.OnlineAgent
	for i := range online {
		a := &online[i]
		if a.Status != types.StatusAvailable || a.ActiveSessions >= maxConcurrent {
			continue
		}
		if best == nil ||
			a.ActiveSessions < best.ActiveSessions ||
			(a.ActiveSessions == best.ActiveSessions && a.AgentID < best.AgentID) {
			best = a
		}
	}
	return best
}
