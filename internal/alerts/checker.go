package alerts

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
)

// Rules holds the thresholds for queue and agent alerts
type Rules struct {
	WaitWarning   time.Duration // longest wait before a warning
	WaitCritical  time.Duration // longest wait before a critical alert
	MaxConcurrent int           // per-agent chat cap
	HeartbeatLate time.Duration // silence before an agent is flagged; 0 disables
}

// DefaultRules are used for zero-valued thresholds
var DefaultRules = Rules{
	WaitWarning:   2 * time.Minute,
	WaitCritical:  5 * time.Minute,
	MaxConcurrent: 3,
	HeartbeatLate: 2 * time.Minute,
}

func (r Rules) withDefaults() Rules {
	if r.WaitWarning <= 0 {
		r.WaitWarning = DefaultRules.WaitWarning
	}
	if r.WaitCritical <= 0 {
		r.WaitCritical = DefaultRules.WaitCritical
	}
	if r.MaxConcurrent <= 0 {
		r.MaxConcurrent = DefaultRules.MaxConcurrent
	}
	return r
}

// CheckQueueAlerts evaluates queue-level rules and agent rules on the
// snapshot, replacing its Alerts and every agent's Alerts in place.
func CheckQueueAlerts(snap *types.QueueSnapshot, rules Rules, now time.Time) {
	rules = rules.withDefaults()
	snap.Alerts = nil

	wait := time.Duration(snap.LongestWaitSecs * float64(time.Second))
	switch {
	case snap.WaitingCount > 0 && wait > rules.WaitCritical:
		snap.Alerts = append(snap.Alerts, types.Alert{
			Rule:     "wait_long",
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("Visitor waiting for %s", formatDuration(wait)),
		})
	case snap.WaitingCount > 0 && wait > rules.WaitWarning:
		snap.Alerts = append(snap.Alerts, types.Alert{
			Rule:     "wait_long",
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("Visitor waiting for %s", formatDuration(wait)),
		})
	}

	if snap.WaitingCount > 0 && snap.AvailableAgents == 0 {
		snap.Alerts = append(snap.Alerts, types.Alert{
			Rule:     "no_agents_available",
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("%d waiting, no agent free", snap.WaitingCount),
		})
	}

	sl := snap.ServiceLevel
	if sl.TotalAnswered > 0 && sl.CurrentSL < float64(sl.Target) {
		snap.Alerts = append(snap.Alerts, types.Alert{
			Rule:     "sl_below_target",
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("SL %.0f%% below target %d%%", sl.CurrentSL, sl.Target),
		})
	}

	CheckAgentAlerts(snap.OnlineAgents, rules, now)
}

// CheckAgentAlerts evaluates alert rules for a slice of agents,
// mutating each agent's Alerts field in place.
func CheckAgentAlerts(agents []types.OnlineAgent, rules Rules, now time.Time) {
	rules = rules.withDefaults()
	for i := range agents {
		agents[i].Alerts = nil

		if agents[i].ActiveSessions >= rules.MaxConcurrent {
			agents[i].Alerts = append(agents[i].Alerts, types.Alert{
				Rule:     "at_capacity",
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("%d of %d chats", agents[i].ActiveSessions, rules.MaxConcurrent),
			})
		}

		if rules.HeartbeatLate > 0 {
			if silent := now.Sub(agents[i].LastHeartbeat); silent > rules.HeartbeatLate {
				agents[i].Alerts = append(agents[i].Alerts, types.Alert{
					Rule:     "heartbeat_late",
					Severity: types.SeverityWarning,
					Message:  fmt.Sprintf("No heartbeat for %s", formatDuration(silent)),
				})
			}
		}
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		return fmt.Sprintf("%dh%dm", mins/60, mins%60)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
