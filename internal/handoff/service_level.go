package handoff

import (
	"sync"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
)

// SLTracker tracks how many visitors were connected within the threshold
type SLTracker struct {
	mu            sync.Mutex
	Target        int // target percentage (e.g., 80)
	ThresholdSecs int // threshold in seconds (e.g., 60)
	AnsweredInSL  int // sessions connected within threshold
	TotalAnswered int // total sessions connected
}

// NewSLTracker creates a new SL tracker with the given target
func NewSLTracker(target, thresholdSecs int) *SLTracker {
	return &SLTracker{
		Target:        target,
		ThresholdSecs: thresholdSecs,
	}
}

// RecordAnswer records a session being connected after waitTimeSecs
func (s *SLTracker) RecordAnswer(waitTimeSecs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalAnswered++
	if s.within(waitTimeSecs) {
		s.AnsweredInSL++
	}
}

// Within reports whether a wait counts as answered inside the service level
func (s *SLTracker) Within(waitTimeSecs float64) bool {
	return s.within(waitTimeSecs)
}

func (s *SLTracker) within(waitTimeSecs float64) bool {
	return waitTimeSecs <= float64(s.ThresholdSecs)
}

// CurrentSL returns the current service level percentage
func (s *SLTracker) CurrentSL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSL()
}

func (s *SLTracker) currentSL() float64 {
	if s.TotalAnswered == 0 {
		return 100.0 // nothing answered yet
	}
	return float64(s.AnsweredInSL) / float64(s.TotalAnswered) * 100.0
}

// Snapshot returns a ServiceLevel snapshot
func (s *SLTracker) Snapshot() types.ServiceLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.ServiceLevel{
		Target:        s.Target,
		ThresholdSecs: s.ThresholdSecs,
		AnsweredInSL:  s.AnsweredInSL,
		TotalAnswered: s.TotalAnswered,
		CurrentSL:     s.currentSL(),
	}
}
