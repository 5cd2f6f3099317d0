package handoff

import "testing"

func TestServiceLevelCalculation(t *testing.T) {
	sl := NewSLTracker(80, 60)

	if sl.CurrentSL() != 100.0 {
		t.Errorf("expected 100%% SL with no sessions, got %.1f%%", sl.CurrentSL())
	}

	sl.RecordAnswer(5)
	sl.RecordAnswer(30)
	sl.RecordAnswer(59)
	sl.RecordAnswer(60) // exactly at threshold counts
	sl.RecordAnswer(61)

	if sl.CurrentSL() != 80.0 {
		t.Errorf("expected 80%% SL, got %.1f%%", sl.CurrentSL())
	}

	snapshot := sl.Snapshot()
	if snapshot.AnsweredInSL != 4 || snapshot.TotalAnswered != 5 {
		t.Errorf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.Target != 80 || snapshot.ThresholdSecs != 60 {
		t.Errorf("unexpected target/threshold: %+v", snapshot)
	}
}
