package health

import (
	"testing"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

func TestTracker_FirstObservationLogs(t *testing.T) {
	tracker := NewStatusTransitionTracker()

	shouldLog, errorCount := tracker.ShouldLog("worker-1", domain.StatusHealthy, false)
	if !shouldLog {
		t.Error("First observation must log")
	}
	if errorCount != 0 {
		t.Errorf("errorCount = %d, expected 0", errorCount)
	}
}

func TestTracker_RepeatedStatusSuppressed(t *testing.T) {
	tracker := NewStatusTransitionTracker()

	tracker.ShouldLog("worker-1", domain.StatusHealthy, false)

	for i := 0; i < 5; i++ {
		if shouldLog, _ := tracker.ShouldLog("worker-1", domain.StatusHealthy, false); shouldLog {
			t.Fatalf("Repeat %d of an unchanged healthy status must be suppressed", i+1)
		}
	}
}

func TestTracker_TransitionAlwaysLogs(t *testing.T) {
	tracker := NewStatusTransitionTracker()

	tracker.ShouldLog("worker-1", domain.StatusHealthy, false)

	shouldLog, _ := tracker.ShouldLog("worker-1", domain.StatusOffline, true)
	if !shouldLog {
		t.Error("Status transition must log")
	}

	shouldLog, _ = tracker.ShouldLog("worker-1", domain.StatusHealthy, false)
	if !shouldLog {
		t.Error("Recovery transition must log")
	}
}

func TestTracker_EveryTenthErrorLogs(t *testing.T) {
	tracker := NewStatusTransitionTracker()

	tracker.ShouldLog("worker-1", domain.StatusOffline, true)

	logged := 0
	for i := 0; i < 20; i++ {
		if shouldLog, count := tracker.ShouldLog("worker-1", domain.StatusOffline, true); shouldLog {
			logged++
			if count%10 != 0 {
				t.Errorf("Logged at error count %d, expected multiples of 10", count)
			}
		}
	}

	if logged != 2 {
		t.Errorf("Logged %d times over 20 repeated errors, expected 2", logged)
	}
}

func TestTracker_CleanupForgetsWorker(t *testing.T) {
	tracker := NewStatusTransitionTracker()

	tracker.ShouldLog("worker-1", domain.StatusHealthy, false)
	tracker.CleanupWorker("worker-1")

	if got := tracker.GetTrackedWorkers(); len(got) != 0 {
		t.Errorf("Tracked workers after cleanup = %v", got)
	}

	// Forgotten workers are treated as first observations again
	if shouldLog, _ := tracker.ShouldLog("worker-1", domain.StatusHealthy, false); !shouldLog {
		t.Error("Worker must log again after cleanup")
	}
}
