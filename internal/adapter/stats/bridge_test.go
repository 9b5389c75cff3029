package stats

import (
	"context"
	"testing"
	"time"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/adapter/jobs"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/config"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
)

func waitForSnapshot(t *testing.T, collector *Collector, ready func(ports.MetricsSnapshot) bool) ports.MetricsSnapshot {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snapshot := collector.GetSnapshot()
		if ready(snapshot) {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot never reached the expected shape: %+v", collector.GetSnapshot())
	return ports.MetricsSnapshot{}
}

func TestBridge_RecordsLifecycleOutcomes(t *testing.T) {
	registry := jobs.NewRegistry(config.JobsConfig{}, testStyledLogger())
	defer registry.Close()

	collector := NewCollector()
	bridge := NewBridge(registry, collector, testStyledLogger())
	bridge.Start(context.Background())
	defer bridge.Stop()

	ctx := context.Background()
	input := domain.JobInput{Image: "aGVsbG8="}

	completed, err := registry.Create(ctx, domain.JobKindRemoveBackground, input)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := registry.MarkProcessing(ctx, completed.ID, "worker-1"); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := registry.Complete(ctx, completed.ID, &domain.JobResult{Image: "data:image/png;base64,eA=="}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	failed, err := registry.Create(ctx, domain.JobKindUpscaleImage, input)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := registry.MarkProcessing(ctx, failed.ID, "worker-2"); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	jobErr := domain.NewJobError(domain.ErrorKindTransport, "connection refused", nil)
	if err := registry.Fail(ctx, failed.ID, jobErr); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	snapshot := waitForSnapshot(t, collector, func(s ports.MetricsSnapshot) bool {
		return s.Global.Created == 2 && s.Global.Completed == 1 && s.Global.Failed == 1
	})

	if got := snapshot.Workers["worker-1"].Completed; got != 1 {
		t.Errorf("worker-1 completed = %d, expected 1", got)
	}
	if got := snapshot.Workers["worker-2"].Failed; got != 1 {
		t.Errorf("worker-2 failed = %d, expected 1", got)
	}
	if got := snapshot.Kinds[string(domain.JobKindRemoveBackground)].Completed; got != 1 {
		t.Errorf("remove-background completed = %d, expected 1", got)
	}
	if len(snapshot.RecentErrors) != 1 {
		t.Fatalf("recent errors = %d, expected the transport failure", len(snapshot.RecentErrors))
	}
	sample := snapshot.RecentErrors[0]
	if sample.ErrorKind != string(domain.ErrorKindTransport) || sample.Message != "connection refused" {
		t.Errorf("recent error = %+v", sample)
	}
}

func TestBridge_CountsRegistryDeadlineFailures(t *testing.T) {
	registry := jobs.NewRegistry(config.JobsConfig{
		JobTimeout:        30 * time.Millisecond,
		TerminalRetention: 10 * time.Minute,
	}, testStyledLogger())
	defer registry.Close()

	collector := NewCollector()
	bridge := NewBridge(registry, collector, testStyledLogger())
	bridge.Start(context.Background())
	defer bridge.Stop()

	// never dispatched; the deadline timer is the only failure path
	if _, err := registry.Create(context.Background(), domain.JobKindRemoveBackground, domain.JobInput{Image: "aGVsbG8="}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	waitForSnapshot(t, collector, func(s ports.MetricsSnapshot) bool {
		return s.Global.Failed == 1
	})
}

func TestBridge_StopIsIdempotent(t *testing.T) {
	registry := jobs.NewRegistry(config.JobsConfig{}, testStyledLogger())
	defer registry.Close()

	bridge := NewBridge(registry, NewCollector(), testStyledLogger())
	bridge.Start(context.Background())
	bridge.Stop()
	bridge.Stop()
	bridge.Start(context.Background())
	bridge.Stop()
}
