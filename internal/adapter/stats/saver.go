package stats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/ports"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Saver persists metrics snapshots to disk on a background tick. Writes are
// atomic: the snapshot lands in a sibling temp file that is renamed over the
// target, so readers never observe a torn file.
type Saver struct {
	collector ports.StatsCollector
	logger    logger.StyledLogger
	path      string
	interval  time.Duration

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

func NewSaver(collector ports.StatsCollector, path string, interval time.Duration, styledLogger logger.StyledLogger) *Saver {
	return &Saver{
		collector: collector,
		logger:    styledLogger,
		path:      path,
		interval:  interval,
	}
}

// Start begins the periodic save loop. With no file path configured,
// persistence stays disabled and Start is a no-op.
func (s *Saver) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	if s.path == "" {
		s.logger.Debug("Metrics persistence disabled, no file path configured")
		return
	}

	interval := s.interval
	if interval <= 0 {
		interval = 300 * time.Second
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	go s.loop(interval)

	s.logger.Info("Metrics persistence started", "path", s.path, "interval", interval)
}

// Stop halts the loop and attempts one final save.
func (s *Saver) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return
	}

	if err := s.Save(); err != nil {
		s.logger.Warn("Final metrics save failed", "error", err)
	}
}

func (s *Saver) loop(interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.logger.Warn("Metrics save failed", "path", s.path, "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Save writes the current snapshot via temp-file + rename.
func (s *Saver) Save() error {
	if s.path == "" {
		return nil
	}

	snapshot := s.collector.GetSnapshot()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp metrics file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write metrics snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp metrics file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename metrics snapshot: %w", err)
	}

	return nil
}
