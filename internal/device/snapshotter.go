package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

const (
	defaultSnapshotInterval = 5 * time.Minute
	saveTimeout             = 10 * time.Second
)

// Logger is the logging interface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Source supplies the live engine state to persist.
type Source interface {
	Snapshot() []nasa.AttributeState
	DeviceList() []nasa.Device
}

// Restorer accepts persisted values at start.
type Restorer interface {
	Restore(states []nasa.AttributeState) int
}

// SnapshotterConfig configures a Snapshotter.
type SnapshotterConfig struct {
	Repository Repository
	Source     Source

	// Interval between periodic saves. Default: 5 minutes.
	Interval time.Duration

	// History and Retention enable periodic pruning of the change log.
	History   HistoryRepository
	Retention time.Duration
}

// Snapshotter periodically persists the engine's attribute values and
// device table so they survive a restart.
type Snapshotter struct {
	repo      Repository
	source    Source
	interval  time.Duration
	history   HistoryRepository
	retention time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSnapshotter creates a Snapshotter. Call Start to begin saving.
func NewSnapshotter(cfg SnapshotterConfig) *Snapshotter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}
	return &Snapshotter{
		repo:      cfg.Repository,
		source:    cfg.Source,
		interval:  interval,
		history:   cfg.History,
		retention: cfg.Retention,
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (s *Snapshotter) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Restore loads the stored snapshot into target and returns how many
// values were accepted. Restored values are stale until re-read.
func (s *Snapshotter) Restore(ctx context.Context, target Restorer) (int, error) {
	states, err := s.repo.LoadSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading snapshot: %w", err)
	}
	if len(states) == 0 {
		return 0, nil
	}
	return target.Restore(states), nil
}

// SaveNow persists the current devices and attribute values.
func (s *Snapshotter) SaveNow(ctx context.Context) error {
	if err := s.repo.SaveDevices(ctx, s.source.DeviceList()); err != nil {
		return err
	}
	return s.repo.SaveSnapshot(ctx, s.source.Snapshot())
}

// Start begins periodic saving until ctx is cancelled or Stop is called.
func (s *Snapshotter) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends periodic saving and writes a final snapshot.
// Safe to call multiple times.
func (s *Snapshotter) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := s.SaveNow(ctx); err != nil {
			s.logError("final snapshot failed", err)
		}
	})
}

func (s *Snapshotter) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Snapshotter) tick(ctx context.Context) {
	saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := s.SaveNow(saveCtx); err != nil {
		s.logError("snapshot failed", err)
	}

	if s.history == nil || s.retention <= 0 {
		return
	}
	n, err := s.history.PruneHistory(saveCtx, s.retention)
	if err != nil {
		s.logError("history prune failed", err)
		return
	}
	if n > 0 {
		s.loggerMu.RLock()
		logger := s.logger
		s.loggerMu.RUnlock()
		if logger != nil {
			logger.Info("attribute history pruned", "rows", n)
		}
	}
}

func (s *Snapshotter) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
