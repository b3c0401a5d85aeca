package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ReloadScheduler periodically calls a Manager's Refresh on a fixed
// interval, guarding against overlapping runs with both an in-process
// single-flight flag and a cross-process advisory file lock. Grounded on
// the teacher's running-bool-plus-mutex single-flight guard and lock-file
// marker pattern, combined with reload_scheduler.py's ticker/stop-event
// shape.
type ReloadScheduler struct {
	manager  *Manager
	interval time.Duration
	log      *slog.Logger

	lock *flock.Flock

	mu        sync.Mutex
	reloading bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReloadScheduler builds a scheduler that refreshes manager every
// interval. The advisory lock file is created at <cacheRoot>/reload.lock.
func NewReloadScheduler(manager *Manager, interval time.Duration, cacheRoot string, log *slog.Logger) *ReloadScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &ReloadScheduler{
		manager:  manager,
		interval: interval,
		log:      log,
		lock:     flock.New(filepath.Join(cacheRoot, "reload.lock")),
	}
}

// Start launches the scheduler's background loop. It is a no-op if the
// configured interval is zero or negative.
func (s *ReloadScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *ReloadScheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one refresh attempt, skipping it entirely if either the
// in-process flag or the cross-process file lock is already held.
func (s *ReloadScheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.reloading {
		s.mu.Unlock()
		s.log.Warn("skipping reload tick, previous refresh still running")
		return
	}
	s.reloading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reloading = false
		s.mu.Unlock()
	}()

	acquired, err := s.lock.TryLock()
	if err != nil {
		s.log.Warn("failed to acquire reload lock", "error", err)
		return
	}
	if !acquired {
		s.log.Warn("skipping reload tick, reload.lock held by another process")
		return
	}
	defer s.lock.Unlock()

	result, err := s.manager.Refresh(ctx)
	if err != nil {
		s.log.Error("scheduled refresh failed", "error", err)
		return
	}

	switch {
	case result.NoChange:
		s.log.Debug("scheduled refresh found no changes")
	case result.FullRebuild != nil:
		s.log.Info("scheduled refresh performed a full rebuild", "reason", *result.FullRebuild)
	case result.Incremental != nil:
		s.log.Info("scheduled refresh applied incremental changes",
			"added", len(result.Incremental.Added),
			"modified", len(result.Incremental.Modified),
			"deleted", len(result.Incremental.Deleted),
		)
	}
}

// IsReloading reports whether a scheduled refresh is currently in flight.
func (s *ReloadScheduler) IsReloading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloading
}

// Stop signals the background loop to exit and waits up to 5 seconds for
// any in-flight refresh to finish. It is idempotent and safe to call on a
// scheduler that was never started.
func (s *ReloadScheduler) Stop() error {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	select {
	case <-stopCh:
		// already closed by a prior Stop call
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("reload scheduler did not stop within 5s")
	}
}
