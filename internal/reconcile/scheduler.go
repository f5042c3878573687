// Package reconcile runs the periodic status poll of every active platform.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"platformd/backend/internal/platform"
)

// Poller is the part of the lifecycle controller the scheduler drives.
type Poller interface {
	ActiveIDs(ctx context.Context, kind platform.Kind) ([]uint, error)
	PollIfIdle(ctx context.Context, kind platform.Kind, id uint) (bool, error)
}

type Options struct {
	Interval        time.Duration
	Workers         int
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Summary counts what one reconcile pass did.
type Summary struct {
	Polled  int64
	Skipped int64
	Failed  int64
}

type Scheduler struct {
	registry *platform.Registry
	poller   Poller
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(registry *platform.Registry, poller Poller, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		registry: registry,
		poller:   poller,
		opts:     opts,
		logger:   logger.With("component", "reconcile"),
	}
}

// Start runs a pass immediately and then on every tick until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("reconcile scheduler started", "interval", s.opts.Interval.String(), "workers", s.opts.Workers)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		sum := s.RunOnce(ctx)
		s.logger.Debug("reconcile pass finished", "polled", sum.Polled, "skipped", sum.Skipped, "failed", sum.Failed)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels in-flight polls and waits for the loop to exit, at most ShutdownTimeout.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.logger.Info("reconcile scheduler stopped")
		return nil
	case <-time.After(s.opts.ShutdownTimeout):
		return fmt.Errorf("reconcile scheduler did not stop within %s", s.opts.ShutdownTimeout)
	}
}

// RunOnce polls every active platform of every kind with at most Workers polls at a time and
// waits for all of them.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	var (
		sum Summary
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(s.opts.Workers))
	)

dispatch:
	for _, kind := range s.registry.Kinds() {
		ids, err := s.poller.ActiveIDs(ctx, kind)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("failed to list active platforms", "kind", kind.Name(), "error", err)
			}
			continue
		}
		for _, id := range ids {
			if err := sem.Acquire(ctx, 1); err != nil {
				break dispatch
			}
			wg.Add(1)
			go func(kind platform.Kind, id uint) {
				defer wg.Done()
				defer sem.Release(1)
				s.pollOne(ctx, kind, id, &sum)
			}(kind, id)
		}
	}
	wg.Wait()
	return sum
}

func (s *Scheduler) pollOne(ctx context.Context, kind platform.Kind, id uint, sum *Summary) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&sum.Failed, 1)
			s.logger.Error("poll panicked",
				"kind", kind.Name(),
				"platform_id", id,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	ran, err := s.poller.PollIfIdle(ctx, kind, id)
	switch {
	case err != nil:
		atomic.AddInt64(&sum.Failed, 1)
		if ctx.Err() == nil {
			s.logger.Warn("poll failed", "kind", kind.Name(), "platform_id", id, "error", err)
		}
	case !ran:
		atomic.AddInt64(&sum.Skipped, 1)
		s.logger.Debug("poll skipped, platform busy", "kind", kind.Name(), "platform_id", id)
	default:
		atomic.AddInt64(&sum.Polled, 1)
	}
}
