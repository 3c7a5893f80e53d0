// Package scheduler drives build cycles on a fixed interval and publishes
// their results to the snapshot store.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contestboard/internal/builder"
	"github.com/JakeFAU/contestboard/internal/contest"
	"github.com/JakeFAU/contestboard/internal/metrics"
	"github.com/JakeFAU/contestboard/internal/snapshot"
)

// State is the scheduler's position in its build loop.
type State string

// Scheduler states.
const (
	StateIdle     State = "idle"
	StateBuilding State = "building"
	// StateFailed means the last build failed and the scheduler is waiting for the next tick.
	StateFailed State = "failed"
)

const notifyTimeout = 10 * time.Second

// ErrStopped is returned by Trigger after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Builder runs one build cycle.
type Builder interface {
	Build(ctx context.Context) (*contest.Snapshot, contest.Meta, builder.Stats, error)
}

// Config controls scheduling.
type Config struct {
	// Interval is measured from the end of one build to the start of the next.
	Interval time.Duration
	// Topic receives a contest.PublishedEvent after every publish. Empty disables notifications.
	Topic string
}

// Scheduler owns the only writer path into the snapshot store.
type Scheduler struct {
	cfg       Config
	builder   Builder
	store     *snapshot.Store
	publisher contest.Publisher
	clock     contest.Clock
	logger    *zap.Logger

	building atomic.Bool
	state    atomic.Value
	finished chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// New constructs a Scheduler. publisher may be nil.
func New(
	cfg Config,
	b Builder,
	store *snapshot.Store,
	publisher contest.Publisher,
	clock contest.Clock,
	logger *zap.Logger,
) (*Scheduler, error) {
	if b == nil || store == nil || clock == nil {
		return nil, errors.New("builder, store and clock are required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:       cfg,
		builder:   b,
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("scheduler"),
		finished:  make(chan struct{}, 1),
		baseCtx:   context.Background(),
		loopDone:  make(chan struct{}),
	}
	s.state.Store(StateIdle)
	return s, nil
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

// Start runs a build immediately and then one per interval until Stop or ctx
// cancellation. Calling Start more than once has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	go s.loop(s.baseCtx)
}

// Stop ends the loop and waits for any in-flight build to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if started {
		<-s.loopDone
	}
	s.inflight.Wait()
}

// Trigger starts a build in the background. It returns
// contest.ErrBuildInProgress when a build is already running.
func (s *Scheduler) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if !s.building.CompareAndSwap(false, true) {
		return contest.ErrBuildInProgress
	}
	ctx := s.baseCtx
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_ = s.cycle(ctx, "manual")
	}()
	return nil
}

// RunOnce runs a build synchronously and returns its error. It returns
// contest.ErrBuildInProgress when a build is already running.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.building.CompareAndSwap(false, true) {
		return contest.ErrBuildInProgress
	}
	return s.cycle(ctx, "once")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	s.scheduled(ctx)
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.finished:
			timer.Reset(s.cfg.Interval)
		case <-timer.C:
			s.scheduled(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Scheduler) scheduled(ctx context.Context) {
	if !s.building.CompareAndSwap(false, true) {
		s.logger.Debug("tick skipped, build already running")
		return
	}
	_ = s.cycle(ctx, "scheduled")
}

// cycle runs one build. The caller must hold the building flag. The build is
// detached from ctx cancellation so shutdown never discards a half-made snapshot.
func (s *Scheduler) cycle(ctx context.Context, trigger string) error {
	defer func() {
		s.building.Store(false)
		select {
		case s.finished <- struct{}{}:
		default:
		}
	}()
	s.state.Store(StateBuilding)

	buildCtx := context.WithoutCancel(ctx)
	start := time.Now()
	snap, meta, stats, err := s.builder.Build(buildCtx)
	if err == nil {
		err = s.store.Publish(snap, meta)
	}
	duration := time.Since(start)

	if err != nil {
		s.store.MarkFailed(s.clock.Now(), err)
		s.state.Store(StateFailed)
		metrics.ObserveBuild("error", duration)
		s.logger.Error("build failed",
			zap.String("trigger", trigger),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	s.state.Store(StateIdle)
	metrics.ObserveBuild("success", duration)
	metrics.ObservePublish(meta.ContestCount, meta.LastUpdate)
	s.logger.Info("snapshot published",
		zap.String("trigger", trigger),
		zap.String("build_id", meta.BuildID),
		zap.Int("contests", meta.ContestCount),
		zap.Int("parsed", stats.Parsed),
		zap.Any("skipped", stats.Skipped),
		zap.Duration("duration", duration),
	)
	s.notify(buildCtx, meta)
	return nil
}

func (s *Scheduler) notify(ctx context.Context, meta contest.Meta) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	evt := contest.PublishedEvent{
		BuildID:      meta.BuildID,
		ContestCount: meta.ContestCount,
		LastUpdate:   meta.LastUpdate,
	}
	id, err := s.publisher.Publish(ctx, s.cfg.Topic, evt)
	if err != nil {
		s.logger.Warn("publish notification failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	s.logger.Debug("publish notification sent", zap.String("topic", s.cfg.Topic), zap.String("message_id", id))
}
