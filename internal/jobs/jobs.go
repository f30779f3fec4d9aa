// Package jobs runs turns as background jobs. Submit returns at once;
// callers poll for the result, cancel, or subscribe to progress events.
// Finished job records stay available for a retention period.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/HendryAvila/turnloop/internal/pipeline"
	"github.com/HendryAvila/turnloop/internal/progress"
	"github.com/HendryAvila/turnloop/internal/turn"
)

var (
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrJobRunning is returned when a job id is reused while it runs.
	ErrJobRunning = errors.New("jobs: job is still running")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("jobs: manager is closed")
)

// Status is the externally visible state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Result is what Poll returns. A finished job's Result never changes.
type Result struct {
	JobID       string             `json:"job_id"`
	Status      Status             `json:"status"`
	UserID      string             `json:"user_id"`
	Turn        int64              `json:"turn,omitempty"`
	Outcome     turn.OutcomeStatus `json:"outcome,omitempty"`
	Answer      string             `json:"answer,omitempty"`
	Question    string             `json:"question,omitempty"`
	Error       string             `json:"error,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

// Runner executes turns.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, sink progress.Sink) (*turn.Record, error)
	Resume(ctx context.Context, traceID string, sink progress.Sink) (*turn.Record, error)
}

// Config bounds the job layer.
type Config struct {
	// MaxConcurrent is how many turns run at once; later jobs wait.
	MaxConcurrent int64
	// Retention is how long a finished job can still be polled.
	Retention time.Duration
	// Timeout caps one job's run time. Zero means no limit.
	Timeout time.Duration
	// CleanupInterval is how often expired jobs are purged.
	CleanupInterval time.Duration
}

// DefaultConfig returns the default job layer bounds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   4,
		Retention:       time.Hour,
		Timeout:         5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Manager owns running and finished jobs.
type Manager struct {
	runner Runner
	bus    *progress.Bus
	cfg    Config
	logger *zap.Logger

	results *cache.Cache
	sem     *semaphore.Weighted

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// New creates a Manager. The bus is shared with subscribers and is not
// closed by the manager.
func New(runner Runner, bus *progress.Bus, cfg Config, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		runner: runner,
		bus:    bus,
		cfg:    cfg,
		logger: logger.Named("jobs"),
		// Purging runs on the manager's own ticker so Close can stop it.
		results: cache.New(cfg.Retention, 0),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		base:    base,
		stop:    stop,
		cancels: map[string]context.CancelFunc{},
	}
	m.results.OnEvicted(func(id string, _ any) {
		m.bus.Forget(id)
	})

	m.wg.Add(1)
	go m.purge()
	return m
}

// Submit starts a turn and returns its job id, which is also the turn's
// trace id.
func (m *Manager) Submit(req pipeline.Request) (string, error) {
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	return m.start(req.TraceID, req.UserID, func(ctx context.Context, sink progress.Sink) (*turn.Record, error) {
		return m.runner.Run(ctx, req, sink)
	})
}

// Resume starts a job that continues the checkpointed turn traceID.
func (m *Manager) Resume(traceID, userID string) (string, error) {
	return m.start(traceID, userID, func(ctx context.Context, sink progress.Sink) (*turn.Record, error) {
		return m.runner.Resume(ctx, traceID, sink)
	})
}

type runFunc func(ctx context.Context, sink progress.Sink) (*turn.Record, error)

func (m *Manager) start(id, userID string, fn runFunc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if _, running := m.cancels[id]; running {
		return "", fmt.Errorf("%w: %s", ErrJobRunning, id)
	}

	// A reused id starts a fresh event stream.
	m.results.Delete(id)
	m.bus.Forget(id)

	ctx, cancel := context.WithCancel(m.base)
	if m.cfg.Timeout > 0 {
		ctx, cancel = withTimeout(ctx, cancel, m.cfg.Timeout)
	}
	m.cancels[id] = cancel
	m.results.Set(id, Result{
		JobID:       id,
		Status:      StatusRunning,
		UserID:      userID,
		SubmittedAt: time.Now().UTC(),
	}, cache.NoExpiration)

	m.wg.Add(1)
	go m.run(ctx, id, fn)
	m.logger.Info("job submitted", zap.String("job_id", id), zap.String("user_id", userID))
	return id, nil
}

func withTimeout(ctx context.Context, cancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		tcancel()
		cancel()
	}
}

func (m *Manager) run(ctx context.Context, id string, fn runFunc) {
	defer m.wg.Done()

	var (
		rec *turn.Record
		err error
	)
	if err = m.sem.Acquire(ctx, 1); err == nil {
		rec, err = fn(ctx, m.bus.Sink(id))
		m.sem.Release(1)
	}
	m.finish(ctx, id, rec, err)
}

// finish records the final Result and publishes the terminal event. The
// job counts as running until both are done, so its id cannot be reused
// in between.
func (m *Manager) finish(ctx context.Context, id string, rec *turn.Record, err error) {
	defer func() {
		m.mu.Lock()
		cancel := m.cancels[id]
		delete(m.cancels, id)
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	res, _ := m.lookup(id)
	now := time.Now().UTC()
	res.FinishedAt = &now
	if rec != nil {
		res.Turn = rec.Number
	}

	switch {
	case err == nil && rec != nil && rec.Outcome != nil:
		res.Status = StatusDone
		res.Outcome = rec.Outcome.Status
		res.Answer = rec.Outcome.Answer
		res.Question = rec.Outcome.Question
		res.Error = rec.Outcome.Error
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Status = StatusError
		res.Error = "turn timed out"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		res.Status = StatusCancelled
	case err != nil:
		res.Status = StatusError
		res.Error = err.Error()
	default:
		res.Status = StatusError
		res.Error = "turn ended without an outcome"
	}
	m.results.Set(id, res, m.cfg.Retention)

	detail := map[string]any{}
	if res.Outcome != "" {
		detail["outcome"] = string(res.Outcome)
	}
	if res.Error != "" {
		detail["error"] = res.Error
	}
	if perr := m.bus.Publish(id, progress.Event{Kind: progress.KindJobFinished, Status: string(res.Status), Detail: detail}); perr != nil {
		m.logger.Warn("terminal event not published", zap.String("job_id", id), zap.Error(perr))
	}

	log := m.logger.Info
	if res.Status == StatusError {
		log = m.logger.Warn
	}
	log("job finished",
		zap.String("job_id", id),
		zap.String("status", string(res.Status)),
		zap.String("outcome", string(res.Outcome)),
		zap.String("error", res.Error),
	)
}

// Poll returns the current state of a job. Polling a finished job returns
// the same Result every time.
func (m *Manager) Poll(id string) (Result, error) {
	res, ok := m.lookup(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return res, nil
}

func (m *Manager) lookup(id string) (Result, bool) {
	v, ok := m.results.Get(id)
	if !ok {
		return Result{}, false
	}
	return v.(Result), true
}

// Cancel asks a running job to stop. Cancelling a finished job does
// nothing.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	cancel, running := m.cancels[id]
	m.mu.Unlock()
	if running {
		cancel()
		m.logger.Info("job cancel requested", zap.String("job_id", id))
		return nil
	}
	if _, ok := m.lookup(id); !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// Subscribe streams a job's progress events until its terminal event or
// until ctx is done.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan progress.Event, error) {
	if _, ok := m.lookup(id); !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return m.bus.Subscribe(ctx, id)
}

// Running returns the number of jobs that have not finished.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// Close cancels every running job and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.stop()
	m.wg.Wait()
}

func (m *Manager) purge() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.base.Done():
			return
		case <-ticker.C:
			m.results.DeleteExpired()
		}
	}
}
