package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Job is a named task run on a cron schedule.
type Job struct {
	ID      string                          // Unique identifier for the job
	Spec    string                          // Cron expression or descriptor, e.g. "@every 1m"
	Timeout time.Duration                   // Per-run bound; 0 means none
	Run     func(ctx context.Context) error // Work to do on every tick
}

// CronEngine abstracts the cron scheduler for testability.
// The real implementation wraps robfig/cron/v3.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (int, error)
	Remove(id int)
	Start()
	Stop()
}

// RunObserver records the outcome of each job run.
type RunObserver interface {
	ObserveJob(id string, err error)
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a structured logger for the Scheduler. If l is nil it is
// ignored and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver records job outcomes.
func WithObserver(o RunObserver) Option {
	return func(s *Scheduler) { s.observer = o }
}

// Sentinel errors for validation.
var (
	ErrEmptyJobID   = errors.New("scheduler: job ID must not be empty")
	ErrEmptyCron    = errors.New("scheduler: cron expression must not be empty")
	ErrNilRun       = errors.New("scheduler: job function must not be nil")
	ErrDuplicateJob = errors.New("scheduler: job with this ID already exists")
	ErrJobNotFound  = errors.New("scheduler: job not found")
)

type jobEntry struct {
	job     Job
	entryID int
}

// Scheduler runs background maintenance jobs such as session keepalive.
type Scheduler struct {
	engine   CronEngine
	logger   *slog.Logger
	observer RunObserver

	mu   sync.RWMutex
	jobs map[string]jobEntry
	ctx  context.Context
}

// NewScheduler creates a new Scheduler. engine must not be nil.
func NewScheduler(engine CronEngine, opts ...Option) *Scheduler {
	if engine == nil {
		panic("scheduler: engine must not be nil")
	}
	s := &Scheduler{
		engine: engine,
		jobs:   make(map[string]jobEntry),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// AddJob registers a job. It may be called before or after Run.
func (s *Scheduler) AddJob(job Job) error {
	if job.ID == "" {
		return ErrEmptyJobID
	}
	if job.Spec == "" {
		return ErrEmptyCron
	}
	if job.Run == nil {
		return ErrNilRun
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	captured := job
	entryID, err := s.engine.AddFunc(job.Spec, func() { s.fire(captured) })
	if err != nil {
		return fmt.Errorf("scheduler: failed to register cron job %q: %w", job.ID, err)
	}
	s.jobs[job.ID] = jobEntry{job: job, entryID: entryID}
	s.log().Info("job registered", "job_id", job.ID, "spec", job.Spec)
	return nil
}

func (s *Scheduler) fire(job Job) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	if s.observer != nil {
		s.observer.ObserveJob(job.ID, err)
	}
	if err != nil {
		s.log().Warn("job failed", "job_id", job.ID, "error", err)
		return
	}
	s.log().Debug("job completed", "job_id", job.ID, "elapsed", time.Since(start))
}

// Run starts the engine and blocks until ctx is canceled, then stops it.
// Jobs receive ctx, so in-flight runs see the cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.engine.Start()
	<-ctx.Done()
	s.engine.Stop()
	return nil
}

// RemoveJob unregisters a job by ID.
func (s *Scheduler) RemoveJob(id string) error {
	if id == "" {
		return ErrEmptyJobID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	s.engine.Remove(entry.entryID)
	delete(s.jobs, id)
	s.log().Info("job removed", "job_id", id)
	return nil
}

// JobIDs returns the registered job IDs, sorted.
func (s *Scheduler) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
