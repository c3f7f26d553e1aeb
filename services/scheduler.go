// services/scheduler.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrInstantPassed is returned when asked to arm a timer whose instant is not in the future.
var ErrInstantPassed = errors.New("job instant has already passed")

// ArmedJob describes a timer waiting to fire.
type ArmedJob struct {
	Name string
	At   time.Time
	Tags []string
}

type armedEntry struct {
	id   uuid.UUID
	seq  uint64
	at   time.Time
	tags []string
}

// JobScheduler arms uniquely named one-shot timers on top of gocron.
//
// The name -> job table is owned here and never persisted: after a restart it
// is rebuilt from competition rows by the recovery pass. Scheduling a name that
// is already armed is a no-op. A job leaves the table when it starts running,
// so cancelling only affects timers that have not fired yet.
type JobScheduler struct {
	sched  gocron.Scheduler
	clock  clockwork.Clock
	logger *slog.Logger
	stats  *Metrics

	baseCtx context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	seq  uint64
	jobs map[string]armedEntry
}

func NewJobScheduler(clock clockwork.Clock, logger *slog.Logger, stats *Metrics) (*JobScheduler, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(logger),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		sched:   sched,
		clock:   clock,
		logger:  logger,
		stats:   stats,
		baseCtx: ctx,
		cancel:  cancel,
		jobs:    make(map[string]armedEntry),
	}, nil
}

// Start begins dispatching armed jobs.
func (s *JobScheduler) Start() {
	s.sched.Start()
}

// Shutdown stops the scheduler and cancels the context handed to running jobs.
func (s *JobScheduler) Shutdown() error {
	s.cancel()
	return s.sched.Shutdown()
}

// Schedule arms task to run once at the given instant under name.
// It reports false without error when the name is already armed.
func (s *JobScheduler) Schedule(name string, at time.Time, task func(ctx context.Context), tags ...string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return false, nil
	}
	if !at.After(s.clock.Now()) {
		return false, fmt.Errorf("%s at %s: %w", name, at.Format(time.RFC3339), ErrInstantPassed)
	}

	s.seq++
	seq := s.seq
	job, err := s.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(at)),
		gocron.NewTask(func() { s.run(name, seq, task) }),
		gocron.WithName(name),
		gocron.WithTags(tags...),
	)
	if err != nil {
		return false, fmt.Errorf("arm job %s: %w", name, err)
	}

	s.jobs[name] = armedEntry{id: job.ID(), seq: seq, at: at, tags: slices.Clone(tags)}
	s.stats.setArmed(len(s.jobs))
	s.logger.Debug("job armed", "job", name, "at", at.Format(time.RFC3339))
	return true, nil
}

func (s *JobScheduler) run(name string, seq uint64, task func(ctx context.Context)) {
	s.mu.Lock()
	if e, ok := s.jobs[name]; ok && e.seq == seq {
		delete(s.jobs, name)
		s.stats.setArmed(len(s.jobs))
	}
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", name, "panic", r)
		}
	}()
	task(s.baseCtx)
}

// Cancel disarms the named job. It reports whether a job was armed.
func (s *JobScheduler) Cancel(name string) bool {
	s.mu.Lock()
	e, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
		s.stats.setArmed(len(s.jobs))
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	if err := s.sched.RemoveJob(e.id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		s.logger.Warn("remove job failed", "job", name, "error", err)
	}
	s.logger.Debug("job cancelled", "job", name)
	return true
}

// CancelTagged disarms every job carrying tag and returns their names.
func (s *JobScheduler) CancelTagged(tag string) []string {
	s.mu.Lock()
	var names []string
	for name, e := range s.jobs {
		if slices.Contains(e.tags, tag) {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	slices.Sort(names)
	for _, name := range names {
		s.Cancel(name)
	}
	return names
}

// IsArmed reports whether the named job is waiting to fire.
func (s *JobScheduler) IsArmed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Armed lists armed jobs ordered by firing instant, then name.
func (s *JobScheduler) Armed() []ArmedJob {
	s.mu.Lock()
	out := make([]ArmedJob, 0, len(s.jobs))
	for name, e := range s.jobs {
		out = append(out, ArmedJob{Name: name, At: e.at, Tags: slices.Clone(e.tags)})
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b ArmedJob) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}
