// Package scheduler runs the periodic ledger jobs: time simulation ticks and
// state snapshots.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"perishable-ledger/core/registry"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single job run.
const DefaultTimeout = 2 * time.Minute

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Ticker advances game time. command.Engine implements it.
type Ticker interface {
	Tick(ctx context.Context, hours float64) registry.SimulateResult
}

// TickObserver is notified after every tick.
type TickObserver interface {
	Tick()
}

type entry struct {
	spec string
	id   cron.EntryID
	run  func()
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates a scheduler. Overlapping runs of the same job are skipped.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{l: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: DefaultTimeout,
		jobs:    make(map[string]*entry),
	}
}

// Add schedules job under name. An empty spec leaves the job registered but
// unscheduled, so it can still be run with RunNow.
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already scheduled", name)
	}

	e := &entry{spec: spec}
	e.run = func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Debug("Scheduled job done", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}

	if spec != "" {
		id, err := s.cron.AddFunc(spec, e.run)
		if err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
		}
		e.id = id
	}
	s.jobs[name] = e
	return nil
}

// AddTick schedules time simulation: every run advances the ticker by hours.
func (s *Scheduler) AddTick(spec string, t Ticker, hours float64, obs TickObserver) error {
	return s.Add("tick", spec, func(ctx context.Context) error {
		res := t.Tick(ctx, hours)
		if obs != nil {
			obs.Tick()
		}
		if res.BatchesExpired > 0 {
			s.logger.Info("Batches expired",
				zap.Int("batches", res.BatchesExpired),
				zap.Float64("amount", res.AmountExpired),
			)
		}
		return nil
	})
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	e.run()
	return nil
}

// Jobs returns the registered job names with their schedules.
func (s *Scheduler) Jobs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.jobs))
	for name, e := range s.jobs {
		out[name] = e.spec
	}
	return out
}

// Next returns the next activation of each scheduled job, sorted by name.
func (s *Scheduler) Next() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, e := range s.jobs {
		if e.spec == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s", name, s.cron.Entry(e.id).Next.Format(time.RFC3339)))
	}
	sort.Strings(out)
	return out
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", zap.Int("jobs", len(s.Jobs())))
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
