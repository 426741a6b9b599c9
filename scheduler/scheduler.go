package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"discovery-worker/domain"
)

const DefaultConcurrency = 4

type State string

const (
	StateFetching State = "fetching"
	StateDone     State = "done"
	StateError    State = "error"
)

// Event is one progress transition. Slot is a 1-based display id derived
// from submission order; it has no scheduling meaning.
type Event struct {
	Slot     int
	Provider string
	Target   string
	State    State
}

// ProgressFunc is called from worker goroutines and must be safe for
// concurrent use.
type ProgressFunc func(Event)

// Observer receives per-task results; metrics implement it.
type Observer interface {
	TaskFinished(provider string, state State, elapsed time.Duration)
}

type Result struct {
	Records   []domain.NormalizedRecord
	Errors    []*domain.PipelineError
	Cancelled int
}

type Scheduler struct {
	concurrency int
	limiter     RateLimiter
	progress    ProgressFunc
	observer    Observer
}

type Option func(*Scheduler)

func WithConcurrency(n int) Option {
	return func(s *Scheduler) { s.concurrency = n }
}

func WithRateLimiter(l RateLimiter) Option {
	return func(s *Scheduler) { s.limiter = l }
}

func WithProgress(fn ProgressFunc) Option {
	return func(s *Scheduler) { s.progress = fn }
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.limiter == nil {
		s.limiter = NewIntervalLimiter(0, nil)
	}
	return s
}

// Run executes every task with at most Concurrency in flight. A failing or
// panicking task never affects its siblings. Records come back in
// submission order; errors in completion order.
func (s *Scheduler) Run(ctx context.Context, tasks []domain.ProfileTask) Result {
	sem := semaphore.NewWeighted(int64(s.concurrency))
	outcomes := make([]*domain.NormalizedRecord, len(tasks))

	var (
		mu  sync.Mutex
		res Result
		wg  sync.WaitGroup
	)
	addErrors := func(errs ...*domain.PipelineError) {
		mu.Lock()
		res.Errors = append(res.Errors, errs...)
		mu.Unlock()
	}
	addCancelled := func(n int) {
		mu.Lock()
		res.Cancelled += n
		mu.Unlock()
	}

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			addCancelled(len(tasks) - i)
			break
		}
		wg.Add(1)
		go func(i int, task domain.ProfileTask) {
			defer wg.Done()
			defer sem.Release(1)

			slot := i%s.concurrency + 1
			record, errs, cancelled := s.runOne(ctx, slot, task)
			if cancelled {
				addCancelled(1)
				return
			}
			outcomes[i] = record
			if len(errs) > 0 {
				addErrors(errs...)
			}
		}(i, task)
	}
	wg.Wait()

	for _, rec := range outcomes {
		if rec != nil {
			res.Records = append(res.Records, *rec)
		}
	}
	return res
}

func (s *Scheduler) runOne(ctx context.Context, slot int, task domain.ProfileTask) (record *domain.NormalizedRecord, errs []*domain.PipelineError, cancelled bool) {
	started := time.Now()
	logger := log.With().Int("slot", slot).Str("provider", task.Provider).Str("target", task.Target).Logger()

	if ctx.Err() != nil {
		return nil, nil, true
	}
	s.emit(Event{Slot: slot, Provider: task.Provider, Target: task.Target, State: StateFetching})

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("scheduler.task.panic")
			record = nil
			cancelled = false
			errs = []*domain.PipelineError{domain.NewPipelineError(domain.CodeNormalizeFailed, task.Provider, domain.StepNormalize, task.Target, fmt.Errorf("task panicked: %v", r))}
			s.finish(slot, task, StateError, started)
		}
	}()

	if err := s.limiter.Wait(ctx, task.Provider); err != nil {
		if ctx.Err() != nil {
			return nil, nil, true
		}
		logger.Warn().Err(err).Msg("scheduler.ratelimit.failed")
	}

	outcome, err := task.Execute(ctx)
	if err != nil {
		if domain.IsCancellation(err) || ctx.Err() != nil {
			return nil, nil, true
		}
		perr := asPipelineError(task, err)
		logger.Warn().Str("code", string(perr.Code)).Str("message", perr.Message).Msg("scheduler.task.failed")
		s.finish(slot, task, StateError, started)
		return nil, append(outcome.Errors, perr), false
	}

	state := StateDone
	if outcome.Record == nil {
		state = StateError
	}
	s.finish(slot, task, state, started)
	return outcome.Record, outcome.Errors, false
}

func (s *Scheduler) finish(slot int, task domain.ProfileTask, state State, started time.Time) {
	s.emit(Event{Slot: slot, Provider: task.Provider, Target: task.Target, State: state})
	if s.observer != nil {
		s.observer.TaskFinished(task.Provider, state, time.Since(started))
	}
}

func (s *Scheduler) emit(ev Event) {
	if s.progress != nil {
		s.progress(ev)
	}
}

func asPipelineError(task domain.ProfileTask, err error) *domain.PipelineError {
	var perr *domain.PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	return domain.NewPipelineError(domain.CodeNormalizeFailed, task.Provider, domain.StepNormalize, task.Target, err)
}
