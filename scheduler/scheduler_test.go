package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"discovery-worker/domain"
)

func recordTask(provider, target string, run func(ctx context.Context) error) domain.ProfileTask {
	return domain.NewProfileTask(provider, target, func(ctx context.Context) (domain.TaskOutcome, error) {
		if run != nil {
			if err := run(ctx); err != nil {
				return domain.TaskOutcome{}, err
			}
		}
		return domain.TaskOutcome{Record: &domain.NormalizedRecord{Provider: provider, Name: target}}, nil
	})
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	var tasks []domain.ProfileTask
	for i := 0; i < 20; i++ {
		tasks = append(tasks, recordTask("p", fmt.Sprintf("t%d", i), func(ctx context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return nil
		}))
	}

	res := New(WithConcurrency(3)).Run(context.Background(), tasks)

	assert.Len(t, res.Records, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, "t0", res.Records[0].Name)
	assert.Equal(t, "t19", res.Records[19].Name)
}

func TestRun_IsolatesFailuresAndPanics(t *testing.T) {
	tasks := []domain.ProfileTask{
		recordTask("p", "ok-1", nil),
		recordTask("p", "boom", func(ctx context.Context) error { return errors.New("parse exploded") }),
		recordTask("p", "panic", func(ctx context.Context) error { panic("nil map") }),
		recordTask("p", "ok-2", nil),
	}

	res := New(WithConcurrency(2)).Run(context.Background(), tasks)

	assert.Len(t, res.Records, 2)
	assert.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.Equal(t, domain.CodeNormalizeFailed, e.Code)
	}
}

func TestRun_KeepsPipelineErrorsAndAttachedWarnings(t *testing.T) {
	warn := domain.NewPipelineError(domain.CodeProfileFetchFailed, "p", domain.StepProfileFetch, "https://x/1", errors.New("404"))
	degraded := domain.NewProfileTask("p", "https://x/1", func(ctx context.Context) (domain.TaskOutcome, error) {
		return domain.TaskOutcome{Record: &domain.NormalizedRecord{Provider: "p", ListingOnly: true}, Errors: []*domain.PipelineError{warn}}, nil
	})
	failed := domain.NewProfileTask("p", "https://x/2", func(ctx context.Context) (domain.TaskOutcome, error) {
		return domain.TaskOutcome{}, domain.NewPipelineError(domain.CodeMergeFailed, "p", domain.StepMerge, "https://x/2", errors.New("id conflict"))
	})

	res := New().Run(context.Background(), []domain.ProfileTask{degraded, failed})

	assert.Len(t, res.Records, 1)
	assert.True(t, res.Records[0].ListingOnly)
	codes := []domain.ErrorCode{}
	for _, e := range res.Errors {
		codes = append(codes, e.Code)
	}
	assert.ElementsMatch(t, []domain.ErrorCode{domain.CodeProfileFetchFailed, domain.CodeMergeFailed}, codes)
}

func TestRun_CancelledBeforeStartIssuesNoNetworkCall(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	task := recordTask("p", server.URL, func(ctx context.Context) error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New().Run(ctx, []domain.ProfileTask{task, task})

	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Cancelled)
}

func TestRun_CancellationMidRunIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tasks := []domain.ProfileTask{
		recordTask("p", "first", func(ctx context.Context) error { cancel(); return nil }),
		recordTask("p", "second", func(ctx context.Context) error { return ctx.Err() }),
		recordTask("p", "third", nil),
	}

	res := New(WithConcurrency(1)).Run(ctx, tasks)

	assert.Len(t, res.Records, 1)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Cancelled)
}

func TestRun_ReportsProgressWithSlots(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	tasks := []domain.ProfileTask{
		recordTask("p", "a", nil),
		recordTask("p", "b", func(ctx context.Context) error { return errors.New("x") }),
		recordTask("p", "c", nil),
	}

	New(WithConcurrency(2), WithProgress(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})).Run(context.Background(), tasks)

	slots := map[string]int{}
	finals := map[string]State{}
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Slot, 1)
		assert.LessOrEqual(t, ev.Slot, 2)
		if ev.State == StateFetching {
			slots[ev.Target] = ev.Slot
		} else {
			finals[ev.Target] = ev.State
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 1}, slots)
	assert.Equal(t, map[string]State{"a": StateDone, "b": StateError, "c": StateDone}, finals)
	assert.Len(t, events, 6)
}

type MockObserver struct {
	mock.Mock
}

func (m *MockObserver) TaskFinished(provider string, state State, elapsed time.Duration) {
	m.Called(provider, state, elapsed)
}

func TestRun_NotifiesObserver(t *testing.T) {
	obs := new(MockObserver)
	obs.On("TaskFinished", "p", StateDone, mock.Anything).Return().Once()

	New(WithObserver(obs)).Run(context.Background(), []domain.ProfileTask{recordTask("p", "a", nil)})

	obs.AssertExpectations(t)
}

func TestIntervalLimiter_SpacesSameProvider(t *testing.T) {
	l := NewIntervalLimiter(0, map[string]time.Duration{"slow": 40 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Wait(ctx, "slow"))
		}()
	}
	wg.Wait()

	// Three dispatches need at least two full intervals between them.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestIntervalLimiter_ProvidersAreIndependent(t *testing.T) {
	l := NewIntervalLimiter(time.Hour, map[string]time.Duration{"fast": 0})
	ctx := context.Background()

	assert.NoError(t, l.Wait(ctx, "a"))
	assert.NoError(t, l.Wait(ctx, "b"))
	assert.NoError(t, l.Wait(ctx, "fast"))
	assert.NoError(t, l.Wait(ctx, "fast"))
	assert.Equal(t, time.Hour, l.Interval("a"))
}

func TestIntervalLimiter_ReservationMath(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	l := NewIntervalLimiter(time.Second, nil)
	l.now = func() time.Time { return now }

	assert.Equal(t, time.Duration(0), l.reserve("p"))
	assert.Equal(t, time.Second, l.reserve("p"))
	assert.Equal(t, 2*time.Second, l.reserve("p"))

	now = base.Add(5 * time.Second)
	assert.Equal(t, time.Duration(0), l.reserve("p"))
}

func TestIntervalLimiter_WaitHonoursCancellation(t *testing.T) {
	l := NewIntervalLimiter(time.Hour, nil)
	assert.NoError(t, l.Wait(context.Background(), "p"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, "p"), context.DeadlineExceeded)
}
