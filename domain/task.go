package domain

import (
	"context"
	"fmt"
)

// TaskOutcome is what one profile task yields: at most one record plus the
// non-fatal errors attached to it.
type TaskOutcome struct {
	Record *NormalizedRecord
	Errors []*PipelineError
}

// ProfileTask is a deferred unit of work for one listing entry. Building it
// performs no I/O; Execute does.
type ProfileTask struct {
	Provider string
	DedupKey string
	Target   string
	run      func(ctx context.Context) (TaskOutcome, error)
}

func NewProfileTask(provider, target string, run func(ctx context.Context) (TaskOutcome, error)) ProfileTask {
	return ProfileTask{
		Provider: provider,
		DedupKey: TaskDedupKey(provider, target),
		Target:   target,
		run:      run,
	}
}

// Execute refuses to start once ctx is done, so a cancelled run issues no new
// network calls through this task.
func (t ProfileTask) Execute(ctx context.Context) (TaskOutcome, error) {
	if err := ctx.Err(); err != nil {
		return TaskOutcome{}, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if t.run == nil {
		return TaskOutcome{}, fmt.Errorf("profile task %s has no work function", t.DedupKey)
	}
	return t.run(ctx)
}

// TaskDedupKey is derived from the listing target only; the provider id may
// not be known before the detail page is fetched.
func TaskDedupKey(provider, target string) string {
	return provider + "|" + NormalizeURL(target)
}
