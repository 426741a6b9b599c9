package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FetchPage loads one page of items.
type FetchPage[T any] func(ctx context.Context, page int) ([]T, error)

type Options struct {
	FirstPage int
	MaxPages  int
	Delay     time.Duration
}

type Page[T any] struct {
	Number int
	Items  []T
}

// Iterator walks pages strictly in order. It never decides to stop on its
// own before MaxPages; callers stop pulling when their own rule says so.
type Iterator[T any] struct {
	fetch   FetchPage[T]
	opts    Options
	next    int
	fetched int
	current Page[T]
	err     error
	done    bool
}

func New[T any](fetch FetchPage[T], opts Options) *Iterator[T] {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	return &Iterator[T]{fetch: fetch, opts: opts, next: opts.FirstPage}
}

// Next fetches the following page. It returns false once MaxPages pages were
// fetched, the context is done, or the fetch failed; Err tells which.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if it.fetched >= it.opts.MaxPages {
		it.done = true
		return false
	}
	if it.fetched > 0 && it.opts.Delay > 0 {
		timer := time.NewTimer(it.opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return it.fail(ctx.Err())
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return it.fail(err)
	}

	number := it.next
	items, err := it.fetch(ctx, number)
	if err != nil {
		return it.fail(&PageError{Page: number, Err: err})
	}
	it.current = Page[T]{Number: number, Items: items}
	it.next++
	it.fetched++
	return true
}

func (it *Iterator[T]) fail(err error) bool {
	it.err = err
	it.done = true
	return false
}

func (it *Iterator[T]) Page() Page[T] { return it.current }

func (it *Iterator[T]) Err() error { return it.err }

// Fetched returns how many pages were fetched so far.
func (it *Iterator[T]) Fetched() int { return it.fetched }

// PageError carries the page number a fetch failed on.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// FailedPage returns the page number carried by err, or -1.
func FailedPage(err error) int {
	var pe *PageError
	if errors.As(err, &pe) {
		return pe.Page
	}
	return -1
}
