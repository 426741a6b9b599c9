package sources

import (
	"context"
	"fmt"
	"time"

	"discovery-worker/domain"
	"discovery-worker/merge"
)

// detailLoader fetches and parses the detail page behind one listing entry. It
// also reports the URL it requested, which may differ from the listing URL.
type detailLoader func(ctx context.Context, entry domain.ListingEntry) (detail *domain.ProfileDetail, requested string, err error)

// newProfileTask binds a listing entry to the work of completing it. A failed
// detail degrades the entry to a listing-only record with exactly one error.
func newProfileTask(entry domain.ListingEntry, search domain.SearchContext, load detailLoader, now func() time.Time) domain.ProfileTask {
	return domain.NewProfileTask(entry.Provider, entry.URL, func(ctx context.Context) (domain.TaskOutcome, error) {
		var outcome domain.TaskOutcome

		detail, requested, err := load(ctx, entry)
		if err != nil {
			if domain.IsCancellation(err) || ctx.Err() != nil {
				return outcome, fmt.Errorf("%w: %s", domain.ErrCancelled, entry.URL)
			}
			outcome.Errors = append(outcome.Errors, profileError(entry.Provider, entry.URL, err))
			detail = nil
		}

		joined, mergeErrs := merge.Join(
			[]domain.ListingEntry{entry},
			[]domain.DetailOutcome{{RequestedURL: requested, Detail: detail, Err: err}},
		)
		outcome.Errors = append(outcome.Errors, mergeErrs...)

		rec, err := Normalize(joined[0], search, now())
		if err != nil {
			return outcome, domain.NewPipelineError(domain.CodeNormalizeFailed, entry.Provider, domain.StepNormalize, entry.URL, err)
		}
		outcome.Record = &rec
		return outcome, nil
	})
}
