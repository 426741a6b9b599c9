package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"discovery-worker/cache"
	"discovery-worker/domain"
	"discovery-worker/pagination"
)

// Adapter lists one provider directory and turns each listing entry into a
// deferred ProfileTask.
type Adapter interface {
	Name() string
	List(ctx context.Context, opts ListOptions, search domain.SearchContext) (*ListResult, error)
}

type ListOptions struct {
	FirstPage       int
	MaxPages        int
	PageDelay       time.Duration
	StagnationPages int
	MaxItems        int
}

type ListResult struct {
	Tasks        []domain.ProfileTask
	ListingCount int
	Pages        int
	StopReason   pagination.StopReason
	Errors       []*domain.PipelineError
}

// Transport performs the HTTP calls of every adapter.
type Transport interface {
	Do(ctx context.Context, req domain.FetchRequest) (*domain.FetchResponse, error)
}

// Deps are shared by all adapters of one run.
type Deps struct {
	Cache     *cache.Cache
	Transport Transport
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

func (o ListOptions) iteratorOptions() pagination.Options {
	return pagination.Options{FirstPage: o.FirstPage, MaxPages: o.MaxPages, Delay: o.PageDelay}
}

func (o ListOptions) policy() pagination.Policy {
	return pagination.Policy{StagnationPages: o.StagnationPages, MaxItems: o.MaxItems}
}

// collectEntries walks listing pages and turns the first failure into the
// fatal error for the source.
func collectEntries(ctx context.Context, provider, target string, fetch pagination.FetchPage[domain.ListingEntry], opts ListOptions) (pagination.Collected[domain.ListingEntry], error) {
	it := pagination.New(fetch, opts.iteratorOptions())
	collected, err := pagination.Collect(ctx, it, entryKey, opts.policy())
	if err == nil {
		return collected, nil
	}
	if domain.IsCancellation(err) {
		return collected, fmt.Errorf("%w: listing %s", domain.ErrCancelled, provider)
	}
	var perr *domain.PipelineError
	if errors.As(err, &perr) {
		return collected, perr
	}
	return collected, domain.NewPipelineError(domain.CodeListingFetchFailed, provider, domain.StepListingFetch, target, err)
}

func entryKey(e domain.ListingEntry) string {
	switch {
	case e.ProviderID != "":
		return "id:" + e.ProviderID
	case e.URL != "":
		return "url:" + domain.NormalizeURL(e.URL)
	default:
		return "name:" + e.Name
	}
}

// fetchBody adapts the transport to the cache's fetch callback.
func fetchBody(t Transport, req domain.FetchRequest) cache.FetchFunc {
	return func(ctx context.Context) (string, error) {
		resp, err := t.Do(ctx, req)
		if err != nil {
			return "", err
		}
		return string(resp.Body), nil
	}
}

// listingError classifies a listing page failure.
func listingError(provider, target string, err error) error {
	if domain.IsCancellation(err) {
		return err
	}
	if errors.Is(err, cache.ErrShapeMismatch) {
		return domain.NewPipelineError(domain.CodeListingParseFailed, provider, domain.StepListingParse, target, err)
	}
	return domain.NewPipelineError(domain.CodeListingFetchFailed, provider, domain.StepListingFetch, target, err)
}

// profileError classifies a detail page failure.
func profileError(provider, target string, err error) *domain.PipelineError {
	var perr *domain.PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, cache.ErrShapeMismatch) {
		return domain.NewPipelineError(domain.CodeProfileParseFailed, provider, domain.StepProfileParse, target, err)
	}
	return domain.NewPipelineError(domain.CodeProfileFetchFailed, provider, domain.StepProfileFetch, target, err)
}
