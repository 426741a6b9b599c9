package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"discovery-worker/cache"
	"discovery-worker/domain"
)

const djDirectorySearchPath = "/search"

// DJDirectory scrapes the public HTML directory.
type DJDirectory struct {
	baseURL string
	deps    Deps
}

func NewDJDirectory(baseURL string, deps Deps) *DJDirectory {
	return &DJDirectory{baseURL: strings.TrimRight(baseURL, "/"), deps: deps}
}

func (d *DJDirectory) Name() string { return domain.ProviderDJDirectory }

func (d *DJDirectory) searchURL(search domain.SearchContext, page int) string {
	q := url.Values{}
	if search.Query != "" {
		q.Set("q", search.Query)
	}
	if search.LocationText != "" {
		q.Set("where", search.LocationText)
	}
	if search.Category != "" {
		q.Set("category", search.Category)
	}
	if search.EventDate != "" {
		q.Set("date", search.EventDate)
	}
	q.Set("page", strconv.Itoa(page))
	return d.baseURL + djDirectorySearchPath + "?" + q.Encode()
}

func (d *DJDirectory) List(ctx context.Context, opts ListOptions, search domain.SearchContext) (*ListResult, error) {
	if opts.FirstPage == 0 {
		opts.FirstPage = 1
	}

	// Pages are fetched one at a time, so warnings need no lock.
	var warnings []*domain.PipelineError
	collected, err := collectEntries(ctx, d.Name(), d.searchURL(search, opts.FirstPage), func(ctx context.Context, page int) ([]domain.ListingEntry, error) {
		entries, skipped, err := d.fetchPage(ctx, search, page)
		for _, reason := range skipped {
			warnings = append(warnings, domain.NewPipelineError(domain.CodeListingParseFailed, d.Name(), domain.StepListingParse,
				d.searchURL(search, page), errors.New(reason)))
		}
		return entries, err
	}, opts)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", d.Name()).
		Int("pages", collected.Pages).
		Int("entries", len(collected.Items)).
		Int("skipped_cards", len(warnings)).
		Str("stop_reason", string(collected.Reason)).
		Msg("sources.listing.completed")

	res := &ListResult{
		ListingCount: len(collected.Items),
		Pages:        collected.Pages,
		StopReason:   collected.Reason,
		Errors:       warnings,
	}
	for _, entry := range collected.Items {
		res.Tasks = append(res.Tasks, newProfileTask(entry, search, d.loadDetail, d.deps.now))
	}
	return res, nil
}

func (d *DJDirectory) fetchPage(ctx context.Context, search domain.SearchContext, page int) ([]domain.ListingEntry, []string, error) {
	target := d.searchURL(search, page)
	pageURL, err := url.Parse(target)
	if err != nil {
		return nil, nil, domain.NewPipelineError(domain.CodeListingFetchFailed, d.Name(), domain.StepListingFetch, target, err)
	}

	payload, err := d.getHTML(ctx, domain.ArtifactListingPage, target)
	if err != nil {
		return nil, nil, listingError(d.Name(), target, err)
	}

	entries, skipped, err := parseDirectoryListing(payload, pageURL)
	if err != nil {
		return nil, nil, domain.NewPipelineError(domain.CodeListingParseFailed, d.Name(), domain.StepListingParse, target, err)
	}
	return entries, skipped, nil
}

func (d *DJDirectory) loadDetail(ctx context.Context, entry domain.ListingEntry) (*domain.ProfileDetail, string, error) {
	payload, err := d.getHTML(ctx, domain.ArtifactProfilePage, entry.URL)
	if err != nil {
		return nil, entry.URL, err
	}
	detail, err := parseDirectoryProfile(payload, entry.URL)
	if err != nil {
		return nil, entry.URL, domain.NewPipelineError(domain.CodeProfileParseFailed, d.Name(), domain.StepProfileParse, entry.URL, err)
	}
	return detail, entry.URL, nil
}

func (d *DJDirectory) getHTML(ctx context.Context, artifactType, target string) (string, error) {
	fetch := fetchBody(d.deps.Transport, domain.FetchRequest{
		Method:  http.MethodGet,
		URL:     target,
		Headers: map[string]string{"Accept": "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"},
	})
	payload, err := d.deps.Cache.GetHTML(ctx, artifactType, cache.Request{Method: http.MethodGet, URL: target}, fetch)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", artifactType, err)
	}
	return payload, nil
}
