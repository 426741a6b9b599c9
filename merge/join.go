package merge

import (
	"fmt"

	"discovery-worker/domain"
)

const (
	MatchURL  = "url"
	MatchID   = "id"
	MatchSlug = "slug"
)

type detailIndex struct {
	byURL  map[string]*domain.ProfileDetail
	byID   map[string]*domain.ProfileDetail
	bySlug map[string]*domain.ProfileDetail
}

// Join attaches fetched detail pages to listing entries of one source. Keys
// are tried in order: exact URL, numeric id from the URL, slug from the URL.
// The first match wins. Entries without a match come back listing-only,
// which is expected when a detail fetch failed upstream.
func Join(entries []domain.ListingEntry, details []domain.DetailOutcome) ([]domain.Joined, []*domain.PipelineError) {
	idx := buildIndex(details)
	joined := make([]domain.Joined, 0, len(entries))
	var errs []*domain.PipelineError

	for _, entry := range entries {
		detail, how := idx.lookup(entry.URL)
		if detail == nil {
			joined = append(joined, domain.Joined{Entry: entry})
			continue
		}
		if conflict(entry, detail) {
			errs = append(errs, domain.NewPipelineError(domain.CodeMergeFailed, entry.Provider, domain.StepMerge, entry.URL,
				fmt.Errorf("detail page %s belongs to provider id %s, listing says %s", detail.URL, detail.ProviderID, entry.ProviderID)))
			joined = append(joined, domain.Joined{Entry: entry})
			continue
		}
		joined = append(joined, domain.Joined{Entry: entry, Detail: detail, MatchedBy: how})
	}
	return joined, errs
}

func buildIndex(details []domain.DetailOutcome) detailIndex {
	idx := detailIndex{
		byURL:  make(map[string]*domain.ProfileDetail),
		byID:   make(map[string]*domain.ProfileDetail),
		bySlug: make(map[string]*domain.ProfileDetail),
	}
	for _, d := range details {
		if d.Err != nil || d.Detail == nil {
			continue
		}
		for _, u := range []string{d.RequestedURL, d.Detail.URL} {
			if u == "" {
				continue
			}
			putFirst(idx.byURL, domain.NormalizeURL(u), d.Detail)
			putFirst(idx.byID, domain.NumericIDFromURL(u), d.Detail)
			putFirst(idx.bySlug, domain.SlugFromURL(u), d.Detail)
		}
	}
	return idx
}

func putFirst(m map[string]*domain.ProfileDetail, key string, d *domain.ProfileDetail) {
	if key == "" {
		return
	}
	if _, exists := m[key]; !exists {
		m[key] = d
	}
}

func (idx detailIndex) lookup(listingURL string) (*domain.ProfileDetail, string) {
	if d, ok := idx.byURL[domain.NormalizeURL(listingURL)]; ok {
		return d, MatchURL
	}
	if id := domain.NumericIDFromURL(listingURL); id != "" {
		if d, ok := idx.byID[id]; ok {
			return d, MatchID
		}
	}
	if slug := domain.SlugFromURL(listingURL); slug != "" {
		if d, ok := idx.bySlug[slug]; ok {
			return d, MatchSlug
		}
	}
	return nil, ""
}

func conflict(entry domain.ListingEntry, detail *domain.ProfileDetail) bool {
	return entry.ProviderID != "" && detail.ProviderID != "" && entry.ProviderID != detail.ProviderID
}
