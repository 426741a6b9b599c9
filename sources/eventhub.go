package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"discovery-worker/cache"
	"discovery-worker/domain"
)

const (
	eventHubSearchPath  = "/api/v1/search"
	eventHubProfilePath = "/api/v1/providers/"
	eventHubPageSize    = 24
)

var eventHubSearchShape = cache.MustSchemaValidator("eventhub-search", `{
	"type": "object",
	"required": ["type", "items"],
	"properties": {
		"type": {"const": "results"},
		"items": {"type": "array", "items": {"type": "object"}}
	}
}`)

var eventHubProviderShape = cache.MustSchemaValidator("eventhub-provider", `{
	"type": "object",
	"required": ["type", "provider"],
	"properties": {
		"type": {"const": "provider"},
		"provider": {"type": "object", "required": ["id"]}
	}
}`)

// EventHub reads the marketplace's JSON search API.
type EventHub struct {
	baseURL  string
	pageSize int
	deps     Deps
}

type EventHubOption func(*EventHub)

func WithPageSize(n int) EventHubOption {
	return func(e *EventHub) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

func NewEventHub(baseURL string, deps Deps, opts ...EventHubOption) *EventHub {
	e := &EventHub{baseURL: strings.TrimRight(baseURL, "/"), pageSize: eventHubPageSize, deps: deps}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *EventHub) Name() string { return domain.ProviderEventHub }

type eventHubSearchRequest struct {
	Query    string         `json:"query"`
	Category string         `json:"category,omitempty"`
	Location *eventHubPlace `json:"location,omitempty"`
	Date     string         `json:"date,omitempty"`
	Budget   *float64       `json:"budget,omitempty"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

type eventHubPlace struct {
	Text string   `json:"text,omitempty"`
	Lat  *float64 `json:"lat,omitempty"`
	Lng  *float64 `json:"lng,omitempty"`
}

// Responses are tagged unions on "type".
type eventHubTag struct {
	Type string `json:"type"`
}

type eventHubResults struct {
	Page  int            `json:"page"`
	Items []eventHubItem `json:"items"`
}

type eventHubItem struct {
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	PriceFrom   *float64 `json:"priceFrom"`
	PriceTo     *float64 `json:"priceTo"`
	Currency    string   `json:"currency"`
	Rating      *float64 `json:"rating"`
	ReviewCount *int     `json:"reviewCount"`
	City        string   `json:"city"`
	Region      string   `json:"region"`
}

type eventHubProviderDoc struct {
	Provider eventHubProvider `json:"provider"`
}

type eventHubProvider struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProfileURL  string `json:"profileUrl"`
	Description string `json:"description"`
	Rating      struct {
		Average *float64 `json:"average"`
		Count   *int     `json:"count"`
	} `json:"rating"`
	Pricing struct {
		Currency string `json:"currency"`
		Packages []struct {
			Name  string   `json:"name"`
			Price *float64 `json:"price"`
		} `json:"packages"`
	} `json:"pricing"`
	Location struct {
		City            string   `json:"city"`
		Region          string   `json:"region"`
		Lat             *float64 `json:"lat"`
		Lng             *float64 `json:"lng"`
		ServiceRadiusKm *float64 `json:"serviceRadiusKm"`
	} `json:"location"`
	Calendar struct {
		Booked []string `json:"booked"`
	} `json:"calendar"`
	YearsActive       *int     `json:"yearsActive"`
	Verified          bool     `json:"verified"`
	ResponseTimeHours *float64 `json:"responseTimeHours"`
	Media             struct {
		Photos int `json:"photos"`
		Videos int `json:"videos"`
	} `json:"media"`
	Policies struct {
		Cancellation   string   `json:"cancellation"`
		DepositPercent *float64 `json:"depositPercent"`
	} `json:"policies"`
}

// EventHubAPIError is the "error" variant of an API response.
type EventHubAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *EventHubAPIError) Error() string {
	return fmt.Sprintf("eventhub api error %s: %s", e.Code, e.Message)
}

// apiErrorOf returns the error variant carried by payload, if any.
func apiErrorOf(payload []byte) error {
	var tag eventHubTag
	if err := json.Unmarshal(payload, &tag); err != nil || tag.Type != "error" {
		return nil
	}
	apiErr := &EventHubAPIError{}
	if err := json.Unmarshal(payload, apiErr); err != nil {
		return fmt.Errorf("failed to decode api error: %w", err)
	}
	return apiErr
}

func decodeEventHubResults(payload []byte) ([]eventHubItem, error) {
	var tag eventHubTag
	if err := json.Unmarshal(payload, &tag); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	switch tag.Type {
	case "results":
		var res eventHubResults
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("failed to decode search results: %w", err)
		}
		return res.Items, nil
	case "error":
		return nil, apiErrorOf(payload)
	default:
		return nil, fmt.Errorf("unknown search response type %q", tag.Type)
	}
}

func decodeEventHubProvider(payload []byte) (*eventHubProvider, error) {
	var tag eventHubTag
	if err := json.Unmarshal(payload, &tag); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	switch tag.Type {
	case "provider":
		var doc eventHubProviderDoc
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode provider: %w", err)
		}
		return &doc.Provider, nil
	case "error":
		return nil, apiErrorOf(payload)
	default:
		return nil, fmt.Errorf("unknown provider response type %q", tag.Type)
	}
}

func (e *EventHub) List(ctx context.Context, opts ListOptions, search domain.SearchContext) (*ListResult, error) {
	if opts.FirstPage == 0 {
		opts.FirstPage = 1
	}
	target := e.baseURL + eventHubSearchPath

	collected, err := collectEntries(ctx, e.Name(), target, func(ctx context.Context, page int) ([]domain.ListingEntry, error) {
		return e.fetchPage(ctx, search, page)
	}, opts)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", e.Name()).
		Int("pages", collected.Pages).
		Int("entries", len(collected.Items)).
		Str("stop_reason", string(collected.Reason)).
		Msg("sources.listing.completed")

	res := &ListResult{ListingCount: len(collected.Items), Pages: collected.Pages, StopReason: collected.Reason}
	for _, entry := range collected.Items {
		res.Tasks = append(res.Tasks, newProfileTask(entry, search, e.loadDetail, e.deps.now))
	}
	return res, nil
}

func (e *EventHub) searchBody(search domain.SearchContext, page int) eventHubSearchRequest {
	body := eventHubSearchRequest{
		Query:    search.Query,
		Category: search.Category,
		Date:     search.EventDate,
		Budget:   search.Budget,
		Page:     page,
		PageSize: e.pageSize,
	}
	if search.LocationText != "" || search.Coordinates != nil {
		body.Location = &eventHubPlace{Text: search.LocationText}
		if search.Coordinates != nil {
			lat, lng := search.Coordinates.Lat, search.Coordinates.Lng
			body.Location.Lat, body.Location.Lng = &lat, &lng
		}
	}
	return body
}

func (e *EventHub) fetchPage(ctx context.Context, search domain.SearchContext, page int) ([]domain.ListingEntry, error) {
	target := e.baseURL + eventHubSearchPath
	body := e.searchBody(search, page)
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, domain.NewPipelineError(domain.CodeListingFetchFailed, e.Name(), domain.StepListingFetch, target, err)
	}

	req := cache.Request{Method: http.MethodPost, URL: target, Body: body}
	fetch := fetchBody(e.deps.Transport, domain.FetchRequest{
		Method:  http.MethodPost,
		URL:     target,
		Body:    encoded,
		Headers: map[string]string{"Accept": "application/json", "Content-Type": "application/json"},
	})
	payload, err := e.deps.Cache.GetJSON(ctx, domain.ArtifactListingJSON, req, rejectAPIErrors(fetch), eventHubSearchShape)
	if err != nil {
		return nil, listingError(e.Name(), target, err)
	}

	items, err := decodeEventHubResults([]byte(payload))
	if err != nil {
		return nil, domain.NewPipelineError(domain.CodeListingParseFailed, e.Name(), domain.StepListingParse, target, err)
	}

	entries := make([]domain.ListingEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, e.toEntry(item))
	}
	return entries, nil
}

func (e *EventHub) toEntry(item eventHubItem) domain.ListingEntry {
	profileURL := item.URL
	if profileURL == "" && item.Slug != "" {
		profileURL = e.baseURL + "/providers/" + url.PathEscape(item.Slug)
	}
	raw, _ := json.Marshal(item)
	return domain.ListingEntry{
		Provider:    e.Name(),
		URL:         profileURL,
		Slug:        item.Slug,
		ProviderID:  item.ID,
		Name:        item.Name,
		PriceMin:    item.PriceFrom,
		PriceMax:    item.PriceTo,
		Currency:    item.Currency,
		Rating:      item.Rating,
		ReviewCount: item.ReviewCount,
		City:        item.City,
		Region:      item.Region,
		Raw:         raw,
	}
}

func (e *EventHub) loadDetail(ctx context.Context, entry domain.ListingEntry) (*domain.ProfileDetail, string, error) {
	if entry.ProviderID == "" {
		return nil, "", domain.NewPipelineError(domain.CodeProfileFetchFailed, e.Name(), domain.StepProfileFetch, entry.URL,
			fmt.Errorf("no provider id to request detail for"))
	}

	target := e.baseURL + eventHubProfilePath + url.PathEscape(entry.ProviderID)
	fetch := fetchBody(e.deps.Transport, domain.FetchRequest{
		Method:  http.MethodGet,
		URL:     target,
		Headers: map[string]string{"Accept": "application/json"},
	})
	payload, err := e.deps.Cache.GetJSON(ctx, domain.ArtifactProfileJSON, cache.Request{Method: http.MethodGet, URL: target}, rejectAPIErrors(fetch), eventHubProviderShape)
	if err != nil {
		return nil, target, err
	}

	p, err := decodeEventHubProvider([]byte(payload))
	if err != nil {
		return nil, target, domain.NewPipelineError(domain.CodeProfileParseFailed, e.Name(), domain.StepProfileParse, target, err)
	}
	return providerDetail(p, json.RawMessage(payload)), target, nil
}

func providerDetail(p *eventHubProvider, raw json.RawMessage) *domain.ProfileDetail {
	d := &domain.ProfileDetail{
		URL:             p.ProfileURL,
		ProviderID:      p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Rating:          p.Rating.Average,
		ReviewCount:     p.Rating.Count,
		Currency:        p.Pricing.Currency,
		City:            p.Location.City,
		Region:          p.Location.Region,
		ServiceRadiusKm: p.Location.ServiceRadiusKm,
		BookedDates:     p.Calendar.Booked,
		YearsActive:     p.YearsActive,
		Verified:        p.Verified,
		ResponseHours:   p.ResponseTimeHours,
		PhotoCount:      p.Media.Photos,
		VideoCount:      p.Media.Videos,
		Cancellation:    p.Policies.Cancellation,
		DepositPercent:  p.Policies.DepositPercent,
		Raw:             raw,
	}
	for _, pkg := range p.Pricing.Packages {
		if pkg.Price != nil {
			d.Prices = append(d.Prices, *pkg.Price)
		}
	}
	if p.Location.Lat != nil && p.Location.Lng != nil {
		d.Geo = &domain.GeoPoint{Lat: *p.Location.Lat, Lng: *p.Location.Lng}
	}
	return d
}

// rejectAPIErrors keeps "error" responses out of the cache.
func rejectAPIErrors(fetch cache.FetchFunc) cache.FetchFunc {
	return func(ctx context.Context) (string, error) {
		payload, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		if apiErr := apiErrorOf([]byte(payload)); apiErr != nil {
			return "", apiErr
		}
		return payload, nil
	}
}
