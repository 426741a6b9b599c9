package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery-worker/cache"
	"discovery-worker/domain"
	"discovery-worker/pagination"
)

func eventHubItemJSON(host, id, slug, name string) string {
	return fmt.Sprintf(`{"id":%q,"slug":%q,"name":%q,"url":"http://%s/providers/%s-%s","priceFrom":450,"priceTo":900,"currency":"EUR","rating":4.6,"reviewCount":12,"city":"Lyon"}`,
		id, slug, name, host, slug, id)
}

func newEventHubServer(t *testing.T, searchHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(searchHits, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			Query string `json:"query"`
			Page  int    `json:"page"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dj", body.Query)

		var items []string
		switch body.Page {
		case 1:
			items = []string{eventHubItemJSON(r.Host, "101", "dj-nova", "DJ Nova"), eventHubItemJSON(r.Host, "102", "beats", "Beats")}
		case 2:
			items = []string{eventHubItemJSON(r.Host, "103", "old-name", "Old Name")}
		}
		fmt.Fprintf(w, `{"type":"results","page":%d,"items":[%s]}`, body.Page, strings.Join(items, ","))
	})
	mux.HandleFunc("/api/v1/providers/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/api/v1/providers/") {
		case "101":
			fmt.Fprintf(w, `{"type":"provider","provider":{"id":"101","name":"DJ Nova","profileUrl":"http://%s/providers/dj-nova-101",
				"rating":{"average":4.8,"count":40},
				"pricing":{"currency":"EUR","packages":[{"name":"Basic","price":450},{"name":"Night","price":900}]},
				"location":{"city":"Lyon","lat":45.75,"lng":4.85,"serviceRadiusKm":60},
				"calendar":{"booked":["2024-06-01"]},
				"yearsActive":7,"verified":true,"responseTimeHours":2,
				"media":{"photos":14,"videos":2},
				"policies":{"cancellation":"flexible","depositPercent":30}}}`, r.Host)
		case "102":
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
		case "103":
			fmt.Fprintf(w, `{"type":"provider","provider":{"id":"103","name":"New Name","profileUrl":"http://%s/providers/new-name-103"}}`, r.Host)
		default:
			http.NotFound(w, r)
		}
	})
	return httptest.NewServer(mux)
}

func TestEventHub_ListAndExecute(t *testing.T) {
	var searchHits int32
	server := newEventHubServer(t, &searchHits)
	defer server.Close()

	c := cache.New(cache.NewMemoryStore())
	adapter := NewEventHub(server.URL, testDeps(c))
	search := domain.SearchContext{
		Query: "dj", EventDate: "2024-06-01", Budget: ptr(800.0),
		Coordinates: &domain.GeoPoint{Lat: 45.76, Lng: 4.83},
	}

	res, err := adapter.List(context.Background(), ListOptions{MaxPages: 5}, search)

	require.NoError(t, err)
	assert.Equal(t, 3, res.ListingCount)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, pagination.StopEmpty, res.StopReason)
	require.Len(t, res.Tasks, 3)
	assert.Equal(t, domain.ProviderEventHub, res.Tasks[0].Provider)

	outcomes := runTasks(t, res.Tasks)

	full := outcomes[0].Record
	require.NotNil(t, full)
	assert.Empty(t, outcomes[0].Errors)
	assert.False(t, full.ListingOnly)
	assert.Equal(t, "101", *full.ProviderID)
	assert.Equal(t, []float64{450, 900}, full.Pricing.Prices)
	assert.Equal(t, domain.BudgetFitOK, full.BudgetSummary.BudgetFit)
	assert.Equal(t, domain.AvailabilityUnavailable, full.Availability.Status)
	assert.Equal(t, 14, full.Media.PhotoCount)
	assert.NotNil(t, full.Location.DistanceKm)
	var fullRaw domain.RecordRaw
	require.NoError(t, json.Unmarshal(full.Raw, &fullRaw))
	assert.Contains(t, string(fullRaw.Listing), `"dj-nova"`)
	assert.Contains(t, string(fullRaw.Detail), `"type":"provider"`)

	degraded := outcomes[1]
	require.NotNil(t, degraded.Record)
	assert.True(t, degraded.Record.ListingOnly)
	require.Len(t, degraded.Errors, 1)
	assert.Equal(t, domain.CodeProfileFetchFailed, degraded.Errors[0].Code)
	assert.Contains(t, degraded.Errors[0].Message, "500")
	var degradedRaw domain.RecordRaw
	require.NoError(t, json.Unmarshal(degraded.Record.Raw, &degradedRaw))
	assert.NotEmpty(t, degradedRaw.Listing)
	assert.Empty(t, degradedRaw.Detail)

	renamed := outcomes[2].Record
	require.NotNil(t, renamed)
	assert.Equal(t, "New Name", renamed.Name)
	assert.False(t, renamed.ListingOnly)
	assert.True(t, strings.HasSuffix(*renamed.ProfileURL, "/providers/new-name-103"))

	// Three listing pages and two provider documents; the failed detail is not cached.
	assert.Equal(t, 5, c.Pending())
}

func TestEventHub_CachedListingIsNotRefetched(t *testing.T) {
	var searchHits int32
	server := newEventHubServer(t, &searchHits)
	defer server.Close()

	c := cache.New(cache.NewMemoryStore())
	adapter := NewEventHub(server.URL, testDeps(c))
	search := domain.SearchContext{Query: "dj"}

	_, err := adapter.List(context.Background(), ListOptions{MaxPages: 5}, search)
	require.NoError(t, err)
	_, err = c.Flush(context.Background())
	require.NoError(t, err)
	_, err = adapter.List(context.Background(), ListOptions{MaxPages: 5}, search)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&searchHits))
}

func TestEventHub_APIErrorIsFatalAndNotCached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"error","code":"RATE_LIMITED","message":"slow down"}`)
	}))
	defer server.Close()

	c := cache.New(cache.NewMemoryStore())
	res, err := NewEventHub(server.URL, testDeps(c)).List(context.Background(), ListOptions{MaxPages: 3}, domain.SearchContext{Query: "dj"})

	assert.Nil(t, res)
	var perr *domain.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.CodeListingFetchFailed, perr.Code)
	assert.Contains(t, perr.Message, "RATE_LIMITED")
	assert.Equal(t, 0, c.Pending())
}

func TestEventHub_UnknownResponseTypeIsParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"maintenance","items":[]}`)
	}))
	defer server.Close()

	_, err := NewEventHub(server.URL, testDeps(cache.New(nil))).List(context.Background(), ListOptions{MaxPages: 3}, domain.SearchContext{})

	var perr *domain.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.CodeListingParseFailed, perr.Code)
}

func TestEventHub_CancelledListIssuesNoRequest(t *testing.T) {
	var searchHits int32
	server := newEventHubServer(t, &searchHits)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEventHub(server.URL, testDeps(cache.New(nil))).List(ctx, ListOptions{MaxPages: 3}, domain.SearchContext{Query: "dj"})

	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&searchHits))
}

func TestDecodeEventHubResults_TaggedUnion(t *testing.T) {
	items, err := decodeEventHubResults([]byte(`{"type":"results","items":[{"id":"1","name":"A"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "A", items[0].Name)

	_, err = decodeEventHubResults([]byte(`{"type":"error","code":"BAD_QUERY","message":"nope"}`))
	var apiErr *EventHubAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "BAD_QUERY", apiErr.Code)
}
