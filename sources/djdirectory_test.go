package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery-worker/cache"
	"discovery-worker/domain"
	"discovery-worker/merge"
	"discovery-worker/pagination"
)

const directoryListingPage = `<!DOCTYPE html>
<html><body>
<section class="results" data-total="3">
  <article class="dj-card" data-provider-id="4512" data-slug="mix-master">
    <a class="dj-card__link" href="/dj/mix-master-4512"><h2 class="dj-card__name">Mix
      Master</h2></a>
    <span class="dj-card__price" data-min="450" data-max="900" data-currency="EUR">450 € – 900 €</span>
    <span class="dj-card__rating" data-rating="4.7" data-reviews="31">4.7 (31)</span>
    <span class="dj-card__city" data-region="ARA">Lyon</span>
  </article>
  <article class="dj-card" data-provider-id="77">
    <a class="dj-card__link" href="/dj/broken-77"><h2 class="dj-card__name">Broken Page</h2></a>
  </article>
  <article class="dj-card">
    <h2 class="dj-card__name">No Link</h2>
  </article>
</section>
</body></html>`

const directoryProfilePage = `<!DOCTYPE html>
<html><head>
<link rel="canonical" href="%s/dj/mix-master-4512">
<script type="application/ld+json">{"@type":"LocalBusiness","name":"Mix Master"}</script>
</head><body>
<main class="profile" data-provider-id="4512">
  <h1 class="profile__name">Mix Master</h1>
  <div class="profile__rating"><span itemprop="ratingValue">4.9</span> (<span itemprop="reviewCount">35</span>)</div>
  <p class="profile__bio">Weddings and  corporate events.</p>
  <ul class="profile__packages" data-currency="EUR">
    <li data-price="450">Essential</li>
    <li>Premium 1 200 €</li>
  </ul>
  <div class="profile__location" data-lat="45.76" data-lng="4.83" data-radius-km="80">
    <span class="profile__city">Lyon</span><span class="profile__region">Auvergne-Rhône-Alpes</span>
  </div>
  <ul class="profile__calendar"><li data-booked="2024-07-13"></li></ul>
  <dl class="profile__facts"><dd data-years-active="9">9 years</dd><dd data-response-hours="4">4h</dd></dl>
  <span class="badge badge--verified">Verified</span>
  <div class="profile__gallery"><img src="a.jpg"><img src="b.jpg"><img src="c.jpg"></div>
  <div class="profile__videos"><iframe src="https://video.example/1"></iframe></div>
  <div class="profile__policy" data-deposit-percent="30"><p class="profile__cancellation">Free up to 30 days</p></div>
</main>
</body></html>`

func newDirectoryServer(t *testing.T, listingHits *int32) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(listingHits, 1)
		fmt.Fprint(w, directoryListingPage)
	})
	mux.HandleFunc("/dj/mix-master-4512", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, directoryProfilePage, server.URL)
	})
	mux.HandleFunc("/dj/broken-77", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!DOCTYPE html><html><body><p>Profile temporarily unavailable</p></body></html>`)
	})
	server = httptest.NewServer(mux)
	return server
}

func TestDJDirectory_RepeatedPagesStopOnStagnation(t *testing.T) {
	var hits int32
	server := newDirectoryServer(t, &hits)
	defer server.Close()

	res, err := NewDJDirectory(server.URL, testDeps(cache.New(nil))).
		List(context.Background(), ListOptions{MaxPages: 10}, domain.SearchContext{Query: "dj", LocationText: "Lyon"})

	require.NoError(t, err)
	assert.Equal(t, pagination.StopStagnation, res.StopReason)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, 2, res.ListingCount)
	// The card without a link is reported once per page it appeared on.
	require.Len(t, res.Errors, 3)
	assert.Equal(t, domain.CodeListingParseFailed, res.Errors[0].Code)
}

func TestDJDirectory_ExecuteTasks(t *testing.T) {
	var hits int32
	server := newDirectoryServer(t, &hits)
	defer server.Close()

	c := cache.New(cache.NewMemoryStore())
	res, err := NewDJDirectory(server.URL, testDeps(c)).
		List(context.Background(), ListOptions{MaxPages: 1}, domain.SearchContext{Query: "dj", EventDate: "2024-07-13", Budget: ptr(1500.0)})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)

	outcomes := runTasks(t, res.Tasks)

	rec := outcomes[0].Record
	require.NotNil(t, rec)
	assert.Empty(t, outcomes[0].Errors)
	assert.Equal(t, "Mix Master", rec.Name)
	assert.Equal(t, "4512", *rec.ProviderID)
	assert.Equal(t, 4.9, *rec.Reputation.Rating)
	assert.Equal(t, []float64{450, 1200}, rec.Pricing.Prices)
	assert.Equal(t, domain.BudgetFitGood, rec.BudgetSummary.BudgetFit)
	assert.Equal(t, domain.AvailabilityUnavailable, rec.Availability.Status)
	assert.Equal(t, 3, rec.Media.PhotoCount)
	assert.Equal(t, 1, rec.Media.VideoCount)
	assert.True(t, rec.Professionalism.Verified)
	assert.Equal(t, 9, *rec.Professionalism.YearsActive)
	assert.Equal(t, 30.0, *rec.Policies.DepositPercent)

	broken := outcomes[1]
	require.NotNil(t, broken.Record)
	assert.True(t, broken.Record.ListingOnly)
	assert.Equal(t, "Broken Page", broken.Record.Name)
	require.Len(t, broken.Errors, 1)
	assert.Equal(t, domain.CodeProfileParseFailed, broken.Errors[0].Code)
}

func TestDJDirectory_NonHTMLListingIsParseFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"blocked"}`)
	}))
	defer server.Close()

	c := cache.New(cache.NewMemoryStore())
	_, err := NewDJDirectory(server.URL, testDeps(c)).List(context.Background(), ListOptions{MaxPages: 2}, domain.SearchContext{})

	var perr *domain.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.CodeListingParseFailed, perr.Code)
	assert.Equal(t, 0, c.Pending())
}

func TestDJDirectory_ListingFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := NewDJDirectory(server.URL, testDeps(cache.New(nil))).List(context.Background(), ListOptions{MaxPages: 2}, domain.SearchContext{})

	var perr *domain.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, domain.CodeListingFetchFailed, perr.Code)
	assert.Equal(t, domain.ProviderDJDirectory, perr.Provider)
}

func TestParseDirectoryListing(t *testing.T) {
	pageURL, _ := url.Parse("https://dj.example.com/search?page=1")

	entries, skipped, err := parseDirectoryListing(directoryListingPage, pageURL)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Len(t, skipped, 1)
	first := entries[0]
	assert.Equal(t, "https://dj.example.com/dj/mix-master-4512", first.URL)
	assert.Equal(t, "Mix Master", first.Name)
	assert.Equal(t, "4512", first.ProviderID)
	assert.Equal(t, "mix-master", first.Slug)
	assert.Equal(t, 450.0, *first.PriceMin)
	assert.Equal(t, 900.0, *first.PriceMax)
	assert.Equal(t, 31, *first.ReviewCount)
	assert.Equal(t, "Lyon", first.City)
	assert.Equal(t, "ARA", first.Region)
	assert.Nil(t, entries[1].PriceMin)
}

func TestParseDirectoryListing_MissingResultsContainer(t *testing.T) {
	pageURL, _ := url.Parse("https://dj.example.com/search")

	_, _, err := parseDirectoryListing(`<html><body><h1>Access denied</h1></body></html>`, pageURL)

	assert.ErrorIs(t, err, errNoResultsContainer)
}

func TestParsePriceText(t *testing.T) {
	assert.Equal(t, 1200.0, *parsePriceText("Premium 1 200 €"))
	assert.Equal(t, 450.5, *parsePriceText("450,50 EUR"))
	assert.Equal(t, 1200.0, *parsePriceText("1.200 €"))
	assert.Nil(t, parsePriceText("on request"))
}

const unnumberedListingPage = `<!DOCTYPE html>
<html><body>
<section class="results">
  <article class="dj-card">
    <a class="dj-card__link" href="/dj/club-54"><h2 class="dj-card__name">Club 54</h2></a>
  </article>
  <article class="dj-card">
    <a class="dj-card__link" href="/dj/studio-54"><h2 class="dj-card__name">Studio 54</h2></a>
  </article>
</section>
</body></html>`

func TestDJDirectory_CardsWithoutProviderIDAreKeptApart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, unnumberedListingPage)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	res, err := NewDJDirectory(server.URL, testDeps(cache.New(nil))).
		List(context.Background(), ListOptions{MaxPages: 1}, domain.SearchContext{Query: "dj"})

	require.NoError(t, err)
	assert.Equal(t, 2, res.ListingCount)
	require.Len(t, res.Tasks, 2)

	outcomes := runTasks(t, res.Tasks)
	var records []domain.NormalizedRecord
	for _, o := range outcomes {
		require.NotNil(t, o.Record)
		assert.Nil(t, o.Record.ProviderID)
		records = append(records, *o.Record)
	}
	merged := merge.Dedupe(records)
	require.Len(t, merged, 2)
	assert.Equal(t, "Club 54", merged[0].Name)
	assert.Equal(t, "Studio 54", merged[1].Name)
}

func TestParseDirectoryListing_DoesNotDeriveIDFromURL(t *testing.T) {
	pageURL, _ := url.Parse("https://dj.example.com/search")

	entries, _, err := parseDirectoryListing(unnumberedListingPage, pageURL)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].ProviderID)
	assert.Equal(t, "https://dj.example.com/dj/club-54", entries[0].URL)
	assert.Empty(t, entries[1].ProviderID)
}
