package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery-worker/domain"
)

const page = `<!DOCTYPE html><html><body><h1>DJ</h1></body></html>`

func TestFingerprint_StableAcrossKeyOrder(t *testing.T) {
	r1 := Request{Method: "post", URL: "https://api.example.com/search", Body: map[string]any{
		"page": 1, "filters": map[string]any{"city": "Lyon", "category": "dj"},
	}}
	r2 := Request{Method: "POST", URL: "https://api.example.com/search", Body: map[string]any{
		"filters": map[string]any{"category": "dj", "city": "Lyon"}, "page": 1,
	}}
	type body struct {
		Page    int               `json:"page"`
		Filters map[string]string `json:"filters"`
	}
	r3 := Request{Method: "POST", URL: "https://api.example.com/search", Body: body{
		Page: 1, Filters: map[string]string{"city": "Lyon", "category": "dj"},
	}}

	f1, err := Fingerprint(r1)
	require.NoError(t, err)
	f2, _ := Fingerprint(r2)
	f3, _ := Fingerprint(r3)

	assert.Len(t, f1, fingerprintLength)
	assert.Equal(t, f1, f2)
	assert.Equal(t, f1, f3)
}

func TestFingerprint_DiffersForDifferentRequests(t *testing.T) {
	base := Request{Method: "GET", URL: "https://example.com/dj?page=1"}
	others := []Request{
		{Method: "GET", URL: "https://example.com/dj?page=2"},
		{Method: "POST", URL: "https://example.com/dj?page=1"},
		{Method: "GET", URL: "https://example.com/dj?page=1", Body: map[string]any{"x": 1}},
	}
	fp, _ := Fingerprint(base)
	seen := map[string]bool{fp: true}
	for _, o := range others {
		f, err := Fingerprint(o)
		require.NoError(t, err)
		assert.False(t, seen[f], "collision for %+v", o)
		seen[f] = true
	}
}

func TestCache_WriteThenReadIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()
	a := Artifact{Type: domain.ArtifactProfilePage, Request: Request{Method: "GET", URL: "https://x/dj/1"}, Payload: page}

	_, err := c.Write(ctx, []Artifact{a})
	require.NoError(t, err)
	_, err = c.Write(ctx, []Artifact{a})
	require.NoError(t, err)

	got, ok, err := c.Read(ctx, a.Type, a.Request)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, page, got)
	assert.Equal(t, 1, store.Len())
}

func TestCache_GetHTML_RefetchesNonHTMLPayload(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()
	req := Request{Method: "GET", URL: "https://x/dj/1"}

	_, err := c.Write(ctx, []Artifact{{Type: domain.ArtifactProfilePage, Request: req, Payload: `{"error":"rate limited"}`}})
	require.NoError(t, err)

	fetches := 0
	got, err := c.GetHTML(ctx, domain.ArtifactProfilePage, req, func(ctx context.Context) (string, error) {
		fetches++
		return page, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, fetches)
	assert.Equal(t, page, got)

	// The overlay now serves the fresh payload without another fetch.
	got, err = c.GetHTML(ctx, domain.ArtifactProfilePage, req, func(ctx context.Context) (string, error) {
		fetches++
		return "", errors.New("should not be called")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)
	assert.Equal(t, page, got)
}

func TestCache_GetJSON_UsesShapeValidator(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	req := Request{Method: "GET", URL: "https://api.x/providers/1"}
	shape := MustSchemaValidator("provider", `{"type":"object","required":["id"]}`)

	c.Stage(Artifact{Type: domain.ArtifactProfileJSON, Request: req, Payload: `{"name":"no id"}`})

	fetches := 0
	got, err := c.GetJSON(ctx, domain.ArtifactProfileJSON, req, func(ctx context.Context) (string, error) {
		fetches++
		return `{"id":"1","name":"ok"}`, nil
	}, shape)

	require.NoError(t, err)
	assert.Equal(t, 1, fetches)
	assert.JSONEq(t, `{"id":"1","name":"ok"}`, got)
}

func TestCache_FreshPayloadWithWrongShapeIsNotStaged(t *testing.T) {
	c := New(NewMemoryStore())
	req := Request{Method: "GET", URL: "https://x/dj/1"}

	_, err := c.GetHTML(context.Background(), domain.ArtifactProfilePage, req, func(ctx context.Context) (string, error) {
		return "Access denied", nil
	})

	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, 0, c.Pending())
}

func TestCache_FlushWritesPendingOnce(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()
	req := Request{Method: "GET", URL: "https://x/dj/1"}

	c.Stage(Artifact{Type: domain.ArtifactProfilePage, Request: req, Payload: "<html>old</html>"})
	c.Stage(Artifact{Type: domain.ArtifactProfilePage, Request: req, Payload: page})
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, 0, store.Len())

	paths, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Len(t, paths, 1)
	assert.Equal(t, 0, c.Pending())

	paths, err = c.Flush(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)

	stored, ok, _ := store.Read(ctx, BucketProfiles, mustFingerprint(t, req))
	assert.True(t, ok)
	assert.Equal(t, page, stored)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Write(context.Context, []StoredArtifact) ([]string, error) {
	return nil, errors.New("disk full")
}

func TestCache_FailedFlushKeepsPending(t *testing.T) {
	c := New(failingStore{NewMemoryStore()})
	c.Stage(Artifact{Type: domain.ArtifactListingPage, Request: Request{Method: "GET", URL: "https://x/?page=1"}, Payload: page})

	_, err := c.Flush(context.Background())

	assert.Error(t, err)
	assert.Equal(t, 1, c.Pending())
}

func TestCache_StageIsSafeForConcurrentUse(t *testing.T) {
	c := New(NewMemoryStore())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Stage(Artifact{Type: domain.ArtifactProfilePage, Request: Request{Method: "GET", URL: "https://x/dj/" + string(rune('a'+i%10))}, Payload: page})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, c.Pending())
}

func TestCache_GetStopsOnCancelledContext(t *testing.T) {
	c := New(NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := c.GetHTML(ctx, domain.ArtifactProfilePage, Request{Method: "GET", URL: "https://x"}, func(ctx context.Context) (string, error) {
		called = true
		return page, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, BucketListings, BucketFor(domain.ArtifactListingPage))
	assert.Equal(t, BucketProfiles, BucketFor(domain.ArtifactProfileJSON))
	assert.Equal(t, BucketListings, BucketFor("search-results"))
	assert.Equal(t, BucketProfiles, BucketFor("vendor-detail-v2"))
	assert.Equal(t, BucketProfiles, BucketFor("something-else"))
}

func TestSniffers(t *testing.T) {
	assert.True(t, LooksLikeHTML(page))
	assert.True(t, LooksLikeHTML("\n  <!-- cached --><div class=\"card\">x</div>"))
	assert.True(t, LooksLikeHTML(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN"><html></html>`))
	assert.False(t, LooksLikeHTML(`{"a":1}`))
	assert.False(t, LooksLikeHTML("Access denied"))
	assert.False(t, LooksLikeHTML(`<?xml version="1.0"?><rss></rss>`))

	assert.True(t, LooksLikeJSON(` {"a":[1,2]} `))
	assert.True(t, LooksLikeJSON(`[]`))
	assert.False(t, LooksLikeJSON(`{"a":`))
	assert.False(t, LooksLikeJSON(page))
}

func mustFingerprint(t *testing.T, req Request) string {
	t.Helper()
	fp, err := Fingerprint(req)
	require.NoError(t, err)
	return fp
}
