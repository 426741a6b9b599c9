package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipelineError_SanitizesTargetAndMessage(t *testing.T) {
	cause := errors.New("GET https://api.example.com/search?token=abc123&page=2 failed: Bearer xyz")
	perr := NewPipelineError(CodeListingFetchFailed, ProviderEventHub, StepListingFetch, "https://api.example.com/search?api_key=k1", cause)

	assert.NotContains(t, perr.Target, "k1")
	assert.NotContains(t, perr.Message, "abc123")
	assert.NotContains(t, perr.Message, "xyz")
	assert.Contains(t, perr.Message, "page=2")
	assert.ErrorIs(t, perr, cause)
	assert.Contains(t, perr.Error(), "LISTING_FETCH_FAILED")
}

func TestProfileTask_ExecuteRefusesCancelledContext(t *testing.T) {
	called := false
	task := NewProfileTask(ProviderDJDirectory, "https://dj.example.com/dj/foo-12", func(ctx context.Context) (TaskOutcome, error) {
		called = true
		return TaskOutcome{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := task.Execute(ctx)

	assert.False(t, called)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.True(t, IsCancellation(err))
}

func TestTaskDedupKey_UsesNormalizedTarget(t *testing.T) {
	a := TaskDedupKey("p", "HTTPS://Example.com/dj/foo-12/#reviews")
	b := TaskDedupKey("p", "https://example.com/dj/foo-12")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, TaskDedupKey("q", "https://example.com/dj/foo-12"))
}

func TestURLHelpers(t *testing.T) {
	assert.Equal(t, "https://example.com/dj/foo-12", NormalizeURL("https://EXAMPLE.com:443/dj/foo-12/"))
	assert.Equal(t, "https://example.com", NormalizeURL("https://example.com/"))

	assert.Equal(t, "4512", NumericIDFromURL("https://example.com/dj/mix-master-4512"))
	assert.Equal(t, "98765", NumericIDFromURL("https://example.com/providers/98765/profile"))
	assert.Equal(t, "", NumericIDFromURL("https://example.com/dj/no-id"))

	assert.Equal(t, "mix-master", SlugFromURL("https://example.com/dj/mix-master-4512"))
	assert.Equal(t, "providers", SlugFromURL("https://example.com/providers/98765"))
	assert.Equal(t, "foo-bar", SlugFromURL("https://example.com/dj/Foo-Bar.html"))
}

func TestEnvelope_RoundTripAndVersionCheck(t *testing.T) {
	rec := NormalizedRecord{Provider: ProviderEventHub, Name: "DJ One", ListingOnly: true}
	env, err := NewEnvelope(EnvelopeSourceMixed, []NormalizedRecord{rec}, nil, EnvelopeRaw{RunID: "r1"}, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, env.Meta.Count)
	assert.Equal(t, ResultKindListing, env.Results[0].Kind)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "DJ One", decoded.Results[0].Normalized.Name)
	assert.Equal(t, SchemaVersion, decoded.Meta.SchemaVersion)
}

func TestDecodeEnvelope_RejectsUnknownVersion(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"meta":{"schemaVersion":99,"count":0},"results":[],"raw":null}`))
	assert.ErrorIs(t, err, ErrUnsupportedSchemaVersion)

	_, err = DecodeEnvelope([]byte(`{"meta":{"count":0},"results":[]}`))
	assert.ErrorIs(t, err, ErrUnsupportedSchemaVersion)
}
