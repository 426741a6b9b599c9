package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the stable output handed to the scoring stage.
type Envelope struct {
	Meta    EnvelopeMeta     `json:"meta"`
	Results []EnvelopeResult `json:"results"`
	Raw     json.RawMessage  `json:"raw"`
}

type EnvelopeMeta struct {
	Source        string    `json:"source"`
	RecordKind    string    `json:"recordKind"`
	Count         int       `json:"count"`
	GeneratedAt   time.Time `json:"generatedAt"`
	SchemaVersion int       `json:"schemaVersion"`
}

type EnvelopeResult struct {
	Kind       string           `json:"kind"`
	Normalized NormalizedRecord `json:"normalized"`
	Raw        json.RawMessage  `json:"raw"`
}

// EnvelopeRaw is the run-level payload carried in Envelope.Raw.
type EnvelopeRaw struct {
	RunID   string           `json:"runId"`
	Search  SearchContext    `json:"search"`
	Errors  []*PipelineError `json:"errors"`
	Sources []SourceSummary  `json:"sources"`
}

type SourceSummary struct {
	Provider     string `json:"provider"`
	ListingCount int    `json:"listingCount"`
	RecordCount  int    `json:"recordCount"`
	Failed       bool   `json:"failed"`
}

// NewEnvelope wraps records in the current schema version. raws, when
// provided, must be index-aligned with records.
func NewEnvelope(source string, records []NormalizedRecord, raws []json.RawMessage, runRaw any, now time.Time) (*Envelope, error) {
	results := make([]EnvelopeResult, 0, len(records))
	for i, rec := range records {
		kind := ResultKindNormal
		if rec.ListingOnly {
			kind = ResultKindListing
		}
		raw := json.RawMessage("null")
		if i < len(raws) && len(raws[i]) > 0 {
			raw = raws[i]
		}
		results = append(results, EnvelopeResult{Kind: kind, Normalized: rec, Raw: raw})
	}

	raw, err := json.Marshal(runRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope raw: %w", err)
	}

	return &Envelope{
		Meta: EnvelopeMeta{
			Source:        source,
			RecordKind:    RecordKindProvider,
			Count:         len(results),
			GeneratedAt:   now.UTC(),
			SchemaVersion: SchemaVersion,
		},
		Results: results,
		Raw:     raw,
	}, nil
}

// DecodeEnvelope parses an envelope and rejects schema versions this build
// does not know.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var header struct {
		Meta struct {
			SchemaVersion *int `json:"schemaVersion"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if header.Meta.SchemaVersion == nil {
		return nil, fmt.Errorf("%w: missing", ErrUnsupportedSchemaVersion)
	}
	if *header.Meta.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchemaVersion, *header.Meta.SchemaVersion)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Meta.Count != len(env.Results) {
		return nil, fmt.Errorf("envelope count %d does not match %d results", env.Meta.Count, len(env.Results))
	}
	return &env, nil
}
