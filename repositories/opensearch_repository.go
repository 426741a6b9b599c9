package repositories

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/rs/zerolog/log"

	"discovery-worker/domain"
	"discovery-worker/merge"
)

const DefaultRecordsIndex = "provider_records"

type OpenSearchRepository struct {
	client *opensearch.Client
	index  string
}

func NewOpenSearchClient(url string) (*opensearch.Client, error) {
	return opensearch.NewClient(opensearch.Config{Addresses: []string{url}})
}

func NewOpenSearchRepository(client *opensearch.Client, index string) *OpenSearchRepository {
	if index == "" {
		index = DefaultRecordsIndex
	}
	return &OpenSearchRepository{client: client, index: index}
}

type recordDocument struct {
	domain.NormalizedRecord
	RunID     string `json:"run_id"`
	DedupKey  string `json:"dedup_key"`
	IndexedAt string `json:"indexed_at"`
}

// documentID hashes the dedup key so that re-indexing a provider replaces its document.
func documentID(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (r *OpenSearchRepository) IndexRecords(ctx context.Context, runID string, records []domain.NormalizedRecord) error {
	for _, rec := range records {
		if err := r.indexRecord(ctx, runID, rec); err != nil {
			return err
		}
	}
	log.Info().Str("run_id", runID).Int("records", len(records)).Str("index", r.index).Msg("opensearch.records.indexed")
	return nil
}

func (r *OpenSearchRepository) indexRecord(ctx context.Context, runID string, rec domain.NormalizedRecord) error {
	key := merge.DedupKey(rec)
	body, err := json.Marshal(recordDocument{
		NormalizedRecord: rec,
		RunID:            runID,
		DedupKey:         key,
		IndexedAt:        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      r.index,
		DocumentID: documentID(key),
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, r.client)
	if err != nil {
		return fmt.Errorf("failed to execute index request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing document %s: %s", key, res.String())
	}
	return nil
}
