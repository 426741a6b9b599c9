package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"discovery-worker/domain"
	"discovery-worker/merge"
	"discovery-worker/models"
)

type RecordRepository interface {
	SaveRun(ctx context.Context, run models.DiscoveryRun) error
	SaveRecords(ctx context.Context, runID string, records []domain.NormalizedRecord) error
	LoadPrior(ctx context.Context, providers []string, limit int) ([]domain.NormalizedRecord, error)
}

type PostgresRecordRepository struct {
	DB        *gorm.DB
	BatchSize int
}

func NewRecordRepository(db *gorm.DB, batchSize int) *PostgresRecordRepository {
	if batchSize <= 0 {
		batchSize = 100 // Default
	}
	return &PostgresRecordRepository{
		DB:        db,
		BatchSize: batchSize,
	}
}

func (repo *PostgresRecordRepository) SaveRun(ctx context.Context, run models.DiscoveryRun) error {
	err := repo.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "records_count", "errors_count", "completed_at"}),
		}).
		Create(&run).Error
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// SaveRecords upserts records on (provider, dedup key); a later run
// overwrites what an earlier run stored for the same provider.
func (repo *PostgresRecordRepository) SaveRecords(ctx context.Context, runID string, records []domain.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]models.ProviderRecord, 0, len(records))
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", rec.Name, err)
		}
		rows = append(rows, models.ProviderRecord{
			RunID:       runID,
			Provider:    rec.Provider,
			DedupKey:    merge.DedupKey(rec),
			ProviderID:  rec.ProviderID,
			ProfileURL:  rec.ProfileURL,
			Name:        rec.Name,
			ListingOnly: rec.ListingOnly,
			Payload:     string(payload),
			FetchedAt:   rec.FetchedAt,
		})
	}

	err := repo.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "dedup_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"run_id", "provider_id", "profile_url", "name", "listing_only", "payload", "fetched_at"}),
		}).
		CreateInBatches(rows, repo.BatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %d provider records: %w", len(rows), err)
	}

	log.Info().Str("run_id", runID).Int("records", len(rows)).Msg("db.records.saved")
	return nil
}

// LoadPrior returns the most recent stored records for the given providers.
func (repo *PostgresRecordRepository) LoadPrior(ctx context.Context, providers []string, limit int) ([]domain.NormalizedRecord, error) {
	var rows []models.ProviderRecord
	query := repo.DB.WithContext(ctx).Where("provider IN ?", providers).Order("fetched_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load prior records: %w", err)
	}

	records := make([]domain.NormalizedRecord, 0, len(rows))
	for _, row := range rows {
		var rec domain.NormalizedRecord
		if err := json.Unmarshal([]byte(row.Payload), &rec); err != nil {
			log.Warn().Err(err).Int("id", row.ID).Msg("db.records.corrupt_payload")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
