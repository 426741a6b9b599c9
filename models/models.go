package models

import (
	"time"
)

// ProviderRecord is one merged provider record kept across runs
type ProviderRecord struct {
	ID          int       `gorm:"primaryKey;autoIncrement"`
	RunID       string    `gorm:"type:text;not null;index"`
	Provider    string    `gorm:"type:text;not null;uniqueIndex:idx_provider_records_identity"`
	DedupKey    string    `gorm:"column:dedup_key;type:text;not null;uniqueIndex:idx_provider_records_identity"`
	ProviderID  *string   `gorm:"column:provider_id;type:text"`
	ProfileURL  *string   `gorm:"column:profile_url;type:text"`
	Name        string    `gorm:"type:text"`
	ListingOnly bool      `gorm:"not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	FetchedAt   time.Time `gorm:"type:timestamp with time zone;index"`
}

// TableName overrides the table name
func (ProviderRecord) TableName() string {
	return "provider_records"
}

// DiscoveryRun mirrors the run status kept in DynamoDB for SQL reporting
type DiscoveryRun struct {
	ID           string     `gorm:"primaryKey;type:text"`
	Status       string     `gorm:"type:text;not null"`
	Query        string     `gorm:"type:text"`
	RecordsCount int        `gorm:"not null"`
	ErrorsCount  int        `gorm:"not null"`
	StartedAt    time.Time  `gorm:"type:timestamp with time zone"`
	CompletedAt  *time.Time `gorm:"type:timestamp with time zone"`

	Records []ProviderRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the table name
func (DiscoveryRun) TableName() string {
	return "discovery_runs"
}
