package domain

import (
	"encoding/json"
	"time"
)

// SearchContext describes what the caller is looking for. Adapters use it to
// build listing requests and to compute budget fit.
type SearchContext struct {
	Query        string    `json:"query"`
	Category     string    `json:"category,omitempty"`
	LocationText string    `json:"location,omitempty"`
	Coordinates  *GeoPoint `json:"coordinates,omitempty"`
	EventDate    string    `json:"event_date,omitempty"`
	Budget       *float64  `json:"budget,omitempty"`
	Currency     string    `json:"currency,omitempty"`
}

type GeoPoint struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DisplayText string  `json:"display_text,omitempty"`
}

// ListingEntry is what a listing page tells us about one provider. It exists
// for every discovered item, whether or not its detail page is ever fetched.
type ListingEntry struct {
	Provider    string          `json:"provider"`
	URL         string          `json:"url"`
	Slug        string          `json:"slug,omitempty"`
	ProviderID  string          `json:"provider_id,omitempty"`
	Name        string          `json:"name"`
	PriceMin    *float64        `json:"price_min,omitempty"`
	PriceMax    *float64        `json:"price_max,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	Rating      *float64        `json:"rating,omitempty"`
	ReviewCount *int            `json:"review_count,omitempty"`
	City        string          `json:"city,omitempty"`
	Region      string          `json:"region,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// ProfileDetail is the typed result of parsing one detail page.
type ProfileDetail struct {
	URL             string          `json:"url"`
	ProviderID      string          `json:"provider_id,omitempty"`
	Name            string          `json:"name,omitempty"`
	Description     string          `json:"description,omitempty"`
	Rating          *float64        `json:"rating,omitempty"`
	ReviewCount     *int            `json:"review_count,omitempty"`
	Prices          []float64       `json:"prices,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	City            string          `json:"city,omitempty"`
	Region          string          `json:"region,omitempty"`
	Geo             *GeoPoint       `json:"geo,omitempty"`
	ServiceRadiusKm *float64        `json:"service_radius_km,omitempty"`
	BookedDates     []string        `json:"booked_dates,omitempty"`
	YearsActive     *int            `json:"years_active,omitempty"`
	Verified        bool            `json:"verified,omitempty"`
	ResponseHours   *float64        `json:"response_hours,omitempty"`
	PhotoCount      int             `json:"photo_count,omitempty"`
	VideoCount      int             `json:"video_count,omitempty"`
	Cancellation    string          `json:"cancellation,omitempty"`
	DepositPercent  *float64        `json:"deposit_percent,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// DetailOutcome pairs a requested detail URL with what came back for it.
type DetailOutcome struct {
	RequestedURL string
	Detail       *ProfileDetail
	Err          error
}

// Joined is a listing entry with the detail page the merge step attached to it.
type Joined struct {
	Entry  ListingEntry
	Detail *ProfileDetail
	// MatchedBy is "url", "id", "slug" or empty when no detail matched.
	MatchedBy string
}

// NormalizedRecord is the common schema every source projects into.
type NormalizedRecord struct {
	Provider        string          `json:"provider"`
	ProviderID      *string         `json:"providerId"`
	Name            string          `json:"name"`
	ProfileURL      *string         `json:"profileUrl"`
	Reputation      Reputation      `json:"reputation"`
	Location        Location        `json:"location"`
	Availability    Availability    `json:"availability"`
	Professionalism Professionalism `json:"professionalism"`
	Media           Media           `json:"media"`
	Policies        Policies        `json:"policies"`
	Pricing         Pricing         `json:"pricing"`
	BudgetSummary   BudgetSummary   `json:"budgetSummary"`
	ListingOnly     bool            `json:"listingOnly"`
	FetchedAt       time.Time       `json:"fetchedAt"`
	// Raw is the source payload behind the record, emitted next to it in the
	// envelope rather than inside it.
	Raw json.RawMessage `json:"-"`
}

// RecordRaw is the shape of NormalizedRecord.Raw.
type RecordRaw struct {
	Listing json.RawMessage `json:"listing,omitempty"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

type Reputation struct {
	Rating      *float64 `json:"rating"`
	ReviewCount *int     `json:"reviewCount"`
}

type Location struct {
	City            string   `json:"city,omitempty"`
	Region          string   `json:"region,omitempty"`
	Lat             *float64 `json:"lat,omitempty"`
	Lng             *float64 `json:"lng,omitempty"`
	ServiceRadiusKm *float64 `json:"serviceRadiusKm,omitempty"`
	DistanceKm      *float64 `json:"distanceKm,omitempty"`
}

type Availability struct {
	Status    string `json:"status"`
	EventDate string `json:"eventDate,omitempty"`
}

type Professionalism struct {
	YearsActive   *int     `json:"yearsActive,omitempty"`
	Verified      bool     `json:"verified"`
	ResponseHours *float64 `json:"responseHours,omitempty"`
}

type Media struct {
	PhotoCount int  `json:"photoCount"`
	VideoCount int  `json:"videoCount"`
	HasVideo   bool `json:"hasVideo"`
}

type Policies struct {
	Cancellation   string   `json:"cancellation,omitempty"`
	DepositPercent *float64 `json:"depositPercent,omitempty"`
}

type Pricing struct {
	Prices   []float64 `json:"prices,omitempty"`
	Currency string    `json:"currency,omitempty"`
}

type BudgetSummary struct {
	MinKnownPrice         *float64 `json:"minKnownPrice"`
	MaxKnownPrice         *float64 `json:"maxKnownPrice"`
	HasTransparentPricing bool     `json:"hasTransparentPricing"`
	BudgetFit             string   `json:"budgetFit"`
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
