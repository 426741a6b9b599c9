package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"discovery-worker/domain"
)

// budgetTolerance is how far above the budget a starting price still counts
// as a reasonable fit.
const budgetTolerance = 0.15

const earthRadiusKm = 6371.0

var errNoIdentity = errors.New("record has neither a name nor a profile url")

// Normalize projects a joined listing entry into the common record schema.
func Normalize(j domain.Joined, search domain.SearchContext, now time.Time) (domain.NormalizedRecord, error) {
	e, d := j.Entry, j.Detail
	rec := domain.NormalizedRecord{
		Provider:    e.Provider,
		Name:        e.Name,
		ProfileURL:  domain.StringPtr(e.URL),
		ProviderID:  domain.StringPtr(e.ProviderID),
		ListingOnly: d == nil,
		FetchedAt:   now,
		Reputation:  domain.Reputation{Rating: e.Rating, ReviewCount: e.ReviewCount},
		Location:    domain.Location{City: e.City, Region: e.Region},
	}
	currency := e.Currency
	prices := listingPrices(e)

	if d != nil {
		if d.Name != "" {
			rec.Name = d.Name
		}
		if d.URL != "" {
			rec.ProfileURL = domain.StringPtr(d.URL)
		}
		if d.ProviderID != "" {
			rec.ProviderID = domain.StringPtr(d.ProviderID)
		}
		if d.Rating != nil {
			rec.Reputation.Rating = d.Rating
		}
		if d.ReviewCount != nil {
			rec.Reputation.ReviewCount = d.ReviewCount
		}
		if d.City != "" {
			rec.Location.City = d.City
		}
		if d.Region != "" {
			rec.Location.Region = d.Region
		}
		if d.Geo != nil {
			lat, lng := d.Geo.Lat, d.Geo.Lng
			rec.Location.Lat, rec.Location.Lng = &lat, &lng
		}
		rec.Location.ServiceRadiusKm = d.ServiceRadiusKm
		if len(d.Prices) > 0 {
			prices = append([]float64(nil), d.Prices...)
		}
		if d.Currency != "" {
			currency = d.Currency
		}
		rec.Professionalism = domain.Professionalism{
			YearsActive:   d.YearsActive,
			Verified:      d.Verified,
			ResponseHours: d.ResponseHours,
		}
		rec.Media = domain.Media{PhotoCount: d.PhotoCount, VideoCount: d.VideoCount, HasVideo: d.VideoCount > 0}
		rec.Policies = domain.Policies{Cancellation: d.Cancellation, DepositPercent: d.DepositPercent}
	}

	if rec.Name == "" && rec.ProfileURL == nil {
		return domain.NormalizedRecord{}, errNoIdentity
	}
	for _, p := range prices {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return domain.NormalizedRecord{}, fmt.Errorf("invalid price %v", p)
		}
	}
	if rec.Reputation.Rating != nil && (*rec.Reputation.Rating < 0 || *rec.Reputation.Rating > 5) {
		return domain.NormalizedRecord{}, fmt.Errorf("rating %v out of range", *rec.Reputation.Rating)
	}

	if currency == "" {
		currency = search.Currency
	}
	sort.Float64s(prices)
	rec.Pricing = domain.Pricing{Prices: prices, Currency: currency}
	rec.BudgetSummary = SummarizeBudget(prices, search.Budget)
	rec.Availability = availability(d, search.EventDate)

	if search.Coordinates != nil && rec.Location.Lat != nil && rec.Location.Lng != nil {
		km := math.Round(DistanceKm(search.Coordinates.Lat, search.Coordinates.Lng, *rec.Location.Lat, *rec.Location.Lng)*10) / 10
		rec.Location.DistanceKm = &km
	}
	rec.Raw = recordRaw(e, d)
	return rec, nil
}

func recordRaw(e domain.ListingEntry, d *domain.ProfileDetail) json.RawMessage {
	raw := domain.RecordRaw{Listing: e.Raw}
	if d != nil {
		raw.Detail = d.Raw
	}
	if len(raw.Listing) == 0 && len(raw.Detail) == 0 {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return data
}

func listingPrices(e domain.ListingEntry) []float64 {
	var prices []float64
	if e.PriceMin != nil {
		prices = append(prices, *e.PriceMin)
	}
	if e.PriceMax != nil && (e.PriceMin == nil || *e.PriceMax != *e.PriceMin) {
		prices = append(prices, *e.PriceMax)
	}
	return prices
}

// SummarizeBudget compares the known prices with the caller's budget.
func SummarizeBudget(prices []float64, budget *float64) domain.BudgetSummary {
	summary := domain.BudgetSummary{BudgetFit: domain.BudgetFitUnknown}
	if len(prices) == 0 {
		return summary
	}
	lo, hi := prices[0], prices[0]
	for _, p := range prices[1:] {
		lo = math.Min(lo, p)
		hi = math.Max(hi, p)
	}
	summary.MinKnownPrice = &lo
	summary.MaxKnownPrice = &hi
	summary.HasTransparentPricing = true

	if budget == nil {
		return summary
	}
	switch b := *budget; {
	case hi <= b:
		summary.BudgetFit = domain.BudgetFitGood
	case lo <= b*(1+budgetTolerance):
		summary.BudgetFit = domain.BudgetFitOK
	default:
		summary.BudgetFit = domain.BudgetFitBad
	}
	return summary
}

func availability(d *domain.ProfileDetail, eventDate string) domain.Availability {
	out := domain.Availability{Status: domain.AvailabilityUnknown, EventDate: eventDate}
	if d == nil || eventDate == "" {
		return out
	}
	out.Status = domain.AvailabilityAvailable
	for _, booked := range d.BookedDates {
		if booked == eventDate {
			out.Status = domain.AvailabilityUnavailable
			break
		}
	}
	return out
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
