package merge

import (
	"github.com/google/uuid"

	"discovery-worker/domain"
)

// DedupKey returns the cross-source identity of a record: provider id when
// known, else the profile URL, else a fresh key so the record is kept.
func DedupKey(rec domain.NormalizedRecord) string {
	if rec.ProviderID != nil && *rec.ProviderID != "" {
		return rec.Provider + "|id|" + *rec.ProviderID
	}
	if rec.ProfileURL != nil && *rec.ProfileURL != "" {
		return rec.Provider + "|url|" + domain.NormalizeURL(*rec.ProfileURL)
	}
	return rec.Provider + "|fresh|" + uuid.NewString()
}

// Dedupe merges record sets in priority order. The first record seen for a
// key survives; later duplicates only fill fields it lacks. Records without
// any identifying field are never dropped.
func Dedupe(sets ...[]domain.NormalizedRecord) []domain.NormalizedRecord {
	var out []domain.NormalizedRecord
	index := make(map[string]int)
	// A record known by id may also be reachable by URL from a set that
	// lacked the id.
	urlIndex := make(map[string]int)

	for _, set := range sets {
		for _, rec := range set {
			key := DedupKey(rec)
			pos, ok := index[key]
			if !ok && rec.ProfileURL != nil && *rec.ProfileURL != "" {
				pos, ok = urlIndex[rec.Provider+"|"+domain.NormalizeURL(*rec.ProfileURL)]
				if ok && rec.ProviderID != nil && out[pos].ProviderID != nil && *rec.ProviderID != *out[pos].ProviderID {
					ok = false
				}
			}
			if ok {
				out[pos] = fillMissing(out[pos], rec)
				index[key] = pos
				continue
			}
			index[key] = len(out)
			if rec.ProfileURL != nil && *rec.ProfileURL != "" {
				urlKey := rec.Provider + "|" + domain.NormalizeURL(*rec.ProfileURL)
				if _, exists := urlIndex[urlKey]; !exists {
					urlIndex[urlKey] = len(out)
				}
			}
			out = append(out, rec)
		}
	}
	return out
}

func fillMissing(dst, src domain.NormalizedRecord) domain.NormalizedRecord {
	if dst.ProviderID == nil {
		dst.ProviderID = src.ProviderID
	}
	if dst.ProfileURL == nil {
		dst.ProfileURL = src.ProfileURL
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Reputation.Rating == nil {
		dst.Reputation.Rating = src.Reputation.Rating
	}
	if dst.Reputation.ReviewCount == nil {
		dst.Reputation.ReviewCount = src.Reputation.ReviewCount
	}
	if dst.Location.City == "" {
		dst.Location.City = src.Location.City
	}
	if dst.Location.Region == "" {
		dst.Location.Region = src.Location.Region
	}
	if dst.Location.Lat == nil || dst.Location.Lng == nil {
		dst.Location.Lat, dst.Location.Lng = src.Location.Lat, src.Location.Lng
	}
	if dst.Location.DistanceKm == nil {
		dst.Location.DistanceKm = src.Location.DistanceKm
	}
	if len(dst.Pricing.Prices) == 0 && len(src.Pricing.Prices) > 0 {
		dst.Pricing = src.Pricing
		dst.BudgetSummary = src.BudgetSummary
	}
	if len(dst.Raw) == 0 {
		dst.Raw = src.Raw
	}
	if dst.ListingOnly && !src.ListingOnly {
		dst.Professionalism = src.Professionalism
		dst.Media = src.Media
		dst.Policies = src.Policies
		dst.Availability = src.Availability
		dst.ListingOnly = false
	}
	return dst
}
