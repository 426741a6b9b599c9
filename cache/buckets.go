package cache

import (
	"strings"

	"discovery-worker/domain"
)

const (
	BucketListings = "listings"
	BucketProfiles = "profiles"
)

var knownBuckets = map[string]string{
	domain.ArtifactListingPage: BucketListings,
	domain.ArtifactListingJSON: BucketListings,
	domain.ArtifactProfilePage: BucketProfiles,
	domain.ArtifactProfileJSON: BucketProfiles,
}

var (
	listingHints = []string{"list", "search", "index", "result", "catalog"}
	profileHints = []string{"profile", "detail", "provider", "vendor"}
)

// BucketFor maps an artifact type to its storage bucket. Types outside the
// known set are matched by name and default to the profiles bucket.
func BucketFor(artifactType string) string {
	if bucket, ok := knownBuckets[artifactType]; ok {
		return bucket
	}
	name := strings.ToLower(artifactType)
	for _, hint := range profileHints {
		if strings.Contains(name, hint) {
			return BucketProfiles
		}
	}
	for _, hint := range listingHints {
		if strings.Contains(name, hint) {
			return BucketListings
		}
	}
	return BucketProfiles
}
