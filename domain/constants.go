package domain

const (
	// Providers
	ProviderEventHub    = "eventhub"
	ProviderDJDirectory = "djdirectory"

	// Artifact types
	ArtifactListingPage = "listing-page"
	ArtifactListingJSON = "listing-json"
	ArtifactProfilePage = "profile-page"
	ArtifactProfileJSON = "profile-json"

	// Run statuses
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusNoData    = "NO_DATA"
	StatusFailed    = "FAILED"

	// Output envelope
	SchemaVersion       = 1
	RecordKindProvider  = "service-provider"
	ResultKindNormal    = "profile"
	ResultKindListing   = "listing-only"
	EnvelopeSourceMixed = "multi-source"

	// Budget fit
	BudgetFitGood    = "good"
	BudgetFitOK      = "ok"
	BudgetFitBad     = "bad"
	BudgetFitUnknown = "unknown"

	// Availability
	AvailabilityAvailable   = "available"
	AvailabilityUnavailable = "unavailable"
	AvailabilityUnknown     = "unknown"
)
