package domain

// DiscoveryRequest is the queue message that starts one run.
type DiscoveryRequest struct {
	RunID        string        `json:"run_id,omitempty"`
	Search       SearchContext `json:"search"`
	Sources      []string      `json:"sources,omitempty"`
	MaxItems     int           `json:"max_items,omitempty"`
	MaxPages     int           `json:"max_pages,omitempty"`
	IncludePrior bool          `json:"include_prior,omitempty"`
}

// ScoringMessage is what the scoring stage receives once a run has merged.
type ScoringMessage struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Envelope    *Envelope `json:"envelope,omitempty"`
	EnvelopeURI string    `json:"envelope_uri,omitempty"`
}
