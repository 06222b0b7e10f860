package model

import (
	"time"

	"github.com/google/uuid"
)

// PriorityTier orders monitored sources by how quickly changes must be picked up.
type PriorityTier string

const (
	TierCritical PriorityTier = "CRITICAL" // gazettes, primary law portals
	TierHigh     PriorityTier = "HIGH"     // ministry guidance, official form pages
	TierNormal   PriorityTier = "NORMAL"   // everything else worth watching
)

// Source is a monitored regulatory endpoint.
type Source struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	URL          string       `json:"url"`
	Jurisdiction string       `json:"jurisdiction"` // e.g. "DE", "DE-BY", "EU"
	Tier         PriorityTier `json:"tier"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
	LastPolledAt *time.Time   `json:"last_polled_at,omitempty"`
}

// Evidence is an immutable fetched snapshot of content from a Source.
// It is created once by the sentinel and never mutated; every downstream
// entity carries an evidence reference for provenance.
type Evidence struct {
	ID          uuid.UUID `json:"id"`
	SourceID    uuid.UUID `json:"source_id"`
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	ContentType string    `json:"content_type"`
	RawContent  string    `json:"raw_content"`
	ContentHash string    `json:"content_hash"` // sha256 of RawContent, hex
	FetchedAt   time.Time `json:"fetched_at"`
}
