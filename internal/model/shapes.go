package model

import (
	"time"

	"github.com/google/uuid"
)

// RegulatoryProcess is a named ordered procedure (e.g. "VAT registration").
// Processes form an append-only catalog keyed by slug: re-extracting an
// existing slug is a no-op.
type RegulatoryProcess struct {
	ID           uuid.UUID     `json:"id"`
	EvidenceID   uuid.UUID     `json:"evidence_id"`
	Slug         string        `json:"slug"`
	Name         string        `json:"name"`
	Jurisdiction string        `json:"jurisdiction"`
	Steps        []ProcessStep `json:"steps,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ProcessStep is one ordered step of a process with optional branch targets.
type ProcessStep struct {
	ID            uuid.UUID `json:"id"`
	ProcessID     uuid.UUID `json:"process_id"`
	Ordinal       int       `json:"ordinal"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Prerequisites []string  `json:"prerequisites,omitempty"`
	OnSuccess     string    `json:"on_success,omitempty"` // slug of next step
	OnFailure     string    `json:"on_failure,omitempty"`
}

// ReferenceTable is a keyed lookup table (IBANs, codes, office addresses).
// Re-extraction replaces the whole entry set atomically under the same id.
type ReferenceTable struct {
	ID           uuid.UUID        `json:"id"`
	EvidenceID   uuid.UUID        `json:"evidence_id"`
	Category     string           `json:"category"`
	Name         string           `json:"name"`
	Jurisdiction string           `json:"jurisdiction"`
	Entries      []ReferenceEntry `json:"entries,omitempty"`
	LastUpdated  time.Time        `json:"last_updated"`
}

// ReferenceEntry is one key/value row of a reference table.
type ReferenceEntry struct {
	ID      uuid.UUID `json:"id"`
	TableID uuid.UUID `json:"table_id"`
	Key     string    `json:"key"`
	Value   string    `json:"value"`
	Note    string    `json:"note,omitempty"`
}

// RegulatoryAsset is a downloadable document (form, template), keyed by its
// absolute download URL. Re-extraction updates metadata in place.
type RegulatoryAsset struct {
	ID          uuid.UUID  `json:"id"`
	EvidenceID  uuid.UUID  `json:"evidence_id"`
	DownloadURL string     `json:"download_url"`
	Name        string     `json:"name"`
	AssetKind   string     `json:"asset_kind,omitempty"` // form, template, leaflet
	Version     string     `json:"version,omitempty"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TransitionalProvision is date-based rule-switch logic. The set is an
// append-only historical log, never merged.
type TransitionalProvision struct {
	ID         uuid.UUID `json:"id"`
	EvidenceID uuid.UUID `json:"evidence_id"`
	FromRule   string    `json:"from_rule"`
	ToRule     string    `json:"to_rule"`
	CutoffDate time.Time `json:"cutoff_date"`
	Pattern    string    `json:"pattern,omitempty"` // e.g. "invoice-date", "payment-date"
	CreatedAt  time.Time `json:"created_at"`
}
