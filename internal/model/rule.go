package model

import (
	"time"

	"github.com/google/uuid"
)

// RuleStatus tracks a composed rule through the approval pipeline.
type RuleStatus string

const (
	RuleDraft        RuleStatus = "DRAFT"
	RuleComposed     RuleStatus = "COMPOSED"
	RuleManualReview RuleStatus = "MANUAL_REVIEW"
	RuleRejected     RuleStatus = "REJECTED"
	RuleApproved     RuleStatus = "APPROVED"
	RuleReleased     RuleStatus = "RELEASED"
)

// RegulatoryRule is the composed, citable unit produced from one or more
// extracted shapes. Consumers only ever read RELEASED rules filtered by
// effective date.
type RegulatoryRule struct {
	ID            uuid.UUID   `json:"id"`
	Concept       string      `json:"concept"` // stable key for the regulated concept
	Title         string      `json:"title"`
	Summary       string      `json:"summary"`
	Jurisdiction  string      `json:"jurisdiction"`
	ClaimIDs      []uuid.UUID `json:"claim_ids"`
	EvidenceIDs   []uuid.UUID `json:"evidence_ids"`
	Status        RuleStatus  `json:"status"`
	Confidence    float64     `json:"confidence"`
	Version       int         `json:"version,omitempty"`        // set at release
	EffectiveFrom *time.Time  `json:"effective_from,omitempty"` // set at release
	EffectiveTo   *time.Time  `json:"effective_to,omitempty"`
	ReviewNote    string      `json:"review_note,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ConflictStatus is the lifecycle of a detected rule conflict.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "OPEN"
	ConflictResolved ConflictStatus = "RESOLVED"
)

// RegulatoryConflict records two candidate rules for the same concept that
// disagree. Nothing touching either rule is released while the conflict is
// OPEN.
type RegulatoryConflict struct {
	ID              uuid.UUID      `json:"id"`
	Concept         string         `json:"concept"`
	ExistingRuleID  uuid.UUID      `json:"existing_rule_id"`
	CandidateRuleID uuid.UUID      `json:"candidate_rule_id"`
	Description     string         `json:"description"`
	Status          ConflictStatus `json:"status"`
	Resolution      string         `json:"resolution,omitempty"`
	WinnerRuleID    *uuid.UUID     `json:"winner_rule_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// Release is an immutable, timestamped batch of rules published together.
type Release struct {
	ID         uuid.UUID   `json:"id"`
	Sequence   int         `json:"sequence"` // monotonically increasing, auditable
	RuleIDs    []uuid.UUID `json:"rule_ids"`
	ReleasedAt time.Time   `json:"released_at"`
}
