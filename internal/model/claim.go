package model

import (
	"time"

	"github.com/google/uuid"
)

// AtomicClaim is a single logic frame extracted from evidence: who must do
// what, when, with which value. Claims are immutable once created;
// corrections are new claims, never edits.
type AtomicClaim struct {
	ID            uuid.UUID        `json:"id"`
	EvidenceID    uuid.UUID        `json:"evidence_id"`
	Who           string           `json:"who"`       // addressed party ("employer", "VAT-registered trader")
	Trigger       string           `json:"trigger"`   // when/condition the rule applies
	Assertion     string           `json:"assertion"` // what must hold or be done
	Value         string           `json:"value,omitempty"`
	Exceptions    []ClaimException `json:"exceptions,omitempty"`
	ExactQuote    string           `json:"exact_quote"` // verbatim substring of Evidence.RawContent
	ArticleNumber string           `json:"article_number,omitempty"`
	Confidence    float64          `json:"confidence"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ClaimException overrides its claim under a stated condition. Owned by
// exactly one claim.
type ClaimException struct {
	ID            uuid.UUID `json:"id"`
	ClaimID       uuid.UUID `json:"claim_id"`
	Condition     string    `json:"condition"`
	Override      string    `json:"override"`
	SourceArticle string    `json:"source_article,omitempty"`
}
