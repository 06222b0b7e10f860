package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/classify"
	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
)

const claimSchemaSrc = `{
	"type": "object",
	"required": ["claims"],
	"properties": {
		"claims": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["who", "trigger", "assertion", "exact_quote", "confidence"],
				"properties": {
					"who": {"type": "string", "minLength": 1},
					"trigger": {"type": "string", "minLength": 1},
					"assertion": {"type": "string", "minLength": 1},
					"value": {"type": "string"},
					"exact_quote": {"type": "string", "minLength": 1},
					"article_number": {"type": "string"},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"exceptions": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["condition", "override"],
							"properties": {
								"condition": {"type": "string", "minLength": 1},
								"override": {"type": "string", "minLength": 1},
								"source_article": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

var claimSchema = jsonschema.MustCompileString("claim.schema.json", claimSchemaSrc)

// ClaimStore is what the claim extractor needs from persistence.
type ClaimStore interface {
	EvidenceStore
	InsertClaims(ctx context.Context, claims []model.AtomicClaim) error
}

// ClaimExtractor produces atomic logic frames. Claims are provenance-bound
// and always insert, never deduplicate, but every exact quote must be a
// verbatim substring of the evidence's raw content.
type ClaimExtractor struct {
	store ClaimStore
	port  llm.Port
}

// NewClaimExtractor wires the claim extractor.
func NewClaimExtractor(store ClaimStore, port llm.Port) *ClaimExtractor {
	return &ClaimExtractor{store: store, port: port}
}

// Name returns the routed extractor name.
func (e *ClaimExtractor) Name() string { return classify.ExtractorClaim }

type claimDoc struct {
	Claims []struct {
		Who           string  `json:"who"`
		Trigger       string  `json:"trigger"`
		Assertion     string  `json:"assertion"`
		Value         string  `json:"value"`
		ExactQuote    string  `json:"exact_quote"`
		ArticleNumber string  `json:"article_number"`
		Confidence    float64 `json:"confidence"`
		Exceptions    []struct {
			Condition     string `json:"condition"`
			Override      string `json:"override"`
			SourceArticle string `json:"source_article"`
		} `json:"exceptions"`
	} `json:"claims"`
}

// Extract pulls atomic claims out of one evidence snapshot.
func (e *ClaimExtractor) Extract(ctx context.Context, evidenceID uuid.UUID) (*Result, error) {
	ev, text, err := loadEvidence(ctx, e.store, evidenceID)
	if err != nil {
		return nil, err
	}

	var doc claimDoc
	err = completeValidated(ctx, e.port, llm.Request{
		Task:         llm.TaskClaim,
		SystemPrompt: claimSystemPrompt,
		UserPrompt:   "Source text:\n" + text,
		Temperature:  0,
	}, claimSchema, "claim", &doc)
	if err != nil {
		return nil, err
	}

	claims := make([]model.AtomicClaim, 0, len(doc.Claims))
	for _, c := range doc.Claims {
		// The quote check runs against the raw snapshot, not the cleaned
		// text: provenance means the bytes are really there.
		if !strings.Contains(ev.RawContent, c.ExactQuote) {
			return nil, &SchemaError{
				Shape: "claim",
				Err:   fmt.Errorf("exact_quote is not a substring of evidence %s: %q", evidenceID, clip(c.ExactQuote, 120)),
			}
		}
		claim := model.AtomicClaim{
			ID:            uuid.New(),
			EvidenceID:    evidenceID,
			Who:           c.Who,
			Trigger:       c.Trigger,
			Assertion:     c.Assertion,
			Value:         c.Value,
			ExactQuote:    c.ExactQuote,
			ArticleNumber: c.ArticleNumber,
			Confidence:    c.Confidence,
		}
		for _, exc := range c.Exceptions {
			claim.Exceptions = append(claim.Exceptions, model.ClaimException{
				Condition:     exc.Condition,
				Override:      exc.Override,
				SourceArticle: exc.SourceArticle,
			})
		}
		claims = append(claims, claim)
	}

	if err := e.store.InsertClaims(ctx, claims); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
	}
	return &Result{Extractor: e.Name(), CreatedIDs: ids}, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

const claimSystemPrompt = `You extract atomic regulatory claims from tax-law source text.
Answer with one JSON object: {"claims": [...]}. Each claim is one logic frame:
who (the addressed party), trigger (when the rule applies), assertion (what
must hold), value (amount/rate if any), exceptions (condition + override),
exact_quote (a VERBATIM substring of the source text, copied byte for byte),
article_number, confidence (0-1).
Never paraphrase inside exact_quote. Emit an empty claims array when the
text contains no normative statements.`
