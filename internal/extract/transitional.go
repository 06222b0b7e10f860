package extract

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/classify"
	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
)

const transitionalSchemaSrc = `{
	"type": "object",
	"required": ["provisions"],
	"properties": {
		"provisions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["from_rule", "to_rule", "cutoff_date"],
				"properties": {
					"from_rule": {"type": "string", "minLength": 1},
					"to_rule": {"type": "string", "minLength": 1},
					"cutoff_date": {"type": "string", "format": "date"},
					"pattern": {"type": "string"}
				}
			}
		}
	}
}`

var transitionalSchema = jsonschema.MustCompileString("transitional.schema.json", transitionalSchemaSrc)

// TransitionalStore is what the transitional extractor needs from persistence.
type TransitionalStore interface {
	EvidenceStore
	InsertTransitional(ctx context.Context, tp *model.TransitionalProvision) error
}

// TransitionalExtractor records date-based rule switches. The provision set
// is a historical log: every extraction appends, nothing is merged.
type TransitionalExtractor struct {
	store TransitionalStore
	port  llm.Port
}

// NewTransitionalExtractor wires the transitional extractor.
func NewTransitionalExtractor(store TransitionalStore, port llm.Port) *TransitionalExtractor {
	return &TransitionalExtractor{store: store, port: port}
}

// Name returns the routed extractor name.
func (e *TransitionalExtractor) Name() string { return classify.ExtractorTransitional }

type transitionalDoc struct {
	Provisions []struct {
		FromRule   string `json:"from_rule"`
		ToRule     string `json:"to_rule"`
		CutoffDate string `json:"cutoff_date"`
		Pattern    string `json:"pattern"`
	} `json:"provisions"`
}

// Extract pulls transitional provisions out of one evidence snapshot.
func (e *TransitionalExtractor) Extract(ctx context.Context, evidenceID uuid.UUID) (*Result, error) {
	_, text, err := loadEvidence(ctx, e.store, evidenceID)
	if err != nil {
		return nil, err
	}

	var doc transitionalDoc
	err = completeValidated(ctx, e.port, llm.Request{
		Task:         llm.TaskTransitional,
		SystemPrompt: transitionalSystemPrompt,
		UserPrompt:   "Source text:\n" + text,
		Temperature:  0,
	}, transitionalSchema, "transitional", &doc)
	if err != nil {
		return nil, err
	}

	result := &Result{Extractor: e.Name()}
	for _, p := range doc.Provisions {
		cutoff, err := time.Parse("2006-01-02", p.CutoffDate)
		if err != nil {
			return nil, &SchemaError{Shape: "transitional", Err: err}
		}
		tp := model.TransitionalProvision{
			ID:         uuid.New(),
			EvidenceID: evidenceID,
			FromRule:   p.FromRule,
			ToRule:     p.ToRule,
			CutoffDate: cutoff,
			Pattern:    p.Pattern,
		}
		if err := e.store.InsertTransitional(ctx, &tp); err != nil {
			return nil, err
		}
		result.CreatedIDs = append(result.CreatedIDs, tp.ID)
	}
	return result, nil
}

const transitionalSystemPrompt = `You extract transitional provisions from regulatory source text: rules of
the form "regime A applies until date X, regime B applies from date X",
including which date governs the switch (invoice date, payment date,
delivery date). Answer with one JSON object {"provisions": [...]} where
each provision has from_rule, to_rule, cutoff_date as YYYY-MM-DD, and an
optional pattern naming the governing date. Emit an empty provisions array
when the text contains no date-based rule switch.`
