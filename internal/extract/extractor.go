package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
)

// maxExtractChars bounds the cleaned evidence text in extraction prompts.
const maxExtractChars = 32000

// Result reports what one extractor created for an evidence snapshot.
type Result struct {
	Extractor  string      `json:"extractor"`
	CreatedIDs []uuid.UUID `json:"created_ids"`
	Reused     bool        `json:"reused,omitempty"` // natural key already existed
}

// Extractor is the common contract of all five shape extractors.
// Extraction is idempotent per evidence id via natural-key upserts.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, evidenceID uuid.UUID) (*Result, error)
}

// EvidenceStore loads snapshots. Extraction fails fast when the evidence
// id does not exist.
type EvidenceStore interface {
	GetEvidence(ctx context.Context, id uuid.UUID) (*model.Evidence, error)
}

// SchemaError marks LLM output that failed shape-schema validation. It is
// a reported failure of the extraction, permanent unless the upstream
// error was transient.
type SchemaError struct {
	Shape string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("extract %s: output failed schema: %v", e.Shape, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// completeValidated runs one extraction completion and validates the
// response document against the shape's schema before decoding into out.
func completeValidated(ctx context.Context, port llm.Port, req llm.Request, schema *jsonschema.Schema, shape string, out any) error {
	doc, err := port.CompleteJSON(ctx, req)
	if err != nil {
		return fmt.Errorf("extract %s: %w", shape, err)
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return &SchemaError{Shape: shape, Err: err}
	}
	if err := schema.Validate(v); err != nil {
		return &SchemaError{Shape: shape, Err: err}
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return &SchemaError{Shape: shape, Err: err}
	}
	return nil
}

// loadEvidence fetches the snapshot and its cleaned, truncated text.
func loadEvidence(ctx context.Context, store EvidenceStore, id uuid.UUID) (*model.Evidence, string, error) {
	ev, err := store.GetEvidence(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("extract: evidence %s: %w", id, err)
	}
	text := truncate(CleanText(ev.RawContent, ev.ContentType), maxExtractChars)
	return ev, text, nil
}
