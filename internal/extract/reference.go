package extract

import (
	"context"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/classify"
	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
)

const referenceSchemaSrc = `{
	"type": "object",
	"required": ["tables"],
	"properties": {
		"tables": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["category", "name", "jurisdiction", "entries"],
				"properties": {
					"category": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"jurisdiction": {"type": "string", "minLength": 1},
					"entries": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["key", "value"],
							"properties": {
								"key": {"type": "string", "minLength": 1},
								"value": {"type": "string", "minLength": 1},
								"note": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

var referenceSchema = jsonschema.MustCompileString("reference.schema.json", referenceSchemaSrc)

// ReferenceStore is what the reference extractor needs from persistence.
type ReferenceStore interface {
	EvidenceStore
	FindReferenceTable(ctx context.Context, category, name, jurisdiction string) (uuid.UUID, bool, error)
	CreateReferenceTable(ctx context.Context, table *model.ReferenceTable) error
	ReplaceReferenceEntries(ctx context.Context, tableID, evidenceID uuid.UUID, entries []model.ReferenceEntry) error
}

// ReferenceExtractor maintains keyed lookup tables. A table already known
// under its (category, name, jurisdiction) key has its whole entry set
// replaced atomically; the table id is stable across refreshes.
type ReferenceExtractor struct {
	store ReferenceStore
	port  llm.Port
}

// NewReferenceExtractor wires the reference extractor.
func NewReferenceExtractor(store ReferenceStore, port llm.Port) *ReferenceExtractor {
	return &ReferenceExtractor{store: store, port: port}
}

// Name returns the routed extractor name.
func (e *ReferenceExtractor) Name() string { return classify.ExtractorReference }

type referenceDoc struct {
	Tables []struct {
		Category     string `json:"category"`
		Name         string `json:"name"`
		Jurisdiction string `json:"jurisdiction"`
		Entries      []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
			Note  string `json:"note"`
		} `json:"entries"`
	} `json:"tables"`
}

// Extract pulls lookup tables out of one evidence snapshot.
func (e *ReferenceExtractor) Extract(ctx context.Context, evidenceID uuid.UUID) (*Result, error) {
	_, text, err := loadEvidence(ctx, e.store, evidenceID)
	if err != nil {
		return nil, err
	}

	var doc referenceDoc
	err = completeValidated(ctx, e.port, llm.Request{
		Task:         llm.TaskReference,
		SystemPrompt: referenceSystemPrompt,
		UserPrompt:   "Source text:\n" + text,
		Temperature:  0,
	}, referenceSchema, "reference", &doc)
	if err != nil {
		return nil, err
	}

	result := &Result{Extractor: e.Name()}
	for _, t := range doc.Tables {
		entries := make([]model.ReferenceEntry, 0, len(t.Entries))
		for _, en := range t.Entries {
			entries = append(entries, model.ReferenceEntry{
				Key:   en.Key,
				Value: en.Value,
				Note:  en.Note,
			})
		}

		existingID, exists, err := e.store.FindReferenceTable(ctx, t.Category, t.Name, t.Jurisdiction)
		if err != nil {
			return nil, err
		}
		if exists {
			if err := e.store.ReplaceReferenceEntries(ctx, existingID, evidenceID, entries); err != nil {
				return nil, err
			}
			result.Reused = true
			result.CreatedIDs = append(result.CreatedIDs, existingID)
			continue
		}

		table := model.ReferenceTable{
			ID:           uuid.New(),
			EvidenceID:   evidenceID,
			Category:     t.Category,
			Name:         t.Name,
			Jurisdiction: t.Jurisdiction,
			Entries:      entries,
		}
		if err := e.store.CreateReferenceTable(ctx, &table); err != nil {
			return nil, err
		}
		result.CreatedIDs = append(result.CreatedIDs, table.ID)
	}
	return result, nil
}

const referenceSystemPrompt = `You extract reference tables from regulatory source text: keyed lookup
data such as tax office bank accounts, form codes, rate tables, deadlines
per jurisdiction. Answer with one JSON object {"tables": [...]} where each
table has category (e.g. "bank-accounts"), name, jurisdiction, and entries
of key/value pairs with an optional note. Keys within a table must be
unique. Emit an empty tables array when the text carries no lookup data.`
