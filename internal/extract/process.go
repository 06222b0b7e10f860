package extract

import (
	"context"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/classify"
	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
)

const processSchemaSrc = `{
	"type": "object",
	"required": ["processes"],
	"properties": {
		"processes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["slug", "name", "steps"],
				"properties": {
					"slug": {"type": "string", "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$"},
					"name": {"type": "string", "minLength": 1},
					"jurisdiction": {"type": "string"},
					"steps": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["ordinal", "name"],
							"properties": {
								"ordinal": {"type": "integer", "minimum": 1},
								"name": {"type": "string", "minLength": 1},
								"description": {"type": "string"},
								"prerequisites": {"type": "array", "items": {"type": "string"}},
								"on_success": {"type": "string"},
								"on_failure": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`

var processSchema = jsonschema.MustCompileString("process.schema.json", processSchemaSrc)

// ProcessStore is what the process extractor needs from persistence.
type ProcessStore interface {
	EvidenceStore
	ProcessIDBySlug(ctx context.Context, slug string) (uuid.UUID, bool, error)
	InsertProcess(ctx context.Context, proc *model.RegulatoryProcess) error
}

// ProcessExtractor produces ordered procedures. The catalog is append-only
// by slug: an existing slug is reused, never rewritten.
type ProcessExtractor struct {
	store ProcessStore
	port  llm.Port
}

// NewProcessExtractor wires the process extractor.
func NewProcessExtractor(store ProcessStore, port llm.Port) *ProcessExtractor {
	return &ProcessExtractor{store: store, port: port}
}

// Name returns the routed extractor name.
func (e *ProcessExtractor) Name() string { return classify.ExtractorProcess }

type processDoc struct {
	Processes []struct {
		Slug         string `json:"slug"`
		Name         string `json:"name"`
		Jurisdiction string `json:"jurisdiction"`
		Steps        []struct {
			Ordinal       int      `json:"ordinal"`
			Name          string   `json:"name"`
			Description   string   `json:"description"`
			Prerequisites []string `json:"prerequisites"`
			OnSuccess     string   `json:"on_success"`
			OnFailure     string   `json:"on_failure"`
		} `json:"steps"`
	} `json:"processes"`
}

// Extract pulls procedures out of one evidence snapshot.
func (e *ProcessExtractor) Extract(ctx context.Context, evidenceID uuid.UUID) (*Result, error) {
	_, text, err := loadEvidence(ctx, e.store, evidenceID)
	if err != nil {
		return nil, err
	}

	var doc processDoc
	err = completeValidated(ctx, e.port, llm.Request{
		Task:         llm.TaskProcess,
		SystemPrompt: processSystemPrompt,
		UserPrompt:   "Source text:\n" + text,
		Temperature:  0,
	}, processSchema, "process", &doc)
	if err != nil {
		return nil, err
	}

	result := &Result{Extractor: e.Name()}
	for _, p := range doc.Processes {
		existingID, exists, err := e.store.ProcessIDBySlug(ctx, p.Slug)
		if err != nil {
			return nil, err
		}
		if exists {
			// Append-only catalog: slug already known, reuse it.
			result.Reused = true
			result.CreatedIDs = append(result.CreatedIDs, existingID)
			continue
		}

		proc := model.RegulatoryProcess{
			ID:           uuid.New(),
			EvidenceID:   evidenceID,
			Slug:         p.Slug,
			Name:         p.Name,
			Jurisdiction: p.Jurisdiction,
		}
		for _, s := range p.Steps {
			proc.Steps = append(proc.Steps, model.ProcessStep{
				Ordinal:       s.Ordinal,
				Name:          s.Name,
				Description:   s.Description,
				Prerequisites: s.Prerequisites,
				OnSuccess:     s.OnSuccess,
				OnFailure:     s.OnFailure,
			})
		}
		if err := e.store.InsertProcess(ctx, &proc); err != nil {
			return nil, err
		}
		result.CreatedIDs = append(result.CreatedIDs, proc.ID)
	}
	return result, nil
}

const processSystemPrompt = `You extract administrative procedures from regulatory source text.
Answer with one JSON object: {"processes": [...]}. Each process has a stable
kebab-case slug (e.g. "vat-registration-de"), a name, a jurisdiction, and
ordered steps with ordinal (1-based), name, description, prerequisites, and
optional on_success / on_failure branch targets (step names).
Emit an empty processes array when the text describes no procedure.`
