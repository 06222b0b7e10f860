package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/llm"
)

// maxPromptChars bounds the evidence text handed to the model. Roughly a
// 12k-token budget on typical mixed German/English legal text.
const maxPromptChars = 48000

// Result is the classifier's structured verdict.
type Result struct {
	PrimaryType         ContentType   `json:"primary_type"`
	SecondaryTypes      []ContentType `json:"secondary_types"`
	Confidence          float64       `json:"confidence"`
	SuggestedExtractors []string      `json:"suggested_extractors"`
}

const resultSchema = `{
	"type": "object",
	"required": ["primary_type", "confidence"],
	"properties": {
		"primary_type": {
			"type": "string",
			"enum": ["LOGIC", "PROCESS", "REFERENCE", "DOCUMENT", "TRANSITIONAL", "MIXED", "UNKNOWN"]
		},
		"secondary_types": {
			"type": "array",
			"items": {
				"type": "string",
				"enum": ["LOGIC", "PROCESS", "REFERENCE", "DOCUMENT", "TRANSITIONAL", "MIXED", "UNKNOWN"]
			}
		},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

var compiledResultSchema = jsonschema.MustCompileString("classification.schema.json", resultSchema)

// Classifier types evidence text via the LLM port.
type Classifier struct {
	port llm.Port
}

// New creates a classifier on the given port.
func New(port llm.Port) *Classifier {
	return &Classifier{port: port}
}

// Classify types the evidence and derives the extractor routing. The
// routing always comes from ExtractorsFor, never from the model.
func (c *Classifier) Classify(ctx context.Context, text, url, contentType string) (*Result, error) {
	truncated := text
	if len(truncated) > maxPromptChars {
		truncated = truncated[:maxPromptChars]
	}

	doc, err := c.port.CompleteJSON(ctx, llm.Request{
		Task:         llm.TaskClassify,
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   buildClassifyPrompt(truncated, url, contentType),
		Temperature:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("classify: decode response: %w", err)
	}
	if err := compiledResultSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("classify: response failed schema: %w", err)
	}

	var result Result
	if err := json.Unmarshal(doc, &result); err != nil {
		return nil, fmt.Errorf("classify: decode response: %w", err)
	}
	if !ValidType(result.PrimaryType) {
		result.PrimaryType = TypeUnknown
	}
	result.SuggestedExtractors = ExtractorsFor(result.PrimaryType)
	return &result, nil
}

const classifySystemPrompt = `You classify regulatory source documents for a tax-law knowledge pipeline.
Answer with a single JSON object matching:
{"primary_type": "LOGIC|PROCESS|REFERENCE|DOCUMENT|TRANSITIONAL|MIXED|UNKNOWN",
 "secondary_types": [...], "confidence": 0.0-1.0}

LOGIC: normative statements (obligations, thresholds, rates).
PROCESS: numbered or ordered procedures the reader must follow.
REFERENCE: lookup tables (bank accounts, codes, competent offices).
DOCUMENT: pages whose point is a downloadable form or template.
TRANSITIONAL: old-rule/new-rule switches with a cutoff date.
MIXED: several of the above with real substance each.
UNKNOWN: none of the above.`

func buildClassifyPrompt(text, url, contentType string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nDeclared content type: %s\n", url, contentType)
	if hints := Hints(text); len(hints) > 0 {
		fmt.Fprintf(&b, "Keyword signals: %s\n", strings.Join(hints, ", "))
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(text)
	return b.String()
}
