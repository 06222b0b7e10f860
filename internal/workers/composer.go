package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
	"github.com/fiskal-io/regstream/internal/store"
)

const composeSchemaSrc = `{
	"type": "object",
	"required": ["concept", "title", "summary", "confidence"],
	"properties": {
		"concept": {"type": "string", "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$"},
		"title": {"type": "string", "minLength": 1},
		"summary": {"type": "string", "minLength": 1},
		"jurisdiction": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

const disagreementSchemaSrc = `{
	"type": "object",
	"required": ["conflicts"],
	"properties": {
		"conflicts": {"type": "boolean"},
		"description": {"type": "string"}
	}
}`

var (
	composeSchema      = jsonschema.MustCompileString("compose.schema.json", composeSchemaSrc)
	disagreementSchema = jsonschema.MustCompileString("disagreement.schema.json", disagreementSchemaSrc)
)

// ComposerStore is what rule composition needs from persistence.
type ComposerStore interface {
	GetClaims(ctx context.Context, ids []uuid.UUID) ([]model.AtomicClaim, error)
	ActiveRuleByConcept(ctx context.Context, concept string) (*model.RegulatoryRule, error)
	InsertRule(ctx context.Context, rule *model.RegulatoryRule) error
	OpenConflictForConcept(ctx context.Context, concept string) (*model.RegulatoryConflict, error)
	CreateConflict(ctx context.Context, c *model.RegulatoryConflict) error
}

// ComposeOutcome is what one compose run produced: a composed rule headed
// for review, or a conflict parked for the arbiter. Exactly one is set.
type ComposeOutcome struct {
	Rule     *model.RegulatoryRule
	Conflict *model.RegulatoryConflict
}

// Composer aggregates one domain's claims into a candidate RegulatoryRule.
// When the candidate disagrees with the active rule for the same concept,
// it opens (or reuses) an OPEN conflict instead of enqueuing review;
// conflict resolution belongs to the arbiter.
type Composer struct {
	store  ComposerStore
	port   llm.Port
	enq    Enqueuer
	logger *slog.Logger
}

// NewComposer wires the composition worker.
func NewComposer(store ComposerStore, port llm.Port, enq Enqueuer, logger *slog.Logger) *Composer {
	return &Composer{store: store, port: port, enq: enq, logger: logger}
}

// Handle processes one compose job.
func (c *Composer) Handle(ctx context.Context, task *asynq.Task) error {
	var p queue.ComposePayload
	if err := queue.UnmarshalPayload(task.Payload(), &p); err != nil {
		return err
	}

	outcome, err := c.Compose(ctx, p.Domain, p.ClaimIDs)
	if err != nil {
		return err
	}
	if outcome == nil {
		return nil
	}

	if outcome.Conflict != nil {
		c.logger.Info("composer: conflict parked",
			"domain", p.Domain, "concept", outcome.Conflict.Concept,
			"conflict_id", outcome.Conflict.ID)
		return nil
	}

	if _, err := c.enq.Enqueue(ctx, queue.TypeReview, queue.ReviewPayload{RuleID: outcome.Rule.ID}); err != nil {
		return fmt.Errorf("composer: enqueue review: %w", err)
	}
	c.logger.Info("composer: rule composed",
		"domain", p.Domain, "concept", outcome.Rule.Concept, "rule_id", outcome.Rule.ID)
	return nil
}

// Compose runs the aggregation for one claim group. A nil outcome means
// the group had no claims left to compose.
func (c *Composer) Compose(ctx context.Context, domain string, claimIDs []uuid.UUID) (*ComposeOutcome, error) {
	claims, err := c.store.GetClaims(ctx, claimIDs)
	if err != nil {
		return nil, fmt.Errorf("composer: load claims: %w", err)
	}
	if len(claims) == 0 {
		c.logger.Warn("composer: no claims found", "domain", domain, "requested", len(claimIDs))
		return nil, nil
	}

	var doc struct {
		Concept      string  `json:"concept"`
		Title        string  `json:"title"`
		Summary      string  `json:"summary"`
		Jurisdiction string  `json:"jurisdiction"`
		Confidence   float64 `json:"confidence"`
	}
	if err := c.complete(ctx, llm.Request{
		Task:         llm.TaskCompose,
		SystemPrompt: composeSystemPrompt,
		UserPrompt:   claimsPrompt(domain, claims),
		Temperature:  0,
	}, composeSchema, &doc); err != nil {
		return nil, err
	}

	rule := &model.RegulatoryRule{
		ID:           uuid.New(),
		Concept:      doc.Concept,
		Title:        doc.Title,
		Summary:      doc.Summary,
		Jurisdiction: doc.Jurisdiction,
		ClaimIDs:     claimIDs,
		EvidenceIDs:  evidenceIDs(claims),
		Status:       model.RuleComposed,
		Confidence:   doc.Confidence,
	}

	existing, err := c.store.ActiveRuleByConcept(ctx, doc.Concept)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("composer: active rule for %q: %w", doc.Concept, err)
	}

	if existing == nil {
		if err := c.store.InsertRule(ctx, rule); err != nil {
			return nil, fmt.Errorf("composer: insert rule: %w", err)
		}
		return &ComposeOutcome{Rule: rule}, nil
	}

	conflicts, description, err := c.checkDisagreement(ctx, existing, rule)
	if err != nil {
		return nil, err
	}
	if !conflicts {
		if err := c.store.InsertRule(ctx, rule); err != nil {
			return nil, fmt.Errorf("composer: insert rule: %w", err)
		}
		return &ComposeOutcome{Rule: rule}, nil
	}

	// Candidate stays DRAFT while the conflict is open; the arbiter
	// promotes the winner.
	rule.Status = model.RuleDraft
	if err := c.store.InsertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("composer: insert draft rule: %w", err)
	}

	conflict, err := c.store.OpenConflictForConcept(ctx, doc.Concept)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("composer: open conflict for %q: %w", doc.Concept, err)
	}
	if conflict != nil {
		return &ComposeOutcome{Rule: rule, Conflict: conflict}, nil
	}

	conflict = &model.RegulatoryConflict{
		ID:              uuid.New(),
		Concept:         doc.Concept,
		ExistingRuleID:  existing.ID,
		CandidateRuleID: rule.ID,
		Description:     description,
		Status:          model.ConflictOpen,
	}
	if err := c.store.CreateConflict(ctx, conflict); err != nil {
		return nil, fmt.Errorf("composer: create conflict: %w", err)
	}
	return &ComposeOutcome{Rule: rule, Conflict: conflict}, nil
}

func (c *Composer) checkDisagreement(ctx context.Context, existing, candidate *model.RegulatoryRule) (bool, string, error) {
	var doc struct {
		Conflicts   bool   `json:"conflicts"`
		Description string `json:"description"`
	}
	prompt := fmt.Sprintf(
		"Existing rule (%s):\nTitle: %s\nSummary: %s\n\nCandidate rule:\nTitle: %s\nSummary: %s\n",
		existing.Concept, existing.Title, existing.Summary, candidate.Title, candidate.Summary)
	if err := c.complete(ctx, llm.Request{
		Task:         llm.TaskCompose,
		SystemPrompt: disagreementSystemPrompt,
		UserPrompt:   prompt,
		Temperature:  0,
	}, disagreementSchema, &doc); err != nil {
		return false, "", err
	}
	return doc.Conflicts, doc.Description, nil
}

func (c *Composer) complete(ctx context.Context, req llm.Request, schema *jsonschema.Schema, out any) error {
	raw, err := c.port.CompleteJSON(ctx, req)
	if err != nil {
		return fmt.Errorf("composer: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("composer: malformed model output: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("composer: output failed schema: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("composer: decode output: %w", err)
	}
	return nil
}

func claimsPrompt(domain string, claims []model.AtomicClaim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source domain: %s\nClaims:\n", domain)
	for i, cl := range claims {
		fmt.Fprintf(&b, "%d. who: %s | trigger: %s | assertion: %s", i+1, cl.Who, cl.Trigger, cl.Assertion)
		if cl.Value != "" {
			fmt.Fprintf(&b, " | value: %s", cl.Value)
		}
		if cl.ArticleNumber != "" {
			fmt.Fprintf(&b, " | article: %s", cl.ArticleNumber)
		}
		b.WriteString("\n")
		for _, exc := range cl.Exceptions {
			fmt.Fprintf(&b, "   exception: if %s then %s\n", exc.Condition, exc.Override)
		}
	}
	return b.String()
}

func evidenceIDs(claims []model.AtomicClaim) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(claims))
	var out []uuid.UUID
	for _, cl := range claims {
		if _, ok := seen[cl.EvidenceID]; ok {
			continue
		}
		seen[cl.EvidenceID] = struct{}{}
		out = append(out, cl.EvidenceID)
	}
	return out
}

const composeSystemPrompt = `You compose atomic regulatory claims into one citable rule. Answer with
one JSON object: {"concept": kebab-case stable key for the regulated
concept (e.g. "vat-small-business-threshold-de"), "title", "summary" of
what the rule obliges or permits, "jurisdiction", "confidence" 0.0-1.0
reflecting how coherent the claims are. Merge overlapping claims; keep
every exception visible in the summary.`

const disagreementSystemPrompt = `You compare an existing regulatory rule with a newly composed candidate
for the same concept. Answer with one JSON object {"conflicts": bool,
"description": string}. They conflict only when they assert incompatible
obligations, thresholds or dates. A candidate that merely rephrases or
extends the existing rule does not conflict.`
