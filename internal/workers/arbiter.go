package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
	"github.com/fiskal-io/regstream/internal/queue"
)

const arbitrateSchemaSrc = `{
	"type": "object",
	"required": ["winner", "resolution"],
	"properties": {
		"winner": {"type": "string", "enum": ["existing", "candidate"]},
		"resolution": {"type": "string", "minLength": 1}
	}
}`

var arbitrateSchema = jsonschema.MustCompileString("arbitrate.schema.json", arbitrateSchemaSrc)

// ArbiterStore is what conflict resolution needs from persistence.
type ArbiterStore interface {
	GetConflict(ctx context.Context, id uuid.UUID) (*model.RegulatoryConflict, error)
	GetRule(ctx context.Context, id uuid.UUID) (*model.RegulatoryRule, error)
	ResolveConflict(ctx context.Context, id uuid.UUID, winner uuid.UUID, resolution string) error
	UpdateRuleStatus(ctx context.Context, id uuid.UUID, status model.RuleStatus, note string) error
}

// Arbiter resolves one OPEN conflict per job: the winning rule goes back
// through review, the loser is rejected.
type Arbiter struct {
	store  ArbiterStore
	port   llm.Port
	enq    Enqueuer
	logger *slog.Logger
}

// NewArbiter wires the arbitration worker.
func NewArbiter(store ArbiterStore, port llm.Port, enq Enqueuer, logger *slog.Logger) *Arbiter {
	return &Arbiter{store: store, port: port, enq: enq, logger: logger}
}

// Handle processes one arbitrate job.
func (a *Arbiter) Handle(ctx context.Context, task *asynq.Task) error {
	var p queue.ArbitratePayload
	if err := queue.UnmarshalPayload(task.Payload(), &p); err != nil {
		return err
	}

	conflict, err := a.store.GetConflict(ctx, p.ConflictID)
	if err != nil {
		return fmt.Errorf("arbiter: conflict %s: %w", p.ConflictID, err)
	}
	if conflict.Status != model.ConflictOpen {
		a.logger.Info("arbiter: conflict already resolved, skipping",
			"conflict_id", conflict.ID)
		return nil
	}

	existing, err := a.store.GetRule(ctx, conflict.ExistingRuleID)
	if err != nil {
		return fmt.Errorf("arbiter: existing rule %s: %w", conflict.ExistingRuleID, err)
	}
	candidate, err := a.store.GetRule(ctx, conflict.CandidateRuleID)
	if err != nil {
		return fmt.Errorf("arbiter: candidate rule %s: %w", conflict.CandidateRuleID, err)
	}

	raw, err := a.port.CompleteJSON(ctx, llm.Request{
		Task:         llm.TaskArbitrate,
		SystemPrompt: arbitrateSystemPrompt,
		UserPrompt:   conflictPrompt(conflict, existing, candidate),
		Temperature:  0,
	})
	if err != nil {
		return fmt.Errorf("arbiter: conflict %s: %w", conflict.ID, err)
	}

	var doc struct {
		Winner     string `json:"winner"`
		Resolution string `json:"resolution"`
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("arbiter: malformed model output: %w", err)
	}
	if err := arbitrateSchema.Validate(v); err != nil {
		return fmt.Errorf("arbiter: output failed schema: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("arbiter: decode output: %w", err)
	}

	winner, loser := existing, candidate
	if doc.Winner == "candidate" {
		winner, loser = candidate, existing
	}

	if err := a.store.ResolveConflict(ctx, conflict.ID, winner.ID, doc.Resolution); err != nil {
		return fmt.Errorf("arbiter: resolve conflict %s: %w", conflict.ID, err)
	}
	if err := a.store.UpdateRuleStatus(ctx, loser.ID, model.RuleRejected, "superseded: "+doc.Resolution); err != nil {
		return fmt.Errorf("arbiter: reject loser %s: %w", loser.ID, err)
	}

	// A released winner stays released; anything else re-enters review.
	if winner.Status != model.RuleReleased {
		if err := a.store.UpdateRuleStatus(ctx, winner.ID, model.RuleComposed, "conflict won: "+doc.Resolution); err != nil {
			return fmt.Errorf("arbiter: promote winner %s: %w", winner.ID, err)
		}
		if _, err := a.enq.Enqueue(ctx, queue.TypeReview, queue.ReviewPayload{RuleID: winner.ID}); err != nil {
			return fmt.Errorf("arbiter: enqueue review: %w", err)
		}
	}

	a.logger.Info("arbiter: conflict resolved",
		"conflict_id", conflict.ID, "concept", conflict.Concept,
		"winner", winner.ID, "loser", loser.ID)
	return nil
}

func conflictPrompt(c *model.RegulatoryConflict, existing, candidate *model.RegulatoryRule) string {
	return fmt.Sprintf(
		"Concept: %s\nDisagreement: %s\n\nExisting rule (status %s, confidence %.2f):\n%s\n\nCandidate rule (status %s, confidence %.2f):\n%s\n",
		c.Concept, c.Description,
		existing.Status, existing.Confidence, existing.Summary,
		candidate.Status, candidate.Confidence, candidate.Summary)
}

const arbitrateSystemPrompt = `You arbitrate between two regulatory rules for the same concept that
disagree. Prefer the rule backed by the more recent or more authoritative
source material, and more specific obligations over vaguer ones. Answer
with one JSON object {"winner": "existing"|"candidate", "resolution":
short justification naming the deciding factor}.`
