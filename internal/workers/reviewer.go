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

// Review decisions as the model states them.
const (
	DecisionAutoApproved = "AUTO_APPROVED"
	DecisionManualReview = "MANUAL_REVIEW"
	DecisionRejected     = "REJECTED"
)

const reviewSchemaSrc = `{
	"type": "object",
	"required": ["decision"],
	"properties": {
		"decision": {"type": "string", "enum": ["AUTO_APPROVED", "MANUAL_REVIEW", "REJECTED"]},
		"note": {"type": "string"}
	}
}`

var reviewSchema = jsonschema.MustCompileString("review.schema.json", reviewSchemaSrc)

// ReviewerStore is what the approval gate needs from persistence.
type ReviewerStore interface {
	GetRule(ctx context.Context, id uuid.UUID) (*model.RegulatoryRule, error)
	UpdateRuleStatus(ctx context.Context, id uuid.UUID, status model.RuleStatus, note string) error
}

// Reviewer is the approval gate. AUTO_APPROVED rules proceed straight to
// release; everything else parks until an operator or the auto-approve
// sweep moves it.
type Reviewer struct {
	store  ReviewerStore
	port   llm.Port
	enq    Enqueuer
	logger *slog.Logger
}

// NewReviewer wires the review worker.
func NewReviewer(store ReviewerStore, port llm.Port, enq Enqueuer, logger *slog.Logger) *Reviewer {
	return &Reviewer{store: store, port: port, enq: enq, logger: logger}
}

// Handle processes one review job.
func (r *Reviewer) Handle(ctx context.Context, task *asynq.Task) error {
	var p queue.ReviewPayload
	if err := queue.UnmarshalPayload(task.Payload(), &p); err != nil {
		return err
	}

	rule, err := r.store.GetRule(ctx, p.RuleID)
	if err != nil {
		return fmt.Errorf("reviewer: rule %s: %w", p.RuleID, err)
	}
	if rule.Status != model.RuleComposed {
		// Retried or doubly-enqueued job; the rule already moved on.
		r.logger.Info("reviewer: rule not reviewable, skipping",
			"rule_id", rule.ID, "status", rule.Status)
		return nil
	}

	raw, err := r.port.CompleteJSON(ctx, llm.Request{
		Task:         llm.TaskReview,
		SystemPrompt: reviewSystemPrompt,
		UserPrompt:   rulePrompt(rule),
		Temperature:  0,
	})
	if err != nil {
		return fmt.Errorf("reviewer: rule %s: %w", p.RuleID, err)
	}

	var doc struct {
		Decision string `json:"decision"`
		Note     string `json:"note"`
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("reviewer: malformed model output: %w", err)
	}
	if err := reviewSchema.Validate(v); err != nil {
		return fmt.Errorf("reviewer: output failed schema: %w", err)
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("reviewer: decode output: %w", err)
	}

	switch doc.Decision {
	case DecisionAutoApproved:
		if err := r.store.UpdateRuleStatus(ctx, rule.ID, model.RuleApproved, doc.Note); err != nil {
			return fmt.Errorf("reviewer: approve rule %s: %w", rule.ID, err)
		}
		if _, err := r.enq.Enqueue(ctx, queue.TypeRelease, queue.ReleasePayload{RuleIDs: []uuid.UUID{rule.ID}}); err != nil {
			return fmt.Errorf("reviewer: enqueue release: %w", err)
		}
	case DecisionManualReview:
		if err := r.store.UpdateRuleStatus(ctx, rule.ID, model.RuleManualReview, doc.Note); err != nil {
			return fmt.Errorf("reviewer: park rule %s: %w", rule.ID, err)
		}
	case DecisionRejected:
		if err := r.store.UpdateRuleStatus(ctx, rule.ID, model.RuleRejected, doc.Note); err != nil {
			return fmt.Errorf("reviewer: reject rule %s: %w", rule.ID, err)
		}
	}

	r.logger.Info("reviewer: decision recorded",
		"rule_id", rule.ID, "concept", rule.Concept, "decision", doc.Decision)
	return nil
}

func rulePrompt(rule *model.RegulatoryRule) string {
	return fmt.Sprintf(
		"Concept: %s\nTitle: %s\nJurisdiction: %s\nConfidence: %.2f\nClaims: %d\nSummary:\n%s\n",
		rule.Concept, rule.Title, rule.Jurisdiction, rule.Confidence, len(rule.ClaimIDs), rule.Summary)
}

const reviewSystemPrompt = `You review a composed regulatory rule for publication. Answer with one
JSON object {"decision": "AUTO_APPROVED"|"MANUAL_REVIEW"|"REJECTED",
"note": short reason}. AUTO_APPROVED only when the rule is specific,
internally consistent and its confidence is high. MANUAL_REVIEW when a
human should look (vague scope, low confidence, unusual thresholds).
REJECTED when the rule is incoherent or not a regulatory statement.`
