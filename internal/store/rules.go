package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// InsertRule stores a freshly composed rule.
func (s *Store) InsertRule(ctx context.Context, rule *model.RegulatoryRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	claimIDs, err := uuidsToJSON(rule.ClaimIDs)
	if err != nil {
		return fmt.Errorf("store: encode claim ids: %w", err)
	}
	evidenceIDs, err := uuidsToJSON(rule.EvidenceIDs)
	if err != nil {
		return fmt.Errorf("store: encode evidence ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO regulatory_rules
			(id, concept, title, summary, jurisdiction, claim_ids, evidence_ids,
			 status, confidence, review_note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())`,
		rule.ID, rule.Concept, rule.Title, rule.Summary, rule.Jurisdiction,
		claimIDs, evidenceIDs, rule.Status, rule.Confidence, rule.ReviewNote)
	if err != nil {
		return fmt.Errorf("store: insert rule: %w", err)
	}
	return nil
}

// GetRule loads one rule by id.
func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*model.RegulatoryRule, error) {
	return s.scanRule(s.db.QueryRowContext(ctx, selectRule+` WHERE id = $1`, id))
}

// ActiveRuleByConcept returns the latest non-rejected rule for a concept,
// used by the composer to detect disagreement.
func (s *Store) ActiveRuleByConcept(ctx context.Context, concept string) (*model.RegulatoryRule, error) {
	return s.scanRule(s.db.QueryRowContext(ctx, selectRule+`
		WHERE concept = $1 AND status <> $2
		ORDER BY created_at DESC
		LIMIT 1`, concept, model.RuleRejected))
}

// UpdateRuleStatus moves a rule through the pipeline, recording the note.
func (s *Store) UpdateRuleStatus(ctx context.Context, id uuid.UUID, status model.RuleStatus, note string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE regulatory_rules
		SET status = $2, review_note = $3, updated_at = now()
		WHERE id = $1`, id, status, note)
	if err != nil {
		return fmt.Errorf("store: update rule status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: rule %s: %w", id, ErrNotFound)
	}
	return nil
}

// ApprovedUnreleased lists rules approved but not yet released, oldest
// first, capped at limit.
func (s *Store) ApprovedUnreleased(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM regulatory_rules
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2`, model.RuleApproved, limit)
	if err != nil {
		return nil, fmt.Errorf("store: approved unreleased: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// RulesWithStatus filters ids down to the rules currently in the given
// status. The releaser uses it to make retries idempotent.
func (s *Store) RulesWithStatus(ctx context.Context, ids []uuid.UUID, status model.RuleStatus) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		var got model.RuleStatus
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM regulatory_rules WHERE id = $1`, id).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: rule status: %w", err)
		}
		if got == status {
			out = append(out, id)
		}
	}
	return out, nil
}

// StaleManualReview lists manual-review rules older than cutoff with at
// least the given confidence, for the auto-approve sweep.
func (s *Store) StaleManualReview(ctx context.Context, olderThan time.Time, minConfidence float64) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM regulatory_rules
		WHERE status = $1 AND updated_at < $2 AND confidence >= $3
		ORDER BY updated_at`, model.RuleManualReview, olderThan, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("store: stale manual review: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

const selectRule = `
	SELECT id, concept, title, summary, jurisdiction, claim_ids, evidence_ids,
	       status, confidence, version, effective_from, effective_to,
	       review_note, created_at, updated_at
	FROM regulatory_rules`

func (s *Store) scanRule(row *sql.Row) (*model.RegulatoryRule, error) {
	var rule model.RegulatoryRule
	var claimIDs, evidenceIDs []byte
	var version sql.NullInt64
	var effFrom, effTo sql.NullTime
	err := row.Scan(&rule.ID, &rule.Concept, &rule.Title, &rule.Summary,
		&rule.Jurisdiction, &claimIDs, &evidenceIDs, &rule.Status,
		&rule.Confidence, &version, &effFrom, &effTo,
		&rule.ReviewNote, &rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan rule: %w", err)
	}
	if rule.ClaimIDs, err = uuidsFromJSON(claimIDs); err != nil {
		return nil, err
	}
	if rule.EvidenceIDs, err = uuidsFromJSON(evidenceIDs); err != nil {
		return nil, err
	}
	if version.Valid {
		rule.Version = int(version.Int64)
	}
	if effFrom.Valid {
		t := effFrom.Time
		rule.EffectiveFrom = &t
	}
	if effTo.Valid {
		t := effTo.Time
		rule.EffectiveTo = &t
	}
	return &rule, nil
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
