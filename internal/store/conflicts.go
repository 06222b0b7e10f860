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

const selectConflict = `
	SELECT id, concept, existing_rule_id, candidate_rule_id, description,
	       status, resolution, winner_rule_id, created_at, resolved_at
	FROM regulatory_conflicts`

// OpenConflictForConcept returns the OPEN conflict for a concept, if any.
// The composer reuses it instead of piling up duplicates.
func (s *Store) OpenConflictForConcept(ctx context.Context, concept string) (*model.RegulatoryConflict, error) {
	return s.scanConflict(s.db.QueryRowContext(ctx, selectConflict+`
		WHERE concept = $1 AND status = $2
		ORDER BY created_at
		LIMIT 1`, concept, model.ConflictOpen))
}

// CreateConflict opens a new conflict between two rules on one concept.
func (s *Store) CreateConflict(ctx context.Context, c *model.RegulatoryConflict) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = model.ConflictOpen
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO regulatory_conflicts
			(id, concept, existing_rule_id, candidate_rule_id, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		c.ID, c.Concept, c.ExistingRuleID, c.CandidateRuleID, c.Description, c.Status)
	if err != nil {
		return fmt.Errorf("store: create conflict: %w", err)
	}
	return nil
}

// GetConflict loads one conflict by id.
func (s *Store) GetConflict(ctx context.Context, id uuid.UUID) (*model.RegulatoryConflict, error) {
	return s.scanConflict(s.db.QueryRowContext(ctx, selectConflict+` WHERE id = $1`, id))
}

// OpenConflicts lists up to limit OPEN conflicts, oldest first.
func (s *Store) OpenConflicts(ctx context.Context, limit int) ([]model.RegulatoryConflict, error) {
	rows, err := s.db.QueryContext(ctx, selectConflict+`
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`, model.ConflictOpen, limit)
	if err != nil {
		return nil, fmt.Errorf("store: open conflicts: %w", err)
	}
	defer rows.Close()

	var out []model.RegulatoryConflict
	for rows.Next() {
		c, err := scanConflictRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ResolveConflict closes a conflict with the arbiter's resolution.
func (s *Store) ResolveConflict(ctx context.Context, id uuid.UUID, winner uuid.UUID, resolution string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE regulatory_conflicts
		SET status = $2, winner_rule_id = $3, resolution = $4, resolved_at = $5
		WHERE id = $1 AND status = $6`,
		id, model.ConflictResolved, winner, resolution, time.Now().UTC(), model.ConflictOpen)
	if err != nil {
		return fmt.Errorf("store: resolve conflict: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: open conflict %s: %w", id, ErrNotFound)
	}
	return nil
}

// OpenConflictCountForRules counts OPEN conflicts touching any of the rules.
// The releaser refuses to publish while this is non-zero.
func (s *Store) OpenConflictCountForRules(ctx context.Context, ruleIDs []uuid.UUID) (int, error) {
	if len(ruleIDs) == 0 {
		return 0, nil
	}
	total := 0
	for _, id := range ruleIDs {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT count(*) FROM regulatory_conflicts
			WHERE status = $1 AND (existing_rule_id = $2 OR candidate_rule_id = $2)`,
			model.ConflictOpen, id).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("store: conflict count: %w", err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) scanConflict(row *sql.Row) (*model.RegulatoryConflict, error) {
	var c model.RegulatoryConflict
	var winner uuid.NullUUID
	var resolved sql.NullTime
	err := row.Scan(&c.ID, &c.Concept, &c.ExistingRuleID, &c.CandidateRuleID,
		&c.Description, &c.Status, &c.Resolution, &winner, &c.CreatedAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan conflict: %w", err)
	}
	if winner.Valid {
		id := winner.UUID
		c.WinnerRuleID = &id
	}
	if resolved.Valid {
		t := resolved.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}

func scanConflictRow(rows *sql.Rows) (*model.RegulatoryConflict, error) {
	var c model.RegulatoryConflict
	var winner uuid.NullUUID
	var resolved sql.NullTime
	err := rows.Scan(&c.ID, &c.Concept, &c.ExistingRuleID, &c.CandidateRuleID,
		&c.Description, &c.Status, &c.Resolution, &winner, &c.CreatedAt, &resolved)
	if err != nil {
		return nil, fmt.Errorf("store: scan conflict: %w", err)
	}
	if winner.Valid {
		id := winner.UUID
		c.WinnerRuleID = &id
	}
	if resolved.Valid {
		t := resolved.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}
