package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// InsertTransitional appends one provision to the historical log. Entries
// are never merged or rewritten.
func (s *Store) InsertTransitional(ctx context.Context, tp *model.TransitionalProvision) error {
	if tp.ID == uuid.Nil {
		tp.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitional_provisions
			(id, evidence_id, from_rule, to_rule, cutoff_date, pattern, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		tp.ID, tp.EvidenceID, tp.FromRule, tp.ToRule, tp.CutoffDate, tp.Pattern)
	if err != nil {
		return fmt.Errorf("store: insert transitional: %w", err)
	}
	return nil
}
