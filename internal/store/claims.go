package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// InsertClaims persists a batch of claims with their exceptions in one
// transaction. Claims are provenance-bound and never deduplicated; the
// caller must have verified every exact quote against its evidence.
func (s *Store) InsertClaims(ctx context.Context, claims []model.AtomicClaim) error {
	if len(claims) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range claims {
			claim := &claims[i]
			if claim.ID == uuid.Nil {
				claim.ID = uuid.New()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO atomic_claims
					(id, evidence_id, who, trigger_condition, assertion, value,
					 exact_quote, article_number, confidence, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
				claim.ID, claim.EvidenceID, claim.Who, claim.Trigger, claim.Assertion,
				claim.Value, claim.ExactQuote, claim.ArticleNumber, claim.Confidence)
			if err != nil {
				return fmt.Errorf("store: insert claim: %w", err)
			}
			for j := range claim.Exceptions {
				exc := &claim.Exceptions[j]
				if exc.ID == uuid.Nil {
					exc.ID = uuid.New()
				}
				exc.ClaimID = claim.ID
				_, err := tx.ExecContext(ctx, `
					INSERT INTO claim_exceptions (id, claim_id, condition, override, source_article)
					VALUES ($1, $2, $3, $4, $5)`,
					exc.ID, exc.ClaimID, exc.Condition, exc.Override, exc.SourceArticle)
				if err != nil {
					return fmt.Errorf("store: insert claim exception: %w", err)
				}
			}
		}
		return nil
	})
}

// GetClaims loads claims by id, exceptions included.
func (s *Store) GetClaims(ctx context.Context, ids []uuid.UUID) ([]model.AtomicClaim, error) {
	out := make([]model.AtomicClaim, 0, len(ids))
	for _, id := range ids {
		var claim model.AtomicClaim
		err := s.db.QueryRowContext(ctx, `
			SELECT id, evidence_id, who, trigger_condition, assertion, value,
			       exact_quote, article_number, confidence, created_at
			FROM atomic_claims WHERE id = $1`, id).
			Scan(&claim.ID, &claim.EvidenceID, &claim.Who, &claim.Trigger,
				&claim.Assertion, &claim.Value, &claim.ExactQuote,
				&claim.ArticleNumber, &claim.Confidence, &claim.CreatedAt)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: claim %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("store: get claim: %w", err)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT id, claim_id, condition, override, source_article
			FROM claim_exceptions WHERE claim_id = $1`, id)
		if err != nil {
			return nil, fmt.Errorf("store: claim exceptions: %w", err)
		}
		for rows.Next() {
			var exc model.ClaimException
			if err := rows.Scan(&exc.ID, &exc.ClaimID, &exc.Condition, &exc.Override, &exc.SourceArticle); err != nil {
				rows.Close()
				return nil, fmt.Errorf("store: scan exception: %w", err)
			}
			claim.Exceptions = append(claim.Exceptions, exc)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		out = append(out, claim)
	}
	return out, nil
}
