package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// CreateRelease publishes a batch of approved rules as one immutable
// release: next sequence number, release rows, and every rule moved to
// RELEASED with its version/effective-date pair, all in one transaction.
func (s *Store) CreateRelease(ctx context.Context, ruleIDs []uuid.UUID, effectiveFrom time.Time) (*model.Release, error) {
	if len(ruleIDs) == 0 {
		return nil, fmt.Errorf("store: release with no rules")
	}

	release := &model.Release{
		ID:         uuid.New(),
		RuleIDs:    ruleIDs,
		ReleasedAt: time.Now().UTC(),
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT coalesce(max(sequence), 0) + 1 FROM releases`).Scan(&release.Sequence); err != nil {
			return fmt.Errorf("store: next release sequence: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO releases (id, sequence, released_at) VALUES ($1, $2, $3)`,
			release.ID, release.Sequence, release.ReleasedAt); err != nil {
			return fmt.Errorf("store: insert release: %w", err)
		}

		for _, ruleID := range ruleIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO release_rules (release_id, rule_id) VALUES ($1, $2)`,
				release.ID, ruleID); err != nil {
				return fmt.Errorf("store: insert release rule: %w", err)
			}

			// Per-concept version: one more than the count of already
			// released versions of the same concept.
			res, err := tx.ExecContext(ctx, `
				UPDATE regulatory_rules r
				SET status = $2,
				    version = (SELECT count(*) + 1
				               FROM regulatory_rules prior
				               WHERE prior.concept = r.concept
				                 AND prior.status = $2
				                 AND prior.id <> r.id),
				    effective_from = $3,
				    updated_at = now()
				WHERE r.id = $1 AND r.status = $4`,
				ruleID, model.RuleReleased, effectiveFrom, model.RuleApproved)
			if err != nil {
				return fmt.Errorf("store: release rule %s: %w", ruleID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("store: rule %s is not APPROVED", ruleID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return release, nil
}

// ReleasedRules lists RELEASED rules effective at the given date. This is
// the only read surface downstream consumers use.
func (s *Store) ReleasedRules(ctx context.Context, at time.Time) ([]model.RegulatoryRule, error) {
	rows, err := s.db.QueryContext(ctx, selectRule+`
		WHERE status = $1
		  AND (effective_from IS NULL OR effective_from <= $2)
		  AND (effective_to IS NULL OR effective_to > $2)
		ORDER BY concept, version`, model.RuleReleased, at)
	if err != nil {
		return nil, fmt.Errorf("store: released rules: %w", err)
	}
	defer rows.Close()

	var out []model.RegulatoryRule
	for rows.Next() {
		var rule model.RegulatoryRule
		var claimIDs, evidenceIDs []byte
		var version sql.NullInt64
		var effFrom, effTo sql.NullTime
		err := rows.Scan(&rule.ID, &rule.Concept, &rule.Title, &rule.Summary,
			&rule.Jurisdiction, &claimIDs, &evidenceIDs, &rule.Status,
			&rule.Confidence, &version, &effFrom, &effTo,
			&rule.ReviewNote, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan released rule: %w", err)
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
		out = append(out, rule)
	}
	return out, rows.Err()
}
