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

// CreateSource registers a monitored endpoint. The URL is the natural key;
// re-registering updates name, jurisdiction, tier and the active flag.
func (s *Store) CreateSource(ctx context.Context, src *model.Source) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, name, url, jurisdiction, tier, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (url) DO UPDATE
		SET name = EXCLUDED.name,
		    jurisdiction = EXCLUDED.jurisdiction,
		    tier = EXCLUDED.tier,
		    active = EXCLUDED.active`,
		src.ID, src.Name, src.URL, src.Jurisdiction, src.Tier, src.Active)
	if err != nil {
		return fmt.Errorf("store: create source: %w", err)
	}
	return nil
}

// ActiveSourcesByTier lists active sources of one priority tier.
func (s *Store) ActiveSourcesByTier(ctx context.Context, tier model.PriorityTier) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, jurisdiction, tier, active, created_at, last_polled_at
		FROM sources
		WHERE active AND tier = $1
		ORDER BY name`, tier)
	if err != nil {
		return nil, fmt.Errorf("store: sources by tier: %w", err)
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		var polled sql.NullTime
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.Jurisdiction,
			&src.Tier, &src.Active, &src.CreatedAt, &polled); err != nil {
			return nil, fmt.Errorf("store: scan source: %w", err)
		}
		if polled.Valid {
			t := polled.Time
			src.LastPolledAt = &t
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// MarkSourcePolled stamps the last successful poll time.
func (s *Store) MarkSourcePolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_polled_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("store: mark polled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: mark polled %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetSource fetches one source by id.
func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*model.Source, error) {
	var src model.Source
	var polled sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, jurisdiction, tier, active, created_at, last_polled_at
		FROM sources WHERE id = $1`, id).
		Scan(&src.ID, &src.Name, &src.URL, &src.Jurisdiction,
			&src.Tier, &src.Active, &src.CreatedAt, &polled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get source: %w", err)
	}
	if polled.Valid {
		t := polled.Time
		src.LastPolledAt = &t
	}
	return &src, nil
}
