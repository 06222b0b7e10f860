package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// InsertEvidence stores one immutable snapshot. A duplicate (source,
// content hash) pair means the page has not changed; the insert is a no-op
// and ok reports false.
func (s *Store) InsertEvidence(ctx context.Context, ev *model.Evidence) (ok bool, err error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, source_id, url, domain, content_type, raw_content, content_hash, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id, content_hash) DO NOTHING`,
		ev.ID, ev.SourceID, ev.URL, ev.Domain, ev.ContentType, ev.RawContent, ev.ContentHash, ev.FetchedAt)
	if err != nil {
		return false, fmt.Errorf("store: insert evidence: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetEvidence loads one snapshot by id.
func (s *Store) GetEvidence(ctx context.Context, id uuid.UUID) (*model.Evidence, error) {
	var ev model.Evidence
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, url, domain, content_type, raw_content, content_hash, fetched_at
		FROM evidence WHERE id = $1`, id).
		Scan(&ev.ID, &ev.SourceID, &ev.URL, &ev.Domain, &ev.ContentType,
			&ev.RawContent, &ev.ContentHash, &ev.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get evidence: %w", err)
	}
	return &ev, nil
}

// EvidenceSeen reports whether a snapshot with this content hash already
// exists for the source.
func (s *Store) EvidenceSeen(ctx context.Context, sourceID uuid.UUID, contentHash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM evidence WHERE source_id = $1 AND content_hash = $2)`,
		sourceID, contentHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: evidence seen: %w", err)
	}
	return exists, nil
}
