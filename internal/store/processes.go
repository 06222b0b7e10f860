package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// ProcessIDBySlug looks up a process by its natural key.
func (s *Store) ProcessIDBySlug(ctx context.Context, slug string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM regulatory_processes WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("store: process by slug: %w", err)
	}
	return id, true, nil
}

// InsertProcess creates a process with its ordered steps in one
// transaction. The catalog is append-only; callers skip creation when the
// slug already exists.
func (s *Store) InsertProcess(ctx context.Context, proc *model.RegulatoryProcess) error {
	if proc.ID == uuid.Nil {
		proc.ID = uuid.New()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO regulatory_processes (id, evidence_id, slug, name, jurisdiction, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			proc.ID, proc.EvidenceID, proc.Slug, proc.Name, proc.Jurisdiction)
		if err != nil {
			return fmt.Errorf("store: insert process: %w", err)
		}
		for i := range proc.Steps {
			step := &proc.Steps[i]
			if step.ID == uuid.Nil {
				step.ID = uuid.New()
			}
			step.ProcessID = proc.ID
			prereqs, err := json.Marshal(step.Prerequisites)
			if err != nil {
				return fmt.Errorf("store: encode prerequisites: %w", err)
			}
			if step.Prerequisites == nil {
				prereqs = []byte("[]")
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO process_steps
					(id, process_id, ordinal, name, description, prerequisites, on_success, on_failure)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				step.ID, step.ProcessID, step.Ordinal, step.Name, step.Description,
				prereqs, step.OnSuccess, step.OnFailure)
			if err != nil {
				return fmt.Errorf("store: insert process step: %w", err)
			}
		}
		return nil
	})
}
