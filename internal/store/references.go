package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// FindReferenceTable looks a table up by its natural key.
func (s *Store) FindReferenceTable(ctx context.Context, category, name, jurisdiction string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM reference_tables
		WHERE category = $1 AND name = $2 AND jurisdiction = $3`,
		category, name, jurisdiction).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("store: find reference table: %w", err)
	}
	return id, true, nil
}

// CreateReferenceTable creates a table with its entries.
func (s *Store) CreateReferenceTable(ctx context.Context, table *model.ReferenceTable) error {
	if table.ID == uuid.Nil {
		table.ID = uuid.New()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reference_tables (id, evidence_id, category, name, jurisdiction, last_updated)
			VALUES ($1, $2, $3, $4, $5, now())`,
			table.ID, table.EvidenceID, table.Category, table.Name, table.Jurisdiction)
		if err != nil {
			return fmt.Errorf("store: insert reference table: %w", err)
		}
		return insertEntries(ctx, tx, table.ID, table.Entries)
	})
}

// ReplaceReferenceEntries swaps a table's entire entry set atomically
// (delete then recreate under the same table id) and bumps last_updated.
func (s *Store) ReplaceReferenceEntries(ctx context.Context, tableID, evidenceID uuid.UUID, entries []model.ReferenceEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM reference_entries WHERE table_id = $1`, tableID); err != nil {
			return fmt.Errorf("store: clear reference entries: %w", err)
		}
		if err := insertEntries(ctx, tx, tableID, entries); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE reference_tables SET last_updated = now(), evidence_id = $2
			WHERE id = $1`, tableID, evidenceID)
		if err != nil {
			return fmt.Errorf("store: bump reference table: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("store: reference table %s: %w", tableID, ErrNotFound)
		}
		return nil
	})
}

// CountReferenceEntries returns the entry count of one table.
func (s *Store) CountReferenceEntries(ctx context.Context, tableID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM reference_entries WHERE table_id = $1`, tableID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count reference entries: %w", err)
	}
	return n, nil
}

func insertEntries(ctx context.Context, tx *sql.Tx, tableID uuid.UUID, entries []model.ReferenceEntry) error {
	for i := range entries {
		entry := &entries[i]
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		entry.TableID = tableID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reference_entries (id, table_id, key, value, note)
			VALUES ($1, $2, $3, $4, $5)`,
			entry.ID, entry.TableID, entry.Key, entry.Value, entry.Note)
		if err != nil {
			return fmt.Errorf("store: insert reference entry: %w", err)
		}
	}
	return nil
}
