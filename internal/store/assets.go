package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/model"
)

// FindAssetByURL looks an asset up by its natural key, the absolute
// download URL.
func (s *Store) FindAssetByURL(ctx context.Context, downloadURL string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM regulatory_assets WHERE download_url = $1`, downloadURL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("store: find asset: %w", err)
	}
	return id, true, nil
}

// CreateAsset stores a new downloadable document.
func (s *Store) CreateAsset(ctx context.Context, asset *model.RegulatoryAsset) error {
	if asset.ID == uuid.Nil {
		asset.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO regulatory_assets
			(id, evidence_id, download_url, name, asset_kind, version,
			 valid_from, valid_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		asset.ID, asset.EvidenceID, asset.DownloadURL, asset.Name, asset.AssetKind,
		asset.Version, asset.ValidFrom, asset.ValidUntil)
	if err != nil {
		return fmt.Errorf("store: create asset: %w", err)
	}
	return nil
}

// UpdateAssetMetadata refreshes the mutable fields of an existing asset in
// place (name, validity window, version).
func (s *Store) UpdateAssetMetadata(ctx context.Context, id uuid.UUID, asset *model.RegulatoryAsset) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE regulatory_assets
		SET name = $2, asset_kind = $3, version = $4,
		    valid_from = $5, valid_until = $6, evidence_id = $7, updated_at = now()
		WHERE id = $1`,
		id, asset.Name, asset.AssetKind, asset.Version,
		asset.ValidFrom, asset.ValidUntil, asset.EvidenceID)
	if err != nil {
		return fmt.Errorf("store: update asset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: asset %s: %w", id, ErrNotFound)
	}
	return nil
}
