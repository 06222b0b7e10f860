package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fiskal-io/regstream/internal/model"
)

// RebuildGraph regenerates the whole knowledge graph from the currently
// released rules in one transaction: rule nodes, their claims, and the
// evidence the claims trace back to.
//
// Known limitation: this is a full rebuild on every release. An incremental
// strategy would be preferable at scale, but the publishing semantics the
// pipeline guarantees are defined against a complete rebuild.
func (s *Store) RebuildGraph(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges`); err != nil {
			return fmt.Errorf("store: clear graph edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes`); err != nil {
			return fmt.Errorf("store: clear graph nodes: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, concept, title, claim_ids FROM regulatory_rules WHERE status = $1`,
			model.RuleReleased)
		if err != nil {
			return fmt.Errorf("store: graph rules: %w", err)
		}
		type ruleRow struct {
			id, concept, title string
			claimIDs           []byte
		}
		var rules []ruleRow
		for rows.Next() {
			var r ruleRow
			if err := rows.Scan(&r.id, &r.concept, &r.title, &r.claimIDs); err != nil {
				rows.Close()
				return fmt.Errorf("store: scan graph rule: %w", err)
			}
			rules = append(rules, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		addNode := func(id, kind, label string) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO graph_nodes (id, kind, label) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO NOTHING`, id, kind, label)
			return err
		}
		addEdge := func(src, dst, relation string) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO graph_edges (src, dst, relation) VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`, src, dst, relation)
			return err
		}

		for _, r := range rules {
			ruleNode := "rule:" + r.id
			conceptNode := "concept:" + r.concept
			if err := addNode(ruleNode, "rule", r.title); err != nil {
				return fmt.Errorf("store: graph rule node: %w", err)
			}
			if err := addNode(conceptNode, "concept", r.concept); err != nil {
				return fmt.Errorf("store: graph concept node: %w", err)
			}
			if err := addEdge(ruleNode, conceptNode, "DEFINES"); err != nil {
				return fmt.Errorf("store: graph concept edge: %w", err)
			}

			claimIDs, err := uuidsFromJSON(r.claimIDs)
			if err != nil {
				return err
			}
			for _, claimID := range claimIDs {
				var evidenceID string
				err := tx.QueryRowContext(ctx,
					`SELECT evidence_id FROM atomic_claims WHERE id = $1`, claimID).Scan(&evidenceID)
				if err == sql.ErrNoRows {
					continue
				}
				if err != nil {
					return fmt.Errorf("store: graph claim lookup: %w", err)
				}
				claimNode := "claim:" + claimID.String()
				evidenceNode := "evidence:" + evidenceID
				if err := addNode(claimNode, "claim", ""); err != nil {
					return fmt.Errorf("store: graph claim node: %w", err)
				}
				if err := addNode(evidenceNode, "evidence", ""); err != nil {
					return fmt.Errorf("store: graph evidence node: %w", err)
				}
				if err := addEdge(ruleNode, claimNode, "DERIVED_FROM"); err != nil {
					return fmt.Errorf("store: graph claim edge: %w", err)
				}
				if err := addEdge(claimNode, evidenceNode, "EVIDENCED_BY"); err != nil {
					return fmt.Errorf("store: graph evidence edge: %w", err)
				}
			}
		}
		return nil
	})
}
