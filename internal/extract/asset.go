package extract

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fiskal-io/regstream/internal/classify"
	"github.com/fiskal-io/regstream/internal/llm"
	"github.com/fiskal-io/regstream/internal/model"
)

const assetSchemaSrc = `{
	"type": "object",
	"required": ["assets"],
	"properties": {
		"assets": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["download_url", "name"],
				"properties": {
					"download_url": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"asset_kind": {"type": "string"},
					"version": {"type": "string"},
					"valid_from": {"type": "string", "format": "date"},
					"valid_until": {"type": "string", "format": "date"}
				}
			}
		}
	}
}`

var assetSchema = jsonschema.MustCompileString("asset.schema.json", assetSchemaSrc)

// AssetStore is what the asset extractor needs from persistence.
type AssetStore interface {
	EvidenceStore
	FindAssetByURL(ctx context.Context, downloadURL string) (uuid.UUID, bool, error)
	CreateAsset(ctx context.Context, asset *model.RegulatoryAsset) error
	UpdateAssetMetadata(ctx context.Context, id uuid.UUID, asset *model.RegulatoryAsset) error
}

// AssetExtractor catalogs downloadable documents (forms, templates). The
// absolute download URL is the natural key: a known URL gets its metadata
// refreshed in place, the file itself is never fetched here.
type AssetExtractor struct {
	store AssetStore
	port  llm.Port
}

// NewAssetExtractor wires the asset extractor.
func NewAssetExtractor(store AssetStore, port llm.Port) *AssetExtractor {
	return &AssetExtractor{store: store, port: port}
}

// Name returns the routed extractor name.
func (e *AssetExtractor) Name() string { return classify.ExtractorAsset }

type assetDoc struct {
	Assets []struct {
		DownloadURL string `json:"download_url"`
		Name        string `json:"name"`
		AssetKind   string `json:"asset_kind"`
		Version     string `json:"version"`
		ValidFrom   string `json:"valid_from"`
		ValidUntil  string `json:"valid_until"`
	} `json:"assets"`
}

// Extract pulls document links out of one evidence snapshot.
func (e *AssetExtractor) Extract(ctx context.Context, evidenceID uuid.UUID) (*Result, error) {
	ev, text, err := loadEvidence(ctx, e.store, evidenceID)
	if err != nil {
		return nil, err
	}

	var doc assetDoc
	err = completeValidated(ctx, e.port, llm.Request{
		Task:         llm.TaskAsset,
		SystemPrompt: assetSystemPrompt,
		UserPrompt:   "Page URL: " + ev.URL + "\nSource text:\n" + text,
		Temperature:  0,
	}, assetSchema, "asset", &doc)
	if err != nil {
		return nil, err
	}

	pageURL, _ := url.Parse(ev.URL)

	result := &Result{Extractor: e.Name()}
	for _, a := range doc.Assets {
		absURL := resolveURL(pageURL, a.DownloadURL)
		if absURL == "" {
			continue
		}

		asset := model.RegulatoryAsset{
			EvidenceID:  evidenceID,
			DownloadURL: absURL,
			Name:        a.Name,
			AssetKind:   a.AssetKind,
			Version:     a.Version,
			ValidFrom:   parseDate(a.ValidFrom),
			ValidUntil:  parseDate(a.ValidUntil),
		}

		existingID, exists, err := e.store.FindAssetByURL(ctx, absURL)
		if err != nil {
			return nil, err
		}
		if exists {
			if err := e.store.UpdateAssetMetadata(ctx, existingID, &asset); err != nil {
				return nil, err
			}
			result.Reused = true
			result.CreatedIDs = append(result.CreatedIDs, existingID)
			continue
		}

		asset.ID = uuid.New()
		if err := e.store.CreateAsset(ctx, &asset); err != nil {
			return nil, err
		}
		result.CreatedIDs = append(result.CreatedIDs, asset.ID)
	}
	return result, nil
}

// resolveURL makes a link absolute against the evidence page URL and drops
// anything that does not resolve to http(s).
func resolveURL(base *url.URL, raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

const assetSystemPrompt = `You extract downloadable regulatory documents referenced by source text:
official forms, templates, leaflets. Answer with one JSON object
{"assets": [...]} where each asset has download_url (may be relative to the
page), name, optional asset_kind (form/template/leaflet), version, and
validity dates valid_from / valid_until as YYYY-MM-DD. Only list documents
the text actually links or names. Emit an empty assets array otherwise.`
