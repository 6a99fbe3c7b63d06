package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"storefront-agent/models"
)

// RetrievalMode selects the threshold and K pair used for a query.
type RetrievalMode string

const (
	ModeRecommendation RetrievalMode = "recommendation"
	ModeExactSearch    RetrievalMode = "exact"
)

// RetrievalQuery is an ephemeral, tenant-scoped semantic lookup.
type RetrievalQuery struct {
	TenantID string
	Text     string
	TopK     int
	MinScore float32
}

// Candidate is a retrieved catalog item with its similarity score.
type Candidate struct {
	Item  models.CatalogItem `json:"item"`
	Score float32            `json:"score"`
}

type RetrievalSettings struct {
	RecommendMinScore float32
	RecommendTopK     int
	ExactMinScore     float32
	ExactTopK         int
}

func DefaultRetrievalSettings() RetrievalSettings {
	return RetrievalSettings{
		RecommendMinScore: 0.30,
		RecommendTopK:     5,
		ExactMinScore:     0.70,
		ExactTopK:         10,
	}
}

// Retriever embeds a query and resolves index hits against the catalog.
type Retriever struct {
	embedder Embedder
	index    SemanticIndex
	catalog  CatalogStore
	settings RetrievalSettings
}

func NewRetriever(embedder Embedder, index SemanticIndex, catalog CatalogStore, settings RetrievalSettings) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		catalog:  catalog,
		settings: settings,
	}
}

// Recommend runs a permissive lookup for the current customer message only.
func (r *Retriever) Recommend(ctx context.Context, tenantID, message string) ([]Candidate, error) {
	return r.Search(ctx, ModeRecommendation, RetrievalQuery{
		TenantID: tenantID,
		Text:     message,
		TopK:     r.settings.RecommendTopK,
		MinScore: r.settings.RecommendMinScore,
	})
}

// ExactSearch runs a conservative lookup for explicit "find me X" requests.
func (r *Retriever) ExactSearch(ctx context.Context, tenantID, text string) ([]Candidate, error) {
	return r.Search(ctx, ModeExactSearch, RetrievalQuery{
		TenantID: tenantID,
		Text:     text,
		TopK:     r.settings.ExactTopK,
		MinScore: r.settings.ExactMinScore,
	})
}

// Search returns tenant items scoring at least q.MinScore. Inactive, stale and
// un-embedded items are dropped; nothing below threshold is ever returned.
func (r *Retriever) Search(ctx context.Context, mode RetrievalMode, q RetrievalQuery) ([]Candidate, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Stale and inactive items can still hold index entries, so the window
	// widens until it yields topK retrievable items or the index runs out.
	fetch := q.TopK * 3
	if q.TopK <= 0 {
		fetch = 0
	}

	var (
		hits       []ScoredItem
		candidates []Candidate
	)
	for {
		hits, err = r.index.Query(ctx, q.TenantID, vector, q.MinScore, fetch)
		if err != nil {
			return nil, fmt.Errorf("failed to query semantic index: %w", err)
		}
		candidates, err = r.resolve(ctx, q, hits)
		if err != nil {
			return nil, err
		}
		if fetch == 0 || len(hits) < fetch || len(candidates) >= q.TopK {
			break
		}
		fetch *= 4
	}

	rankCandidates(candidates)
	if q.TopK > 0 && len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}

	RetrievalResults.WithLabelValues(string(mode)).Observe(float64(len(candidates)))
	slog.Debug("Catalog retrieval completed",
		"tenantID", q.TenantID,
		"mode", mode,
		"hits", len(hits),
		"candidates", len(candidates),
		"minScore", q.MinScore,
	)
	return candidates, nil
}

// resolve loads hit items and keeps those that are retrievable and whose
// indexed vector was computed from the item's current embedded version.
func (r *Retriever) resolve(ctx context.Context, q RetrievalQuery, hits []ScoredItem) ([]Candidate, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	byID := make(map[string]ScoredItem, len(hits))
	for i, h := range hits {
		ids[i] = h.ItemID
		byID[h.ItemID] = h
	}

	items, err := r.catalog.GetItems(ctx, q.TenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog items: %w", err)
	}

	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		hit := byID[item.ID]
		if item.TenantID != q.TenantID || !item.Retrievable() {
			continue
		}
		if hit.Version != item.EmbeddedVersion || hit.Score < q.MinScore {
			continue
		}
		candidates = append(candidates, Candidate{Item: item, Score: hit.Score})
	}
	return candidates, nil
}

// rankCandidates orders by score, then most recently updated, then id.
func rankCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		if !c[i].Item.UpdatedAt.Equal(c[j].Item.UpdatedAt) {
			return c[i].Item.UpdatedAt.After(c[j].Item.UpdatedAt)
		}
		return c[i].Item.ID < c[j].Item.ID
	})
}
