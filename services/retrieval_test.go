package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-agent/models"
)

func candidateIDs(c []Candidate) []string {
	ids := make([]string, len(c))
	for i := range c {
		ids[i] = c[i].Item.ID
	}
	return ids
}

func TestRecommend_DadHatForBlueHats(t *testing.T) {
	f := newCatalogFixture()
	hat := f.ingest(t, "shop-a", dadHat())
	f.ingest(t, "shop-a", ItemInput{ExternalID: "sku-wallet", Name: "Leather Wallet", Category: "Accessories"})
	f.reindex(t)

	got, err := f.retriever.Recommend(context.Background(), "shop-a", "do you have blue hats")
	require.NoError(t, err)

	require.NotEmpty(t, got)
	assert.Equal(t, hat.ID, got[0].Item.ID)
	assert.GreaterOrEqual(t, got[0].Score, float32(0.30))
}

func TestSearch_ExactModeDropsLooseMatches(t *testing.T) {
	f := newCatalogFixture()
	f.ingest(t, "shop-a", dadHat())
	f.reindex(t)

	// scores about 0.5: enough for a recommendation, not for an exact search
	got, err := f.retriever.ExactSearch(context.Background(), "shop-a", "do you have blue hats")
	require.NoError(t, err)
	assert.Empty(t, got, "below-threshold results are dropped, never returned as closest match")

	got, err = f.retriever.Recommend(context.Background(), "shop-a", "do you have blue hats")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSearch_TenantIsolation(t *testing.T) {
	f := newCatalogFixture()
	mine := f.ingest(t, "shop-a", dadHat())
	f.ingest(t, "shop-b", dadHat())
	f.reindex(t)

	got, err := f.retriever.Recommend(context.Background(), "shop-a", "blue hat")
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, candidateIDs(got))
}

func TestSearch_StaleAndInactiveExcluded(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()
	hat := f.ingest(t, "shop-a", dadHat())
	f.reindex(t)

	changed := dadHat()
	changed.Description = "Now with an adjustable strap"
	updated := f.ingest(t, "shop-a", changed)
	require.Equal(t, hat.ID, updated.ID)
	require.True(t, updated.IsStale())

	got, err := f.retriever.Recommend(ctx, "shop-a", "blue hat")
	require.NoError(t, err)
	assert.Empty(t, got, "stale vectors are not trusted")

	f.reindex(t)
	got, err = f.retriever.Recommend(ctx, "shop-a", "blue hat")
	require.NoError(t, err)
	assert.Equal(t, []string{hat.ID}, candidateIDs(got))

	inactive := false
	off := dadHat()
	off.Active = &inactive
	f.ingest(t, "shop-a", off)

	got, err = f.retriever.Recommend(ctx, "shop-a", "blue hat")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_UnchangedReimportStaysRetrievable(t *testing.T) {
	f := newCatalogFixture()
	hat := f.ingest(t, "shop-a", dadHat())
	f.reindex(t)

	again := f.ingest(t, "shop-a", dadHat())
	assert.False(t, again.IsStale())
	assert.Equal(t, int64(1), again.ContentVersion)

	got, err := f.retriever.Recommend(context.Background(), "shop-a", "blue hat")
	require.NoError(t, err)
	assert.Equal(t, []string{hat.ID}, candidateIDs(got))
}

func TestSearch_EmptyQuery(t *testing.T) {
	f := newCatalogFixture()
	_, err := f.retriever.Recommend(context.Background(), "shop-a", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	f := newCatalogFixture()
	r := NewRetriever(failingEmbedder{}, f.index, f.store, DefaultRetrievalSettings())

	_, err := r.Recommend(context.Background(), "shop-a", "blue hat")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrEmptyQuery))
}

type fixedIndex struct {
	hits []ScoredItem
}

func (f fixedIndex) Upsert(context.Context, string, string, int64, []float32) error { return nil }
func (f fixedIndex) Remove(context.Context, string) error                           { return nil }
func (f fixedIndex) Query(ctx context.Context, tenantID string, vector []float32, minScore float32, topK int) ([]ScoredItem, error) {
	return f.hits, nil
}

func TestSearch_RankingTieBreaks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	put := func(id string, updated time.Time) {
		item := &models.CatalogItem{ID: id, TenantID: "shop-a", Name: id, Active: true, UpdatedAt: updated}
		item.ContentHash = ContentHash(item)
		_, err := store.UpsertItem(ctx, item)
		require.NoError(t, err)
		require.NoError(t, store.SaveEmbedding(ctx, id, 1, id, []float32{1}, updated))
	}
	put("old", base)
	put("new", base.Add(time.Hour))
	put("best", base)
	put("b-same", base.Add(2*time.Hour))
	put("a-same", base.Add(2*time.Hour))

	index := fixedIndex{hits: []ScoredItem{
		{ItemID: "old", Version: 1, Score: 0.5},
		{ItemID: "new", Version: 1, Score: 0.5},
		{ItemID: "best", Version: 1, Score: 0.9},
		{ItemID: "b-same", Version: 1, Score: 0.4},
		{ItemID: "a-same", Version: 1, Score: 0.4},
		{ItemID: "missing", Version: 1, Score: 0.95},
	}}
	r := NewRetriever(HashEmbedder{}, index, store, DefaultRetrievalSettings())

	got, err := r.Recommend(ctx, "shop-a", "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"best", "new", "old", "a-same", "b-same"}, candidateIDs(got))

	r = NewRetriever(HashEmbedder{}, index, store, RetrievalSettings{RecommendMinScore: 0.3, RecommendTopK: 2})
	got, err = r.Recommend(ctx, "shop-a", "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"best", "new"}, candidateIDs(got))
}

func TestSearch_ReactivatedItemIsRetrievableAgain(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()
	hat := f.ingest(t, "shop-a", dadHat())
	f.reindex(t)

	inactive := false
	off := dadHat()
	off.Active = &inactive
	f.ingest(t, "shop-a", off)

	got, err := f.retriever.Recommend(ctx, "shop-a", "do you have blue hats")
	require.NoError(t, err)
	assert.Empty(t, got)

	// same content, so only the reactivation can queue the re-embed
	back := f.ingest(t, "shop-a", dadHat())
	assert.Equal(t, int64(1), back.ContentVersion)
	assert.True(t, back.IsStale())

	assert.Equal(t, 1, f.reindex(t).Embedded)

	got, err = f.retriever.Recommend(ctx, "shop-a", "do you have blue hats")
	require.NoError(t, err)
	assert.Equal(t, []string{hat.ID}, candidateIDs(got))
}

func TestSearch_StaleNeighboursDoNotHideFreshItems(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()
	hat := f.ingest(t, "shop-a", dadHat())
	for i := 0; i < 15; i++ {
		f.ingest(t, "shop-a", ItemInput{ExternalID: fmt.Sprintf("sku-blue-%d", i), Name: "Blue Hat", Price: 10})
	}
	f.reindex(t)

	// a bulk re-price leaves every blue hat stale with its old vector indexed
	for i := 0; i < 15; i++ {
		f.ingest(t, "shop-a", ItemInput{ExternalID: fmt.Sprintf("sku-blue-%d", i), Name: "Blue Hat", Price: 12})
	}

	got, err := f.retriever.Recommend(ctx, "shop-a", "do you have blue hats")
	require.NoError(t, err)
	assert.Equal(t, []string{hat.ID}, candidateIDs(got))
}

func TestSearch_RecencyTieBreakSurvivesIndexCutoff(t *testing.T) {
	store := NewMemoryStore()
	index := NewMemoryVectorIndex()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "z"} {
		updated := base.Add(time.Duration(i) * time.Hour)
		item := &models.CatalogItem{ID: id, TenantID: "shop-a", Name: id, Active: true, UpdatedAt: updated}
		item.ContentHash = ContentHash(item)
		_, err := store.UpsertItem(ctx, item)
		require.NoError(t, err)
		require.NoError(t, store.SaveEmbedding(ctx, id, 1, id, []float32{1, 0}, updated))
		require.NoError(t, index.Upsert(ctx, id, "shop-a", 1, []float32{1, 0}))
	}

	// one result asks the index for three hits, yet all four tie
	r := NewRetriever(fixedEmbedder{vector: []float32{1, 0}}, index, store, RetrievalSettings{RecommendMinScore: 0.3, RecommendTopK: 1})
	got, err := r.Recommend(ctx, "shop-a", "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, candidateIDs(got))
}

func TestSearch_IgnoresIndexVectorFromOtherVersion(t *testing.T) {
	f := newCatalogFixture()
	ctx := context.Background()
	hat := f.ingest(t, "shop-a", dadHat())
	f.reindex(t)

	// an index entry that does not match the catalog's embedded version is not trusted
	vector, err := f.embedder.Embed(ctx, "blue hat")
	require.NoError(t, err)
	require.NoError(t, f.index.Upsert(ctx, hat.ID, "shop-a", 7, vector))

	got, err := f.retriever.Recommend(ctx, "shop-a", "blue hat")
	require.NoError(t, err)
	assert.Empty(t, got)
}

type fixedEmbedder struct {
	vector []float32
}

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vector, nil
}
