package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const vectorCollection = "vector_documents"

// ScoredItem is one semantic index hit.
type ScoredItem struct {
	ItemID  string  `json:"item_id"`
	Version int64   `json:"version"` // content version the vector was computed from
	Score   float32 `json:"score"`
}

// SemanticIndex stores item vectors and answers tenant-scoped nearest-neighbour queries.
type SemanticIndex interface {
	// Upsert stores the vector computed from content version. A vector from an
	// older version than the one already indexed is ignored.
	Upsert(ctx context.Context, itemID, tenantID string, version int64, vector []float32) error
	Remove(ctx context.Context, itemID string) error
	// Query returns hits with score >= minScore, best first. It returns topK hits
	// plus any hits tied with the last one; topK <= 0 returns every hit.
	Query(ctx context.Context, tenantID string, vector []float32, minScore float32, topK int) ([]ScoredItem, error)
}

// VectorDocument represents an item vector in the vector DB
type VectorDocument struct {
	ItemID    string    `bson:"_id" json:"item_id"`
	TenantID  string    `bson:"tenant_id" json:"tenant_id"`
	Version   int64     `bson:"version" json:"version"`
	Embedding []float32 `bson:"embedding" json:"embedding"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// CosineSimilarity calculates the cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// rankHits keeps hits at or above minScore, best first, trimmed to topK.
// Hits tied with the last kept one are never cut.
func rankHits(hits []ScoredItem, minScore float32, topK int) []ScoredItem {
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Score == kept[j].Score {
			return kept[i].ItemID < kept[j].ItemID
		}
		return kept[i].Score > kept[j].Score
	})
	if topK > 0 && len(kept) > topK {
		cut := topK
		for cut < len(kept) && kept[cut].Score == kept[topK-1].Score {
			cut++
		}
		kept = kept[:cut]
	}
	return kept
}

// MongoVectorIndex scores tenant documents with cosine similarity in process.
// Tenant catalogs are small enough that a full scan per query is acceptable.
type MongoVectorIndex struct {
	collection *mongo.Collection
}

func NewMongoVectorIndex(db *mongo.Database) *MongoVectorIndex {
	return &MongoVectorIndex{collection: db.Collection(vectorCollection)}
}

// InitVectorDB creates indexes for vector documents collection
func (m *MongoVectorIndex) InitVectorDB(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"tenant_id": 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create vector DB indexes: %w", err)
	}

	slog.Info("Vector DB initialized")
	return nil
}

func (m *MongoVectorIndex) Upsert(ctx context.Context, itemID, tenantID string, version int64, vector []float32) error {
	doc := VectorDocument{
		ItemID:    itemID,
		TenantID:  tenantID,
		Version:   version,
		Embedding: vector,
		UpdatedAt: time.Now(),
	}

	filter := bson.M{"_id": itemID, "version": bson.M{"$lte": version}}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		// the filter missed because a newer version holds the _id
		if mongo.IsDuplicateKeyError(err) {
			slog.Debug("Ignoring vector from an older content version", "itemID", itemID, "version", version)
			return nil
		}
		return fmt.Errorf("failed to store embeddings: %w", err)
	}
	return nil
}

func (m *MongoVectorIndex) Remove(ctx context.Context, itemID string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": itemID})
	return err
}

func (m *MongoVectorIndex) Query(ctx context.Context, tenantID string, vector []float32, minScore float32, topK int) ([]ScoredItem, error) {
	cursor, err := m.collection.Find(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []ScoredItem
	for cursor.Next(ctx) {
		var doc VectorDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to read documents: %w", err)
		}
		hits = append(hits, ScoredItem{
			ItemID:  doc.ItemID,
			Version: doc.Version,
			Score:   CosineSimilarity(vector, doc.Embedding),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	total := len(hits)
	hits = rankHits(hits, minScore, topK)

	slog.Debug("Vector search completed using cosine similarity",
		"tenantID", tenantID,
		"totalDocuments", total,
		"resultsFound", len(hits),
		"minScore", minScore,
	)
	return hits, nil
}

// MemoryVectorIndex is an in-process SemanticIndex.
type MemoryVectorIndex struct {
	mu   sync.RWMutex
	docs map[string]VectorDocument
}

func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{docs: make(map[string]VectorDocument)}
}

func (m *MemoryVectorIndex) Upsert(ctx context.Context, itemID, tenantID string, version int64, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc, ok := m.docs[itemID]; ok && doc.Version > version {
		return nil
	}
	m.docs[itemID] = VectorDocument{
		ItemID:    itemID,
		TenantID:  tenantID,
		Version:   version,
		Embedding: append([]float32(nil), vector...),
		UpdatedAt: time.Now(),
	}
	return nil
}

func (m *MemoryVectorIndex) Remove(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.docs, itemID)
	return nil
}

func (m *MemoryVectorIndex) Query(ctx context.Context, tenantID string, vector []float32, minScore float32, topK int) ([]ScoredItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []ScoredItem
	for _, doc := range m.docs {
		if doc.TenantID != tenantID {
			continue
		}
		hits = append(hits, ScoredItem{ItemID: doc.ItemID, Version: doc.Version, Score: CosineSimilarity(vector, doc.Embedding)})
	}
	return rankHits(hits, minScore, topK), nil
}
