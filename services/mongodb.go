package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront-agent/models"
)

const (
	conversationsCollection   = "conversations"
	messagesCollection        = "messages"
	catalogCollection         = "catalog_items"
	recommendationsCollection = "recommendation_events"
	tenantsCollection         = "tenants"
	operatorsCollection       = "operators"
)

// InitMongoDB initializes MongoDB connection
func InitMongoDB(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	slog.Info("Connected to MongoDB")
	return client, nil
}

// MongoStore implements Store on top of a MongoDB database. Every conversation
// transition is a single conditional UpdateOne.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// Database returns the MongoDB database instance
func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

// CreateIndexes creates necessary database indexes
func (s *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		conversationsCollection: {
			{
				Keys: bson.D{
					{Key: "tenant_id", Value: 1},
					{Key: "customer_identifier", Value: 1},
				},
				// one open conversation per customer
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"archived": false}),
			},
			{Keys: bson.D{{Key: "mode", Value: 1}, {Key: "last_activity_at", Value: 1}}},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
		catalogCollection: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "external_id", Value: 1}}},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "updated_at", Value: 1}}},
		},
		recommendationsCollection: {
			{Keys: bson.M{"conversation_id": 1}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "item_id", Value: 1}}},
		},
		tenantsCollection: {
			{Keys: bson.M{"page_id": 1}},
		},
		operatorsCollection: {
			{Keys: bson.M{"key_id": 1}, Options: options.Index().SetUnique(true)},
		},
	}

	for name, idx := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}

	slog.Info("MongoDB indexes created")
	return nil
}

// Conversations

func (s *MongoStore) GetOrCreate(ctx context.Context, tenantID, customerID, channel string, now time.Time) (*models.Conversation, bool, error) {
	collection := s.db.Collection(conversationsCollection)

	newID := uuid.NewString()
	filter := bson.M{
		"tenant_id":           tenantID,
		"customer_identifier": customerID,
		"archived":            false,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":                  newID,
			"channel":              channel,
			"mode":                 models.ModeAI,
			"escalation_requested": false,
			"escalation_count":     0,
			"last_activity_at":     now,
			"created_at":           now,
			"updated_at":           now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var conv models.Conversation
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conv)
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent first message created it; read the winner
		err = collection.FindOne(ctx, filter).Decode(&conv)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create conversation: %w", err)
	}

	return &conv, conv.ID == newID, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Collection(conversationsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (s *MongoStore) Transition(ctx context.Context, cond ModeCondition, change ModeChange) (bool, error) {
	filter := bson.M{"_id": cond.ConversationID}
	if len(cond.From) > 0 {
		filter["mode"] = bson.M{"$in": cond.From}
	}
	if cond.OperatorID != "" {
		filter["assigned_operator_id"] = cond.OperatorID
	}
	if !cond.IdleBefore.IsZero() {
		filter["last_activity_at"] = bson.M{"$lt": cond.IdleBefore}
	}
	if cond.NotArchived {
		filter["archived"] = false
	}

	set := bson.M{
		"mode":       change.To,
		"updated_at": change.At,
	}
	update := bson.M{"$set": set}

	switch change.To {
	case models.ModeHuman:
		set["assigned_operator_id"] = change.OperatorID
		set["assigned_at"] = change.At
		set["escalation_requested"] = false
		set["last_activity_at"] = change.At
		update["$unset"] = bson.M{"paused_at": ""}
	case models.ModePaused:
		set["paused_at"] = change.At
		update["$unset"] = bson.M{"assigned_operator_id": "", "assigned_at": ""}
	default:
		update["$unset"] = bson.M{"assigned_operator_id": "", "assigned_at": "", "paused_at": ""}
	}

	result, err := s.db.Collection(conversationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to transition conversation: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (s *MongoStore) FlagEscalation(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":                  id,
		"mode":                 models.ModeAI,
		"escalation_requested": false,
	}
	update := bson.M{
		"$set": bson.M{
			"escalation_requested": true,
			"escalation_reason":    reason,
			"updated_at":           at,
		},
		"$inc": bson.M{"escalation_count": 1},
	}

	result, err := s.db.Collection(conversationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to flag escalation: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (s *MongoStore) TouchActivity(ctx context.Context, id string, at time.Time, modes ...models.Mode) (bool, error) {
	filter := bson.M{"_id": id}
	if len(modes) > 0 {
		filter["mode"] = bson.M{"$in": modes}
	}
	update := bson.M{
		"$max": bson.M{"last_activity_at": at},
		"$set": bson.M{"updated_at": at},
	}

	result, err := s.db.Collection(conversationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to touch conversation: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (s *MongoStore) ClaimAIReply(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":      id,
		"mode":     models.ModeAI,
		"archived": false,
	}
	update := bson.M{"$set": bson.M{"last_ai_reply_at": at, "updated_at": at}}

	result, err := s.db.Collection(conversationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to claim AI reply: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (s *MongoStore) Archive(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":      id,
		"archived": false,
		"mode":     bson.M{"$ne": models.ModeHuman},
	}
	update := bson.M{"$set": bson.M{"archived": true, "archived_at": at, "updated_at": at}}

	result, err := s.db.Collection(conversationsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to archive conversation: %w", err)
	}
	return result.MatchedCount == 1, nil
}

func (s *MongoStore) ListIdleHuman(ctx context.Context, cutoff time.Time, limit int) ([]models.Conversation, error) {
	filter := bson.M{
		"mode":             models.ModeHuman,
		"last_activity_at": bson.M{"$lt": cutoff},
	}
	findOptions := options.Find().SetSort(bson.M{"last_activity_at": 1})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(conversationsCollection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conversations []models.Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// Messages

// AppendMessage saves a message to database
func (s *MongoStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := s.db.Collection(messagesCollection).InsertOne(ctx, msg)
	return err
}

// RecentMessages fetches the latest turns of a conversation, oldest first
func (s *MongoStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	findOptions := options.Find().SetSort(bson.M{"timestamp": -1})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(messagesCollection).Find(ctx, bson.M{"conversation_id": conversationID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	slices.Reverse(messages)
	return messages, nil
}

func (s *MongoStore) CountMessages(ctx context.Context, conversationID string, producer models.Producer) (int, error) {
	filter := bson.M{"conversation_id": conversationID}
	if producer != "" {
		filter["produced_by"] = producer
	}
	count, err := s.db.Collection(messagesCollection).CountDocuments(ctx, filter)
	return int(count), err
}

// Catalog

func (s *MongoStore) UpsertItem(ctx context.Context, item *models.CatalogItem) (*models.CatalogItem, error) {
	collection := s.db.Collection(catalogCollection)

	now := item.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	existing, err := s.findItem(ctx, item)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		stored := *item
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		stored.ContentVersion = 1
		stored.EmbeddedVersion = 0
		stored.EmbeddingVector = nil
		stored.CreatedAt = now
		stored.UpdatedAt = now
		if _, err := collection.InsertOne(ctx, &stored); err != nil {
			return nil, fmt.Errorf("failed to insert catalog item: %w", err)
		}
		slog.Info("Catalog item created", "itemID", stored.ID, "tenantID", stored.TenantID)
		return &stored, nil
	}

	set := bson.M{"active": item.Active}
	update := bson.M{"$set": set}
	if !existing.Active && item.Active {
		// deactivation dropped the index entry; queue a re-embed
		set["embedded_version"] = 0
	}
	if existing.ContentHash != item.ContentHash {
		set["name"] = item.Name
		set["description"] = item.Description
		set["price"] = item.Price
		set["currency"] = item.Currency
		set["category"] = item.Category
		set["variant_attributes"] = item.VariantAttributes
		set["content_hash"] = item.ContentHash
		set["updated_at"] = now
		update["$inc"] = bson.M{"content_version": 1}
	}

	_, err = collection.UpdateOne(ctx, bson.M{"_id": existing.ID}, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update catalog item: %w", err)
	}
	return s.GetItem(ctx, existing.ID)
}

func (s *MongoStore) findItem(ctx context.Context, item *models.CatalogItem) (*models.CatalogItem, error) {
	var filter bson.M
	switch {
	case item.ID != "":
		filter = bson.M{"_id": item.ID}
	case item.ExternalID != "":
		filter = bson.M{"tenant_id": item.TenantID, "external_id": item.ExternalID}
	default:
		return nil, nil
	}

	var existing models.CatalogItem
	err := s.db.Collection(catalogCollection).FindOne(ctx, filter).Decode(&existing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &existing, nil
}

func (s *MongoStore) GetItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := s.db.Collection(catalogCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *MongoStore) GetItems(ctx context.Context, tenantID string, ids []string) ([]models.CatalogItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"tenant_id": tenantID,
		"_id":       bson.M{"$in": ids},
	}

	cursor, err := s.db.Collection(catalogCollection).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []models.CatalogItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *MongoStore) ListStale(ctx context.Context, limit int) ([]models.CatalogItem, error) {
	filter := bson.M{
		"active": true,
		"$expr":  bson.M{"$lt": bson.A{"$embedded_version", "$content_version"}},
	}
	findOptions := options.Find().SetSort(bson.M{"updated_at": 1})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(catalogCollection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var items []models.CatalogItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *MongoStore) SaveEmbedding(ctx context.Context, id string, version int64, text string, vector []float32, at time.Time) error {
	// never overwrite a vector computed from newer content
	filter := bson.M{
		"_id":              id,
		"embedded_version": bson.M{"$lte": version},
	}
	update := bson.M{
		"$set": bson.M{
			"embedding_text":   text,
			"embedding_vector": vector,
			"embedded_version": version,
			"embedded_at":      at,
			"embed_attempts":   0,
		},
		"$unset": bson.M{"last_embed_error": ""},
	}

	_, err := s.db.Collection(catalogCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to save embedding: %w", err)
	}
	return nil
}

func (s *MongoStore) RecordEmbedFailure(ctx context.Context, id string, reason string) error {
	update := bson.M{
		"$inc": bson.M{"embed_attempts": 1},
		"$set": bson.M{"last_embed_error": reason},
	}
	_, err := s.db.Collection(catalogCollection).UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// Recommendations

func (s *MongoStore) RecordRecommendation(ctx context.Context, ev *models.RecommendationEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := s.db.Collection(recommendationsCollection).InsertOne(ctx, ev)
	return err
}

func (s *MongoStore) MarkClicked(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	return s.markRecommendation(ctx, tenantID, id, "clicked", "clicked_at", at)
}

func (s *MongoStore) MarkPurchased(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	return s.markRecommendation(ctx, tenantID, id, "purchased", "purchased_at", at)
}

func (s *MongoStore) markRecommendation(ctx context.Context, tenantID, id, flag, stamp string, at time.Time) (bool, error) {
	collection := s.db.Collection(recommendationsCollection)

	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": id, "tenant_id": tenantID, flag: false},
		bson.M{"$set": bson.M{flag: true, stamp: at}},
	)
	if err != nil {
		return false, err
	}
	if result.MatchedCount == 1 {
		return true, nil
	}

	count, err := collection.CountDocuments(ctx, bson.M{"_id": id, "tenant_id": tenantID})
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *MongoStore) ListRecommendations(ctx context.Context, conversationID string) ([]models.RecommendationEvent, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "surfaced_at", Value: 1}, {Key: "item_id", Value: 1}})

	cursor, err := s.db.Collection(recommendationsCollection).Find(ctx, bson.M{"conversation_id": conversationID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []models.RecommendationEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Tenants and operators

func (s *MongoStore) GetTenant(ctx context.Context, tenantID string) (*models.TenantConfig, error) {
	return s.findTenant(ctx, bson.M{"_id": tenantID})
}

func (s *MongoStore) GetTenantByPageID(ctx context.Context, pageID string) (*models.TenantConfig, error) {
	return s.findTenant(ctx, bson.M{"page_id": pageID})
}

func (s *MongoStore) findTenant(ctx context.Context, filter bson.M) (*models.TenantConfig, error) {
	var tenant models.TenantConfig
	err := s.db.Collection(tenantsCollection).FindOne(ctx, filter).Decode(&tenant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (s *MongoStore) SaveTenant(ctx context.Context, t *models.TenantConfig) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(tenantsCollection).ReplaceOne(ctx, bson.M{"_id": t.TenantID}, t, opts)
	return err
}

func (s *MongoStore) GetOperatorByKeyID(ctx context.Context, keyID string) (*models.Operator, error) {
	var op models.Operator
	err := s.db.Collection(operatorsCollection).FindOne(ctx, bson.M{"key_id": keyID}).Decode(&op)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}

func (s *MongoStore) SaveOperator(ctx context.Context, op *models.Operator) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(operatorsCollection).ReplaceOne(ctx, bson.M{"_id": op.ID}, op, opts)
	return err
}
