package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"NewsCollector/internal/domain"
	"NewsCollector/internal/ports"
)

// MongoRepository keeps one document per cluster identity key.
type MongoRepository struct {
	client   *mongo.Client
	clusters *mongo.Collection
	now      func() time.Time
}

var _ ports.CorpusStore = (*MongoRepository)(nil)

// NewMongoRepository connects, pings and prepares indexes.
func NewMongoRepository(ctx context.Context, uri, database, collection string) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	r := &MongoRepository{
		client:   client,
		clusters: client.Database(database).Collection(collection),
		now:      time.Now,
	}
	if err := r.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *MongoRepository) createIndexes(ctx context.Context) error {
	_, err := r.clusters.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "subject", Value: 1}, {Key: "published_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// KnownKeys returns the identity keys that already exist in the collection.
func (r *MongoRepository) KnownKeys(ctx context.Context, keys []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(keys) == 0 {
		return result, nil
	}

	opts := options.Find().SetProjection(bson.M{"identity_key": 1, "_id": 0})
	cursor, err := r.clusters.Find(ctx, bson.M{"identity_key": bson.M{"$in": keys}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find known keys: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			IdentityKey string `bson:"identity_key"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		result[doc.IdentityKey] = true
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	return result, nil
}

func upsertModels(records []clusterRecord) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"identity_key": rec.IdentityKey}).
			SetUpdate(bson.M{
				"$set":         rec,
				"$setOnInsert": bson.M{"first_seen": rec.UpdatedAt},
			}).
			SetUpsert(true))
	}
	return models
}

// UpsertClusters writes all clusters in one unordered bulk operation.
func (r *MongoRepository) UpsertClusters(ctx context.Context, subject string, clusters []domain.Cluster) error {
	records := recordsFor(subject, clusters, r.now())
	if len(records) == 0 {
		return nil
	}

	_, err := r.clusters.BulkWrite(ctx, upsertModels(records), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("bulk upsert clusters: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
