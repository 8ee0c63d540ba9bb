package overlay

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bryanchriswhite/streamrelay/internal/logger"
)

// MongoConfig selects the collection overlays are kept in
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns a local server with database "claimss"
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017/",
		Database:   "claimss",
		Collection: "overlays",
	}
}

type mongoDocument struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	Overlay `bson:",inline"`
}

// MongoStore keeps overlays in a MongoDB collection. Identifiers are ObjectID hex strings.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore connects to cfg.URI and verifies the server is reachable
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.WithComponent("overlay").Info().
		Str("database", cfg.Database).
		Str("collection", cfg.Collection).
		Msg("Connected to MongoDB")

	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// Create implements Store
func (s *MongoStore) Create(ctx context.Context, o Overlay) (string, error) {
	if !o.HasGeometry() {
		return "", ErrMissingGeometry
	}

	res, err := s.coll.InsertOne(ctx, mongoDocument{Overlay: o})
	if err != nil {
		return "", fmt.Errorf("failed to create overlay: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("failed to create overlay: unexpected id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// List implements Store
func (s *MongoStore) List(ctx context.Context) ([]Overlay, error) {
	filter := bson.M{
		"position": bson.M{"$exists": true},
		"size":     bson.M{"$exists": true},
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch overlays: %w", err)
	}

	var docs []mongoDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to fetch overlays: %w", err)
	}

	out := make([]Overlay, 0, len(docs))
	for _, d := range docs {
		o := d.Overlay
		o.ID = d.ID.Hex()
		out = append(out, o)
	}
	return out, nil
}

// Update implements Store
func (s *MongoStore) Update(ctx context.Context, id string, patch Patch) (bool, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return false, err
	}
	if patch.IsEmpty() {
		return false, nil
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M(patch.fields())})
	if err != nil {
		return false, fmt.Errorf("failed to update overlay: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// Delete implements Store
func (s *MongoStore) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return false, err
	}

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, fmt.Errorf("failed to delete overlay: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// Close implements Store
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s", ErrInvalidID, id)
	}
	return oid, nil
}
