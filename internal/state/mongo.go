package state

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore persists state documents in a mongo collection, one
// document per sync id.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

type mongoStateDoc struct {
	ID        string    `bson:"_id"`
	Document  Document  `bson:"document"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func NewMongoStore(ctx context.Context, uri, database, collection string, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if derr := client.Disconnect(disconnectCtx); derr != nil {
			logger.Warn("disconnect after failed ping", zap.Error(derr))
		}
		return nil, err
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger,
	}, nil
}

func (m *MongoStore) Load(ctx context.Context, id string) (Document, error) {
	var doc mongoStateDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		m.logger.Info("no state found", zap.String("sync_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("state loaded", zap.String("sync_id", id))
	return doc.Document, nil
}

func (m *MongoStore) Save(ctx context.Context, id string, doc Document) error {
	_, err := m.collection.ReplaceOne(ctx,
		bson.M{"_id": id},
		mongoStateDoc{ID: id, Document: doc, UpdatedAt: time.Now()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return err
	}

	m.logger.Debug("state saved", zap.String("sync_id", id))
	return nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
