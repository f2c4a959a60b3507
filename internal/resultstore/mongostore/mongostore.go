// Package mongostore archives runs in a MongoDB collection, one document
// per run ID.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	Client     *mongo.Client
	Collection *mongo.Collection
}

func New(uri, dbName, collName string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	// ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{
		Client:     client,
		Collection: client.Database(dbName).Collection(collName),
	}, nil
}

func (m *MongoStore) Save(ctx context.Context, id string, run any) error {
	if run == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}
	doc := bson.M{"_id": id, "run": run}
	_, err := m.Collection.ReplaceOne(
		ctx,
		bson.M{"_id": id},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("Save: MongoDB ReplaceOne failed: %w", err)
	}
	return nil
}

func (m *MongoStore) Load(ctx context.Context, id string, out any) error {
	res := m.Collection.FindOne(ctx, bson.M{"_id": id})
	if err := res.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return fmt.Errorf("run %q not found", id)
		}
		return fmt.Errorf("MongoDB FindOne failed: %w", err)
	}
	var doc struct {
		Run bson.Raw `bson:"run"`
	}
	if err := res.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := bson.Unmarshal(doc.Run, out); err != nil {
		return fmt.Errorf("failed to decode run payload: %w", err)
	}
	return nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
