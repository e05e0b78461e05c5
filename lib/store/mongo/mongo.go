// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/por/lib/store"
)

const (
	database   = "por"
	collection = "runs"
	opTimeout  = 10 * time.Second
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// SaveRun inserts a finished run.
func (m *Mongo) SaveRun(r store.Run) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := m.c.Database(database).Collection(collection).InsertOne(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("could not insert run in db: %w", err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id %v", res.InsertedID)
	}

	return id[:], nil
}

// GetRuns returns the latest runs saved for exchangeID.
func (m *Mongo) GetRuns(exchangeID uint64, limit int64) ([]store.Run, error) {
	opts := options.Find().SetSort(bson.D{{Key: "finished", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	cur, err := m.c.Database(database).Collection(collection).Find(ctx, bson.M{"exchangeId": exchangeID}, opts)
	if err != nil {
		return nil, fmt.Errorf("error getting runs from mongo DB: %w", err)
	}

	runs := []store.Run{}
	if err = cur.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("error decoding runs from mongo DB: %w", err)
	}

	return runs, nil
}
