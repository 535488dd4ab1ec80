package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ukydev/fleet-replay/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// eventDocument is the stored form of an event; seq keeps in-trip order.
type eventDocument struct {
	Seq   int          `bson:"seq"`
	Event models.Event `bson:",inline"`
}

// MongoCollection wraps a MongoDB collection of trip events.
type MongoCollection struct {
	Collection *mongo.Collection
}

// EnsureIndexes creates the (trip_id, seq) index used by FindTripEvents.
func (c *MongoCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "trip_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// InsertTripEvents stores the events of a trip in order.
func (c *MongoCollection) InsertTripEvents(ctx context.Context, tripID string, events []models.Event) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, len(events))
	for i, ev := range events {
		ev.TripID = tripID
		docs[i] = eventDocument{Seq: i, Event: ev}
	}
	_, err := c.Collection.InsertMany(ctx, docs)
	return err
}

// mongoEventCursor wraps a MongoDB cursor for event queries.
type mongoEventCursor struct {
	cursor *mongo.Cursor
}

// All retrieves all results from the cursor.
func (m *mongoEventCursor) All(ctx context.Context, out interface{}) error {
	return m.cursor.All(ctx, out)
}

// Close closes the cursor.
func (m *mongoEventCursor) Close(ctx context.Context) error {
	return m.cursor.Close(ctx)
}

// find queries event documents from the collection.
func (c *MongoCollection) find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (EventCursor, error) {
	cursor, err := c.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoEventCursor{cursor: cursor}, nil
}

// FindTripEvents returns a trip's events in stored order.
func (c *MongoCollection) FindTripEvents(ctx context.Context, tripID string) ([]models.Event, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.find(ctx, bson.M{"trip_id": tripID}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find trip %s: %w", tripID, err)
	}
	defer cursor.Close(ctx)

	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode trip %s: %w", tripID, err)
	}
	events := make([]models.Event, len(docs))
	for i, d := range docs {
		events[i] = d.Event
	}
	return events, nil
}

// TripIDs returns the distinct trip ids in the collection, sorted.
func (c *MongoCollection) TripIDs(ctx context.Context) ([]string, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	values, err := c.Collection.Distinct(ctx, "trip_id", bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteTrip deletes all events of a trip.
func (c *MongoCollection) DeleteTrip(ctx context.Context, tripID string) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.DeleteMany(ctx, bson.M{"trip_id": tripID})
	return err
}
