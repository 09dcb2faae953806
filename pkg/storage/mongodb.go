package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoProvider implements Database on MongoDB. Each facility gets its own
// collection and the hour timestamp is the document _id.
type MongoProvider struct {
	client     *mongo.Client
	uri        string
	database   string
	facilityID string
}

type mongoRecord struct {
	Timestamp time.Time `bson:"_id"`
	JSON      string    `bson:"json"`
	Version   int       `bson:"version"`
}

func configuredMongo() *MongoProvider {
	uri := lflag.String("mongodb-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	database := lflag.String("mongodb-database", "facilityenergy", "MongoDB database name")

	m := &MongoProvider{}
	lflag.Do(func() {
		m.uri = *uri
		m.database = *database
	})
	return m
}

// Validate checks if the provider is properly configured.
func (m *MongoProvider) Validate() error {
	if m.uri == "" {
		return errors.New("mongodb uri cannot be empty")
	}
	if m.database == "" {
		return errors.New("mongodb database cannot be empty")
	}
	if m.facilityID == "" {
		return errors.New("facility id cannot be empty")
	}
	return nil
}

// Init connects to MongoDB and verifies the connection.
func (m *MongoProvider) Init(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.uri))
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}
	m.client = client
	return nil
}

// Close disconnects the client.
func (m *MongoProvider) Close() error {
	if m.client != nil {
		return m.client.Disconnect(context.Background())
	}
	return nil
}

func (m *MongoProvider) records() *mongo.Collection {
	return m.client.Database(m.database).Collection("hourly_records_" + m.facilityID)
}

func decodeMongoRecord(doc mongoRecord) (types.HourlyRecord, error) {
	var rec types.HourlyRecord
	if err := json.Unmarshal([]byte(doc.JSON), &rec); err != nil {
		return types.HourlyRecord{}, fmt.Errorf("failed to unmarshal record (id=%s): %w", doc.Timestamp.Format(time.RFC3339), err)
	}
	return rec, nil
}

// PutRecord inserts the record; a duplicate _id means the hour already exists.
func (m *MongoProvider) PutRecord(ctx context.Context, rec types.HourlyRecord) error {
	if rec.Timestamp.IsZero() {
		return errors.New("record missing timestamp")
	}
	rec.Timestamp = types.TruncateHour(rec.Timestamp)
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = m.records().InsertOne(ctx, mongoRecord{
		Timestamp: rec.Timestamp,
		JSON:      string(jsonBytes),
		Version:   types.CurrentHourlyRecordVersion,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("record %s: %w", rec.Timestamp.Format(time.RFC3339), ErrRecordExists)
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (m *MongoProvider) GetRecordRange(ctx context.Context, start, end time.Time) ([]types.HourlyRecord, error) {
	filter := bson.M{"_id": bson.M{
		"$gte": types.TruncateHour(start),
		"$lt":  types.TruncateHour(end),
	}}
	cur, err := m.records().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly records: %w", err)
	}
	defer cur.Close(ctx)

	var recs []types.HourlyRecord
	for cur.Next(ctx) {
		var doc mongoRecord
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode record doc: %w", err)
		}
		rec, err := decodeMongoRecord(doc)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hourly records: %w", err)
	}
	return recs, nil
}

func (m *MongoProvider) GetLatestRecord(ctx context.Context) (*types.HourlyRecord, error) {
	var doc mongoRecord
	err := m.records().FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record doc: %w", err)
	}
	rec, err := decodeMongoRecord(doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
