package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreRecordsCollection = "hourly_records"

// FirestoreProvider implements Database using Google Cloud Firestore. Records
// live under facilities/{facilityID}/hourly_records with the RFC3339 hour as
// the document ID.
type FirestoreProvider struct {
	client     *firestore.Client
	projectID  string
	database   string
	facilityID string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.facilityID == "" {
		return errors.New("facility id cannot be empty")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) records() *firestore.CollectionRef {
	return f.client.Collection("facilities").Doc(f.facilityID).Collection(firestoreRecordsCollection)
}

func recordDocID(ts time.Time) string {
	return types.TruncateHour(ts).Format(time.RFC3339)
}

func decodeRecordDoc(ctx context.Context, doc *firestore.DocumentSnapshot) (types.HourlyRecord, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "record doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return types.HourlyRecord{}, fmt.Errorf("record doc %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "record doc json not string", slog.String("docID", doc.Ref.ID))
		return types.HourlyRecord{}, fmt.Errorf("record doc %s 'json' field is not string", doc.Ref.ID)
	}
	var rec types.HourlyRecord
	if err := json.Unmarshal([]byte(jsonStr), &rec); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal record", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return types.HourlyRecord{}, fmt.Errorf("failed to unmarshal record (id=%s): %w", doc.Ref.ID, err)
	}
	return rec, nil
}

// PutRecord creates the record's document and fails with ErrRecordExists if
// the hour is already stored.
func (f *FirestoreProvider) PutRecord(ctx context.Context, rec types.HourlyRecord) error {
	if rec.Timestamp.IsZero() {
		return errors.New("record missing timestamp")
	}
	rec.Timestamp = types.TruncateHour(rec.Timestamp)
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	docID := recordDocID(rec.Timestamp)
	_, err = f.records().Doc(docID).Create(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": rec.Timestamp,
		"version":   types.CurrentHourlyRecordVersion,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("record %s: %w", docID, ErrRecordExists)
		}
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// GetRecordRange uses document ID range queries so only the requested hours
// are read.
func (f *FirestoreProvider) GetRecordRange(ctx context.Context, start, end time.Time) ([]types.HourlyRecord, error) {
	coll := f.records()
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(recordDocID(start))).
		Where(firestore.DocumentID, "<", coll.Doc(recordDocID(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var recs []types.HourlyRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating hourly records: %w", err)
		}
		rec, err := decodeRecordDoc(ctx, doc)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// GetLatestRecord returns the newest record or nil if the collection is empty.
func (f *FirestoreProvider) GetLatestRecord(ctx context.Context) (*types.HourlyRecord, error) {
	iter := f.records().
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest record doc: %w", err)
	}
	rec, err := decodeRecordDoc(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
