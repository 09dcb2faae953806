package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/types"
)

// ErrRecordExists is returned by PutRecord when the hour was already written.
var ErrRecordExists = errors.New("record already exists")

// Database persists the hourly record series of one facility.
type Database interface {
	// GetLatestRecord returns the most recent record, or nil if none exist.
	GetLatestRecord(ctx context.Context) (*types.HourlyRecord, error)
	// GetRecordRange returns the records with start <= timestamp < end in
	// ascending order. Missing hours are skipped.
	GetRecordRange(ctx context.Context, start, end time.Time) ([]types.HourlyRecord, error)
	// PutRecord stores a new record. Records are never overwritten.
	PutRecord(ctx context.Context, rec types.HourlyRecord) error

	// Lifecycle
	Close() error
}

// initializer is implemented by providers that need a connection before use.
type initializer interface {
	Validate() error
	Init(ctx context.Context) error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, mongodb, memory)")
	facilityID := lflag.String("facility-id", types.FacilityIDDefault, "ID of the facility whose records are stored")

	var p struct{ Database }

	fs := configuredFirestore()
	mg := configuredMongo()

	lflag.Do(func() {
		var db interface {
			Database
			initializer
		}
		switch *provider {
		case "firestore":
			fs.facilityID = *facilityID
			db = fs
		case "mongodb":
			mg.facilityID = *facilityID
			db = mg
		case "memory":
			p.Database = NewMemory()
			return
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
		if err := db.Validate(); err != nil {
			panic(fmt.Sprintf("%s validation failed: %v", *provider, err))
		}
		if err := db.Init(context.Background()); err != nil {
			panic(fmt.Sprintf("%s init failed: %v", *provider, err))
		}
		p.Database = db
	})

	return &p
}
