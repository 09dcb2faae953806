// Command energygen generates a run of consecutive hourly records, either
// backfilling them into the configured store or writing them as CSV to
// stdout. Use --storage-provider=memory with --csv when no store is needed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/battery"
	"github.com/raterudder/facilityenergy/pkg/ingest"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/storage"
	"github.com/raterudder/facilityenergy/pkg/types"
)

func parseStart(s string, hours int, now time.Time) (time.Time, error) {
	if s == "" {
		return types.TruncateHour(now).Add(-time.Duration(hours-1) * time.Hour), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return types.TruncateHour(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start %q, use RFC3339 or YYYY-MM-DD", s)
}

func main() {
	ctx := context.Background()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Ctx(ctx).WarnContext(ctx, "error loading .env file", slog.Any("error", err))
	}

	db := storage.Configured()
	banks := battery.Configured()
	ing := ingest.Configured(db, banks)

	start := lflag.String("start", "", "First hour to generate (RFC3339 or YYYY-MM-DD); defaults to hours before now")
	hours := 24
	lflag.JSON(&hours, "hours", hours, "Number of consecutive hours to generate")
	toCSV := lflag.Bool("csv", false, "Write the records as CSV to stdout instead of storing them")

	lflag.Configure()
	if _, err := log.SyncLevel(); err != nil {
		panic(err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if hours < 1 {
		log.Ctx(ctx).ErrorContext(ctx, "hours must be at least 1", slog.Int("hours", hours))
		os.Exit(1)
	}
	from, err := parseStart(*start, hours, time.Now())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid start", slog.Any("error", err))
		os.Exit(1)
	}

	if *toCSV {
		recs, err := ing.Simulate(from, hours, nil)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to simulate records", slog.Any("error", err))
			os.Exit(1)
		}
		if err := ingest.WriteCSV(os.Stdout, recs, len(ing.Banks())); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to write csv", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	recs, err := ing.Backfill(ctx, from, hours)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "backfill failed", slog.Int("stored", len(recs)), slog.Any("error", err))
		os.Exit(1)
	}
}
