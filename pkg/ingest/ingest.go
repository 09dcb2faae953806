// Package ingest produces the facility's hourly records: it recovers the prior
// bank state, draws the hour's loads, solar and price, runs the battery
// allocation engine and stores the assembled record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/battery"
	"github.com/raterudder/facilityenergy/pkg/generator"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/storage"
	"github.com/raterudder/facilityenergy/pkg/types"
)

// Sink receives every record after it was stored.
type Sink interface {
	Publish(ctx context.Context, rec types.HourlyRecord) error
}

// Ingestor runs hourly ingestion against a store. Runs are serialized so the
// carry-over read of one run always observes the write of the previous one.
type Ingestor struct {
	mu     sync.Mutex
	db     storage.Database
	gen    *generator.Generator
	engine *battery.Engine
	sinks  []Sink

	maxAge time.Duration
}

// New returns an Ingestor. gen and engine may share a random source since the
// Ingestor never uses them concurrently.
func New(db storage.Database, gen *generator.Generator, engine *battery.Engine) *Ingestor {
	return &Ingestor{
		db:     db,
		gen:    gen,
		engine: engine,
		maxAge: DefaultCarryOverMaxAge,
	}
}

// Configured registers the ingestion flags and builds the Ingestor once flags
// are parsed.
func Configured(db storage.Database, banks *battery.Config) *Ingestor {
	maxAge := lflag.Duration("carry-over-max-age", DefaultCarryOverMaxAge, "Maximum age of a prior record used to seed bank state")
	var seed uint64
	lflag.JSON(&seed, "seed", seed, "Seed for the random source (0 picks a random seed)")

	i := &Ingestor{db: db}
	lflag.Do(func() {
		rng := NewRand(seed)
		engine, err := battery.NewEngine(banks.Banks, rng)
		if err != nil {
			panic(fmt.Sprintf("battery engine config invalid: %v", err))
		}
		i.gen = generator.New(rng)
		i.engine = engine
		i.maxAge = *maxAge
	})
	return i
}

// NewRand returns a source seeded with seed, or a randomly seeded one if seed
// is zero.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed))
}

// AddSink registers a sink notified after each stored record.
func (i *Ingestor) AddSink(s Sink) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sinks = append(i.sinks, s)
}

// SetCarryOverMaxAge overrides the carry-over window. Zero disables the age
// check.
func (i *Ingestor) SetCarryOverMaxAge(d time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.maxAge = d
}

// Banks returns the configured bank parameters.
func (i *Ingestor) Banks() []types.BankParams {
	return i.engine.Banks()
}

// hour computes the record for ts given each bank's stored energy at the start
// of the hour. It doesn't touch the store.
func (i *Ingestor) hour(ts time.Time, stored []float64) (types.HourlyRecord, error) {
	ts = types.TruncateHour(ts)
	loads := i.gen.Loads(ts)
	price := i.gen.Price(ts)
	solar := i.gen.Solar(ts)

	alloc, err := i.engine.Allocate(battery.Input{
		SolarDedicatedToBattery: solar.DedicatedToBattery,
		SolarAvailableForUse:    solar.AvailableForUse,
		BaseConsumptionLoads:    loads.Base(),
		Stored:                  stored,
	})
	if err != nil {
		return types.HourlyRecord{}, fmt.Errorf("failed to allocate hour %s: %w", ts.Format(time.RFC3339), err)
	}
	return Assemble(ts, loads, price, solar, alloc), nil
}

// Run produces and stores the record for the hour containing now. It returns
// storage.ErrRecordExists (wrapped) if that hour was already ingested.
func (i *Ingestor) Run(ctx context.Context, now time.Time) (types.HourlyRecord, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ctx = log.WithRun(ctx, uuid.NewString())
	ts := types.TruncateHour(now)

	stored, _, err := CarryOver(ctx, i.db, i.engine.Banks(), ts, i.maxAge)
	if err != nil {
		return types.HourlyRecord{}, err
	}
	rec, err := i.hour(ts, stored)
	if err != nil {
		return types.HourlyRecord{}, err
	}
	if err := i.db.PutRecord(ctx, rec); err != nil {
		return types.HourlyRecord{}, fmt.Errorf("failed to store record: %w", err)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"ingested hourly record",
		slog.Time("timestamp", ts),
		slog.Float64("baseConsumption", rec.BaseConsumptionLoadsKWH),
		slog.Float64("solarUsedToCharge", rec.SolarUsedToChargeBatteryKWH),
	)
	i.publish(ctx, rec)
	return rec, nil
}

// Backfill stores hours consecutive records starting at start. The first hour
// is seeded from the last record before start; the bank state then chains
// through the generated hours and an hour that is already stored is kept
// and its bank state is carried forward instead.
func (i *Ingestor) Backfill(ctx context.Context, start time.Time, hours int) ([]types.HourlyRecord, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ctx = log.WithRun(ctx, uuid.NewString())
	start = types.TruncateHour(start)
	banks := i.engine.Banks()

	stored, _, err := CarryOverBefore(ctx, i.db, banks, start, i.maxAge)
	if err != nil {
		return nil, err
	}

	recs := make([]types.HourlyRecord, 0, hours)
	for h := 0; h < hours; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		rec, err := i.hour(ts, stored)
		if err != nil {
			return recs, err
		}
		err = i.db.PutRecord(ctx, rec)
		if errors.Is(err, storage.ErrRecordExists) {
			existing, err := i.existing(ctx, ts)
			if err != nil {
				return recs, err
			}
			log.Ctx(ctx).WarnContext(ctx, "hour already ingested, keeping stored record", slog.Time("timestamp", ts))
			rec = existing
		} else if err != nil {
			return recs, fmt.Errorf("failed to store record %s: %w", ts.Format(time.RFC3339), err)
		} else {
			i.publish(ctx, rec)
		}
		if next, ok := storedFrom(&rec, banks); ok {
			stored = next
		} else {
			stored = DefaultStored(banks)
		}
		recs = append(recs, rec)
	}
	log.Ctx(ctx).InfoContext(ctx, "backfill complete", slog.Time("start", start), slog.Int("hours", len(recs)))
	return recs, nil
}

func (i *Ingestor) existing(ctx context.Context, ts time.Time) (types.HourlyRecord, error) {
	recs, err := i.db.GetRecordRange(ctx, ts, ts.Add(time.Hour))
	if err != nil {
		return types.HourlyRecord{}, fmt.Errorf("failed to read existing record: %w", err)
	}
	if len(recs) == 0 {
		return types.HourlyRecord{}, fmt.Errorf("record %s reported as existing but not found", ts.Format(time.RFC3339))
	}
	return recs[0], nil
}

// Simulate computes hours consecutive records from start without a store,
// beginning from initial stored energy (or the default if nil).
func (i *Ingestor) Simulate(start time.Time, hours int, initial []float64) ([]types.HourlyRecord, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	stored := initial
	if stored == nil {
		stored = DefaultStored(i.engine.Banks())
	}
	start = types.TruncateHour(start)
	recs := make([]types.HourlyRecord, 0, hours)
	for h := 0; h < hours; h++ {
		rec, err := i.hour(start.Add(time.Duration(h)*time.Hour), stored)
		if err != nil {
			return recs, err
		}
		stored = make([]float64, len(rec.Banks))
		for b := range rec.Banks {
			stored[b] = rec.Banks[b].EnergyStoredKWH
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (i *Ingestor) publish(ctx context.Context, rec types.HourlyRecord) {
	for _, s := range i.sinks {
		if err := s.Publish(ctx, rec); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish record", slog.Time("timestamp", rec.Timestamp), slog.Any("error", err))
		}
	}
}
