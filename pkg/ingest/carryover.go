package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/storage"
	"github.com/raterudder/facilityenergy/pkg/types"
)

// DefaultCarryOverMaxAge is how far back a prior record may be and still seed
// the next hour.
const DefaultCarryOverMaxAge = 48 * time.Hour

// DefaultStored is the stored energy every bank starts with when no usable
// prior record exists.
func DefaultStored(banks []types.BankParams) []float64 {
	stored := make([]float64, len(banks))
	for i, b := range banks {
		stored[i] = b.CapacityKWH / 2
	}
	return stored
}

// storedFrom extracts the per-bank stored energy of prev, reporting false if
// prev can't seed banks.
func storedFrom(prev *types.HourlyRecord, banks []types.BankParams) ([]float64, bool) {
	if prev == nil || len(prev.Banks) < len(banks) {
		return nil, false
	}
	stored := make([]float64, len(banks))
	for i, b := range banks {
		v := prev.Banks[i].EnergyStoredKWH
		if math.IsNaN(v) || v < 0 || v > b.CapacityKWH {
			return nil, false
		}
		stored[i] = v
	}
	return stored, true
}

// CarryOver returns the stored energy each bank starts hour ts with. The latest
// stored record is used if it precedes ts by at most maxAge and carries a
// valid value for every bank; otherwise every bank starts at half capacity and
// ok is false. Only store failures are returned as errors.
func CarryOver(ctx context.Context, db storage.Database, banks []types.BankParams, ts time.Time, maxAge time.Duration) (stored []float64, ok bool, err error) {
	prev, err := db.GetLatestRecord(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get latest record: %w", err)
	}
	stored, ok = carryOverFrom(ctx, prev, banks, ts, maxAge)
	return stored, ok, nil
}

func carryOverFrom(ctx context.Context, prev *types.HourlyRecord, banks []types.BankParams, ts time.Time, maxAge time.Duration) ([]float64, bool) {
	if prev == nil {
		log.Ctx(ctx).InfoContext(ctx, "no prior record, using default bank state")
		return DefaultStored(banks), false
	}
	age := ts.Sub(prev.Timestamp)
	if age <= 0 || (maxAge > 0 && age > maxAge) {
		log.Ctx(ctx).WarnContext(
			ctx,
			"prior record outside carry-over window, using default bank state",
			slog.Time("prior", prev.Timestamp),
			slog.Duration("age", age),
		)
		return DefaultStored(banks), false
	}
	stored, ok := storedFrom(prev, banks)
	if !ok {
		log.Ctx(ctx).WarnContext(
			ctx,
			"prior record has unusable bank state, using default bank state",
			slog.Time("prior", prev.Timestamp),
			slog.Int("banks", len(prev.Banks)),
		)
		return DefaultStored(banks), false
	}
	return stored, true
}

// CarryOverBefore is like CarryOver but seeds from the last record strictly
// before ts instead of the latest one overall, so a backdated hour ignores
// records stored after it. Only records within maxAge of ts are read; zero
// maxAge reads everything before ts.
func CarryOverBefore(ctx context.Context, db storage.Database, banks []types.BankParams, ts time.Time, maxAge time.Duration) (stored []float64, ok bool, err error) {
	var from time.Time
	if maxAge > 0 {
		from = ts.Add(-maxAge)
	}
	recs, err := db.GetRecordRange(ctx, from, ts)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get records before %s: %w", ts.Format(time.RFC3339), err)
	}
	var prev *types.HourlyRecord
	if len(recs) > 0 {
		prev = &recs[len(recs)-1]
	}
	stored, ok = carryOverFrom(ctx, prev, banks, ts, maxAge)
	return stored, ok, nil
}
