// Package history reads ranges of hourly records and aggregates them by day.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/storage"
	"github.com/raterudder/facilityenergy/pkg/types"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds the number of concurrent day reads.
const DefaultWorkers = 10

// Loader reads day ranges from the store, one read per day.
type Loader struct {
	db      storage.Database
	workers int
}

// NewLoader returns a Loader with at most workers concurrent reads.
func NewLoader(db storage.Database, workers int) *Loader {
	if workers < 1 {
		workers = 1
	}
	return &Loader{db: db, workers: workers}
}

// Configured registers the history flags.
func Configured(db storage.Database) *Loader {
	workers := DefaultWorkers
	lflag.JSON(&workers, "history-workers", workers, "Maximum concurrent day reads when loading history")

	l := &Loader{db: db}
	lflag.Do(func() {
		if workers < 1 {
			panic(fmt.Sprintf("history-workers must be at least 1, got %d", workers))
		}
		l.workers = workers
	})
	return l
}

// truncateDay returns midnight UTC of t's day.
func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LoadRange returns every stored record from the start of startDay through the
// end of endDay, ascending. A failed day read is logged and contributes
// nothing; an error is returned only if every day failed.
func (l *Loader) LoadRange(ctx context.Context, startDay, endDay time.Time) ([]types.HourlyRecord, error) {
	startDay, endDay = truncateDay(startDay), truncateDay(endDay)
	if endDay.Before(startDay) {
		return nil, fmt.Errorf("start day %s is after end day %s", startDay.Format(time.DateOnly), endDay.Format(time.DateOnly))
	}

	var (
		mu       sync.Mutex
		recs     []types.HourlyRecord
		failed   int
		days     int
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		days++
		g.Go(func() error {
			dayRecs, err := l.db.GetRecordRange(gctx, day, day.AddDate(0, 0, 1))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to load day", slog.String("day", day.Format(time.DateOnly)), slog.Any("error", err))
				failed++
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			recs = append(recs, dayRecs...)
			return nil
		})
	}
	// workers never return errors so the group only tracks completion
	_ = g.Wait()

	if failed == days {
		return nil, fmt.Errorf("failed to load any of %d days: %w", days, firstErr)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
	return recs, nil
}

// Aggregate summarizes records per UTC day. Energies are summed; stored energy
// and price are averaged over the hours present.
func Aggregate(recs []types.HourlyRecord) []types.DailySummary {
	byDay := map[time.Time]*types.DailySummary{}
	var order []time.Time
	for _, r := range recs {
		day := truncateDay(r.Timestamp)
		s, ok := byDay[day]
		if !ok {
			s = &types.DailySummary{Date: day}
			byDay[day] = s
			order = append(order, day)
		}
		s.Hours++
		s.HVACKWH += r.HVACKWH
		s.RefrigerationKWH += r.RefrigerationKWH
		s.LightingKWH += r.LightingKWH
		s.ITKWH += r.ITKWH
		s.OtherKWH += r.OtherKWH
		s.SolarAvailableForUseKWH += r.SolarAvailableForUseKWH
		s.SolarUsedToChargeBatteryKWH += r.SolarUsedToChargeBatteryKWH
		s.TotalEnergyKWH += r.TotalEnergyKWH
		s.AvgElectricityPrice += r.ElectricityPrice
		for len(s.AvgBankStoredKWH) < len(r.Banks) {
			s.AvgBankStoredKWH = append(s.AvgBankStoredKWH, 0)
		}
		for i, b := range r.Banks {
			s.AvgBankStoredKWH[i] += b.EnergyStoredKWH
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]types.DailySummary, 0, len(order))
	for _, day := range order {
		s := byDay[day]
		n := float64(s.Hours)
		s.AvgElectricityPrice /= n
		for i := range s.AvgBankStoredKWH {
			s.AvgBankStoredKWH[i] /= n
		}
		out = append(out, *s)
	}
	return out
}
