package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/facilityenergy/pkg/battery"
	"github.com/raterudder/facilityenergy/pkg/generator"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/storage"
	"github.com/raterudder/facilityenergy/pkg/storage/storagemock"
	"github.com/raterudder/facilityenergy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type recordingSink struct {
	mu   sync.Mutex
	recs []types.HourlyRecord
	err  error
}

func (s *recordingSink) Publish(ctx context.Context, rec types.HourlyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return s.err
}

func newTestIngestor(t *testing.T, db storage.Database, seed uint64) *Ingestor {
	t.Helper()
	rng := NewRand(seed)
	engine, err := battery.NewEngine(types.DefaultBanks(2), rng)
	require.NoError(t, err)
	return New(db, generator.New(rng), engine)
}

func TestAssemble(t *testing.T) {
	ts := time.Date(2024, 7, 1, 13, 25, 0, 0, time.UTC)
	loads := generator.Loads{HVAC: 200, Refrigeration: 210, Lighting: 90, IT: 100, Other: 50}
	solar := generator.SplitSolar(300)
	alloc := battery.Result{
		Flows:             []float64{45, 44},
		Stored:            []float64{292.75, 291.8},
		SolarUsedToCharge: 89,
	}

	rec := Assemble(ts, loads, 0.19, solar, alloc)
	assert.Equal(t, time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, 650.0, rec.BaseConsumptionLoadsKWH)
	assert.Equal(t, 0.19, rec.ElectricityPrice)
	assert.Equal(t, 300.0, rec.TotalSolarGenerationKWH)
	assert.InDelta(t, 210, rec.SolarAvailableForUseKWH, 1e-9)
	assert.InDelta(t, 90, rec.SolarDedicatedToBatteryKWH, 1e-9)
	assert.Equal(t, 89.0, rec.SolarUsedToChargeBatteryKWH)
	assert.Equal(t, 739.0, rec.TotalEnergyKWH)
	assert.Equal(t, []types.BankState{
		{FlowKWH: 45, EnergyStoredKWH: 292.75},
		{FlowKWH: 44, EnergyStoredKWH: 291.8},
	}, rec.Banks)
}

func TestCarryOver(t *testing.T) {
	ctx := context.Background()
	banks := types.DefaultBanks(2)
	ts := time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		prev   *types.HourlyRecord
		want   []float64
		wantOK bool
	}{
		{
			name: "no prior record",
			want: []float64{250, 250},
		},
		{
			name: "previous hour",
			prev: &types.HourlyRecord{
				Timestamp: ts.Add(-time.Hour),
				Banks:     []types.BankState{{EnergyStoredKWH: 12}, {EnergyStoredKWH: 480}},
			},
			want:   []float64{12, 480},
			wantOK: true,
		},
		{
			name: "within window",
			prev: &types.HourlyRecord{
				Timestamp: ts.Add(-48 * time.Hour),
				Banks:     []types.BankState{{EnergyStoredKWH: 1}, {EnergyStoredKWH: 2}},
			},
			want:   []float64{1, 2},
			wantOK: true,
		},
		{
			name: "too old",
			prev: &types.HourlyRecord{
				Timestamp: ts.Add(-49 * time.Hour),
				Banks:     []types.BankState{{EnergyStoredKWH: 1}, {EnergyStoredKWH: 2}},
			},
			want: []float64{250, 250},
		},
		{
			name: "not before hour",
			prev: &types.HourlyRecord{
				Timestamp: ts,
				Banks:     []types.BankState{{EnergyStoredKWH: 1}, {EnergyStoredKWH: 2}},
			},
			want: []float64{250, 250},
		},
		{
			name: "missing banks",
			prev: &types.HourlyRecord{
				Timestamp: ts.Add(-time.Hour),
				Banks:     []types.BankState{{EnergyStoredKWH: 100}},
			},
			want: []float64{250, 250},
		},
		{
			name: "malformed value",
			prev: &types.HourlyRecord{
				Timestamp: ts.Add(-time.Hour),
				Banks:     []types.BankState{{EnergyStoredKWH: 100}, {EnergyStoredKWH: math.NaN()}},
			},
			want: []float64{250, 250},
		},
		{
			name: "above capacity",
			prev: &types.HourlyRecord{
				Timestamp: ts.Add(-time.Hour),
				Banks:     []types.BankState{{EnergyStoredKWH: 100}, {EnergyStoredKWH: 501}},
			},
			want: []float64{250, 250},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &storagemock.MockDatabase{}
			db.On("GetLatestRecord", mock.Anything).Return(tt.prev, nil)

			got, ok, err := CarryOver(ctx, db, banks, ts, DefaultCarryOverMaxAge)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
			db.AssertExpectations(t)
		})
	}

	t.Run("store failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetLatestRecord", mock.Anything).Return(nil, errors.New("unavailable"))
		_, _, err := CarryOver(ctx, db, banks, ts, DefaultCarryOverMaxAge)
		assert.Error(t, err)
	})
}

func TestCarryOverBefore(t *testing.T) {
	ctx := context.Background()
	banks := types.DefaultBanks(2)
	ts := time.Date(2024, 1, 10, 4, 0, 0, 0, time.UTC)

	db := storage.NewMemory()
	require.NoError(t, db.PutRecord(ctx, types.HourlyRecord{
		Timestamp: ts.Add(-time.Hour),
		Banks:     []types.BankState{{EnergyStoredKWH: 480}, {EnergyStoredKWH: 470}},
	}))
	require.NoError(t, db.PutRecord(ctx, types.HourlyRecord{
		Timestamp: ts.Add(4 * time.Hour),
		Banks:     []types.BankState{{EnergyStoredKWH: 100}, {EnergyStoredKWH: 100}},
	}))

	got, ok, err := CarryOverBefore(ctx, db, banks, ts, DefaultCarryOverMaxAge)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{480, 470}, got)

	// nothing before the earlier record
	got, ok, err = CarryOverBefore(ctx, db, banks, ts.Add(-time.Hour), DefaultCarryOverMaxAge)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []float64{250, 250}, got)

	// the earlier record is outside a one hour window
	got, ok, err = CarryOverBefore(ctx, db, banks, ts.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []float64{250, 250}, got)

	// zero max age reads back to the first record
	got, ok, err = CarryOverBefore(ctx, db, banks, ts.Add(72*time.Hour), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{100, 100}, got)

	t.Run("store failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetRecordRange", mock.Anything, ts.Add(-DefaultCarryOverMaxAge), ts).Return(nil, errors.New("unavailable"))
		_, _, err := CarryOverBefore(ctx, db, banks, ts, DefaultCarryOverMaxAge)
		assert.Error(t, err)
		db.AssertExpectations(t)
	})
}

func TestRunFirstHourUsesDefault(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemory()
	ing := newTestIngestor(t, db, 11)
	sink := &recordingSink{}
	ing.AddSink(sink)

	// midnight in winter: no solar, so banks can only discharge from 250
	now := time.Date(2024, 1, 10, 0, 30, 0, 0, time.UTC)
	rec, err := ing.Run(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, 0.0, rec.SolarAvailableForUseKWH)
	require.Len(t, rec.Banks, 2)
	assert.Less(t, rec.Banks[0].FlowKWH, 0.0)
	assert.InDelta(t, 250+rec.Banks[0].FlowKWH/0.95, rec.Banks[0].EnergyStoredKWH, 1e-9)
	assert.InDelta(t, rec.BaseConsumptionLoadsKWH+rec.SolarUsedToChargeBatteryKWH, rec.TotalEnergyKWH, 1e-9)

	stored, err := db.GetLatestRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.Timestamp, stored.Timestamp)
	assert.Len(t, sink.recs, 1)

	_, err = ing.Run(ctx, now.Add(10*time.Minute))
	assert.ErrorIs(t, err, storage.ErrRecordExists)
	assert.Len(t, sink.recs, 1)
}

func TestRunChainsPriorState(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemory()
	prevTS := time.Date(2024, 6, 20, 11, 0, 0, 0, time.UTC)
	require.NoError(t, db.PutRecord(ctx, types.HourlyRecord{
		Timestamp: prevTS,
		Banks:     []types.BankState{{EnergyStoredKWH: 100}, {EnergyStoredKWH: 500}},
	}))

	ing := newTestIngestor(t, db, 12)
	ing.engine.JitterKWH = 0
	rec, err := ing.Run(ctx, prevTS.Add(time.Hour))
	require.NoError(t, err)

	// noon on the solstice always has solar, so bank 0 charges and the full
	// bank 1 is left alone
	assert.Greater(t, rec.SolarAvailableForUseKWH, 0.0)
	assert.Greater(t, rec.Banks[0].FlowKWH, 0.0)
	assert.InDelta(t, 100+rec.Banks[0].FlowKWH*0.95, rec.Banks[0].EnergyStoredKWH, 1e-9)
	assert.Equal(t, 0.0, rec.Banks[1].FlowKWH)
	assert.Equal(t, 500.0, rec.Banks[1].EnergyStoredKWH)
	assert.InDelta(t, rec.Banks[0].FlowKWH, rec.SolarUsedToChargeBatteryKWH, 1e-9)
}

func TestRunStoreFailures(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 3, 3, 0, 0, 0, time.UTC)

	t.Run("latest", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetLatestRecord", mock.Anything).Return(nil, errors.New("down"))
		_, err := newTestIngestor(t, db, 1).Run(ctx, now)
		assert.Error(t, err)
		db.AssertNotCalled(t, "PutRecord", mock.Anything, mock.Anything)
	})

	t.Run("put", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetLatestRecord", mock.Anything).Return(nil, nil)
		db.On("PutRecord", mock.Anything, mock.MatchedBy(func(rec types.HourlyRecord) bool {
			return rec.Timestamp.Equal(now)
		})).Return(errors.New("down"))
		sink := &recordingSink{}
		ing := newTestIngestor(t, db, 1)
		ing.AddSink(sink)
		_, err := ing.Run(ctx, now)
		assert.Error(t, err)
		assert.Empty(t, sink.recs)
		db.AssertExpectations(t)
	})
}

func TestRunSinkFailureIgnored(t *testing.T) {
	ing := newTestIngestor(t, storage.NewMemory(), 2)
	ing.AddSink(&recordingSink{err: errors.New("broker down")})
	_, err := ing.Run(context.Background(), time.Date(2024, 3, 3, 3, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
}

func TestBackfill(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemory()
	ing := newTestIngestor(t, db, 21)
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	// an hour in the middle already exists and must be kept
	existing := types.HourlyRecord{
		Timestamp: start.Add(5 * time.Hour),
		Banks:     []types.BankState{{EnergyStoredKWH: 10}, {EnergyStoredKWH: 20}},
	}
	require.NoError(t, db.PutRecord(ctx, existing))
	ing.SetCarryOverMaxAge(0)

	recs, err := ing.Backfill(ctx, start, 48)
	require.NoError(t, err)
	require.Len(t, recs, 48)

	stored, err := db.GetRecordRange(ctx, start, start.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 48)
	assert.Equal(t, 10.0, stored[5].Banks[0].EnergyStoredKWH)

	banks := ing.Banks()
	prev := []float64{250, 250}
	for h, rec := range recs {
		assert.True(t, rec.Timestamp.Equal(start.Add(time.Duration(h)*time.Hour)))
		for i, b := range rec.Banks {
			assert.GreaterOrEqual(t, b.EnergyStoredKWH, 0.0)
			assert.LessOrEqual(t, b.EnergyStoredKWH, banks[i].CapacityKWH)
			if h != 5 && b.FlowKWH > 0 && prev[i]+b.FlowKWH*0.95 <= banks[i].CapacityKWH {
				assert.InDelta(t, prev[i]+b.FlowKWH*0.95, b.EnergyStoredKWH, 1e-9)
			}
			if b.FlowKWH < 0 {
				assert.Equal(t, 0.0, rec.SolarAvailableForUseKWH)
			}
		}
		// hour 6 continues from the stored hour 5
		prev = []float64{rec.Banks[0].EnergyStoredKWH, rec.Banks[1].EnergyStoredKWH}
		assert.LessOrEqual(t, rec.SolarUsedToChargeBatteryKWH, rec.SolarDedicatedToBatteryKWH+1e-9)
	}
}

func TestSimulate(t *testing.T) {
	ing := newTestIngestor(t, storage.NewMemory(), 31)
	recs, err := ing.Simulate(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), 24*7, nil)
	require.NoError(t, err)
	require.Len(t, recs, 24*7)

	_, err = ing.Simulate(time.Now(), 1, []float64{1})
	assert.ErrorIs(t, err, battery.ErrInvalidInput)
}

func TestBackfillIntoGap(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemory()
	ing := newTestIngestor(t, db, 23)
	ing.engine.JitterKWH = 0

	// 04:00 to 07:00 is missing between two stored hours
	night := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)
	require.NoError(t, db.PutRecord(ctx, types.HourlyRecord{
		Timestamp: night,
		Banks:     []types.BankState{{EnergyStoredKWH: 480}, {EnergyStoredKWH: 480}},
	}))
	require.NoError(t, db.PutRecord(ctx, types.HourlyRecord{
		Timestamp: night.Add(5 * time.Hour),
		Banks:     []types.BankState{{EnergyStoredKWH: 100}, {EnergyStoredKWH: 100}},
	}))

	recs, err := ing.Backfill(ctx, night.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, 0.0, rec.SolarAvailableForUseKWH)
	require.Len(t, rec.Banks, 2)
	assert.Less(t, rec.Banks[0].FlowKWH, 0.0)
	for _, b := range rec.Banks {
		switch {
		case b.FlowKWH < 0:
			assert.InDelta(t, 480+b.FlowKWH/0.95, b.EnergyStoredKWH, 1e-9)
		default:
			assert.Equal(t, 480.0, b.EnergyStoredKWH)
		}
	}
}
