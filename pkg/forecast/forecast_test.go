package forecast

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raterudder/facilityenergy/pkg/battery"
	"github.com/raterudder/facilityenergy/pkg/history"
	"github.com/raterudder/facilityenergy/pkg/storage"
	"github.com/raterudder/facilityenergy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type modelFunc func(series string, f Features) (float64, bool)

func (m modelFunc) Predict(series string, f Features) (float64, bool) {
	return m(series, f)
}

func TestFeaturesAt(t *testing.T) {
	tests := []struct {
		ts   time.Time
		want Features
	}{
		{
			ts:   time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
			want: Features{DayOfYear: 1, Hour: 0, DayOfWeek: 0, Quarter: 1, Month: 1},
		},
		{
			ts:   time.Date(2024, 6, 20, 13, 0, 0, 0, time.UTC),
			want: Features{DayOfYear: 172, Hour: 13, DayOfWeek: 3, Quarter: 2, Month: 6},
		},
		{
			ts:   time.Date(2024, 12, 29, 23, 0, 0, 0, time.UTC),
			want: Features{DayOfYear: 364, Hour: 23, DayOfWeek: 6, Quarter: 4, Month: 12},
		},
	}
	for _, tt := range tests {
		t.Run(tt.ts.Format(time.RFC3339), func(t *testing.T) {
			assert.Equal(t, tt.want, FeaturesAt(tt.ts))
		})
	}
}

func TestNetworkForward(t *testing.T) {
	n := Network{Layers: []Layer{
		{Weights: [][]float64{{1, 0}, {-1, 0}}, Biases: []float64{0, 0}},
		{Weights: [][]float64{{1, 1}}, Biases: []float64{0.5}},
	}}
	require.NoError(t, n.validate(2))
	assert.InDelta(t, 2.5, n.Forward([]float64{2, 9})[0], 1e-12)
	// negative pre-activations are cut by ReLU
	assert.InDelta(t, 3.5, n.Forward([]float64{-3, 9})[0], 1e-12)

	assert.Error(t, n.validate(3))
	assert.Error(t, (&Network{}).validate(2))
	two := Network{Layers: []Layer{{Weights: [][]float64{{1}, {1}}, Biases: []float64{0, 0}}}}
	assert.Error(t, two.validate(1))
}

func hourModelFile(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(FileModel{Series: map[string]*SeriesModel{
		types.SeriesHVAC: {
			Network: Network{Layers: []Layer{
				{Weights: [][]float64{{0, 1, 0, 0, 0}}, Biases: []float64{0}},
			}},
			Normalization: Normalization{
				InputMean:  []float64{0, 0, 0, 0, 0},
				InputStd:   []float64{1, 1, 1, 1, 1},
				OutputMean: 10,
				OutputStd:  2,
			},
		},
	}})
	require.NoError(t, err)
	return raw
}

func TestFileModel(t *testing.T) {
	m, err := ParseFile(hourModelFile(t))
	require.NoError(t, err)

	v, ok := m.Predict(types.SeriesHVAC, Features{Hour: 5})
	require.True(t, ok)
	assert.InDelta(t, 20, v, 1e-12)

	_, ok = m.Predict(types.SeriesLighting, Features{Hour: 5})
	assert.False(t, ok)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, hourModelFile(t), 0o600))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Contains(t, loaded.Series, types.SeriesHVAC)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseFileInvalid(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     `{`,
		"no series":    `{"series":{}}`,
		"null series":  `{"series":{"HVAC_Energy(t)":null}}`,
		"wrong inputs": `{"series":{"HVAC_Energy(t)":{"network":{"layers":[{"weights":[[1,2]],"biases":[0]}]},"normalization":{"input_mean":[0,0,0,0,0],"input_std":[1,1,1,1,1]}}}}`,
		"bad norm":     `{"series":{"HVAC_Energy(t)":{"network":{"layers":[{"weights":[[1,2,3,4,5]],"biases":[0]}]},"normalization":{"input_mean":[0],"input_std":[1]}}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestProfileModel(t *testing.T) {
	assert.Nil(t, NewProfileModel(nil))

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := NewProfileModel([]types.HourlyRecord{
		{Timestamp: day.Add(3 * time.Hour), HVACKWH: 10, ElectricityPrice: 0.1},
		{Timestamp: day.Add(27 * time.Hour), HVACKWH: 20, ElectricityPrice: 0.2},
		{Timestamp: day.Add(10 * time.Hour), HVACKWH: 5},
	})
	require.NotNil(t, p)

	v, ok := p.Predict(types.SeriesHVAC, Features{Hour: 3})
	require.True(t, ok)
	assert.InDelta(t, 15, v, 1e-12)

	v, ok = p.Predict(types.SeriesElectricityPrice, Features{Hour: 3})
	require.True(t, ok)
	assert.InDelta(t, 0.15, v, 1e-12)

	_, ok = p.Predict(types.SeriesHVAC, Features{Hour: 4})
	assert.False(t, ok)
	_, ok = p.Predict("unknown", Features{Hour: 3})
	assert.False(t, ok)
}

func TestForecast(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 20, 13, 42, 0, 0, time.UTC)
	banks := &battery.Config{Banks: types.DefaultBanks(2)}

	t.Run("post-processing", func(t *testing.T) {
		m := modelFunc(func(series string, f Features) (float64, bool) {
			switch series {
			case types.SeriesElectricityPrice:
				return 0.05, true
			case types.SeriesLighting:
				return 0.5, true
			case types.SeriesHVAC:
				return 1.123456789, true
			case types.BankStoredSeries(1):
				return float64(f.Hour), true
			}
			return 0, false
		})
		f := New(m, nil, 0, banks)

		preds, err := f.Forecast(ctx, now, 3)
		require.NoError(t, err)
		require.Len(t, preds, 3)
		for i, p := range preds {
			assert.Equal(t, time.Date(2024, 6, 20, 13+i, 0, 0, 0, time.UTC), p.Timestamp)
			assert.Equal(t, 0.05, p.Value(types.SeriesElectricityPrice))
			assert.Equal(t, 0.0, p.Value(types.SeriesLighting))
			assert.Equal(t, 1.1234568, p.Value(types.SeriesHVAC))
			assert.Equal(t, float64(13+i), p.Value(types.BankStoredSeries(1)))
			assert.NotContains(t, p.Values, types.SeriesIT)
		}
	})

	t.Run("invalid horizon", func(t *testing.T) {
		f := New(modelFunc(func(string, Features) (float64, bool) { return 0, false }), nil, 0, banks)
		_, err := f.Forecast(ctx, now, 0)
		assert.Error(t, err)
	})

	t.Run("no history", func(t *testing.T) {
		f := New(nil, history.NewLoader(storage.NewMemory(), 2), DefaultHistoryWindow, banks)
		_, err := f.Forecast(ctx, now, 24)
		assert.ErrorIs(t, err, ErrNoModel)
	})

	t.Run("profile from history", func(t *testing.T) {
		db := storage.NewMemory()
		start := now.Add(-72 * time.Hour).Truncate(time.Hour)
		for h := 0; h < 72; h++ {
			ts := start.Add(time.Duration(h) * time.Hour)
			require.NoError(t, db.PutRecord(ctx, types.HourlyRecord{
				Timestamp:        ts,
				HVACKWH:          float64(100 + ts.Hour()),
				ElectricityPrice: 0.08,
				Banks:            []types.BankState{{EnergyStoredKWH: 250}, {EnergyStoredKWH: 300}},
			}))
		}
		f := New(nil, history.NewLoader(db, 2), DefaultHistoryWindow, banks)

		preds, err := f.Forecast(ctx, now, 24)
		require.NoError(t, err)
		require.Len(t, preds, 24)
		for _, p := range preds {
			assert.Equal(t, float64(100+p.Timestamp.Hour()), p.Value(types.SeriesHVAC))
			assert.InDelta(t, 0.08, p.Value(types.SeriesElectricityPrice), 1e-9)
			assert.Equal(t, 300.0, p.Value(types.BankStoredSeries(1)))
		}
	})
}
