// Package forecast predicts the facility's hourly series from calendar
// features, either with trained networks loaded from a model file or with an
// hour-of-day profile of recent history.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/battery"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/types"
)

// DefaultHistoryWindow is how much history the profile model averages over.
const DefaultHistoryWindow = 14 * 24 * time.Hour

// ErrNoModel is returned when there is neither a model file nor any history
// to build a profile from.
var ErrNoModel = errors.New("no forecast model available")

type rangeLoader interface {
	LoadRange(ctx context.Context, startDay, endDay time.Time) ([]types.HourlyRecord, error)
}

// Forecaster produces hourly predictions.
type Forecaster struct {
	model   Model
	history rangeLoader
	window  time.Duration
	banks   *battery.Config
}

// New returns a Forecaster. If model is nil, each forecast builds a profile
// from the last window of history.
func New(model Model, history rangeLoader, window time.Duration, banks *battery.Config) *Forecaster {
	return &Forecaster{
		model:   model,
		history: history,
		window:  window,
		banks:   banks,
	}
}

// Configured registers the forecast flags.
func Configured(history rangeLoader, banks *battery.Config) *Forecaster {
	modelFile := lflag.String("forecast-model-file", "", "Path to a JSON file of per-series forecast networks (empty uses a profile of recent history)")
	window := lflag.Duration("forecast-history", DefaultHistoryWindow, "Amount of history the profile forecast averages over")

	f := &Forecaster{history: history, banks: banks}
	lflag.Do(func() {
		f.window = *window
		if *modelFile == "" {
			return
		}
		m, err := LoadFile(*modelFile)
		if err != nil {
			panic(fmt.Sprintf("failed to load forecast model: %v", err))
		}
		f.model = m
	})
	return f
}

func (f *Forecaster) bankCount() int {
	if f.banks == nil || len(f.banks.Banks) == 0 {
		return types.DefaultBankCount
	}
	return len(f.banks.Banks)
}

func (f *Forecaster) resolveModel(ctx context.Context, now time.Time) (Model, error) {
	if f.model != nil {
		return f.model, nil
	}
	if f.history == nil {
		return nil, ErrNoModel
	}
	recs, err := f.history.LoadRange(ctx, now.Add(-f.window), now)
	if err != nil {
		return nil, fmt.Errorf("failed to load forecast history: %w", err)
	}
	p := NewProfileModel(recs)
	if p == nil {
		return nil, ErrNoModel
	}
	log.Ctx(ctx).DebugContext(ctx, "built profile forecast model", slog.Int("records", len(recs)))
	return p, nil
}

// Forecast returns horizon predictions starting at the hour containing now.
// Values below 1 are reported as 0, except for the electricity price, and all
// values are rounded to 7 decimals.
func (f *Forecaster) Forecast(ctx context.Context, now time.Time, horizon int) ([]types.Prediction, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("invalid forecast horizon: %d", horizon)
	}
	model, err := f.resolveModel(ctx, now)
	if err != nil {
		return nil, err
	}

	names := types.SeriesNames(f.bankCount())
	start := types.TruncateHour(now)
	preds := make([]types.Prediction, 0, horizon)
	for h := 0; h < horizon; h++ {
		ts := start.Add(time.Duration(h) * time.Hour)
		feat := FeaturesAt(ts)
		p := types.Prediction{Timestamp: ts, Values: make(map[string]float64, len(names))}
		for _, name := range names {
			v, ok := model.Predict(name, feat)
			if !ok {
				continue
			}
			p.Values[name] = clean(name, v)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func clean(series string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if series != types.SeriesElectricityPrice && v < 1 {
		return 0
	}
	return Round7(v)
}

// Round7 rounds v to 7 decimals.
func Round7(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}
