package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/facilityenergy/pkg/forecast"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/types"
)

const (
	forecastHours = 168

	// usefulSolarFactor scales available solar to what the site can actually
	// use once battery round-trip losses are accounted for (1/0.7).
	usefulSolarFactor = 1.43
)

type periodTotal struct {
	Date                string  `json:"date,omitempty"`
	WeekStartDate       string  `json:"week_start_date,omitempty"`
	WeekEndDate         string  `json:"week_end_date,omitempty"`
	BaseConsumptionKWH  float64 `json:"base_consumption_kwh"`
	TotalUsefulSolarKWH float64 `json:"total_useful_solar_kwh"`
}

type forecastResponse struct {
	NextHour map[string]any `json:"next_hour_forecast"`
	Today    periodTotal    `json:"today_total_forecast"`
	Week     periodTotal    `json:"week_total_forecast"`
}

// startOfWeek returns the Monday midnight of the week containing t.
func startOfWeek(t time.Time) time.Time {
	day := truncateDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

type totals struct {
	base  float64
	solar float64
}

func (t *totals) add(base, solar float64) {
	t.base += base
	t.solar += solar
}

func (t totals) period() periodTotal {
	return periodTotal{
		BaseConsumptionKWH:  forecast.Round7(t.base),
		TotalUsefulSolarKWH: forecast.Round7(t.solar * usefulSolarFactor),
	}
}

func nextHourRow(p types.Prediction) map[string]any {
	base := p.Value(types.SeriesBaseConsumptionLoads)
	solar := p.Value(types.SeriesSolarAvailableForUse)
	row := map[string]any{
		"timestamp":                     p.Timestamp,
		"base_consumption_kwh":          base,
		"solar_battery_for_use_kwh":     forecast.Round7(solar * usefulSolarFactor),
		"grid_import_kwh":               forecast.Round7(base - solar),
		"electricity_price_usd_per_kwh": p.Value(types.SeriesElectricityPrice),
		"hvac_energy_kwh":               p.Value(types.SeriesHVAC),
		"refrigeration_energy_kwh":      p.Value(types.SeriesRefrigeration),
		"lighting_energy_kwh":           p.Value(types.SeriesLighting),
		"it_system_kwh":                 p.Value(types.SeriesIT),
		"other_system_kwh":              p.Value(types.SeriesOther),
	}
	for i := 0; ; i++ {
		v, ok := p.Values[types.BankStoredSeries(i)]
		if !ok {
			break
		}
		row[bankKey(i, "energy_stored_kwh")] = v
	}
	return row
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := types.TruncateHour(s.now())
	dayStart := truncateDay(now)
	weekStart := startOfWeek(now)
	weekEnd := weekStart.AddDate(0, 0, 7)

	preds, err := s.forecaster.Forecast(ctx, now, forecastHours)
	if errors.Is(err, forecast.ErrNoModel) || (err == nil && len(preds) == 0) {
		writeJSONError(w, "forecast model not available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to forecast", slog.Any("error", err))
		writeJSONError(w, "failed to forecast", http.StatusInternalServerError)
		return
	}

	recs, err := s.history.LoadRange(ctx, weekStart, now)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load history", slog.Any("error", err))
		writeJSONError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if len(recs) == 0 {
		writeJSONError(w, "no historical data for the current week", http.StatusNotFound)
		return
	}

	var today, week totals
	for _, rec := range recs {
		if rec.Timestamp.Before(weekStart) || rec.Timestamp.After(now) {
			continue
		}
		week.add(rec.BaseConsumptionLoadsKWH, rec.SolarAvailableForUseKWH)
		if !rec.Timestamp.Before(dayStart) {
			today.add(rec.BaseConsumptionLoadsKWH, rec.SolarAvailableForUseKWH)
		}
	}

	var next *types.Prediction
	for i, p := range preds {
		if !p.Timestamp.After(now) || !p.Timestamp.Before(weekEnd) {
			continue
		}
		if next == nil && p.Timestamp.Equal(now.Add(time.Hour)) {
			next = &preds[i]
		}
		base := p.Value(types.SeriesBaseConsumptionLoads)
		solar := p.Value(types.SeriesSolarAvailableForUse)
		week.add(base, solar)
		if p.Timestamp.Before(dayStart.AddDate(0, 0, 1)) {
			today.add(base, solar)
		}
	}
	if next == nil {
		log.Ctx(ctx).ErrorContext(ctx, "forecast is missing the next hour", slog.Time("now", now))
		writeJSONError(w, "next hour forecast not available", http.StatusInternalServerError)
		return
	}

	resp := forecastResponse{
		NextHour: nextHourRow(*next),
		Today:    today.period(),
		Week:     week.period(),
	}
	resp.Today.Date = dayStart.Format(dateLayout)
	resp.Week.WeekStartDate = weekStart.Format(dateLayout)
	resp.Week.WeekEndDate = weekStart.AddDate(0, 0, 6).Format(dateLayout)

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, http.StatusOK, resp)
}
