package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/facilityenergy/pkg/history"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/types"
)

const dateLayout = "2006-01-02"

type historicalData struct {
	QueryStartDate   string           `json:"query_start_date"`
	QueryEndDate     string           `json:"query_end_date"`
	AggregationLevel string           `json:"aggregation_level"`
	Data             []map[string]any `json:"data"`
}

// parseDateRange reads the inclusive start_date and end_date query params.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	startStr := q.Get("start_date")
	endStr := q.Get("end_date")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, errors.New("start_date and end_date are required")
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date, use YYYY-MM-DD: %w", err)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date, use YYYY-MM-DD: %w", err)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, errors.New("start_date cannot be after end_date")
	}
	return start, end, nil
}

func hourlyRow(rec types.HourlyRecord) map[string]any {
	row := map[string]any{"timestamp": rec.Timestamp}
	for k, v := range rec.Series() {
		row[k] = v
	}
	return row
}

func dailyRow(d types.DailySummary) map[string]any {
	row := map[string]any{"date": d.Date.Format(dateLayout)}
	row["Daily_HVAC_Energy_kWh"] = d.HVACKWH
	row["Daily_Refrigeration_Energy_kWh"] = d.RefrigerationKWH
	row["Daily_Lighting_Energy_kWh"] = d.LightingKWH
	row["Daily_IT_System_Energy_kWh"] = d.ITKWH
	row["Daily_Other_System_Energy_kWh"] = d.OtherKWH
	row["Daily_Solar_Available_for_Use_kWh"] = d.SolarAvailableForUseKWH
	row["Daily_Solar_Used_to_Charge_Battery_kWh"] = d.SolarUsedToChargeBatteryKWH
	for i, v := range d.AvgBankStoredKWH {
		row[fmt.Sprintf("Daily_Battery_%d_average_charge", i+1)] = v
	}
	row["Daily_Total_Energy_Usage_kWh"] = d.TotalEnergyKWH
	row["Daily_Avg_Electricity_Price_USD_per_kWh"] = d.AvgElectricityPrice
	return row
}

func (s *Server) handleHistoricalData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseDateRange(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	level := r.URL.Query().Get("aggregation_level")
	if level == "" {
		level = "daily"
	}
	if level != "hourly" && level != "daily" {
		writeJSONError(w, "aggregation_level must be 'hourly' or 'daily'", http.StatusBadRequest)
		return
	}

	recs, err := s.history.LoadRange(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load history", slog.Time("start", start), slog.Time("end", end), slog.Any("error", err))
		writeJSONError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if len(recs) == 0 {
		writeJSONError(w, "no data found for the requested range", http.StatusNotFound)
		return
	}

	resp := historicalData{
		QueryStartDate:   start.Format(dateLayout),
		QueryEndDate:     end.Format(dateLayout),
		AggregationLevel: level,
		Data:             []map[string]any{},
	}
	switch level {
	case "hourly":
		for _, rec := range recs {
			resp.Data = append(resp.Data, hourlyRow(rec))
		}
	case "daily":
		for _, d := range history.Aggregate(recs) {
			resp.Data = append(resp.Data, dailyRow(d))
		}
	}

	s.setCacheControl(w, end)
	writeJSON(w, http.StatusOK, resp)
}
