package server

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/types"
)

type energyMix struct {
	HVACKWH          float64 `json:"hvac_energy_kwh"`
	RefrigerationKWH float64 `json:"refrigeration_energy_kwh"`
	LightingKWH      float64 `json:"lighting_energy_kwh"`
	ITKWH            float64 `json:"it_system_kwh"`
	OtherKWH         float64 `json:"other_system_kwh"`
}

func mixOf(rec types.HourlyRecord) energyMix {
	return energyMix{
		HVACKWH:          rec.HVACKWH,
		RefrigerationKWH: rec.RefrigerationKWH,
		LightingKWH:      rec.LightingKWH,
		ITKWH:            rec.ITKWH,
		OtherKWH:         rec.OtherKWH,
	}
}

type currentStatus struct {
	Timestamp time.Time      `json:"timestamp"`
	KPIs      map[string]any `json:"current_kpis"`
	EnergyMix energyMix      `json:"energy_mix"`
}

// bankKey names a per-bank field the way the dashboard expects, e.g.
// battery_1_energy_stored_kwh.
func bankKey(i int, field string) string {
	return fmt.Sprintf("battery_%d_%s", i+1, field)
}

func (s *Server) handleCurrentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.storage.GetLatestRecord(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest record", slog.Any("error", err))
		writeJSONError(w, "failed to get latest record", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		writeJSONError(w, "no data available", http.StatusNotFound)
		return
	}

	kpis := map[string]any{
		"total_consumption_kwh":            rec.TotalEnergyKWH,
		"solar_available_for_use_kwh":      rec.SolarAvailableForUseKWH,
		"solar_used_to_charge_battery_kwh": rec.SolarUsedToChargeBatteryKWH,
		"grid_import_kwh":                  math.Max(0, rec.BaseConsumptionLoadsKWH-rec.SolarAvailableForUseKWH),
		"electricity_price_usd_per_kwh":    rec.ElectricityPrice,
	}
	for i, b := range rec.Banks {
		kpis[bankKey(i, "charge_discharge_kwh")] = b.FlowKWH
		kpis[bankKey(i, "energy_stored_kwh")] = b.EnergyStoredKWH
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, http.StatusOK, currentStatus{
		Timestamp: rec.Timestamp,
		KPIs:      kpis,
		EnergyMix: mixOf(*rec),
	})
}
