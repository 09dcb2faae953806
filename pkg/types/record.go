package types

import (
	"fmt"
	"time"
)

const (
	CurrentHourlyRecordVersion = 1

	// FacilityIDDefault is used when no facility id is configured.
	FacilityIDDefault = "store1"
)

// Series names as they appear in exported rows, forecasts and the HTTP API.
const (
	SeriesHVAC                     = "HVAC_Energy(t)"
	SeriesRefrigeration            = "Refrigeration_Energy(t)"
	SeriesLighting                 = "Lighting_Energy(t)"
	SeriesIT                       = "IT_System(t)"
	SeriesOther                    = "Other_System(t)"
	SeriesBaseConsumptionLoads     = "Base_Consumption_Loads(t)"
	SeriesElectricityPrice         = "Electricity_Price(t)"
	SeriesTotalSolarGeneration     = "Total_Solar_Generation(t)"
	SeriesSolarAvailableForUse     = "Solar_Available_for_Use(t)"
	SeriesSolarDedicatedToBattery  = "Solar_Dedicated_to_Battery(t)"
	SeriesSolarUsedToChargeBattery = "Solar_Used_to_Charge_Battery(t)"
	SeriesTotalEnergy              = "Total_Energy(t)"
)

// BankStoredSeries returns the stored energy series name for the bank at index i.
func BankStoredSeries(i int) string {
	return fmt.Sprintf("Battery_%d_Energy_Stored(t)", i+1)
}

// BankFlowSeries returns the charge/discharge series name for the bank at index i.
func BankFlowSeries(i int) string {
	return fmt.Sprintf("Battery_%d_Charge_Discharge(t)", i+1)
}

// BankState is the per-bank outcome of one hour.
type BankState struct {
	// FlowKWH is positive while charging and negative while discharging.
	FlowKWH         float64 `json:"flowKWH"`
	EnergyStoredKWH float64 `json:"energyStoredKWH"`
}

// HourlyRecord is one row of facility telemetry. Records are keyed by their
// hour-aligned UTC Timestamp and are never rewritten once stored.
type HourlyRecord struct {
	Timestamp time.Time `json:"timestamp"`

	HVACKWH          float64 `json:"hvacKWH"`
	RefrigerationKWH float64 `json:"refrigerationKWH"`
	LightingKWH      float64 `json:"lightingKWH"`
	ITKWH            float64 `json:"itKWH"`
	OtherKWH         float64 `json:"otherKWH"`

	BaseConsumptionLoadsKWH float64 `json:"baseConsumptionLoadsKWH"`
	ElectricityPrice        float64 `json:"electricityPrice"`

	TotalSolarGenerationKWH     float64 `json:"totalSolarGenerationKWH"`
	SolarAvailableForUseKWH     float64 `json:"solarAvailableForUseKWH"`
	SolarDedicatedToBatteryKWH  float64 `json:"solarDedicatedToBatteryKWH"`
	SolarUsedToChargeBatteryKWH float64 `json:"solarUsedToChargeBatteryKWH"`

	// TotalEnergyKWH is base consumption plus battery-absorbed solar. It is not
	// net grid draw.
	TotalEnergyKWH float64 `json:"totalEnergyKWH"`

	Banks []BankState `json:"banks"`
}

// Series flattens the record's numeric fields keyed by series name.
func (r HourlyRecord) Series() map[string]float64 {
	m := map[string]float64{
		SeriesHVAC:                     r.HVACKWH,
		SeriesRefrigeration:            r.RefrigerationKWH,
		SeriesLighting:                 r.LightingKWH,
		SeriesIT:                       r.ITKWH,
		SeriesOther:                    r.OtherKWH,
		SeriesBaseConsumptionLoads:     r.BaseConsumptionLoadsKWH,
		SeriesElectricityPrice:         r.ElectricityPrice,
		SeriesTotalSolarGeneration:     r.TotalSolarGenerationKWH,
		SeriesSolarAvailableForUse:     r.SolarAvailableForUseKWH,
		SeriesSolarDedicatedToBattery:  r.SolarDedicatedToBatteryKWH,
		SeriesSolarUsedToChargeBattery: r.SolarUsedToChargeBatteryKWH,
		SeriesTotalEnergy:              r.TotalEnergyKWH,
	}
	for i, b := range r.Banks {
		m[BankFlowSeries(i)] = b.FlowKWH
		m[BankStoredSeries(i)] = b.EnergyStoredKWH
	}
	return m
}

// SeriesNames returns every series name a record with the given number of
// banks produces, in export column order.
func SeriesNames(banks int) []string {
	names := []string{
		SeriesHVAC,
		SeriesRefrigeration,
		SeriesLighting,
		SeriesIT,
		SeriesOther,
		SeriesBaseConsumptionLoads,
		SeriesElectricityPrice,
		SeriesTotalSolarGeneration,
		SeriesSolarAvailableForUse,
		SeriesSolarDedicatedToBattery,
	}
	for i := 0; i < banks; i++ {
		names = append(names, BankFlowSeries(i))
	}
	names = append(names, SeriesSolarUsedToChargeBattery)
	for i := 0; i < banks; i++ {
		names = append(names, BankStoredSeries(i))
	}
	return append(names, SeriesTotalEnergy)
}

// TruncateHour returns t in UTC truncated to the start of its hour.
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
