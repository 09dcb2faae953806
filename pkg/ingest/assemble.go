package ingest

import (
	"time"

	"github.com/raterudder/facilityenergy/pkg/battery"
	"github.com/raterudder/facilityenergy/pkg/generator"
	"github.com/raterudder/facilityenergy/pkg/types"
)

// Assemble composes one hour of generator and allocation outputs into a record.
func Assemble(ts time.Time, loads generator.Loads, price float64, solar generator.Solar, alloc battery.Result) types.HourlyRecord {
	base := loads.Base()
	rec := types.HourlyRecord{
		Timestamp: types.TruncateHour(ts),

		HVACKWH:          loads.HVAC,
		RefrigerationKWH: loads.Refrigeration,
		LightingKWH:      loads.Lighting,
		ITKWH:            loads.IT,
		OtherKWH:         loads.Other,

		BaseConsumptionLoadsKWH: base,
		ElectricityPrice:        price,

		TotalSolarGenerationKWH:     solar.Total,
		SolarAvailableForUseKWH:     solar.AvailableForUse,
		SolarDedicatedToBatteryKWH:  solar.DedicatedToBattery,
		SolarUsedToChargeBatteryKWH: alloc.SolarUsedToCharge,

		// kept compatible with previously exported series even though it
		// adds battery-absorbed solar to demand
		TotalEnergyKWH: base + alloc.SolarUsedToCharge,

		Banks: make([]types.BankState, len(alloc.Flows)),
	}
	for i := range alloc.Flows {
		rec.Banks[i] = types.BankState{
			FlowKWH:         alloc.Flows[i],
			EnergyStoredKWH: alloc.Stored[i],
		}
	}
	return rec
}
