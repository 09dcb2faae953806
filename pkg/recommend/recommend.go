// Package recommend turns the current record and a forecast into advisory
// entries for a goal and period. It never acts on the facility.
package recommend

import (
	"fmt"
	"math"
	"time"

	"github.com/raterudder/facilityenergy/pkg/types"
)

// Rules are the thresholds the rule table compares against.
type Rules struct {
	Banks []types.BankParams

	PriceHighUSD float64
	PriceLowUSD  float64

	SolarHourlyKWH float64
	SolarDailyKWH  float64
	SolarWeeklyKWH float64

	ConsumptionHourlyKWH float64
	ConsumptionDailyKWH  float64
	ConsumptionWeeklyKWH float64

	HVACImpactPerDegreeKWH float64
	LightingLoadKWH        float64
}

// DefaultRules returns the standard thresholds for the given banks.
func DefaultRules(banks []types.BankParams) Rules {
	return Rules{
		Banks: banks,

		PriceHighUSD: 0.25,
		PriceLowUSD:  0.10,

		SolarHourlyKWH: 50,
		SolarDailyKWH:  200,
		SolarWeeklyKWH: 1000,

		ConsumptionHourlyKWH: 200,
		ConsumptionDailyKWH:  3000,
		ConsumptionWeeklyKWH: 15000,

		HVACImpactPerDegreeKWH: 10,
		LightingLoadKWH:        20,
	}
}

// Generate applies the default rules for as many default banks as current
// reports.
func Generate(current types.HourlyRecord, forecast []types.Prediction, goal types.Goal, period types.Period) []types.Recommendation {
	n := len(current.Banks)
	if n == 0 {
		n = types.DefaultBankCount
	}
	return DefaultRules(types.DefaultBanks(n)).Generate(current, forecast, goal, period)
}

func round7(v float64) float64 {
	return math.Round(v*1e7) / 1e7
}

func clock(t time.Time) string {
	return t.UTC().Format("15:04")
}

// status is the current record reduced to what the rules read.
type status struct {
	ts          time.Time
	consumption float64
	price       float64
	hvac        float64
	lighting    float64
	stored      []float64
}

func (r Rules) status(current types.HourlyRecord) status {
	s := status{
		ts:          current.Timestamp,
		consumption: current.TotalEnergyKWH,
		price:       current.ElectricityPrice,
		hvac:        current.HVACKWH,
		lighting:    current.LightingKWH,
		stored:      make([]float64, len(r.Banks)),
	}
	for i := range r.Banks {
		if i < len(current.Banks) {
			s.stored[i] = current.Banks[i].EnergyStoredKWH
		}
	}
	return s
}

func (r Rules) lowKWH(i int) float64  { return 0.2 * r.Banks[i].CapacityKWH }
func (r Rules) highKWH(i int) float64 { return 0.8 * r.Banks[i].CapacityKWH }

// Generate produces the recommendations for goal over period.
func (r Rules) Generate(current types.HourlyRecord, forecast []types.Prediction, goal types.Goal, period types.Period) []types.Recommendation {
	valid := make([]types.Prediction, 0, len(forecast))
	for _, p := range forecast {
		if !p.Timestamp.IsZero() {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return []types.Recommendation{{
			Type:   types.RecommendationInfo,
			Action: "No valid forecast data available for recommendations.",
		}}
	}

	s := r.status(current)
	var recs []types.Recommendation
	switch period {
	case types.PeriodHourly:
		recs = r.hourly(s, valid, goal)
	case types.PeriodDaily, types.PeriodWeekly:
		recs = r.aggregate(s, valid, goal, period)
	default:
		return []types.Recommendation{{
			Type:   types.RecommendationWarning,
			Action: fmt.Sprintf("Unsupported period '%s' for recommendations.", period),
		}}
	}

	if len(recs) == 0 {
		recs = append(recs, types.Recommendation{
			Type:   types.RecommendationInfo,
			Action: fmt.Sprintf("No specific recommendations generated for %s during %s period. System seems to be operating optimally or further data/rules are needed.", goal, period),
		})
	}
	return recs
}
