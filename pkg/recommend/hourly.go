package recommend

import (
	"fmt"
	"math"
	"time"

	"github.com/raterudder/facilityenergy/pkg/types"
)

// extremes picks the future hours the hourly rules act on. Ties keep the
// earliest hour.
type extremes struct {
	maxSolar, minPrice, maxPrice          time.Time
	maxSolarKWH, minPriceUSD, maxPriceUSD float64
	ok                                    bool
}

func findExtremes(now time.Time, forecast []types.Prediction) extremes {
	e := extremes{minPriceUSD: math.Inf(1), maxPriceUSD: math.Inf(-1)}
	for _, p := range forecast {
		if !p.Timestamp.After(now) {
			continue
		}
		if !e.ok {
			e.ok = true
			e.maxSolar, e.minPrice, e.maxPrice = p.Timestamp, p.Timestamp, p.Timestamp
			e.maxSolarKWH = p.Value(types.SeriesSolarAvailableForUse)
		} else if v := p.Value(types.SeriesSolarAvailableForUse); v > e.maxSolarKWH {
			e.maxSolar, e.maxSolarKWH = p.Timestamp, v
		}
		price, ok := p.Values[types.SeriesElectricityPrice]
		if !ok {
			continue
		}
		if price < e.minPriceUSD {
			e.minPrice, e.minPriceUSD = p.Timestamp, price
		}
		if price > e.maxPriceUSD {
			e.maxPrice, e.maxPriceUSD = p.Timestamp, price
		}
	}
	return e
}

func (r Rules) anyStored(s status, cmp func(i int, stored float64) bool) bool {
	for i, v := range s.stored {
		if cmp(i, v) {
			return true
		}
	}
	return false
}

// headroom is the energy needed to fill every bank.
func (r Rules) headroom(s status) float64 {
	var sum float64
	for i, v := range s.stored {
		sum += math.Max(0, r.Banks[i].CapacityKWH-v)
	}
	return sum
}

func (r Rules) hourly(s status, forecast []types.Prediction, goal types.Goal) []types.Recommendation {
	e := findExtremes(s.ts, forecast)
	switch goal {
	case types.GoalCostReduction:
		return r.hourlyCost(s, e)
	case types.GoalCarbonFootprint:
		return r.hourlyCarbon(s, e)
	case types.GoalBatteryLongevity:
		return r.hourlyLongevity(s)
	}
	return nil
}

func (r Rules) hourlyCost(s status, e extremes) []types.Recommendation {
	var recs []types.Recommendation
	hvacSignificant := s.hvac > 0.1*s.consumption
	lightingSignificant := s.lighting > 0.1*s.consumption

	belowHigh := r.anyStored(s, func(i int, v float64) bool { return v < r.highKWH(i) })
	if e.ok && e.maxSolarKWH > r.SolarHourlyKWH && belowHigh {
		potential := r.headroom(s)
		profit := math.Min(potential, e.maxSolarKWH) * s.price
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationBatteryManagement,
			Action:          fmt.Sprintf("Prioritize charging batteries (up to %.2f kWh total) using solar power around %s UTC. Predicted Solar: %.2f kWh.", potential, clock(e.maxSolar), e.maxSolarKWH),
			FinancialImpact: fmt.Sprintf("Estimated profit/savings: $%.2f by reducing grid reliance during peak solar.", profit),
			ProfitUSD:       round7(profit),
		})
	}

	aboveLow := r.anyStored(s, func(i int, v float64) bool { return v > r.lowKWH(i) })
	if e.ok && e.maxPriceUSD > r.PriceHighUSD && aboveLow {
		var potential float64
		for i, v := range s.stored {
			potential += math.Max(0, v-r.lowKWH(i))
		}
		profit := potential * e.maxPriceUSD
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationBatteryManagement,
			Action:          fmt.Sprintf("Discharge batteries (up to %.2f kWh total) and use stored energy around %s UTC to avoid high grid prices (%.2f USD/kWh).", potential, clock(e.maxPrice), e.maxPriceUSD),
			FinancialImpact: fmt.Sprintf("Estimated profit/savings: $%.2f by avoiding peak price hours.", profit),
			ProfitUSD:       round7(profit),
		})
		if hvacSignificant && s.price > r.PriceHighUSD {
			profit := r.HVACImpactPerDegreeKWH * 2 * e.maxPriceUSD
			recs = append(recs, types.Recommendation{
				Type:            types.RecommendationDeviceControl,
				Action:          fmt.Sprintf("Adjust HVAC setpoint by +2 degrees at %s UTC to reduce energy consumption during high price periods.", clock(e.maxPrice)),
				FinancialImpact: fmt.Sprintf("Estimated profit/savings: $%.2f.", profit),
				ProfitUSD:       round7(profit),
			})
		}
		if lightingSignificant && s.price > r.PriceHighUSD {
			profit := r.LightingLoadKWH * e.maxPriceUSD
			recs = append(recs, types.Recommendation{
				Type:            types.RecommendationDeviceControl,
				Action:          fmt.Sprintf("Turn off non-critical lighting from %s UTC for the next hour to reduce demand.", clock(s.ts)),
				FinancialImpact: fmt.Sprintf("Estimated profit/savings: $%.2f.", profit),
				ProfitUSD:       round7(profit),
			})
		}
	}

	belowFull := r.anyStored(s, func(i int, v float64) bool { return v < r.Banks[i].CapacityKWH })
	if e.ok && e.minPriceUSD < r.PriceLowUSD && belowFull && e.minPrice.After(s.ts.Add(time.Hour)) {
		potential := r.headroom(s)
		cost := potential * e.minPriceUSD
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationBatteryManagement,
			Action:          fmt.Sprintf("Consider charging batteries (up to %.2f kWh total) from the grid around %s UTC when electricity prices are lowest (%.2f USD/kWh).", potential, clock(e.minPrice), e.minPriceUSD),
			FinancialImpact: fmt.Sprintf("Estimated cost for charge: $%.2f. Optimizes battery charging cost, prepares for higher price periods.", cost),
			ProfitUSD:       round7(-cost),
		})
		if hvacSignificant && s.price > e.minPriceUSD {
			profit := r.HVACImpactPerDegreeKWH * 2 * (s.price - e.minPriceUSD)
			recs = append(recs, types.Recommendation{
				Type:            types.RecommendationDeviceControl,
				Action:          fmt.Sprintf("Adjust HVAC setpoint by -2 degrees at %s UTC to pre-cool or pre-heat using cheaper energy.", clock(e.minPrice)),
				FinancialImpact: fmt.Sprintf("Estimated profit/savings: $%.2f by leveraging low price for HVAC.", profit),
				ProfitUSD:       round7(profit),
			})
		}
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationLoadShifting,
			Action:          fmt.Sprintf("Shift non-essential high-power loads to the forecasted low-price period around %s UTC.", clock(e.minPrice)),
			FinancialImpact: "Utilize cheaper energy for cost reduction and potential future profit.",
		})
	}

	if s.consumption > r.ConsumptionHourlyKWH {
		profit := s.consumption * s.price * 0.1
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationOperationalEfficiency,
			Action:          "Current energy consumption is high. Review active loads and consider temporarily reducing non-essential equipment, especially HVAC settings.",
			FinancialImpact: "Immediate reduction in electricity usage and costs, leading to profit/savings.",
			ProfitUSD:       round7(profit),
		})
	}
	return recs
}

func (r Rules) hourlyCarbon(s status, e extremes) []types.Recommendation {
	if !e.ok || e.maxSolarKWH <= r.SolarHourlyKWH {
		return []types.Recommendation{{
			Type:            types.RecommendationCarbonReduction,
			Action:          "Maintain optimal energy usage. If possible, consider shifting large loads to periods with higher forecasted solar generation to reduce carbon footprint.",
			FinancialImpact: "Contributes to overall carbon emissions reduction and long-term sustainability goals.",
		}}
	}
	recs := []types.Recommendation{{
		Type:            types.RecommendationCarbonReduction,
		Action:          fmt.Sprintf("Maximize use of solar energy around %s UTC. Charge batteries or run high loads to reduce reliance on potentially carbon-intensive grid power.", clock(e.maxSolar)),
		FinancialImpact: "Lower carbon emissions by utilizing clean solar energy.",
	}}
	if s.hvac > 0.1*s.consumption {
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationDeviceControl,
			Action:          fmt.Sprintf("Adjust HVAC setpoint by -1 degree at %s UTC to utilize abundant solar energy for cooling or heating.", clock(e.maxSolar)),
			FinancialImpact: "Reduces carbon footprint by leveraging clean energy for HVAC.",
		})
	}
	if s.lighting > 0.1*s.consumption {
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationDeviceControl,
			Action:          fmt.Sprintf("Ensure non-critical lighting is turned off from %s UTC, or consider dimming, to maximize solar self-consumption.", clock(s.ts)),
			FinancialImpact: "Reduces carbon footprint by minimizing non-essential grid consumption.",
		})
	}
	return recs
}

func (r Rules) hourlyLongevity(s status) []types.Recommendation {
	if len(s.stored) == 0 {
		return nil
	}
	var avg, avgLow, avgHigh float64
	for i, v := range s.stored {
		avg += v
		avgLow += r.lowKWH(i)
		avgHigh += r.highKWH(i)
	}
	n := float64(len(s.stored))
	avg, avgLow, avgHigh = avg/n, avgLow/n, avgHigh/n

	switch {
	case avg < avgLow:
		var needed float64
		for i, v := range s.stored {
			needed += r.lowKWH(i) - v
		}
		return []types.Recommendation{{
			Type:            types.RecommendationBatteryManagement,
			Action:          fmt.Sprintf("Battery levels are low (%.2f kWh average). Consider moderate charging (e.g., target %.2f kWh total) to extend battery lifespan by avoiding deep discharge cycles.", avg, needed),
			FinancialImpact: "Increased battery lifespan and reliability, leading to long-term cost savings on replacements.",
		}}
	case avg > avgHigh:
		var excess float64
		for i, v := range s.stored {
			excess += v - r.highKWH(i)
		}
		return []types.Recommendation{{
			Type:            types.RecommendationBatteryManagement,
			Action:          fmt.Sprintf("Battery levels are high (%.2f kWh average). If not discharging during peak price, consider moderate discharge (e.g., target %.2f kWh total) or pause charging to avoid overcharging.", avg, excess),
			FinancialImpact: "Increased battery lifespan by avoiding overcharge stress, leading to long-term cost savings on replacements.",
		}}
	}
	return []types.Recommendation{{
		Type:            types.RecommendationBatteryManagement,
		Action:          "Battery levels are optimal for longevity. Maintain current charging/discharging patterns.",
		FinancialImpact: "Ensures maximum battery lifespan and efficiency, leading to sustained operational profit.",
	}}
}
