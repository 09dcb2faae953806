package recommend

import (
	"fmt"
	"time"

	"github.com/raterudder/facilityenergy/pkg/types"
)

// window sums the hours [now+1h, now+1h+horizon) of a forecast.
type window struct {
	hours       int
	solarKWH    float64
	avgPriceUSD float64
	consumption float64
}

func sumWindow(now time.Time, forecast []types.Prediction, horizon int) window {
	from := now.Add(time.Hour)
	to := now.Add(time.Duration(horizon+1) * time.Hour)
	var w window
	for _, p := range forecast {
		if p.Timestamp.Before(from) || !p.Timestamp.Before(to) {
			continue
		}
		w.hours++
		w.solarKWH += p.Value(types.SeriesSolarAvailableForUse)
		w.avgPriceUSD += p.Value(types.SeriesElectricityPrice)
		w.consumption += p.Value(types.SeriesTotalEnergy)
	}
	if w.hours > 0 {
		w.avgPriceUSD /= float64(w.hours)
	}
	return w
}

// aggregateRules are the per-period multipliers of the daily and weekly
// cost rules.
type aggregateRules struct {
	label          string
	solarKWH       float64
	consumptionKWH float64
	solarShare     float64
	highPriceShare float64
	lowPriceShare  float64
	demandShare    float64
}

func (r Rules) aggregateRules(period types.Period) aggregateRules {
	if period == types.PeriodWeekly {
		return aggregateRules{
			label:          "this week",
			solarKWH:       r.SolarWeeklyKWH,
			consumptionKWH: r.ConsumptionWeeklyKWH,
			solarShare:     0.4,
			highPriceShare: 0.08,
			demandShare:    0.03,
		}
	}
	return aggregateRules{
		label:          "today",
		solarKWH:       r.SolarDailyKWH,
		consumptionKWH: r.ConsumptionDailyKWH,
		solarShare:     0.5,
		highPriceShare: 0.1,
		lowPriceShare:  0.05,
		demandShare:    0.05,
	}
}

func (r Rules) aggregate(s status, forecast []types.Prediction, goal types.Goal, period types.Period) []types.Recommendation {
	horizon := period.Horizon()
	if len(forecast) < horizon {
		return []types.Recommendation{{
			Type:   types.RecommendationWarning,
			Action: fmt.Sprintf("Insufficient forecast data for %s recommendations (requires at least %d hours).", period, horizon),
		}}
	}
	w := sumWindow(s.ts, forecast, horizon)
	if w.hours == 0 {
		return []types.Recommendation{{
			Type:   types.RecommendationInfo,
			Action: fmt.Sprintf("No relevant forecast data for the next %d hours for %s recommendations.", horizon, period),
		}}
	}
	ar := r.aggregateRules(period)

	switch goal {
	case types.GoalCostReduction:
		return r.aggregateCost(w, ar, period)
	case types.GoalCarbonFootprint:
		if w.solarKWH > ar.solarKWH {
			return []types.Recommendation{{
				Type:            types.RecommendationCarbonReduction,
				Action:          fmt.Sprintf("High solar availability expected %s (%.2f kWh). Maximize direct solar usage and prioritize battery charging from solar to reduce the carbon footprint.", ar.label, w.solarKWH),
				FinancialImpact: "Significantly lower carbon emissions. Supports green initiatives and potential compliance benefits.",
			}}
		}
		return []types.Recommendation{{
			Type:            types.RecommendationCarbonReduction,
			Action:          fmt.Sprintf("Monitor and optimize energy usage %s. Consider optimizing lighting and HVAC to minimize grid electricity consumption.", ar.label),
			FinancialImpact: "Contributes to carbon emissions reduction and long-term sustainability.",
		}}
	case types.GoalBatteryLongevity:
		action := "Plan daily battery usage to maintain charge levels between 20-80% as much as possible. Avoid frequent full charges or deep discharges."
		if period == types.PeriodWeekly {
			action = "Develop a weekly battery cycling strategy to ensure regular, moderate charge and discharge cycles. Avoid prolonged periods at very high or very low states of charge."
		}
		return []types.Recommendation{{
			Type:            types.RecommendationStrategicPlanning,
			Action:          action,
			FinancialImpact: "Extends overall battery lifespan, leading to long-term cost savings on replacements and maintenance.",
		}}
	}
	return nil
}

func (r Rules) aggregateCost(w window, ar aggregateRules, period types.Period) []types.Recommendation {
	var recs []types.Recommendation
	if w.solarKWH > ar.solarKWH {
		profit := w.solarKWH * w.avgPriceUSD * ar.solarShare
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationStrategicPlanning,
			Action:          fmt.Sprintf("Expect high solar generation %s (%.2f kWh). Plan to shift heavy energy usage to daylight hours to maximize solar self-consumption.", ar.label, w.solarKWH),
			FinancialImpact: "Significant cost savings and reduced grid reliance, leading to higher profit.",
			ProfitUSD:       round7(profit),
		})
	}
	switch {
	case w.avgPriceUSD > r.PriceHighUSD:
		profit := w.consumption * (w.avgPriceUSD - r.PriceLowUSD) * ar.highPriceShare
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationStrategicPlanning,
			Action:          fmt.Sprintf("Anticipate higher average electricity prices %s (%.2f USD/kWh). Prepare to utilize battery storage and minimize peak hour grid consumption.", ar.label, w.avgPriceUSD),
			FinancialImpact: "Reduces exposure to high electricity costs, leading to improved profit margins.",
			ProfitUSD:       round7(profit),
		})
	case period == types.PeriodDaily && w.avgPriceUSD < r.PriceLowUSD:
		cost := w.consumption * (r.PriceLowUSD - w.avgPriceUSD) * ar.lowPriceShare
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationStrategicPlanning,
			Action:          fmt.Sprintf("Expect lower average electricity prices %s (%.2f USD/kWh). Consider opportunistic grid charging of batteries if needed.", ar.label, w.avgPriceUSD),
			FinancialImpact: fmt.Sprintf("Cost-effective battery charging, contributing to future profit/savings (estimated cost: $%.2f).", cost),
			ProfitUSD:       round7(-cost),
		})
	}
	if w.consumption > ar.consumptionKWH {
		profit := w.consumption * w.avgPriceUSD * ar.demandShare
		recs = append(recs, types.Recommendation{
			Type:            types.RecommendationStrategicPlanning,
			Action:          fmt.Sprintf("Forecasted high energy consumption %s (%.2f kWh). Implement demand management strategies like optimized HVAC schedules and turning off non-essential equipment.", ar.label, w.consumption),
			FinancialImpact: "Overall reduction in energy costs, boosting profitability.",
			ProfitUSD:       round7(profit),
		})
	}
	return recs
}
