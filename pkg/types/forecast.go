package types

import (
	"fmt"
	"time"
)

// Prediction is the forecast for a single hour, keyed by series name.
type Prediction struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Value returns the predicted value of a series, or 0 if it wasn't predicted.
func (p Prediction) Value(series string) float64 {
	return p.Values[series]
}

// DailySummary aggregates a day of hourly records.
type DailySummary struct {
	Date                        time.Time `json:"date"`
	Hours                       int       `json:"hours"`
	HVACKWH                     float64   `json:"hvacKWH"`
	RefrigerationKWH            float64   `json:"refrigerationKWH"`
	LightingKWH                 float64   `json:"lightingKWH"`
	ITKWH                       float64   `json:"itKWH"`
	OtherKWH                    float64   `json:"otherKWH"`
	SolarAvailableForUseKWH     float64   `json:"solarAvailableForUseKWH"`
	SolarUsedToChargeBatteryKWH float64   `json:"solarUsedToChargeBatteryKWH"`
	TotalEnergyKWH              float64   `json:"totalEnergyKWH"`
	// AvgBankStoredKWH is the mean stored energy per bank over the day.
	AvgBankStoredKWH    []float64 `json:"avgBankStoredKWH"`
	AvgElectricityPrice float64   `json:"avgElectricityPrice"`
}

// Goal is what a set of recommendations optimizes for.
type Goal string

const (
	GoalCostReduction    Goal = "cost_reduction"
	GoalCarbonFootprint  Goal = "carbon_footprint"
	GoalBatteryLongevity Goal = "battery_longevity"
)

// ParseGoal validates s as a Goal.
func ParseGoal(s string) (Goal, error) {
	switch g := Goal(s); g {
	case GoalCostReduction, GoalCarbonFootprint, GoalBatteryLongevity:
		return g, nil
	}
	return "", fmt.Errorf("unsupported optimization goal: %q", s)
}

// Period is the horizon a set of recommendations covers.
type Period string

const (
	PeriodHourly Period = "hourly"
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

// ParsePeriod validates s as a Period.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodHourly, PeriodDaily, PeriodWeekly:
		return p, nil
	}
	return "", fmt.Errorf("unsupported period: %q", s)
}

// Horizon is the number of forecast hours a period needs.
func (p Period) Horizon() int {
	if p == PeriodWeekly {
		return 168
	}
	return 24
}

// RecommendationType categorizes an advisory entry.
type RecommendationType string

const (
	RecommendationBatteryManagement     RecommendationType = "Battery Management"
	RecommendationDeviceControl         RecommendationType = "Device Control"
	RecommendationLoadShifting          RecommendationType = "Load Shifting"
	RecommendationOperationalEfficiency RecommendationType = "Operational Efficiency"
	RecommendationCarbonReduction       RecommendationType = "Carbon Reduction"
	RecommendationStrategicPlanning     RecommendationType = "Strategic Planning"
	RecommendationWarning               RecommendationType = "Warning"
	RecommendationInfo                  RecommendationType = "Info"
)

// Recommendation is one advisory entry.
type Recommendation struct {
	Type            RecommendationType `json:"type"`
	Action          string             `json:"action"`
	FinancialImpact string             `json:"financialImpact,omitempty"`
	ProfitUSD       float64            `json:"profitUSD"`
}
