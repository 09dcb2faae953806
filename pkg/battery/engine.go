// Package battery allocates one hour of battery-dedicated solar across the
// configured banks and discharges banks to cover unmet load.
package battery

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/raterudder/facilityenergy/pkg/types"
)

const (
	// DefaultJitterKWH is the standard deviation of the noise applied to
	// every charge and discharge flow.
	DefaultJitterKWH = 0.5

	slowFactorMin = 0.1
	slowFactorMax = 0.3
)

// ErrInvalidInput is returned when Allocate is called with inputs that cannot
// come from the generators.
var ErrInvalidInput = errors.New("invalid allocation input")

// Input is everything one hour of allocation depends on.
type Input struct {
	SolarDedicatedToBattery float64
	SolarAvailableForUse    float64
	BaseConsumptionLoads    float64
	// Stored is the energy in each bank at the start of the hour.
	Stored []float64
}

// Result is the outcome of one hour.
type Result struct {
	// Flows is positive for charging banks and negative for discharging banks.
	Flows             []float64
	Stored            []float64
	SolarUsedToCharge float64
	Discharged        bool
}

// Engine is the hourly allocation state machine. It holds no state between
// hours; the caller passes the prior stored energy in each call.
type Engine struct {
	banks []types.BankParams
	rng   *rand.Rand

	// JitterKWH is the flow noise standard deviation. Zero disables noise.
	JitterKWH float64
}

// NewEngine validates banks and returns an Engine drawing noise from rng. A nil
// rng falls back to a randomly seeded source.
func NewEngine(banks []types.BankParams, rng *rand.Rand) (*Engine, error) {
	if len(banks) == 0 {
		return nil, fmt.Errorf("%w: no banks configured", types.ErrInvalidBank)
	}
	for i, b := range banks {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("bank %d: %w", i, err)
		}
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{
		banks:     append([]types.BankParams(nil), banks...),
		rng:       rng,
		JitterKWH: DefaultJitterKWH,
	}, nil
}

// Banks returns a copy of the bank parameters.
func (e *Engine) Banks() []types.BankParams {
	return append([]types.BankParams(nil), e.banks...)
}

func (e *Engine) jitter() float64 {
	if e.JitterKWH == 0 {
		return 0
	}
	return e.rng.NormFloat64() * e.JitterKWH
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func validQuantity(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

func (e *Engine) validate(in Input) error {
	if len(in.Stored) != len(e.banks) {
		return fmt.Errorf("%w: got stored energy for %d banks, have %d", ErrInvalidInput, len(in.Stored), len(e.banks))
	}
	if !validQuantity(in.SolarDedicatedToBattery) || !validQuantity(in.SolarAvailableForUse) || !validQuantity(in.BaseConsumptionLoads) {
		return fmt.Errorf("%w: energy quantities must be finite and non-negative", ErrInvalidInput)
	}
	for i, s := range in.Stored {
		if !validQuantity(s) {
			return fmt.Errorf("%w: bank %d stored energy %v", ErrInvalidInput, i, s)
		}
	}
	return nil
}

// Allocate runs one hour: charge from dedicated solar, then discharge to cover
// the deficit when no direct solar is available, then clamp stored energy to
// capacity.
func (e *Engine) Allocate(in Input) (Result, error) {
	if err := e.validate(in); err != nil {
		return Result{}, err
	}

	n := len(e.banks)
	res := Result{
		Flows:  make([]float64, n),
		Stored: make([]float64, n),
	}
	delta := make([]float64, n)
	charged := e.charge(in, res.Flows, delta)
	for i := range charged {
		if charged[i] {
			res.SolarUsedToCharge += res.Flows[i]
		}
	}
	res.Discharged = e.discharge(in, charged, res.Flows, delta)

	for i, b := range e.banks {
		res.Stored[i] = clamp(in.Stored[i]+delta[i], 0, b.CapacityKWH)
	}
	return res, nil
}

// charge splits the solar budget equally across every bank with headroom.
func (e *Engine) charge(in Input, flows, delta []float64) []bool {
	n := len(e.banks)
	possible := make([]float64, n)
	var total float64
	var k int
	for i, b := range e.banks {
		if in.Stored[i] < b.CapacityKWH {
			possible[i] = math.Min(b.MaxRateKWH, (b.CapacityKWH-in.Stored[i])/b.ChargeEfficiency)
		}
		if possible[i] > 0 {
			total += possible[i]
			k++
		}
	}

	charged := make([]bool, n)
	budget := math.Min(in.SolarDedicatedToBattery, total)
	if budget <= 0 || k == 0 {
		return charged
	}
	share := budget / float64(k)
	for i, b := range e.banks {
		if possible[i] <= 0 {
			continue
		}
		target := math.Min(share, possible[i])
		flow := clamp(target+e.jitter(), 0, target)
		if flow <= 0 {
			continue
		}
		flows[i] = flow
		delta[i] = flow * b.ChargeEfficiency
		charged[i] = true
	}
	return charged
}

// discharge covers the deficit greedily in bank order. Any direct solar at all
// suppresses discharging for the hour.
func (e *Engine) discharge(in Input, charged []bool, flows, delta []float64) bool {
	deficit := in.BaseConsumptionLoads - in.SolarAvailableForUse
	if deficit <= 0 || in.SolarAvailableForUse != 0 {
		return false
	}

	slow := slowFactorMin + (slowFactorMax-slowFactorMin)*e.rng.Float64()
	var discharged bool
	for i, b := range e.banks {
		if deficit <= 0 {
			break
		}
		if charged[i] || in.Stored[i] <= 0 {
			continue
		}
		limit := math.Min(deficit, math.Min(b.MaxRateKWH*slow, in.Stored[i]*b.DischargeEfficiency))
		magnitude := clamp(limit+e.jitter(), 0, deficit)
		if magnitude <= 0 {
			continue
		}
		flows[i] -= magnitude
		delta[i] -= magnitude / b.DischargeEfficiency
		deficit -= magnitude
		discharged = true
	}
	return discharged
}
