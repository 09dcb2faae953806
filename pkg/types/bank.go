package types

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultBankCount               = 2
	DefaultBankCapacityKWH         = 500.0
	DefaultBankMaxRateKWH          = 150.0
	DefaultBankChargeEfficiency    = 0.95
	DefaultBankDischargeEfficiency = 0.95
)

// ErrInvalidBank is returned when bank parameters cannot describe a real bank.
var ErrInvalidBank = errors.New("invalid bank parameters")

// BankParams describes one battery bank.
type BankParams struct {
	Name                string  `json:"name" yaml:"name"`
	CapacityKWH         float64 `json:"capacityKWH" yaml:"capacity_kwh"`
	MaxRateKWH          float64 `json:"maxRateKWH" yaml:"max_rate_kwh"`
	ChargeEfficiency    float64 `json:"chargeEfficiency" yaml:"charge_efficiency"`
	DischargeEfficiency float64 `json:"dischargeEfficiency" yaml:"discharge_efficiency"`
}

// DefaultBanks returns n identical banks with the default parameters.
func DefaultBanks(n int) []BankParams {
	banks := make([]BankParams, n)
	for i := range banks {
		banks[i] = BankParams{
			Name:                fmt.Sprintf("battery_%d", i+1),
			CapacityKWH:         DefaultBankCapacityKWH,
			MaxRateKWH:          DefaultBankMaxRateKWH,
			ChargeEfficiency:    DefaultBankChargeEfficiency,
			DischargeEfficiency: DefaultBankDischargeEfficiency,
		}
	}
	return banks
}

// Validate reports whether the parameters are usable by the allocation engine.
func (b BankParams) Validate() error {
	switch {
	case !(b.CapacityKWH > 0) || math.IsInf(b.CapacityKWH, 0):
		return fmt.Errorf("%w: %s capacity must be positive, got %v", ErrInvalidBank, b.Name, b.CapacityKWH)
	case b.MaxRateKWH < 0 || math.IsNaN(b.MaxRateKWH) || math.IsInf(b.MaxRateKWH, 0):
		return fmt.Errorf("%w: %s max rate must be non-negative, got %v", ErrInvalidBank, b.Name, b.MaxRateKWH)
	case !(b.ChargeEfficiency > 0 && b.ChargeEfficiency <= 1):
		return fmt.Errorf("%w: %s charge efficiency must be in (0,1], got %v", ErrInvalidBank, b.Name, b.ChargeEfficiency)
	case !(b.DischargeEfficiency > 0 && b.DischargeEfficiency <= 1):
		return fmt.Errorf("%w: %s discharge efficiency must be in (0,1], got %v", ErrInvalidBank, b.Name, b.DischargeEfficiency)
	}
	return nil
}
