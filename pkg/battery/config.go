package battery

import (
	"errors"
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/facilityenergy/pkg/types"
	"gopkg.in/yaml.v3"
)

// BanksFile is the on-disk (YAML) shape of the bank configuration.
type BanksFile struct {
	Banks []types.BankParams `yaml:"banks"`
}

// Config holds the bank parameters resolved from flags.
type Config struct {
	Banks []types.BankParams
}

// LoadBanks reads and validates a banks file.
func LoadBanks(path string) ([]types.BankParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read banks file: %w", err)
	}
	return ParseBanks(raw)
}

// ParseBanks decodes and validates YAML bank parameters. Fields left out of a
// bank entry take the default values.
func ParseBanks(raw []byte) ([]types.BankParams, error) {
	var f BanksFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse banks file: %w", err)
	}
	if len(f.Banks) == 0 {
		return nil, errors.New("banks file lists no banks")
	}
	defaults := types.DefaultBanks(len(f.Banks))
	for i := range f.Banks {
		b := &f.Banks[i]
		if b.Name == "" {
			b.Name = defaults[i].Name
		}
		if b.CapacityKWH == 0 {
			b.CapacityKWH = defaults[i].CapacityKWH
		}
		if b.MaxRateKWH == 0 {
			b.MaxRateKWH = defaults[i].MaxRateKWH
		}
		if b.ChargeEfficiency == 0 {
			b.ChargeEfficiency = defaults[i].ChargeEfficiency
		}
		if b.DischargeEfficiency == 0 {
			b.DischargeEfficiency = defaults[i].DischargeEfficiency
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("bank %d: %w", i, err)
		}
	}
	return f.Banks, nil
}

// Configured registers the bank flags. The returned Config is filled in once
// flags are parsed.
func Configured() *Config {
	banksFile := lflag.String("banks-file", "", "YAML file describing the battery banks (defaults to identical banks)")
	bankCount := types.DefaultBankCount
	lflag.JSON(&bankCount, "bank-count", bankCount, "Number of default banks when no banks-file is given")

	c := &Config{}
	lflag.Do(func() {
		if *banksFile != "" {
			banks, err := LoadBanks(*banksFile)
			if err != nil {
				panic(fmt.Sprintf("banks config invalid: %v", err))
			}
			c.Banks = banks
			return
		}
		if bankCount < 1 {
			panic(fmt.Sprintf("bank-count must be at least 1, got %d", bankCount))
		}
		c.Banks = types.DefaultBanks(bankCount)
	})
	return c
}
