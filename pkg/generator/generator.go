// Package generator synthesizes the hourly load, solar and price quantities of
// the facility. Every quantity is a deterministic seasonal and diurnal shape
// plus independent noise, clamped to its floor after the noise is added.
package generator

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// SolarDirectShare is the part of total solar routed straight to loads.
	SolarDirectShare = 0.7

	refrigerationSpikeKWH  = 50.0
	refrigerationSpikeProb = 0.02
	priceFloor             = 0.01
)

// Loads holds the five consumption categories of one hour.
type Loads struct {
	HVAC          float64
	Refrigeration float64
	Lighting      float64
	IT            float64
	Other         float64
}

// Base returns the sum of all categories.
func (l Loads) Base() float64 {
	return l.HVAC + l.Refrigeration + l.Lighting + l.IT + l.Other
}

// Solar is the split of one hour's solar generation.
type Solar struct {
	Total              float64
	AvailableForUse    float64
	DedicatedToBattery float64
}

// Generator draws hourly quantities from rng.
type Generator struct {
	rng *rand.Rand
}

// New returns a Generator using rng. A nil rng falls back to a randomly seeded
// source.
func New(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{rng: rng}
}

func (g *Generator) normal(stddev float64) float64 {
	return g.rng.NormFloat64() * stddev
}

func dayOfYear(t time.Time) float64 {
	return float64(t.YearDay())
}

// seasonal is the yearly phase shared by solar and price, peaking near the
// summer solstice.
func seasonal(d float64) float64 {
	return math.Sin(2 * math.Pi * (d - 172) / 365)
}

// HVAC draws HVAC load for t: a seasonal base peaking in late June plus a
// daytime swing between 07:00 and 22:00.
func (g *Generator) HVAC(t time.Time) float64 {
	h := float64(t.Hour())
	daily := 0.0
	if h >= 7 && h <= 22 {
		daily = 75 * math.Sin(2*math.Pi*(h-8)/24)
	}
	v := 150 + 50*math.Sin(2*math.Pi*(dayOfYear(t)-80)/365) + daily + g.normal(10)
	return max(0, v)
}

// Refrigeration draws a near constant refrigeration load for t with an
// occasional compressor spike.
func (g *Generator) Refrigeration(t time.Time) float64 {
	h := float64(t.Hour())
	spike := 0.0
	if g.rng.Float64() < refrigerationSpikeProb {
		spike = refrigerationSpikeKWH
	}
	v := 200 + 10*math.Sin(2*math.Pi*(h-10)/24) + spike + g.normal(5)
	return max(0, v)
}

// Lighting draws lighting load for t. Lights are off outside 07:00 to 22:00
// apart from noise.
func (g *Generator) Lighting(t time.Time) float64 {
	h := float64(t.Hour())
	v := 0.0
	if h >= 7 && h <= 22 {
		v = 100 - 20*math.Sin(math.Pi*(h-7)/15)
	}
	v = max(0, v)
	return max(0, v+g.normal(2))
}

// IT draws IT system load for t, peaking mid afternoon.
func (g *Generator) IT(t time.Time) float64 {
	h := float64(t.Hour())
	return max(0, 80+30*math.Sin(2*math.Pi*(h-9)/24)+g.normal(5))
}

// Other draws the remaining load for t.
func (g *Generator) Other(t time.Time) float64 {
	h := float64(t.Hour())
	return max(0, 50+20*math.Sin(2*math.Pi*(h-12)/24)+g.normal(7))
}

// Loads draws all five consumption categories for t.
func (g *Generator) Loads(t time.Time) Loads {
	return Loads{
		HVAC:          g.HVAC(t),
		Refrigeration: g.Refrigeration(t),
		Lighting:      g.Lighting(t),
		IT:            g.IT(t),
		Other:         g.Other(t),
	}
}

// TotalSolar draws total solar generation for t. The cloud factor is drawn
// once per call.
func (g *Generator) TotalSolar(t time.Time) float64 {
	h := float64(t.Hour())
	daily := 0.0
	if h >= 6 && h <= 18 {
		daily = 300 * math.Sin(math.Pi*(h-6)/12)
	}
	cloud := 0.3 + 0.7*g.rng.Float64()
	return max(0, (daily+100*seasonal(dayOfYear(t)))*cloud)
}

// Solar draws total solar for t and splits it.
func (g *Generator) Solar(t time.Time) Solar {
	return SplitSolar(g.TotalSolar(t))
}

// SplitSolar divides total generation into direct-use and battery-dedicated
// portions.
func SplitSolar(total float64) Solar {
	return Solar{
		Total:              total,
		AvailableForUse:    total * SolarDirectShare,
		DedicatedToBattery: total * (1 - SolarDirectShare),
	}
}

// touAdder is the time-of-use component of the price.
func touAdder(h int) float64 {
	switch {
	case h >= 14 && h <= 20:
		return 0.08
	case h <= 6:
		return -0.03
	}
	return 0
}

// Price draws the electricity price in USD/kWh for t.
func (g *Generator) Price(t time.Time) float64 {
	v := 0.10 + touAdder(t.Hour()) + 0.02*seasonal(dayOfYear(t)) + g.normal(0.005)
	return max(priceFloor, v)
}
