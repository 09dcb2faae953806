package forecast

import (
	"time"
)

// Features are the calendar inputs every model predicts from.
type Features struct {
	DayOfYear int
	Hour      int
	// DayOfWeek counts from Monday = 0.
	DayOfWeek int
	Quarter   int
	Month     int
}

// FeaturesAt returns the calendar features of t in UTC.
func FeaturesAt(t time.Time) Features {
	t = t.UTC()
	return Features{
		DayOfYear: t.YearDay(),
		Hour:      t.Hour(),
		DayOfWeek: (int(t.Weekday()) + 6) % 7,
		Quarter:   (int(t.Month())-1)/3 + 1,
		Month:     int(t.Month()),
	}
}

// Vector returns the features in model input order.
func (f Features) Vector() []float64 {
	return []float64{
		float64(f.DayOfYear),
		float64(f.Hour),
		float64(f.DayOfWeek),
		float64(f.Quarter),
		float64(f.Month),
	}
}

// featureCount is the length of Vector.
const featureCount = 5
