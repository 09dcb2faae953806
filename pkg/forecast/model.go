package forecast

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/raterudder/facilityenergy/pkg/types"
)

// Model predicts a single series for one hour.
type Model interface {
	// Predict returns the predicted value of series, or false if the model
	// doesn't cover it.
	Predict(series string, f Features) (float64, bool)
}

// Normalization holds z-score parameters for a series network.
type Normalization struct {
	InputMean  []float64 `json:"input_mean"`
	InputStd   []float64 `json:"input_std"`
	OutputMean float64   `json:"output_mean"`
	OutputStd  float64   `json:"output_std"`
}

// SeriesModel is the trained network of one series.
type SeriesModel struct {
	Network       Network       `json:"network"`
	Normalization Normalization `json:"normalization"`
}

func (m *SeriesModel) predict(f Features) float64 {
	x := f.Vector()
	for i := range x {
		std := m.Normalization.InputStd[i]
		if std == 0 {
			std = 1
		}
		x[i] = (x[i] - m.Normalization.InputMean[i]) / std
	}
	out := m.Network.Forward(x)[0]
	std := m.Normalization.OutputStd
	if std == 0 {
		std = 1
	}
	return out*std + m.Normalization.OutputMean
}

// FileModel is a set of per-series networks loaded from a model file.
type FileModel struct {
	Series map[string]*SeriesModel `json:"series"`
}

var _ Model = (*FileModel)(nil)

// ParseFile decodes and validates a model file.
func ParseFile(raw []byte) (*FileModel, error) {
	var m FileModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model file: %w", err)
	}
	if len(m.Series) == 0 {
		return nil, fmt.Errorf("model file has no series")
	}
	for name, sm := range m.Series {
		if sm == nil {
			return nil, fmt.Errorf("series %s: missing model", name)
		}
		if err := sm.Network.validate(featureCount); err != nil {
			return nil, fmt.Errorf("series %s: %w", name, err)
		}
		n := sm.Normalization
		if len(n.InputMean) != featureCount || len(n.InputStd) != featureCount {
			return nil, fmt.Errorf("series %s: input normalization must have %d entries", name, featureCount)
		}
	}
	return &m, nil
}

// LoadFile reads a model file from path.
func LoadFile(path string) (*FileModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return ParseFile(raw)
}

func (m *FileModel) Predict(series string, f Features) (float64, bool) {
	sm, ok := m.Series[series]
	if !ok {
		return 0, false
	}
	return sm.predict(f), true
}

// ProfileModel predicts each series as its mean at the same hour of day over
// a window of history.
type ProfileModel struct {
	means map[string][24]float64
	seen  map[string][24]bool
}

var _ Model = (*ProfileModel)(nil)

// NewProfileModel builds a profile from recs. It returns nil if recs is empty.
func NewProfileModel(recs []types.HourlyRecord) *ProfileModel {
	if len(recs) == 0 {
		return nil
	}
	sums := map[string]*[24]float64{}
	counts := map[string]*[24]int{}
	for _, r := range recs {
		h := r.Timestamp.UTC().Hour()
		for name, v := range r.Series() {
			if sums[name] == nil {
				sums[name] = &[24]float64{}
				counts[name] = &[24]int{}
			}
			sums[name][h] += v
			counts[name][h]++
		}
	}
	p := &ProfileModel{
		means: make(map[string][24]float64, len(sums)),
		seen:  make(map[string][24]bool, len(sums)),
	}
	for name, s := range sums {
		var means [24]float64
		var seen [24]bool
		for h := range s {
			if c := counts[name][h]; c > 0 {
				means[h] = s[h] / float64(c)
				seen[h] = true
			}
		}
		p.means[name] = means
		p.seen[name] = seen
	}
	return p
}

func (p *ProfileModel) Predict(series string, f Features) (float64, bool) {
	seen, ok := p.seen[series]
	if !ok || f.Hour < 0 || f.Hour > 23 || !seen[f.Hour] {
		return 0, false
	}
	return p.means[series][f.Hour], true
}
