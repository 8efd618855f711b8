package classify

import (
	"context"
	"math"
)

// Profile describes the plausible values of one measurement type.
type Profile struct {
	Fragment string  `json:"fragment" yaml:"fragment" toml:"fragment"`
	Unit     string  `json:"unit" yaml:"unit" toml:"unit"`
	Series   string  `json:"series" yaml:"series" toml:"series"`
	Min      float64 `json:"min" yaml:"min" toml:"min"`
	Max      float64 `json:"max" yaml:"max" toml:"max"`
	Nominal  float64 `json:"nominal" yaml:"nominal" toml:"nominal"`
	// MaxRelStdDev is the largest plausible stddev/|mean|; 0 means any.
	MaxRelStdDev float64 `json:"max_rel_stddev,omitempty" yaml:"max_rel_stddev,omitempty" toml:"max_rel_stddev,omitempty"`
}

// DefaultProfiles covers the usual electrical and climate quantities of a
// building automation server.
var DefaultProfiles = []Profile{
	{Fragment: "Spannung L1-N", Unit: "V", Series: "L1-N", Min: 180, Max: 260, Nominal: 230, MaxRelStdDev: 0.1},
	{Fragment: "Spannung L1-L2", Unit: "V", Series: "L1-L2", Min: 340, Max: 440, Nominal: 400, MaxRelStdDev: 0.1},
	{Fragment: "Strom", Unit: "A", Series: "I1-N", Min: 0, Max: 100, Nominal: 10},
	{Fragment: "Temperatur", Unit: "C", Series: "Grad", Min: -30, Max: 120, Nominal: 21, MaxRelStdDev: 0.5},
	{Fragment: "Wirkleistung", Unit: "W", Series: "P", Min: 100, Max: 1e6, Nominal: 5000},
	{Fragment: "Frequenz", Unit: "Hz", Series: "f", Min: 45, Max: 65, Nominal: 50, MaxRelStdDev: 0.01},
	{Fragment: "Feuchte", Unit: "%", Series: "rH", Min: 0, Max: 100, Nominal: 45, MaxRelStdDev: 0.5},
	{Fragment: "Druck", Unit: "bar", Series: "p", Min: 0, Max: 16, Nominal: 2},
}

// Heuristic scores a series against value-range profiles.
type Heuristic struct {
	Profiles []Profile
	TopK     int
}

var _ Classifier = (*Heuristic)(nil)

// NewHeuristic uses DefaultProfiles when profiles is empty.
func NewHeuristic(profiles []Profile, topK int) *Heuristic {
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Heuristic{Profiles: profiles, TopK: topK}
}

func (h *Heuristic) Classify(ctx context.Context, values []float64) ([]Candidate, error) {
	if len(values) == 0 {
		return nil, ErrEmptySeries
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := Describe(values)

	scores := make([]float64, len(h.Profiles))
	for i, p := range h.Profiles {
		scores[i] = score(p, values, st)
	}
	conf := softmax(scores)

	cands := make([]Candidate, len(h.Profiles))
	for i, p := range h.Profiles {
		cands[i] = Candidate{Fragment: p.Fragment, Confidence: conf[i], Unit: p.Unit, Series: p.Series}
	}
	return Rank(cands, h.TopK), nil
}

func score(p Profile, values []float64, st Stats) float64 {
	in := 0
	for _, v := range values {
		if v >= p.Min && v <= p.Max {
			in++
		}
	}
	inRange := float64(in) / float64(len(values))

	scale := math.Abs(p.Nominal)
	if scale == 0 {
		scale = (p.Max - p.Min) / 2
	}
	closeness := 0.0
	if scale > 0 {
		closeness = 1 / (1 + math.Abs(st.Mean-p.Nominal)/scale)
	}

	s := 6*inRange + 3*closeness
	if p.MaxRelStdDev > 0 && st.Mean != 0 {
		if rel := st.StdDev / math.Abs(st.Mean); rel > p.MaxRelStdDev {
			s -= 2 * math.Min(rel/p.MaxRelStdDev, 3)
		}
	}
	return s
}
