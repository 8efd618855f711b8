// Package classify proposes measurement labels for a time series.
package classify

import (
	"context"
	"errors"
	"math"
	"sort"
)

// DefaultTopK is how many candidates a classifier returns.
const DefaultTopK = 3

// Candidate is one proposed label. Confidence is a percentage.
type Candidate struct {
	Fragment   string  `json:"fragment"`
	Confidence float64 `json:"confidence"`
	Unit       string  `json:"unit"`
	Series     string  `json:"series"`
}

// Classifier ranks candidate labels for a series, best first. A successful
// call returns at least one candidate.
type Classifier interface {
	Classify(ctx context.Context, values []float64) ([]Candidate, error)
}

var (
	ErrEmptySeries  = errors.New("empty series")
	ErrNoCandidates = errors.New("classifier returned no candidates")
)

// Rank sorts by confidence descending, keeping the input order among equal
// confidences, and truncates to k when k > 0.
func Rank(cands []Candidate, k int) []Candidate {
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Stats summarizes a series.
type Stats struct {
	N      int     `json:"n"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	// MaxStep is the largest absolute difference of consecutive samples.
	MaxStep float64 `json:"max_step"`
}

// Describe computes Stats over the finite samples; NaN and infinities are
// skipped and not counted in N. The zero Stats is returned when no finite
// sample remains.
func Describe(values []float64) Stats {
	var st Stats
	sum, prev := 0.0, 0.0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if st.N == 0 {
			st.Min, st.Max = v, v
		} else {
			st.MaxStep = math.Max(st.MaxStep, math.Abs(v-prev))
		}
		st.N++
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		prev = v
	}
	if st.N == 0 {
		return Stats{}
	}
	st.Mean = sum / float64(st.N)
	sq := 0.0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sq += (v - st.Mean) * (v - st.Mean)
	}
	st.StdDev = math.Sqrt(sq / float64(st.N))
	return st
}

// softmax turns scores into percentages rounded to one decimal.
func softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	hi := scores[0]
	for _, s := range scores[1:] {
		hi = math.Max(hi, s)
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] = math.Round(out[i]/sum*1000) / 10
	}
	return out
}
