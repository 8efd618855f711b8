package classify

import (
	"context"
	"strconv"
	"sync"
)

// Static labels every series the same way. It suits well documented address
// spaces where one measurement type dominates.
type Static struct {
	Label Candidate
}

var _ Classifier = Static{}

// DefaultStaticLabel is the label of NewStatic when none is configured.
var DefaultStaticLabel = Candidate{Fragment: "Spannung L1-N", Confidence: 100, Unit: "V", Series: "L1-N"}

func NewStatic(label Candidate) Static {
	if label.Fragment == "" {
		return Static{Label: DefaultStaticLabel}
	}
	if label.Confidence == 0 {
		label.Confidence = 100
	}
	return Static{Label: label}
}

func (s Static) Classify(_ context.Context, values []float64) ([]Candidate, error) {
	if len(values) == 0 {
		return nil, ErrEmptySeries
	}
	return []Candidate{s.Label}, nil
}

// Stub returns three fixed candidates whose names and confidences depend on
// how many series it has seen. It stands in for a trained model in demos.
type Stub struct {
	mu    sync.Mutex
	calls int
}

var _ Classifier = (*Stub)(nil)

func (s *Stub) Classify(_ context.Context, values []float64) ([]Candidate, error) {
	if len(values) == 0 {
		return nil, ErrEmptySeries
	}
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	n := strconv.Itoa(i)
	return []Candidate{
		{Fragment: "Spannung" + n, Confidence: float64(87 + i), Unit: "V", Series: "L1-N"},
		{Fragment: "Temperatur" + n, Confidence: float64(11 + i), Unit: "C", Series: "Grad"},
		{Fragment: "Strom" + n, Confidence: float64(2 + i), Unit: "A", Series: "I1-N"},
	}, nil
}
