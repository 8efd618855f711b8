// Package confirm asks an operator, or something standing in for one, to
// accept or override the classification of a time series.
package confirm

import (
	"context"
	"errors"
	"fmt"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/classify"
)

// ErrClosed is returned by a Surface the operator has closed. It ends a
// labeling session early without failing it.
var ErrClosed = errors.New("confirmation surface closed")

// Prompt is what the operator sees for one series.
type Prompt struct {
	Node       addrspace.NodeRef    `json:"node"`
	Path       []string             `json:"path,omitempty"`
	Values     []float64            `json:"values"`
	Candidates []classify.Candidate `json:"candidates"`
	// Remaining counts the series still to label, this one included.
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

// Decision is the operator's answer: a candidate index, or a free-text
// fragment name when Override is set. Auto is set when no operator was
// asked.
type Decision struct {
	Index    int    `json:"index"`
	Override string `json:"override,omitempty"`
	Auto     bool   `json:"auto,omitempty"`
}

// Select picks candidate i.
func Select(i int) Decision { return Decision{Index: i} }

// Accept takes the top candidate without asking anyone.
func Accept() Decision { return Decision{Index: 0, Auto: true} }

// Override replaces the candidates with a fragment name.
func Override(fragment string) Decision { return Decision{Index: -1, Override: fragment} }

func (d Decision) IsOverride() bool { return d.Override != "" }

func (d Decision) String() string {
	if d.IsOverride() {
		return fmt.Sprintf("override %q", d.Override)
	}
	return fmt.Sprintf("candidate %d", d.Index)
}

// Surface presents a prompt and blocks until a decision is made.
type Surface interface {
	Confirm(ctx context.Context, p Prompt) (Decision, error)
}

// Auto accepts the top candidate of every prompt.
type Auto struct{}

func (Auto) Confirm(ctx context.Context, p Prompt) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	return Accept(), nil
}

// Threshold accepts the top candidate when its confidence reaches Min and
// asks Fallback otherwise.
type Threshold struct {
	Min      float64
	Fallback Surface
}

func (t Threshold) Confirm(ctx context.Context, p Prompt) (Decision, error) {
	if len(p.Candidates) > 0 && p.Candidates[0].Confidence >= t.Min {
		return Accept(), nil
	}
	return t.Fallback.Confirm(ctx, p)
}
