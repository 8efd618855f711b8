// Package label turns sampled time series into confirmed measurement
// mappings, one series at a time.
package label

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/classify"
	"github.com/GeraldRistow/opcua-browser/internal/confirm"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/metrics"
	"github.com/GeraldRistow/opcua-browser/internal/sample"
)

// Placeholder fills the unit and series of an override until someone maps
// the free text to structured metadata.
const Placeholder = "Platzhalter"

// State is the labeling progress of one series.
type State string

const (
	StatePending              State = "pending"
	StateClassified           State = "classified"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateConfirmed            State = "confirmed"
)

// Source tells how a mapping was decided.
type Source string

const (
	SourceSelected Source = "selected"
	SourceAuto     Source = "auto"
	SourceOverride Source = "override"
)

// Mapping is the confirmed label of one node.
type Mapping struct {
	Node       addrspace.NodeRef `json:"node"`
	Path       []string          `json:"path,omitempty"`
	Fragment   string            `json:"fragment"`
	Unit       string            `json:"unit"`
	Series     string            `json:"series"`
	Source     Source            `json:"source"`
	Confidence float64           `json:"confidence"`
}

// NeedsReconciliation reports whether unit or series are still placeholders.
func (m Mapping) NeedsReconciliation() bool {
	return m.Unit == Placeholder || m.Series == Placeholder
}

// PathFunc resolves the browse path shown with a prompt.
type PathFunc func(ctx context.Context, n addrspace.NodeRef) ([]string, error)

// Orchestrator drives classification and confirmation over a queue of series.
type Orchestrator struct {
	classifier   classify.Classifier
	surface      confirm.Surface
	paths        PathFunc
	onTransition func(addrspace.NodeRef, State)
	log          *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPaths attaches browse paths to prompts and mappings.
func WithPaths(fn PathFunc) Option {
	return func(o *Orchestrator) { o.paths = fn }
}

// WithTransitionHook observes every state change.
func WithTransitionHook(fn func(addrspace.NodeRef, State)) Option {
	return func(o *Orchestrator) { o.onTransition = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New returns an Orchestrator that classifies with c and confirms through s.
func New(c classify.Classifier, s confirm.Surface, opts ...Option) *Orchestrator {
	o := &Orchestrator{classifier: c, surface: s, log: logging.New("label")}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run labels the queue in order. It returns one mapping per series, or the
// mappings confirmed so far when the surface is closed; fewer mappings than
// series therefore means the session ended early. Classifier failures,
// invalid decisions and other surface errors abort the run.
func (o *Orchestrator) Run(ctx context.Context, queue []sample.Series) ([]Mapping, error) {
	total := len(queue)
	out := make([]Mapping, 0, total)
	o.log.Info("labeling started", slog.Int("series", total))

	for i, s := range queue {
		o.transition(s.Node, StatePending)

		cands, err := o.classifier.Classify(ctx, s.Values)
		if err != nil {
			return out, fmt.Errorf("classify %s: %w", s.Node.ID, err)
		}
		if len(cands) == 0 {
			return out, fmt.Errorf("classify %s: %w", s.Node.ID, classify.ErrNoCandidates)
		}
		o.transition(s.Node, StateClassified)

		var path []string
		if o.paths != nil {
			if path, err = o.paths(ctx, s.Node); err != nil {
				o.log.Warn("browse path unavailable", slog.String("node", s.Node.ID), slog.Any("error", err))
				path = nil
			}
		}

		o.transition(s.Node, StateAwaitingConfirmation)
		d, err := o.surface.Confirm(ctx, confirm.Prompt{
			Node:       s.Node,
			Path:       path,
			Values:     s.Values,
			Candidates: cands,
			Remaining:  total - i,
			Total:      total,
		})
		if errors.Is(err, confirm.ErrClosed) {
			o.log.Info("confirmation surface closed, ending early",
				slog.Int("confirmed", len(out)), slog.Int("series", total))
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("confirm %s: %w", s.Node.ID, err)
		}

		m, err := o.mapping(s.Node, path, cands, d)
		if err != nil {
			return out, err
		}
		out = append(out, m)
		metrics.Mappings.WithLabelValues(string(m.Source)).Inc()
		o.transition(s.Node, StateConfirmed)
		o.log.Debug("mapping confirmed", slog.String("node", s.Node.ID),
			slog.String("fragment", m.Fragment), slog.String("source", string(m.Source)))
	}

	o.log.Info("labeling finished", slog.Int("mappings", len(out)))
	return out, nil
}

func (o *Orchestrator) mapping(n addrspace.NodeRef, path []string, cands []classify.Candidate, d confirm.Decision) (Mapping, error) {
	if d.IsOverride() {
		return Mapping{
			Node:     n,
			Path:     path,
			Fragment: d.Override,
			Unit:     Placeholder,
			Series:   Placeholder,
			Source:   SourceOverride,
		}, nil
	}
	if d.Index < 0 || d.Index >= len(cands) {
		return Mapping{}, fmt.Errorf("confirm %s: candidate %d out of range (have %d)", n.ID, d.Index, len(cands))
	}
	c := cands[d.Index]
	src := SourceSelected
	if d.Auto {
		src = SourceAuto
	}
	return Mapping{
		Node:       n,
		Path:       path,
		Fragment:   c.Fragment,
		Unit:       c.Unit,
		Series:     c.Series,
		Source:     src,
		Confidence: c.Confidence,
	}, nil
}

func (o *Orchestrator) transition(n addrspace.NodeRef, s State) {
	if o.onTransition != nil {
		o.onTransition(n, s)
	}
}
