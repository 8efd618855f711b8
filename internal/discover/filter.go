package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/metrics"
)

const (
	DefaultProbeDuration = 5 * time.Second
	DefaultProbeInterval = 250 * time.Millisecond
	DefaultMaxConcurrent = 500
)

// Verdict is the outcome of one liveness probe.
type Verdict int

const (
	Static Verdict = iota
	Dynamic
	Failed
)

func (v Verdict) String() string {
	switch v {
	case Dynamic:
		return "dynamic"
	case Failed:
		return "failed"
	}
	return "static"
}

// Filter keeps the candidates whose value changes within a probe window.
type Filter struct {
	src           addrspace.Source
	probeDuration time.Duration
	probeInterval time.Duration
	maxConcurrent int
	readTimeout   time.Duration
	log           *slog.Logger
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithProbe sets the probe window and the spacing of re-reads inside it.
func WithProbe(duration, interval time.Duration) FilterOption {
	return func(f *Filter) {
		f.probeDuration = duration
		f.probeInterval = interval
	}
}

// WithMaxConcurrent caps the number of probes in flight.
func WithMaxConcurrent(n int) FilterOption {
	return func(f *Filter) { f.maxConcurrent = n }
}

// WithProbeReadTimeout bounds every single probe read. A read that times
// out counts as failed and the node as static.
func WithProbeReadTimeout(d time.Duration) FilterOption {
	return func(f *Filter) { f.readTimeout = d }
}

// WithFilterLogger sets the logger.
func WithFilterLogger(l *slog.Logger) FilterOption {
	return func(f *Filter) { f.log = l }
}

// NewFilter returns a Filter reading src with the default timings.
func NewFilter(src addrspace.Source, opts ...FilterOption) *Filter {
	f := &Filter{
		src:           src,
		probeDuration: DefaultProbeDuration,
		probeInterval: DefaultProbeInterval,
		maxConcurrent: DefaultMaxConcurrent,
		log:           logging.New("liveness"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Rereads is the number of re-reads a probe makes at most.
func (f *Filter) Rereads() int {
	if f.probeInterval <= 0 {
		return 1
	}
	n := int(f.probeDuration / f.probeInterval)
	if n < 1 {
		n = 1
	}
	return n
}

// EstimatedWait is the worst-case duration of FilterDynamic for n candidates.
func (f *Filter) EstimatedWait(n int) time.Duration {
	if n == 0 {
		return 0
	}
	batches := (n + f.maxConcurrent - 1) / f.maxConcurrent
	return time.Duration(batches) * f.probeDuration
}

// FilterDynamic probes every candidate, at most maxConcurrent at a time, and
// returns the dynamic ones in candidate order. Probe failures make a node
// static; the only error is a cancelled ctx.
func (f *Filter) FilterDynamic(ctx context.Context, candidates []addrspace.NodeRef) ([]addrspace.NodeRef, error) {
	if f.maxConcurrent < 1 {
		return nil, fmt.Errorf("liveness filter: max concurrent probes must be positive, got %d", f.maxConcurrent)
	}

	f.log.Info("removing static leaves", slog.Int("candidates", len(candidates)),
		slog.Int("max_concurrent", f.maxConcurrent))
	if wait := f.EstimatedWait(len(candidates)); wait > 5*time.Second {
		f.log.Info("estimated waiting time", slog.Duration("wait", wait))
	}

	verdicts := make([]Verdict, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxConcurrent)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			metrics.ProbesInFlight.Inc()
			defer metrics.ProbesInFlight.Dec()
			v, err := f.Probe(gctx, c)
			if err != nil {
				return err
			}
			verdicts[i] = v
			metrics.ProbeResults.WithLabelValues(v.String()).Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("liveness filter: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("liveness filter: %w", err)
	}

	var dynamic []addrspace.NodeRef
	for i, v := range verdicts {
		if v == Dynamic {
			dynamic = append(dynamic, candidates[i])
		}
	}
	f.log.Info("final amount of leaves with dynamic value", slog.Int("dynamic", len(dynamic)))
	return dynamic, nil
}

// Probe decides whether one node is dynamic. The returned error is non-nil
// only when ctx ends during the probe.
func (f *Filter) Probe(ctx context.Context, n addrspace.NodeRef) (Verdict, error) {
	first := addrspace.ReadNumber(ctx, f.src, n, f.readTimeout)
	if !first.OK() {
		return f.failed(ctx, n, first.Err)
	}

	rereads := f.Rereads()
	var tick <-chan time.Time
	if rereads > 1 {
		ticker := time.NewTicker(f.probeInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for i := 0; i < rereads; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return Static, ctx.Err()
			case <-tick:
			}
		}
		cur := addrspace.ReadNumber(ctx, f.src, n, f.readTimeout)
		if !cur.OK() {
			return f.failed(ctx, n, cur.Err)
		}
		if cur.Value != first.Value {
			return Dynamic, nil
		}
	}
	return Static, nil
}

func (f *Filter) failed(ctx context.Context, n addrspace.NodeRef, err error) (Verdict, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Static, ctxErr
	}
	f.log.Debug("probe read failed, treating node as static", slog.String("node", n.ID), slog.Any("error", err))
	return Failed, nil
}

func isNotNumeric(err error) bool {
	return errors.Is(err, addrspace.ErrNotNumeric)
}
