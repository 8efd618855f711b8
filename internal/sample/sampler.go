// Package sample collects fixed-length time series from many nodes at once.
package sample

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/metrics"
)

const (
	DefaultWindowLen = 60
	DefaultInterval  = time.Second
)

// Series is the complete sampling window of one node. Values[0] is the
// earliest sample.
type Series struct {
	Node     addrspace.NodeRef `json:"node"`
	Values   []float64         `json:"values"`
	Start    time.Time         `json:"start"`
	Interval time.Duration     `json:"interval"`
}

// NodeError is the read failure that removed one node from a window.
type NodeError struct {
	Node addrspace.NodeRef
	Tick int
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("sample %s at tick %d: %v", e.Node.ID, e.Tick, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Error reports every node whose window could not be completed.
type Error struct {
	Failed []*NodeError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d node(s) failed during sampling: %s", len(e.Failed), strings.Join(parts, "; "))
}

func (e *Error) Unwrap() []error {
	out := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		out[i] = f
	}
	return out
}

// Sampler reads nodes on a shared tick through a bounded pool of workers.
type Sampler struct {
	src         addrspace.Source
	workers     int
	readTimeout time.Duration
	log         *slog.Logger
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithWorkers sizes the read pool. Zero or less selects four workers per
// available CPU.
func WithWorkers(n int) Option {
	return func(s *Sampler) { s.workers = n }
}

// WithReadTimeout bounds every sample read. A timed-out read fails its node.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Sampler) { s.readTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.log = l }
}

// New returns a Sampler reading from src.
func New(src addrspace.Source, opts ...Option) *Sampler {
	s := &Sampler{src: src, log: logging.New("sampler")}
	for _, o := range opts {
		o(s)
	}
	if s.workers <= 0 {
		s.workers = runtime.GOMAXPROCS(0) * 4
	}
	return s
}

type job struct {
	node int
	tick int
}

// SampleAll reads every node windowLen times, one read per node per tick,
// ticks interval apart. It returns the series of every node in input order.
// If any node fails, its series is dropped and the error is a *Error naming
// it; the series of the other nodes are still complete and returned.
func (s *Sampler) SampleAll(ctx context.Context, nodes []addrspace.NodeRef, windowLen int, interval time.Duration) ([]Series, error) {
	if windowLen < 1 {
		return nil, fmt.Errorf("sample: window length must be positive, got %d", windowLen)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sample: interval must be positive, got %s", interval)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	workers := min(s.workers, len(nodes))
	s.log.Info("creating timeseries",
		slog.Int("nodes", len(nodes)),
		slog.Int("window_len", windowLen),
		slog.Duration("interval", interval),
		slog.Int("workers", workers),
		slog.Duration("estimated_wait", time.Duration(windowLen)*interval),
	)

	values := make([][]float64, len(nodes))
	for i := range values {
		values[i] = make([]float64, 0, windowLen)
	}
	failed := make([]*NodeError, len(nodes))

	jobs := make(chan job)
	start := make(chan struct{})
	var tickWG, poolWG, staged sync.WaitGroup

	for w := 0; w < workers; w++ {
		poolWG.Add(1)
		staged.Add(1)
		go func() {
			defer poolWG.Done()
			staged.Done()
			<-start
			for j := range jobs {
				s.collect(ctx, nodes[j.node], j, values, failed)
				tickWG.Done()
			}
		}()
	}
	defer func() {
		close(jobs)
		poolWG.Wait()
	}()

	// the first tick is released once every worker is running
	staged.Wait()
	close(start)
	began := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tick := 0; tick < windowLen; tick++ {
		if tick > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("sample: %w", ctx.Err())
			case <-ticker.C:
			}
		}
		for i := range nodes {
			if failed[i] != nil {
				continue
			}
			tickWG.Add(1)
			jobs <- job{node: i, tick: tick}
		}
		tickWG.Wait()
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sample: %w", err)
		}
	}

	out := make([]Series, 0, len(nodes))
	var errs []*NodeError
	for i, n := range nodes {
		if failed[i] != nil {
			errs = append(errs, failed[i])
			continue
		}
		out = append(out, Series{Node: n, Values: values[i], Start: began, Interval: interval})
	}
	if len(errs) > 0 {
		s.log.Warn("sampling incomplete", slog.Int("failed", len(errs)), slog.Int("complete", len(out)))
		return out, &Error{Failed: errs}
	}
	s.log.Info("timeseries complete", slog.Int("series", len(out)), slog.Duration("took", time.Since(began)))
	return out, nil
}

// collect performs one read. Only the job for node i touches values[i] and
// failed[i], and ticks are serialized by the caller.
func (s *Sampler) collect(ctx context.Context, n addrspace.NodeRef, j job, values [][]float64, failed []*NodeError) {
	res := addrspace.ReadNumber(ctx, s.src, n, s.readTimeout)
	if !res.OK() {
		metrics.SampleFailures.Inc()
		failed[j.node] = &NodeError{Node: n, Tick: j.tick, Err: res.Err}
		s.log.Debug("sample read failed", slog.String("node", n.ID), slog.Int("tick", j.tick), slog.Any("error", res.Err))
		return
	}
	metrics.SamplesCollected.Inc()
	values[j.node] = append(values[j.node], res.Value)
}

// AsError extracts the per-node failures of a SampleAll error.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
