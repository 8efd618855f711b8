// Package pipeline runs one discovery and labeling session against an
// address space: walk, liveness filter, sampling, labeling, persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/classify"
	"github.com/GeraldRistow/opcua-browser/internal/config"
	"github.com/GeraldRistow/opcua-browser/internal/confirm"
	"github.com/GeraldRistow/opcua-browser/internal/discover"
	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/metrics"
	"github.com/GeraldRistow/opcua-browser/internal/sample"
	"github.com/GeraldRistow/opcua-browser/internal/store"
	"github.com/GeraldRistow/opcua-browser/internal/vocabulary"
)

// Discovery is the outcome of walk and liveness filter.
type Discovery struct {
	Root       addrspace.NodeRef   `json:"root"`
	Candidates []addrspace.NodeRef `json:"candidates"`
	Dynamic    []addrspace.NodeRef `json:"dynamic"`
	Walk       discover.WalkStats  `json:"walk"`
}

// Result is the outcome of a full run.
type Result struct {
	RunID string `json:"run_id,omitempty"`
	Discovery
	Series   []sample.Series `json:"series"`
	Mappings []label.Mapping `json:"mappings"`
	// EarlyTerminated is set when the operator closed the confirmation
	// surface before every series was labeled.
	EarlyTerminated bool `json:"early_terminated"`
	// Unresolved counts override mappings still carrying placeholders.
	Unresolved int `json:"unresolved"`
}

// Runner holds everything one run needs. It carries no state between runs
// other than its collaborators.
type Runner struct {
	cfg      config.Config
	src      addrspace.Source
	walker   *discover.Walker
	filter   *discover.Filter
	sampler  *sample.Sampler
	labeler  *label.Orchestrator
	vocab    *vocabulary.Vocabulary
	store    store.Store
	endpoint string
	log      *slog.Logger
}

// Option configures a Runner.
type Option func(*runnerOptions)

type runnerOptions struct {
	store    store.Store
	hook     func(addrspace.NodeRef, label.State)
	log      *slog.Logger
	endpoint string
}

// WithStore persists runs, series and mappings.
func WithStore(s store.Store) Option {
	return func(o *runnerOptions) { o.store = s }
}

// WithTransitionHook observes labeling state changes.
func WithTransitionHook(fn func(addrspace.NodeRef, label.State)) Option {
	return func(o *runnerOptions) { o.hook = fn }
}

// WithLogger sets the logger of the runner and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *runnerOptions) { o.log = l }
}

// WithEndpoint overrides the source name recorded in the store.
func WithEndpoint(name string) Option {
	return func(o *runnerOptions) { o.endpoint = name }
}

// New wires the components for one run from cfg.
func New(src addrspace.Source, cfg config.Config, c classify.Classifier, s confirm.Surface, opts ...Option) (*Runner, error) {
	o := runnerOptions{endpoint: Endpoint(cfg.Source)}
	for _, opt := range opts {
		opt(&o)
	}
	// an explicit logger replaces the per-component defaults
	custom := o.log != nil
	if !custom {
		o.log = logging.New("pipeline")
	}
	kinds, err := cfg.AcceptedKinds()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	walkOpts := []discover.WalkerOption{
		discover.WithAcceptedKinds(kinds...),
		discover.WithWalkReadTimeout(cfg.Filter.ReadTimeout.Std()),
	}
	filterOpts := []discover.FilterOption{
		discover.WithProbe(cfg.Filter.Duration.Std(), cfg.Filter.Interval.Std()),
		discover.WithMaxConcurrent(cfg.Filter.MaxConcurrent),
		discover.WithProbeReadTimeout(cfg.Filter.ReadTimeout.Std()),
	}
	sampleOpts := []sample.Option{
		sample.WithWorkers(cfg.Sample.Workers),
		sample.WithReadTimeout(cfg.Sample.ReadTimeout.Std()),
	}
	labelOpts := []label.Option{
		label.WithPaths(func(ctx context.Context, n addrspace.NodeRef) ([]string, error) {
			return addrspace.BrowsePath(ctx, src, n)
		}),
	}
	if o.hook != nil {
		labelOpts = append(labelOpts, label.WithTransitionHook(o.hook))
	}
	if custom {
		walkOpts = append(walkOpts, discover.WithWalkLogger(o.log))
		filterOpts = append(filterOpts, discover.WithFilterLogger(o.log))
		sampleOpts = append(sampleOpts, sample.WithLogger(o.log))
		labelOpts = append(labelOpts, label.WithLogger(o.log))
	}

	r := &Runner{
		cfg:      cfg,
		src:      src,
		walker:   discover.NewWalker(src, walkOpts...),
		filter:   discover.NewFilter(src, filterOpts...),
		sampler:  sample.New(src, sampleOpts...),
		labeler:  label.New(c, s, labelOpts...),
		store:    o.store,
		endpoint: o.endpoint,
		log:      o.log,
	}
	if cfg.Confirm.ReconcileOverrides {
		r.vocab = vocabulary.New()
	}
	return r, nil
}

// Root resolves the configured walk root, falling back to the source root.
func (r *Runner) Root(ctx context.Context) (addrspace.NodeRef, error) {
	if r.cfg.Source.RootNode == "" {
		return r.src.Root(ctx)
	}
	kind, err := addrspace.KindOf(r.cfg.Source.RootNode)
	if err != nil {
		return addrspace.NodeRef{}, fmt.Errorf("root node: %w", err)
	}
	return addrspace.NodeRef{ID: r.cfg.Source.RootNode, Kind: kind}, nil
}

// Discover walks the tree below root and keeps the dynamic leaves. With
// filter.skip set every candidate counts as dynamic.
func (r *Runner) Discover(ctx context.Context, root addrspace.NodeRef) (Discovery, error) {
	d := Discovery{Root: root}

	done := metrics.Time("walk")
	cands, err := r.walker.Walk(ctx, root)
	done()
	if err != nil {
		return d, fmt.Errorf("walk: %w", err)
	}
	d.Candidates = cands
	d.Walk = r.walker.Stats()

	if r.cfg.Filter.Skip {
		d.Dynamic = cands
		return d, nil
	}
	done = metrics.Time("filter")
	d.Dynamic, err = r.filter.FilterDynamic(ctx, cands)
	done()
	if err != nil {
		return d, err
	}
	return d, nil
}

// Run executes the whole session. The run is recorded in the store when one
// is configured; a failed run is stored with status error.
func (r *Runner) Run(ctx context.Context, root addrspace.NodeRef) (res Result, err error) {
	start := time.Now()
	if r.store != nil {
		res.RunID, err = r.store.CreateRun(&store.Run{Endpoint: r.endpoint, RootNode: root.ID})
		if err != nil {
			return res, fmt.Errorf("create run: %w", err)
		}
		defer func() { r.finish(&res, err) }()
	}
	log := r.log.With(slog.String("run", res.RunID))

	res.Discovery, err = r.Discover(ctx, root)
	if err != nil {
		return res, err
	}
	if len(res.Dynamic) == 0 {
		log.Warn("no dynamic leaves found, nothing to label", slog.Int("candidates", len(res.Candidates)))
		return res, nil
	}

	done := metrics.Time("sample")
	res.Series, err = r.sampler.SampleAll(ctx, res.Dynamic, r.cfg.Sample.WindowLen, r.cfg.Sample.Interval.Std())
	done()
	if err != nil {
		if serr, ok := sample.AsError(err); ok {
			log.Error("sampling failed", slog.Int("failed_nodes", len(serr.Failed)))
		}
		res.Series = nil
		return res, fmt.Errorf("sample: %w", err)
	}
	if r.store != nil {
		if err = r.store.SaveSeries(res.RunID, res.Series); err != nil {
			return res, fmt.Errorf("save series: %w", err)
		}
	}

	done = metrics.Time("label")
	res.Mappings, err = r.labeler.Run(ctx, res.Series)
	done()
	if err != nil {
		return res, fmt.Errorf("label: %w", err)
	}
	res.EarlyTerminated = len(res.Mappings) < len(res.Series)

	if r.vocab != nil {
		res.Mappings, res.Unresolved = r.vocab.Reconcile(res.Mappings)
	}
	if r.store != nil {
		if err = r.store.SaveMappings(res.RunID, res.Mappings); err != nil {
			return res, fmt.Errorf("save mappings: %w", err)
		}
	}

	log.Info("run finished",
		slog.Int("candidates", len(res.Candidates)),
		slog.Int("dynamic", len(res.Dynamic)),
		slog.Int("mappings", len(res.Mappings)),
		slog.Bool("early_terminated", res.EarlyTerminated),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (r *Runner) finish(res *Result, runErr error) {
	f := store.Finish{
		Status:          store.StatusDone,
		Candidates:      len(res.Candidates),
		Dynamic:         len(res.Dynamic),
		Mappings:        len(res.Mappings),
		EarlyTerminated: res.EarlyTerminated,
	}
	if runErr != nil {
		f.Status = store.StatusError
		f.Error = runErr.Error()
	}
	if err := r.store.FinishRun(res.RunID, f); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Error("record run outcome", slog.String("run", res.RunID), slog.Any("error", err))
	}
}
