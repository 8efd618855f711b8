// Package discover finds the numeric variable leaves of an address space and
// separates the ones whose value changes from the constant ones.
package discover

import (
	"context"
	"log/slog"
	"time"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/metrics"
)

// DefaultAcceptedKinds are the compact numeric identifier encodings.
var DefaultAcceptedKinds = []addrspace.IDKind{addrspace.KindTwoByte, addrspace.KindFourByte}

// WalkStats counts what a walk saw.
type WalkStats struct {
	Visited     int
	Variables   int
	WrongKind   int
	NotNumeric  int
	ReadFailed  int
	BrowseFails int
	Accepted    int
}

// Walker collects numeric variable leaves depth-first.
type Walker struct {
	src         addrspace.Source
	accept      map[addrspace.IDKind]bool
	readTimeout time.Duration
	log         *slog.Logger

	stats WalkStats
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithAcceptedKinds replaces DefaultAcceptedKinds.
func WithAcceptedKinds(kinds ...addrspace.IDKind) WalkerOption {
	return func(w *Walker) {
		w.accept = make(map[addrspace.IDKind]bool, len(kinds))
		for _, k := range kinds {
			w.accept[k] = true
		}
	}
}

// WithWalkReadTimeout bounds every value read of the walk.
func WithWalkReadTimeout(d time.Duration) WalkerOption {
	return func(w *Walker) { w.readTimeout = d }
}

// WithWalkLogger sets the logger.
func WithWalkLogger(l *slog.Logger) WalkerOption {
	return func(w *Walker) { w.log = l }
}

// NewWalker returns a Walker over src accepting DefaultAcceptedKinds.
func NewWalker(src addrspace.Source, opts ...WalkerOption) *Walker {
	w := &Walker{src: src, log: logging.New("walker")}
	WithAcceptedKinds(DefaultAcceptedKinds...)(w)
	for _, o := range opts {
		o(w)
	}
	return w
}

// Walk returns the accepted leaves below root in depth-first order.
// Per-node failures skip that node; only context cancellation ends the walk
// early.
func (w *Walker) Walk(ctx context.Context, root addrspace.NodeRef) ([]addrspace.NodeRef, error) {
	w.stats = WalkStats{}
	var leaves []addrspace.NodeRef
	if err := w.walk(ctx, root, &leaves); err != nil {
		return nil, err
	}
	w.stats.Accepted = len(leaves)
	metrics.CandidatesFound.Set(float64(len(leaves)))
	w.log.Info("walk finished",
		slog.String("root", root.ID),
		slog.Int("visited", w.stats.Visited),
		slog.Int("variables", w.stats.Variables),
		slog.Int("wrong_kind", w.stats.WrongKind),
		slog.Int("not_numeric", w.stats.NotNumeric),
		slog.Int("read_failed", w.stats.ReadFailed),
		slog.Int("candidates", len(leaves)),
	)
	return leaves, nil
}

// Stats reports the counters of the last Walk.
func (w *Walker) Stats() WalkStats { return w.stats }

func (w *Walker) walk(ctx context.Context, node addrspace.NodeRef, leaves *[]addrspace.NodeRef) error {
	children, err := w.src.Children(ctx, node)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.stats.BrowseFails++
		w.log.Debug("browse failed, skipping subtree", slog.String("node", node.ID), slog.Any("error", err))
		return nil
	}

	for _, ch := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.stats.Visited++
		metrics.NodesVisited.Inc()

		class, err := w.src.Class(ctx, ch)
		if err != nil {
			w.log.Debug("node class unavailable", slog.String("node", ch.ID), slog.Any("error", err))
			continue
		}
		switch class {
		case addrspace.ClassObject:
			if err := w.walk(ctx, ch, leaves); err != nil {
				return err
			}
		case addrspace.ClassVariable:
			w.stats.Variables++
			if w.evaluate(ctx, ch) {
				*leaves = append(*leaves, ch)
			}
		}
	}
	return nil
}

func (w *Walker) evaluate(ctx context.Context, n addrspace.NodeRef) bool {
	if !w.accept[n.Kind] {
		w.stats.WrongKind++
		return false
	}
	res := addrspace.ReadNumber(ctx, w.src, n, w.readTimeout)
	if res.OK() {
		return true
	}
	if isNotNumeric(res.Err) {
		w.stats.NotNumeric++
	} else {
		w.stats.ReadFailed++
	}
	w.log.Debug("leaf rejected", slog.String("node", n.ID), slog.Any("reason", res.Err))
	return false
}
