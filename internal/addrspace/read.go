package addrspace

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotNumeric marks a successful read whose value is not a number.
var ErrNotNumeric = errors.New("value is not numeric")

// ReadResult is the outcome of one read attempt: a number, or the reason
// there is none.
type ReadResult struct {
	Value float64
	Err   error
}

// OK reports whether the read produced a number.
func (r ReadResult) OK() bool { return r.Err == nil }

// ReadNumber reads n once. A positive timeout bounds the read.
func ReadNumber(ctx context.Context, src Source, n NodeRef, timeout time.Duration) ReadResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	v, err := src.Read(ctx, n)
	if err != nil {
		return ReadResult{Err: err}
	}
	f, ok := AsNumber(v)
	if !ok {
		return ReadResult{Err: fmt.Errorf("%w: %s holds %T", ErrNotNumeric, n.ID, v)}
	}
	return ReadResult{Value: f}
}
