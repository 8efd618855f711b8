package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GeraldRistow/opcua-browser/internal/confirm"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/pipeline"
)

// SessionState tracks the lifecycle of a labeling session.
type SessionState string

const (
	StateRunning SessionState = "running"
	StateDone    SessionState = "done"
	StateError   SessionState = "error"
)

// StartRequest mirrors the arguments of start_labeling. Zero values keep the
// configured defaults.
type StartRequest struct {
	WindowLen  int    `json:"window_len,omitempty"`
	IntervalMS int    `json:"interval_ms,omitempty"`
	Classifier string `json:"classifier,omitempty"`
}

// RunFunc runs one labeling session whose decisions come from surface.
type RunFunc func(ctx context.Context, surface confirm.Surface, req StartRequest) (pipeline.Result, error)

// Session holds the state of one labeling run driven by MCP tool calls.
type Session struct {
	ID string

	state  SessionState
	mux    *confirm.Mux
	result *pipeline.Result
	err    error
	doneCh chan struct{}
	cancel context.CancelFunc
	log    *slog.Logger

	mu sync.Mutex
}

// NewSession spawns the runner goroutine and returns immediately.
func NewSession(run RunFunc, req StartRequest) *Session {
	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     uuid.NewString(),
		state:  StateRunning,
		mux:    confirm.NewMux(runCtx),
		doneCh: make(chan struct{}),
		cancel: runCancel,
		log:    logging.New("mcp-session"),
	}
	go s.run(runCtx, run, req)
	return s
}

func (s *Session) run(ctx context.Context, run RunFunc, req StartRequest) {
	defer close(s.doneCh)
	defer s.cancel()

	res, err := run(ctx, s.mux, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateError
		s.err = err
		s.log.Error("labeling failed", slog.String("session", s.ID), slog.Any("error", err))
		return
	}
	s.state = StateDone
	s.result = &res
	s.log.Info("labeling complete", slog.String("session", s.ID),
		slog.Int("mappings", len(res.Mappings)), slog.Bool("early_terminated", res.EarlyTerminated))
}

// GetState returns the current session state in a thread-safe manner.
func (s *Session) GetState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextPrompt waits up to timeout for the next prompt. done is set once the
// run has finished; available is false when the wait timed out.
func (s *Session) NextPrompt(ctx context.Context, timeout time.Duration) (req confirm.Request, done, available bool, err error) {
	select {
	case <-s.doneCh:
		return confirm.Request{}, true, false, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return confirm.Request{}, false, false, ctx.Err()
	case <-s.doneCh:
		return confirm.Request{}, true, false, nil
	case <-timer.C:
		return confirm.Request{}, false, false, nil
	case r := <-s.mux.Prompts():
		return r, false, true, nil
	}
}

// Submit answers the prompt with the given id.
func (s *Session) Submit(ctx context.Context, promptID int64, d confirm.Decision) error {
	return s.mux.Submit(ctx, promptID, d)
}

// CloseLabeling ends the session early. Mappings confirmed so far are kept.
func (s *Session) CloseLabeling() {
	s.mux.Close()
}

// Cancel terminates the runner goroutine and releases resources.
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Result returns the run result, or nil if not yet done.
func (s *Session) Result() *pipeline.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Err returns any error from the run.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel that closes when the run completes.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}
