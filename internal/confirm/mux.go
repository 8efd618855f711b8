package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GeraldRistow/opcua-browser/internal/logging"
)

// Request is a prompt waiting for a remote decision.
type Request struct {
	ID     int64  `json:"id"`
	Prompt Prompt `json:"prompt"`
}

// Mux bridges the blocking Confirm of a labeling run with a remote operator
// who pulls prompts with Next and answers them with Submit. Each Confirm call
// gets its own id and response channel.
type Mux struct {
	ctx     context.Context
	log     *slog.Logger
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Decision
	answers map[int64]struct{}

	promptCh chan Request
	closeCh  chan struct{}
}

var _ Surface = (*Mux)(nil)

// NewMux creates a bridge whose lifetime is bound to ctx.
func NewMux(ctx context.Context) *Mux {
	return &Mux{
		ctx:      ctx,
		log:      logging.New("confirm-mux"),
		pending:  make(map[int64]chan Decision),
		answers:  make(map[int64]struct{}),
		promptCh: make(chan Request),
		closeCh:  make(chan struct{}),
	}
}

// Confirm publishes the prompt and blocks until Submit answers it. It
// returns ErrClosed once Close has been called.
func (m *Mux) Confirm(ctx context.Context, p Prompt) (Decision, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	resp := make(chan Decision, 1)
	m.pending[id] = resp
	m.mu.Unlock()

	m.log.Debug("prompt registered", slog.Int64("id", id), slog.String("node", p.Node.ID),
		slog.Int("remaining", p.Remaining))

	select {
	case m.promptCh <- Request{ID: id, Prompt: p}:
	case <-ctx.Done():
		m.drop(id)
		return Decision{}, ctx.Err()
	case <-m.ctx.Done():
		m.drop(id)
		return Decision{}, fmt.Errorf("confirm mux shut down: %w", m.ctx.Err())
	case <-m.closeCh:
		m.drop(id)
		return Decision{}, ErrClosed
	}

	select {
	case d, ok := <-resp:
		if !ok {
			return Decision{}, ErrClosed
		}
		m.log.Debug("decision received", slog.Int64("id", id), slog.String("decision", d.String()))
		return d, nil
	case <-ctx.Done():
		m.drop(id)
		return Decision{}, ctx.Err()
	case <-m.ctx.Done():
		m.drop(id)
		return Decision{}, fmt.Errorf("confirm mux shut down: %w", m.ctx.Err())
	}
}

// Next blocks until a prompt is published.
func (m *Mux) Next(ctx context.Context) (Request, error) {
	select {
	case <-ctx.Done():
		return Request{}, ctx.Err()
	case <-m.ctx.Done():
		return Request{}, fmt.Errorf("confirm mux shut down: %w", m.ctx.Err())
	case <-m.closeCh:
		return Request{}, ErrClosed
	case r := <-m.promptCh:
		return r, nil
	}
}

// Prompts exposes the prompt channel for callers that select on several
// sources at once.
func (m *Mux) Prompts() <-chan Request { return m.promptCh }

// Submit answers the prompt with the given id.
func (m *Mux) Submit(ctx context.Context, id int64, d Decision) error {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if !ok {
		_, answered := m.answers[id]
		m.mu.Unlock()
		if answered {
			m.log.Error("double submit", slog.Int64("id", id))
			return fmt.Errorf("prompt %d already answered", id)
		}
		m.log.Warn("submit for unknown prompt", slog.Int64("id", id))
		return fmt.Errorf("unknown prompt id %d", id)
	}
	delete(m.pending, id)
	m.answers[id] = struct{}{}
	m.mu.Unlock()

	select {
	case ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session: waiting and future Confirm calls return ErrClosed.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closeCh:
		return
	default:
	}
	close(m.closeCh)
	for id, ch := range m.pending {
		close(ch)
		delete(m.pending, id)
	}
	m.log.Info("confirmation surface closed")
}

// Closed reports whether Close has been called.
func (m *Mux) Closed() bool {
	select {
	case <-m.closeCh:
		return true
	default:
		return false
	}
}

func (m *Mux) drop(id int64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}
