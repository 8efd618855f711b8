// Package mcp exposes labeling sessions as MCP tools so a remote operator,
// human or agent, can confirm classifications over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/classify"
	"github.com/GeraldRistow/opcua-browser/internal/confirm"
	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/sample"
)

var DefaultGetNextSeriesTimeout = 10 * time.Second

var (
	errNoSession = errors.New("no active session (call start_labeling first)")
	errBusy      = errors.New("a labeling session is already running")
)

// Server wraps the MCP SDK server and manages one labeling session at a time.
type Server struct {
	MCPServer *sdkmcp.Server

	run RunFunc
	log *slog.Logger

	mu      sync.Mutex
	session *Session
}

// NewServer creates an MCP server whose sessions are executed by run.
func NewServer(run RunFunc, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{run: run, log: logging.New("mcp")}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "opcua-browser", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_labeling",
		Description: "Discover dynamic nodes, sample them and start a labeling session. Returns a session ID.",
	}, s.handleStartLabeling)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_next_series",
		Description: "Get the next sampled series with its ranked candidates. Blocks until one is ready. Returns done=true when labeling has finished.",
	}, s.handleGetNextSeries)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "submit_decision",
		Description: "Accept a candidate by index or override the fragment name for the series of prompt_id.",
	}, s.handleSubmitDecision)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "close_labeling",
		Description: "Stop labeling early. Series confirmed so far are kept.",
	}, s.handleCloseLabeling)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_result",
		Description: "Get the session status and its confirmed mappings.",
	}, s.handleGetResult)
}

// --- Tool input/output types ---

type startLabelingInput struct {
	WindowLen  int    `json:"window_len,omitempty" jsonschema:"samples per series (default from config)"`
	IntervalMS int    `json:"interval_ms,omitempty" jsonschema:"milliseconds between samples (default from config)"`
	Classifier string `json:"classifier,omitempty" jsonschema:"classifier (heuristic, llm, static, stub)"`
	Force      bool   `json:"force,omitempty" jsonschema:"cancel any existing session and start fresh"`
}

type startLabelingOutput struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type getNextSeriesInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID from start_labeling"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"max wait in milliseconds"`
}

type getNextSeriesOutput struct {
	Done       bool                 `json:"done"`
	Available  bool                 `json:"available,omitempty"`
	PromptID   int64                `json:"prompt_id,omitempty"`
	Node       *addrspace.NodeRef   `json:"node,omitempty"`
	Path       []string             `json:"path,omitempty"`
	Values     []string             `json:"values,omitempty" jsonschema:"samples as decimal strings; NaN, +Inf and -Inf are passed through"`
	Candidates []classify.Candidate `json:"candidates,omitempty"`
	Remaining  int                  `json:"remaining,omitempty"`
	Total      int                  `json:"total,omitempty"`
}

type submitDecisionInput struct {
	SessionID      string `json:"session_id" jsonschema:"session ID from start_labeling"`
	PromptID       int64  `json:"prompt_id" jsonschema:"prompt ID from get_next_series"`
	CandidateIndex *int   `json:"candidate_index,omitempty" jsonschema:"0-based index of the accepted candidate"`
	Override       string `json:"override,omitempty" jsonschema:"fragment name replacing all candidates"`
}

type submitDecisionOutput struct {
	OK string `json:"ok"`
}

type closeLabelingInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID from start_labeling"`
}

type closeLabelingOutput struct {
	OK     string `json:"ok"`
	Status string `json:"status"`
}

type getResultInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID from start_labeling"`
	Wait      bool   `json:"wait,omitempty" jsonschema:"block until the session has finished"`
}

type getResultOutput struct {
	Status          string          `json:"status"`
	RunID           string          `json:"run_id,omitempty"`
	Dynamic         int             `json:"dynamic,omitempty"`
	Mappings        []label.Mapping `json:"mappings,omitempty"`
	EarlyTerminated bool            `json:"early_terminated,omitempty"`
	Unresolved      int             `json:"unresolved,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// --- Tool handlers ---

func (s *Server) handleStartLabeling(ctx context.Context, _ *sdkmcp.CallToolRequest, input startLabelingInput) (*sdkmcp.CallToolResult, startLabelingOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		select {
		case <-s.session.Done():
			s.log.Info("replacing finished session", slog.String("old_id", s.session.ID))
		default:
			if !input.Force {
				return nil, startLabelingOutput{}, fmt.Errorf("%w (id=%s)", errBusy, s.session.ID)
			}
			s.log.Warn("force-replacing active session", slog.String("old_id", s.session.ID))
		}
		s.session.Cancel()
	}

	s.session = NewSession(s.run, StartRequest{
		WindowLen:  input.WindowLen,
		IntervalMS: input.IntervalMS,
		Classifier: input.Classifier,
	})
	return nil, startLabelingOutput{SessionID: s.session.ID, Status: string(StateRunning)}, nil
}

func (s *Server) handleGetNextSeries(ctx context.Context, _ *sdkmcp.CallToolRequest, input getNextSeriesInput) (*sdkmcp.CallToolResult, getNextSeriesOutput, error) {
	sess, err := s.getSession(input.SessionID)
	if err != nil {
		return nil, getNextSeriesOutput{}, err
	}
	timeout := DefaultGetNextSeriesTimeout
	if input.TimeoutMS > 0 {
		timeout = time.Duration(input.TimeoutMS) * time.Millisecond
	}

	req, done, available, err := sess.NextPrompt(ctx, timeout)
	if err != nil {
		return nil, getNextSeriesOutput{}, fmt.Errorf("get_next_series: %w", err)
	}
	if done {
		return nil, getNextSeriesOutput{Done: true}, nil
	}
	if !available {
		return nil, getNextSeriesOutput{}, nil
	}
	p := req.Prompt
	return nil, getNextSeriesOutput{
		Available:  true,
		PromptID:   req.ID,
		Node:       &p.Node,
		Path:       p.Path,
		Values:     sample.EncodeValues(p.Values),
		Candidates: p.Candidates,
		Remaining:  p.Remaining,
		Total:      p.Total,
	}, nil
}

func (s *Server) handleSubmitDecision(ctx context.Context, _ *sdkmcp.CallToolRequest, input submitDecisionInput) (*sdkmcp.CallToolResult, submitDecisionOutput, error) {
	sess, err := s.getSession(input.SessionID)
	if err != nil {
		return nil, submitDecisionOutput{}, err
	}

	var d confirm.Decision
	switch {
	case input.CandidateIndex != nil && input.Override != "":
		return nil, submitDecisionOutput{}, errors.New("set either candidate_index or override, not both")
	case input.CandidateIndex != nil:
		if *input.CandidateIndex < 0 {
			return nil, submitDecisionOutput{}, fmt.Errorf("candidate_index %d is negative", *input.CandidateIndex)
		}
		d = confirm.Select(*input.CandidateIndex)
	case input.Override != "":
		d = confirm.Override(input.Override)
	default:
		return nil, submitDecisionOutput{}, errors.New("candidate_index or override is required")
	}

	if err := sess.Submit(ctx, input.PromptID, d); err != nil {
		return nil, submitDecisionOutput{}, fmt.Errorf("submit_decision: %w", err)
	}
	return nil, submitDecisionOutput{OK: "decision accepted: " + d.String()}, nil
}

func (s *Server) handleCloseLabeling(ctx context.Context, _ *sdkmcp.CallToolRequest, input closeLabelingInput) (*sdkmcp.CallToolResult, closeLabelingOutput, error) {
	sess, err := s.getSession(input.SessionID)
	if err != nil {
		return nil, closeLabelingOutput{}, err
	}
	sess.CloseLabeling()
	return nil, closeLabelingOutput{OK: "labeling closed", Status: string(sess.GetState())}, nil
}

func (s *Server) handleGetResult(ctx context.Context, _ *sdkmcp.CallToolRequest, input getResultInput) (*sdkmcp.CallToolResult, getResultOutput, error) {
	sess, err := s.getSession(input.SessionID)
	if err != nil {
		return nil, getResultOutput{}, err
	}

	if input.Wait {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			return nil, getResultOutput{}, ctx.Err()
		}
	}

	switch sess.GetState() {
	case StateError:
		return nil, getResultOutput{Status: string(StateError), Error: sess.Err().Error()}, nil
	case StateRunning:
		return nil, getResultOutput{Status: string(StateRunning)}, nil
	}
	res := sess.Result()
	return nil, getResultOutput{
		Status:          string(StateDone),
		RunID:           res.RunID,
		Dynamic:         len(res.Dynamic),
		Mappings:        res.Mappings,
		EarlyTerminated: res.EarlyTerminated,
		Unresolved:      res.Unresolved,
	}, nil
}

// SessionID returns the current session's ID, or empty string if none.
func (s *Server) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session.ID
	}
	return ""
}

// Shutdown cancels any active session, releasing runner goroutines.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Cancel()
		s.session = nil
	}
}

// Run serves the tools over stdio until ctx ends or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()
	s.log.Info("serving MCP over stdio")
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) getSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errNoSession
	}
	if s.session.ID != id {
		return nil, fmt.Errorf("session_id mismatch: have %s, got %s", s.session.ID, id)
	}
	return s.session, nil
}
