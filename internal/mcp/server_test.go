package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/classify"
	"github.com/GeraldRistow/opcua-browser/internal/config"
	"github.com/GeraldRistow/opcua-browser/internal/confirm"
	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	mcpserver "github.com/GeraldRistow/opcua-browser/internal/mcp"
	"github.com/GeraldRistow/opcua-browser/internal/pipeline"
	"github.com/GeraldRistow/opcua-browser/internal/sample"
)

func TestMain(m *testing.M) {
	mcpserver.DefaultGetNextSeriesTimeout = time.Second
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))
	os.Exit(m.Run())
}

// labelOnly skips discovery and labels three prepared series.
func labelOnly(ctx context.Context, surface confirm.Surface, _ mcpserver.StartRequest) (pipeline.Result, error) {
	var series []sample.Series
	for i := range 3 {
		series = append(series, sample.Series{
			Node:   addrspace.NodeRef{ID: fmt.Sprintf("ns=2;i=%d", 100+i), BrowseName: fmt.Sprintf("Var%d", i)},
			Values: []float64{1, 2, 3},
		})
	}
	o := label.New(&classify.Stub{}, surface, label.WithLogger(logging.Discard()))
	ms, err := o.Run(ctx, series)
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{Series: series, Mappings: ms, EarlyTerminated: len(ms) < len(series)}, nil
}

func failing(context.Context, confirm.Surface, mcpserver.StartRequest) (pipeline.Result, error) {
	return pipeline.Result{}, errors.New("endpoint unreachable")
}

func newTestServer(t *testing.T, run mcpserver.RunFunc) *mcpserver.Server {
	t.Helper()
	srv := mcpserver.NewServer(run, "test")
	t.Cleanup(srv.Shutdown)
	return srv
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func call(ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) (map[string]any, error) {
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var text string
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			text = tc.Text
			break
		}
	}
	if res.IsError {
		return nil, errors.New(text)
	}
	out := make(map[string]any)
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("unmarshal tool result: %v (text: %s)", err, text)
	}
	return out, nil
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	out, err := call(ctx, session, name, args)
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return out
}

func TestServer_ToolDiscovery(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t, labelOnly))

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	got := map[string]bool{}
	for _, tool := range tools.Tools {
		got[tool.Name] = true
	}
	for _, want := range []string{"start_labeling", "get_next_series", "submit_decision", "close_labeling", "get_result"} {
		if !got[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

func TestServer_FullSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t, labelOnly))

	start := callTool(t, ctx, session, "start_labeling", map[string]any{})
	id, _ := start["session_id"].(string)
	if id == "" || start["status"] != "running" {
		t.Fatalf("start_labeling: %v", start)
	}

	decisions := []map[string]any{
		{"candidate_index": 0},
		{"candidate_index": 2},
		{"override": "Netzspannung"},
	}
	for i, d := range decisions {
		next := callTool(t, ctx, session, "get_next_series", map[string]any{"session_id": id, "timeout_ms": 2000})
		if next["available"] != true {
			t.Fatalf("prompt %d not available: %v", i, next)
		}
		if got := next["remaining"].(float64); int(got) != 3-i {
			t.Errorf("prompt %d remaining = %v", i, got)
		}
		args := map[string]any{"session_id": id, "prompt_id": next["prompt_id"]}
		for k, v := range d {
			args[k] = v
		}
		callTool(t, ctx, session, "submit_decision", args)
	}

	next := callTool(t, ctx, session, "get_next_series", map[string]any{"session_id": id, "timeout_ms": 2000})
	if next["done"] != true {
		t.Errorf("expected done after last decision, got %v", next)
	}

	res := callTool(t, ctx, session, "get_result", map[string]any{"session_id": id, "wait": true})
	if res["status"] != "done" {
		t.Fatalf("get_result: %v", res)
	}
	mappings := res["mappings"].([]any)
	if len(mappings) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(mappings))
	}
	frags := []string{}
	for _, m := range mappings {
		frags = append(frags, m.(map[string]any)["fragment"].(string))
	}
	if strings.Join(frags, ",") != "Spannung0,Strom1,Netzspannung" {
		t.Errorf("fragments = %v", frags)
	}
}

func TestServer_CloseLabelingKeepsConfirmed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t, labelOnly))

	id := callTool(t, ctx, session, "start_labeling", map[string]any{})["session_id"].(string)
	next := callTool(t, ctx, session, "get_next_series", map[string]any{"session_id": id})
	callTool(t, ctx, session, "submit_decision", map[string]any{"session_id": id, "prompt_id": next["prompt_id"], "candidate_index": 0})
	callTool(t, ctx, session, "close_labeling", map[string]any{"session_id": id})

	res := callTool(t, ctx, session, "get_result", map[string]any{"session_id": id, "wait": true})
	if res["status"] != "done" || res["early_terminated"] != true {
		t.Fatalf("get_result: %v", res)
	}
	if got := len(res["mappings"].([]any)); got != 1 {
		t.Errorf("expected 1 mapping, got %d", got)
	}
}

func TestServer_RejectsBadDecisions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t, labelOnly))

	id := callTool(t, ctx, session, "start_labeling", map[string]any{})["session_id"].(string)
	next := callTool(t, ctx, session, "get_next_series", map[string]any{"session_id": id})
	pid := next["prompt_id"]

	cases := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{"session_id": id, "prompt_id": pid}, "required"},
		{map[string]any{"session_id": id, "prompt_id": pid, "candidate_index": 1, "override": "x"}, "not both"},
		{map[string]any{"session_id": id, "prompt_id": 999, "candidate_index": 0}, "unknown prompt"},
		{map[string]any{"session_id": "s-0", "prompt_id": pid, "candidate_index": 0}, "mismatch"},
	}
	for _, tc := range cases {
		if _, err := call(ctx, session, "submit_decision", tc.args); err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("args %v: expected error containing %q, got %v", tc.args, tc.want, err)
		}
	}

	callTool(t, ctx, session, "submit_decision", map[string]any{"session_id": id, "prompt_id": pid, "candidate_index": 0})
	if _, err := call(ctx, session, "submit_decision", map[string]any{"session_id": id, "prompt_id": pid, "candidate_index": 0}); err == nil || !strings.Contains(err.Error(), "already answered") {
		t.Errorf("expected double submit error, got %v", err)
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv := newTestServer(t, labelOnly)
	session := connectInMemory(t, ctx, srv)

	if _, err := call(ctx, session, "get_result", map[string]any{"session_id": "s-1"}); err == nil || !strings.Contains(err.Error(), "no active session") {
		t.Errorf("expected no session error, got %v", err)
	}

	first := callTool(t, ctx, session, "start_labeling", map[string]any{})["session_id"].(string)
	if _, err := call(ctx, session, "start_labeling", map[string]any{}); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("expected busy error, got %v", err)
	}
	if res := callTool(t, ctx, session, "get_result", map[string]any{"session_id": first}); res["status"] != "running" {
		t.Errorf("status = %v, want running", res["status"])
	}

	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("session id %q is not a UUID: %v", first, err)
	}
	second := callTool(t, ctx, session, "start_labeling", map[string]any{"force": true})["session_id"].(string)
	if second == first || srv.SessionID() != second {
		t.Errorf("force start: first %s second %s current %s", first, second, srv.SessionID())
	}
}

func TestServer_NonFiniteValuesAsStrings(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run := func(ctx context.Context, surface confirm.Surface, _ mcpserver.StartRequest) (pipeline.Result, error) {
		series := []sample.Series{{
			Node:   addrspace.NodeRef{ID: "ns=2;i=20", BrowseName: "Frequenz"},
			Values: []float64{50, math.NaN(), math.Inf(1), math.Inf(-1), 49.98},
		}}
		ms, err := label.New(&classify.Stub{}, surface, label.WithLogger(logging.Discard())).Run(ctx, series)
		return pipeline.Result{Series: series, Mappings: ms}, err
	}
	session := connectInMemory(t, ctx, newTestServer(t, run))

	id := callTool(t, ctx, session, "start_labeling", map[string]any{})["session_id"].(string)
	next := callTool(t, ctx, session, "get_next_series", map[string]any{"session_id": id, "timeout_ms": 2000})
	if next["available"] != true {
		t.Fatalf("prompt not available: %v", next)
	}
	var got []string
	for _, v := range next["values"].([]any) {
		got = append(got, v.(string))
	}
	if diff := cmp.Diff([]string{"50", "NaN", "+Inf", "-Inf", "49.98"}, got); diff != "" {
		t.Errorf("values (-want +got):\n%s", diff)
	}
	callTool(t, ctx, session, "submit_decision", map[string]any{"session_id": id, "prompt_id": next["prompt_id"], "candidate_index": 0})
	if res := callTool(t, ctx, session, "get_result", map[string]any{"session_id": id, "wait": true}); res["status"] != "done" {
		t.Errorf("get_result: %v", res)
	}
}

func TestServer_RunError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t, failing))

	id := callTool(t, ctx, session, "start_labeling", map[string]any{})["session_id"].(string)
	res := callTool(t, ctx, session, "get_result", map[string]any{"session_id": id, "wait": true})
	if res["status"] != "error" || !strings.Contains(res["error"].(string), "unreachable") {
		t.Errorf("get_result: %v", res)
	}
	next := callTool(t, ctx, session, "get_next_series", map[string]any{"session_id": id})
	if next["done"] != true {
		t.Errorf("get_next_series after failure: %v", next)
	}
}

func TestServer_WithPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := config.Default()
	cfg.Source.Simulate = true
	cfg.Filter.Duration = config.Duration(200 * time.Millisecond)
	cfg.Filter.Interval = config.Duration(20 * time.Millisecond)
	run := func(ctx context.Context, surface confirm.Surface, req mcpserver.StartRequest) (pipeline.Result, error) {
		c := cfg
		c.Sample.WindowLen = req.WindowLen
		c.Sample.Interval = config.Duration(time.Duration(req.IntervalMS) * time.Millisecond)
		src := addrspace.Simulation(1)
		r, err := pipeline.New(src, c, classify.NewHeuristic(nil, 3), surface, pipeline.WithLogger(logging.Discard()))
		if err != nil {
			return pipeline.Result{}, err
		}
		root, err := r.Root(ctx)
		if err != nil {
			return pipeline.Result{}, err
		}
		return r.Run(ctx, root)
	}
	session := connectInMemory(t, ctx, newTestServer(t, run))

	id := callTool(t, ctx, session, "start_labeling", map[string]any{"window_len": 5, "interval_ms": 5})["session_id"].(string)
	labeled := 0
	for {
		next := callTool(t, ctx, session, "get_next_series", map[string]any{"session_id": id, "timeout_ms": 5000})
		if next["done"] == true {
			break
		}
		if next["available"] != true {
			t.Fatalf("no prompt within timeout: %v", next)
		}
		if values := next["values"].([]any); len(values) != 5 {
			t.Errorf("series has %d values, want 5", len(values))
		}
		callTool(t, ctx, session, "submit_decision", map[string]any{"session_id": id, "prompt_id": next["prompt_id"], "candidate_index": 0})
		labeled++
	}
	res := callTool(t, ctx, session, "get_result", map[string]any{"session_id": id, "wait": true})
	if res["status"] != "done" || labeled == 0 || len(res["mappings"].([]any)) != labeled {
		t.Errorf("labeled %d, result %v", labeled, res)
	}
}
