package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/GeraldRistow/opcua-browser/internal/config"
	"github.com/GeraldRistow/opcua-browser/internal/confirm"
	mcpserver "github.com/GeraldRistow/opcua-browser/internal/mcp"
	"github.com/GeraldRistow/opcua-browser/internal/pipeline"
	"github.com/GeraldRistow/opcua-browser/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP labeling server over stdio",
	Long: `Starts an MCP server over stdin/stdout. A client starts a session with
start_labeling, pulls series with get_next_series and answers with
submit_decision; close_labeling stops early and keeps confirmed mappings.

The server watches its parent process and exits when the client goes away.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	srv := mcpserver.NewServer(sessionRunner(cfg, st), version)
	defer srv.Shutdown()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	mcpserver.WatchParent(ctx, mcpserver.DefaultParentPoll, cancel)

	return srv.Run(ctx)
}

// sessionRunner runs one pipeline per MCP session, applying the request's
// overrides to a copy of base.
func sessionRunner(base config.Config, st store.Store) mcpserver.RunFunc {
	return func(ctx context.Context, surface confirm.Surface, req mcpserver.StartRequest) (pipeline.Result, error) {
		c := base
		if req.WindowLen > 0 {
			c.Sample.WindowLen = req.WindowLen
		}
		if req.IntervalMS > 0 {
			c.Sample.Interval = config.Duration(time.Duration(req.IntervalMS) * time.Millisecond)
		}
		if req.Classifier != "" {
			c.Classifier.Kind = req.Classifier
		}

		src, closeSrc, err := openSource(ctx, c)
		if err != nil {
			return pipeline.Result{}, err
		}
		defer closeSrc()
		cl, err := pipeline.NewClassifier(c.Classifier)
		if err != nil {
			return pipeline.Result{}, err
		}
		r, err := pipeline.New(src, c, cl, surface, pipeline.WithStore(st))
		if err != nil {
			return pipeline.Result{}, err
		}
		root, err := r.Root(ctx)
		if err != nil {
			return pipeline.Result{}, err
		}
		return r.Run(ctx, root)
	}
}
