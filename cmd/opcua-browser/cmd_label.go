package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/GeraldRistow/opcua-browser/internal/addrspace"
	"github.com/GeraldRistow/opcua-browser/internal/config"
	"github.com/GeraldRistow/opcua-browser/internal/display"
	"github.com/GeraldRistow/opcua-browser/internal/format"
	"github.com/GeraldRistow/opcua-browser/internal/label"
	"github.com/GeraldRistow/opcua-browser/internal/logging"
	"github.com/GeraldRistow/opcua-browser/internal/pipeline"
)

var labelFlags struct {
	confirm    string
	classifier string
	output     string
	window     int
	interval   time.Duration
	skipFilter bool
	markdown   bool
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Discover, sample and label live variables into a device protocol",
	Long: `Run the full session: discover dynamic leaves, sample every leaf for a
window of equally spaced reads, classify each series and ask for
confirmation, then write the confirmed mappings as a device protocol.

Confirmation surfaces:
  terminal   ask on this terminal (1..k selects, text overrides, q stops)
  auto       accept the best candidate
  threshold  accept above --threshold confidence, ask otherwise

Stopping early keeps every mapping confirmed so far.`,
	RunE: runLabel,
}

func init() {
	f := labelCmd.Flags()
	f.StringVar(&labelFlags.confirm, "confirm", "", "Confirmation surface: terminal, auto, threshold (default from config)")
	f.StringVar(&labelFlags.classifier, "classifier", "", "Classifier: heuristic, llm, static, stub (default from config)")
	f.StringVarP(&labelFlags.output, "output", "o", "", "Template output path (default: "+config.Default().Template.Output+")")
	f.IntVar(&labelFlags.window, "window", 0, "Samples per series (default from config)")
	f.DurationVar(&labelFlags.interval, "interval", 0, "Time between samples (default from config)")
	f.BoolVar(&labelFlags.skipFilter, "skip-filter", false, "Label every numeric leaf without the liveness probe")
	f.BoolVar(&labelFlags.markdown, "markdown", false, "Print the summary as a Markdown table")
}

func runLabel(cmd *cobra.Command, _ []string) error {
	c := cfg
	if labelFlags.confirm != "" {
		c.Confirm.Surface = labelFlags.confirm
	}
	if labelFlags.classifier != "" {
		c.Classifier.Kind = labelFlags.classifier
	}
	if labelFlags.window > 0 {
		c.Sample.WindowLen = labelFlags.window
	}
	if labelFlags.interval > 0 {
		c.Sample.Interval = config.Duration(labelFlags.interval)
	}
	if labelFlags.skipFilter {
		c.Filter.Skip = true
	}

	ctx := cmd.Context()
	src, closeSrc, err := openSource(ctx, c)
	if err != nil {
		return err
	}
	defer closeSrc()

	st, err := openStore(c)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	cl, err := pipeline.NewClassifier(c.Classifier)
	if err != nil {
		return err
	}
	surface, err := pipeline.NewSurface(c.Confirm, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	log := logging.New("label")
	r, err := pipeline.New(src, c, cl, surface,
		pipeline.WithStore(st),
		pipeline.WithTransitionHook(func(n addrspace.NodeRef, s label.State) {
			log.Debug("transition", slog.String("node", n.ID), slog.String("state", display.State(string(s))))
		}))
	if err != nil {
		return err
	}
	root, err := r.Root(ctx)
	if err != nil {
		return err
	}
	res, err := r.Run(ctx, root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(res.Mappings) == 0 {
		fmt.Fprintf(out, "No mappings confirmed (%d dynamic of %d numeric leaves); no template written.\n",
			len(res.Dynamic), len(res.Candidates))
		return nil
	}
	printMappings(cmd, res.Mappings, labelFlags.markdown)

	path, err := writeTemplate(c, res.Mappings, labelFlags.output)
	if err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	fmt.Fprintf(out, "Template: %s (%d of %d series mapped)\n", path, len(res.Mappings), len(res.Series))
	if res.EarlyTerminated {
		fmt.Fprintf(out, "Labeling was closed early; %d series left unlabeled.\n", len(res.Series)-len(res.Mappings))
	}
	if res.Unresolved > 0 {
		fmt.Fprintf(out, "%d override(s) still carry the %q placeholder; edit unit and series in the template.\n",
			res.Unresolved, label.Placeholder)
	}
	if res.RunID != "" {
		fmt.Fprintf(out, "Run: %s\n", res.RunID)
	}
	return nil
}

func printMappings(cmd *cobra.Command, ms []label.Mapping, markdown bool) {
	tbl := format.NewTable(tableMode(markdown))
	tbl.Header("Browse path", "Fragment", "Unit", "Series", "Source", "Confidence")
	for _, m := range ms {
		conf := "-"
		if m.Source != label.SourceOverride {
			conf = format.Percent(m.Confidence)
		}
		tbl.Row(format.Path(m.Path), m.Fragment,
			display.Placeholder(m.Unit, label.Placeholder),
			display.Placeholder(m.Series, label.Placeholder),
			display.Source(string(m.Source)), conf)
	}
	fmt.Fprintln(cmd.OutOrStdout(), tbl.String())
}
