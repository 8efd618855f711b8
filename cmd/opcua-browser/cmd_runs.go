package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GeraldRistow/opcua-browser/internal/display"
	"github.com/GeraldRistow/opcua-browser/internal/format"
)

var runsFlags struct {
	markdown bool
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded labeling runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its confirmed mappings",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.PersistentFlags().BoolVar(&runsFlags.markdown, "markdown", false, "Print Markdown tables")
	runsCmd.AddCommand(runsShowCmd)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no run store configured (--db)")
	}
	defer st.Close()

	runs, err := st.ListRuns()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	tbl := format.NewTable(tableMode(runsFlags.markdown))
	tbl.Header("Run", "Started", "Endpoint", "Status", "Dynamic", "Mappings")
	tbl.AlignRight(5, 6)
	for _, r := range runs {
		tbl.Row(shortID(r.ID), r.StartedAt, format.Truncate(r.Endpoint, 40),
			display.RunStatus(r.Status, r.EarlyTerminated), r.Dynamic, r.Mappings)
	}
	fmt.Fprintln(out, tbl.String())
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no run store configured (--db)")
	}
	defer st.Close()

	run, err := findRun(st, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", run.ID)
	fmt.Fprintf(out, "Endpoint:  %s\n", run.Endpoint)
	fmt.Fprintf(out, "Root:      %s\n", run.RootNode)
	fmt.Fprintf(out, "Status:    %s\n", display.RunStatus(run.Status, run.EarlyTerminated))
	fmt.Fprintf(out, "Started:   %s\n", run.StartedAt)
	if run.FinishedAt != "" {
		fmt.Fprintf(out, "Finished:  %s\n", run.FinishedAt)
	}
	fmt.Fprintf(out, "Leaves:    %d numeric, %d dynamic\n", run.Candidates, run.Dynamic)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:     %s\n", run.Error)
	}

	ms, err := st.ListMappings(run.ID)
	if err != nil {
		return err
	}
	if len(ms) == 0 {
		fmt.Fprintln(out, "No mappings.")
		return nil
	}
	printMappings(cmd, ms, runsFlags.markdown)
	return nil
}
