package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var templateFlags struct {
	output string
}

var templateCmd = &cobra.Command{
	Use:   "template <run-id>",
	Short: "Rebuild the device protocol of a recorded run",
	Long: `Rebuild the device protocol from the mappings stored for a run, for
example after changing the template settings or the skeleton file.`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplate,
}

func init() {
	templateCmd.Flags().StringVarP(&templateFlags.output, "output", "o", "", "Template output path (default from config)")
}

func runTemplate(cmd *cobra.Command, args []string) error {
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
	ms, err := st.ListMappings(run.ID)
	if err != nil {
		return err
	}
	if len(ms) == 0 {
		return fmt.Errorf("run %s has no mappings", run.ID)
	}
	path, err := writeTemplate(cfg, ms, templateFlags.output)
	if err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Template: %s (%d mappings from run %s)\n", path, len(ms), shortID(run.ID))
	return nil
}
