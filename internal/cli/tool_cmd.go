package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pintsurf/pkg/geometry"
	"pintsurf/pkg/logging"
)

func newToolCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tool",
		Short: "Inspect the external geometry tool",
	}

	var binary string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether Connectome Workbench is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if binary == "" {
				binary = a.cfg.Tool.Binary
			}
			st := geometry.CheckTool(cmd.Context(), binary, nil)
			logging.LogToolStatus(a.log, binary, st.Available, st.Version, st.Path, st.Error)
			if !st.Available {
				return st.Error
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", binary, st.Version, st.Path)
			return nil
		},
	}
	checkCmd.Flags().StringVar(&binary, "binary", "", "tool binary (default from configuration)")

	cmd.AddCommand(checkCmd)
	return cmd
}
