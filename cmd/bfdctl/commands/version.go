package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/dantte-lp/bfdd/internal/version"
)

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print bfdctl build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.outputFormat == formatTable {
				fmt.Fprintln(cmd.OutOrStdout(), appversion.Full("bfdctl"))
				return nil
			}

			out, err := marshal(appversion.Get("bfdctl"), c.outputFormat)
			if err != nil {
				return fmt.Errorf("format version: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
