package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/EmerBV/figrnet"
)

func (c *CLI) versionCommand() *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if !long {
				fmt.Fprintln(out, figrnet.GetVersion())
				return
			}
			info := figrnet.GetVersionInfo()
			for _, k := range []string{"version", "commit", "build_date", "go_version"} {
				if v, ok := info[k]; ok {
					fmt.Fprintf(out, "%-12s %s\n", k+":", v)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "print build details")

	return cmd
}
