package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		info := map[string]string{
			"version":    versionInfo.Version,
			"commit":     versionInfo.Commit,
			"build_date": versionInfo.BuildDate,
			"go":         runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		}
		if format != formatText {
			return writeStructured(cmd.OutOrStdout(), format, info)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "plagctl %s (commit %s, built %s, %s %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate, info["go"], info["platform"])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
