package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/repoindex/internal/storage"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "repoindex version %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build Time: %s\n", buildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(cmd.OutOrStdout(), "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}
