package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avanishpal143/meetify/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "meetify %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
