package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrygo/pandemonium/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pandemonium %s (schema %s)\n", version.Version, version.SchemaVersion)
			return err
		},
	}
}
