package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrygo/pandemonium/store/db"
)

func newMigrateCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the durable schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := cfg.rawProfile()
			if err := p.ValidateStorage(); err != nil {
				return err
			}

			st, err := db.OpenStore(cmd.Context(), p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if st == nil {
				_, err := fmt.Fprintf(out, "driver %s keeps no durable data, nothing to migrate\n", p.Driver)
				return err
			}
			defer st.Close()

			schemaVersion, err := st.GetSchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s schema is at version %s\n", p.Driver, schemaVersion)
			return err
		},
	}
}
