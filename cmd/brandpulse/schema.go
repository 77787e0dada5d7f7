package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/brandpulse/plugin/ai/agent/tools"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [table...]",
		Short: "Print the schema description given to the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile(false)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, p)
			if err != nil {
				return errors.Wrap(err, "failed to open analytics store")
			}
			defer st.Close()

			desc, err := tools.NewSchemaCache(st, p.SchemaSampleRows).Get(ctx)
			if err != nil {
				return err
			}

			text := desc.Text
			if len(args) > 0 {
				if text, err = desc.Render(args...); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "-- dialect: %s\n\n%s\n", desc.Dialect, text)
			return nil
		},
	}
}
