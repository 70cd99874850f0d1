package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/factgo"
)

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <dir>",
		Short: "Rewrite the log to hold only the winning record per identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := factgo.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Compact(cmd.Context()); err != nil {
				return err
			}

			cmd.Printf("compacted, %d live objects\n", db.Len())
			return nil
		},
	}
}
