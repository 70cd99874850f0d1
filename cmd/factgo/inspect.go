package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/factgo/model"
	"github.com/hupe1980/factgo/wal"
)

func newInspectCmd() *cobra.Command {
	var showDeleted bool

	cmd := &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Dump the log records of a store directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wal.New(func(o *wal.Options) {
				o.Path = args[0]
			})
			if err != nil {
				return err
			}
			defer w.Close()

			count := 0
			err = w.Replay(func(rec model.Record) error {
				count++
				if rec.Deleted && !showDeleted {
					return nil
				}
				printRecord(cmd, rec)
				return nil
			})
			if err != nil {
				return err
			}

			cmd.Printf("%d records\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDeleted, "deleted", false, "include tombstones")

	return cmd
}

func printRecord(cmd *cobra.Command, rec model.Record) {
	state := ""
	if rec.Deleted {
		state = " deleted"
	}
	switch rec.Kind {
	case model.KindEntity:
		cmd.Printf("entity %s v=%s%s\n", rec.ID, rec.Version, state)
	case model.KindAtom:
		cmd.Printf("atom   %s owner=%s label=%q value=%d bytes v=%s%s\n",
			rec.ID, rec.Owner, rec.Label, len(rec.Value), rec.Version, state)
	case model.KindLink:
		cmd.Printf("link   %s source=%s target=%s label=%q v=%s%s\n",
			rec.ID, rec.Owner, rec.Target, rec.Label, rec.Version, state)
	default:
		cmd.Printf("kind=%d %s v=%s%s\n", rec.Kind, rec.ID, rec.Version, state)
	}
}
