package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/factgo"
	"github.com/hupe1980/factgo/core"
	"github.com/hupe1980/factgo/delta"
)

func newExportCmd() *cobra.Command {
	var (
		out       string
		sincePath string
		codecName string
	)

	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Write a sync delta with everything a remote clock has not seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var since core.ReplicaClock
			if sincePath != "" {
				data, err := os.ReadFile(sincePath)
				if err != nil {
					return fmt.Errorf("failed to read clock file: %w", err)
				}
				if err := since.UnmarshalBinary(data); err != nil {
					return fmt.Errorf("invalid clock file: %w", err)
				}
			}

			var codec delta.Codec
			switch codecName {
			case "none":
				codec = delta.CodecNone
			case "zstd":
				codec = delta.CodecZstd
			case "lz4":
				codec = delta.CodecLZ4
			default:
				return fmt.Errorf("unknown codec %q", codecName)
			}

			db, err := factgo.Open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			recs := db.ExportSince(since)
			if err := delta.Encode(f, recs, func(o *delta.Options) {
				o.Codec = codec
			}); err != nil {
				return err
			}

			cmd.Printf("exported %d records to %s\n", len(recs), out)
			return f.Sync()
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "delta.bin", "output file")
	cmd.Flags().StringVar(&sincePath, "since", "", "file holding the requester's binary replica clock")
	cmd.Flags().StringVar(&codecName, "codec", "zstd", "payload compression: none, zstd, lz4")

	return cmd
}
