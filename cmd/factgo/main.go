// Command factgo is an operator tool for store directories: inspect log
// contents, compact the log, and export sync deltas.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "factgo",
		Short:         "Operator tool for factgo store directories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newInspectCmd(),
		newCompactCmd(),
		newExportCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
