// Command stratum runs Stratum's ingestion/query API, its background
// worker, or a one-shot columnar schema migration, depending on the
// subcommand invoked.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stratum",
		Short: "Stratum log intelligence platform",
		Long:  "Ingest, index, and query application logs with retrieval-augmented chat and anomaly detection.",
	}
	cmd.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd())
	return cmd
}
