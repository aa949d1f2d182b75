// Command ppdsql is the CLI front-end over internal/engine: it parses
// flags/config with cobra+viper, drives one Engine call, and renders the
// result with internal/output. All engine logic lives in internal/engine;
// this package is thin glue, same division as the teacher's cmd package.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ppds",
	Short: "Query Microsoft Dataverse with T-SQL",
	Long: `ppds transpiles T-SQL into FetchXML (or the TDS endpoint, when
enabled) and runs it against a Dataverse environment, guarding
DML statements against accidental full-table writes.

Know exactly what your SELECT/UPDATE/DELETE will touch before it runs.`,
}
