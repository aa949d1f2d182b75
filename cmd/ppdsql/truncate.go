package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppds-sdk/sqlengine/internal/dmlguard"
	"github.com/ppds-sdk/sqlengine/internal/engine"
)

// truncateCmd exists because the guard's blocked-DELETE message (§4.7)
// tells the caller to run it: "DELETE without WHERE is not allowed. Use
// 'ppds truncate <entity>' for bulk deletion." It runs the same DELETE the
// guard blocked, but with IsConfirmed/NoLimit set — the guard still runs,
// it just isn't given a reason to stop this specific statement.
var truncateCmd = &cobra.Command{
	Use:          "truncate <entity>",
	Short:        "Delete every row of an entity, bypassing the no-WHERE guard",
	SilenceUsage: true,
	Args:         cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity := args[0]

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !confirmTruncate(entity) {
			fmt.Fprintln(os.Stderr, "aborted")
			return nil
		}

		e, renderer, err := newEngineFromCmd(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		req := engine.Request{
			SQL: fmt.Sprintf("DELETE FROM %s", entity),
			DmlSafety: &dmlguard.Options{
				IsConfirmed: true,
				NoLimit:     true,
			},
		}
		result, err := e.Execute(cmd.Context(), req)
		if err != nil {
			renderer.RenderError(err)
			return fmt.Errorf("truncate failed: %w", err)
		}
		renderer.RenderResult(result)
		return nil
	},
}

func confirmTruncate(entity string) bool {
	fmt.Fprintf(os.Stderr, "This deletes every row of %q. Type the entity name to confirm: ", entity)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(answer) == entity
}

func init() {
	rootCmd.AddCommand(truncateCmd)
	truncateCmd.Flags().Bool("yes", false, "Skip the interactive confirmation prompt")
}
