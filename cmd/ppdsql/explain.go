package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var explainCmd = &cobra.Command{
	Use:          "explain [SQL statement]",
	Short:        "Show the plan a statement would run without executing it",
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sql, err := getSQLInput(cmd, args)
		if err != nil {
			return err
		}

		e, renderer, err := newEngineFromCmd(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		desc, err := e.Explain(sql)
		if err != nil {
			renderer.RenderError(err)
			return fmt.Errorf("explain failed: %w", err)
		}
		renderer.RenderPlan(desc)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
	explainCmd.Flags().String("file", "", "Read SQL from file instead of argument")
}
