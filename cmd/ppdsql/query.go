package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppds-sdk/sqlengine/internal/dmlguard"
	"github.com/ppds-sdk/sqlengine/internal/engine"
)

var queryCmd = &cobra.Command{
	Use:          "query [SQL statement]",
	Short:        "Run a T-SQL statement against Dataverse",
	SilenceUsage: true,
	Long: `Run a SELECT/UPDATE/DELETE statement against Dataverse.

SELECTs run straight through. UPDATE/DELETE without a WHERE clause are
blocked or asked for confirmation depending on configured safety policy
(--confirm overrides a pending confirmation; it never overrides a block).`,
	Args: cobra.MaximumNArgs(1),
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

		req := engine.Request{
			SQL:    sql,
			UseTds: mustBool(cmd, "tds"),
		}
		if page, _ := cmd.Flags().GetInt32("page"); page > 0 {
			req.PageNumber = page
		}
		if cookie, _ := cmd.Flags().GetString("cookie"); cookie != "" {
			req.PagingCookie = cookie
		}
		req.IncludeCount, _ = cmd.Flags().GetBool("include-count")
		if top, _ := cmd.Flags().GetInt64("top"); top > 0 {
			req.TopOverride = &top
		}
		req.DmlSafety = &dmlguard.Options{}
		req.DmlSafety.IsConfirmed, _ = cmd.Flags().GetBool("confirm")
		req.DmlSafety.IsDryRun, _ = cmd.Flags().GetBool("dry-run")
		req.DmlSafety.NoLimit, _ = cmd.Flags().GetBool("no-limit")
		if rowCap, _ := cmd.Flags().GetInt64("row-cap"); rowCap > 0 {
			req.DmlSafety.RowCapOverride = rowCap
		}

		stream, _ := cmd.Flags().GetBool("stream")
		if stream {
			return runStreaming(cmd.Context(), e, renderer, req)
		}

		result, err := e.Execute(cmd.Context(), req)
		if err != nil {
			renderer.RenderError(err)
			if result != nil {
				renderer.RenderResult(result)
			}
			return fmt.Errorf("query failed: %w", err)
		}
		renderer.RenderResult(result)
		return nil
	},
}

func runStreaming(ctx context.Context, e *engine.Engine, renderer interface {
	RenderResult(*engine.Result)
	RenderError(error)
}, req engine.Request) error {
	chunks, errCh := e.ExecuteStreaming(ctx, req, 500)
	var total int
	for chunk := range chunks {
		result := &engine.Result{OriginalSQL: req.SQL, TranspiledFetchXml: chunk.FetchXml, Rows: chunk.Rows}
		renderer.RenderResult(result)
		total += len(chunk.Rows)
	}
	if err, ok := <-errCh; ok && err != nil {
		renderer.RenderError(err)
		return fmt.Errorf("streaming query failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "streamed %d rows total\n", total)
	return nil
}

func mustBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().String("file", "", "Read SQL from file instead of argument")
	queryCmd.Flags().Bool("confirm", false, "Confirm a pending DML operation that requires it")
	queryCmd.Flags().Bool("dry-run", false, "Evaluate the DML guard and plan without writing")
	queryCmd.Flags().Bool("no-limit", false, "Bypass the DML row cap (guard-permitting)")
	queryCmd.Flags().Int64("row-cap", 0, "Override the DML row cap for this statement")
	queryCmd.Flags().Int64("top", 0, "Override the statement's TOP/row limit")
	queryCmd.Flags().Int32("page", 0, "Resume from this FetchXML page number")
	queryCmd.Flags().String("cookie", "", "Resume using this FetchXML paging cookie")
	queryCmd.Flags().Bool("include-count", false, "Request the total record count on the first page")
	queryCmd.Flags().Bool("stream", false, "Stream results chunk by chunk instead of collecting them")
}

func getSQLInput(cmd *cobra.Command, args []string) (string, error) {
	filePath, _ := cmd.Flags().GetString("file")
	if filePath != "" {
		cleanPath := filepath.Clean(filePath)
		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("could not read file %s: %w", cleanPath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	return "", fmt.Errorf("provide a SQL statement as argument or use --file flag")
}
