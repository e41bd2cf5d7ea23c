package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openmarine/seatrial/internal/capture"
)

type reportOptions struct {
	artifacts string
	format    string
	logs      bool
}

func newReportCmd() *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Inspect artifacts of past validation runs",
		Long: `Without a run ID, lists the runs stored in the artifact directory.
With a run ID, prints the run's saved report, or its raw captured log
stream with --logs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := capture.NewStore(opts.artifacts)
			if len(args) == 0 {
				return listRuns(cmd.OutOrStdout(), store)
			}
			return showRun(cmd.OutOrStdout(), store, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.artifacts, "artifacts", ".", "directory holding per-run artifacts")
	cmd.Flags().StringVar(&opts.format, "format", "markdown", "saved report format to print: markdown or json")
	cmd.Flags().BoolVar(&opts.logs, "logs", false, "print the raw captured log stream instead of the report")

	return cmd
}

func listRuns(out io.Writer, store *capture.Store) error {
	runs, err := store.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no stored runs")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Run", "Scenario", "Image", "Started", "Errors", "Warnings", "Status"})
	for _, meta := range runs {
		status := "✅"
		if !meta.Passed {
			status = "❌"
		}
		t.AppendRow(table.Row{
			meta.RunID,
			meta.Scenario,
			meta.Image,
			meta.StartedAt.Local().Format(time.DateTime),
			meta.Errors,
			meta.Warnings,
			status,
		})
	}
	t.Render()
	return nil
}

func showRun(out io.Writer, store *capture.Store, runID string, opts reportOptions) error {
	if opts.logs {
		logs, err := store.Open(runID)
		if err != nil {
			return err
		}
		defer logs.Close()

		_, err = io.Copy(out, logs)
		return err
	}

	var ext string
	switch opts.format {
	case "markdown":
		ext = "md"
	case "json":
		ext = "json"
	default:
		return fmt.Errorf("unknown report format %q", opts.format)
	}

	report, err := store.ReadReport(runID, ext)
	if err != nil {
		return err
	}
	_, err = out.Write(report)
	return err
}
