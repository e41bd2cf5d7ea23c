package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openmarine/seatrial/internal/capture"
	"github.com/openmarine/seatrial/internal/docker"
	"github.com/openmarine/seatrial/internal/harness"
	"github.com/openmarine/seatrial/internal/nmea"
	"github.com/openmarine/seatrial/internal/run"
	"github.com/openmarine/seatrial/internal/transport"
	"github.com/openmarine/seatrial/internal/triage"
)

type runOptions struct {
	image     string
	workDir   string
	httpPort  int
	httpsPort int
	tcpPort   int
	udpPort   int
	timeout   time.Duration
	keep      bool
	fixtures  string
	artifacts string
	format    string
	verbose   bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a validation scenario against a fresh server instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.image, "image", "signalk/signalk-server:latest", "server image to validate")
	cmd.Flags().StringVar(&opts.workDir, "workdir", "", "instance working directory (default: a temp directory)")
	cmd.Flags().IntVar(&opts.httpPort, "http-port", 3000, "host port for the server HTTP interface")
	cmd.Flags().IntVar(&opts.httpsPort, "https-port", 3443, "host port for the server HTTPS interface")
	cmd.Flags().IntVar(&opts.tcpPort, "tcp-port", 10110, "host port for the NMEA 0183 TCP feed")
	cmd.Flags().IntVar(&opts.udpPort, "udp-port", 10111, "host port for the NMEA 0183 UDP feed")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "readiness budget for instance startup")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "keep the working directory after the run")
	cmd.Flags().StringVar(&opts.fixtures, "fixtures", "", "captured-sentence corpus for fixtures phases")
	cmd.Flags().StringVar(&opts.artifacts, "artifacts", "", "directory for per-run artifacts (logs, metadata, report)")
	cmd.Flags().StringVar(&opts.format, "format", "table", "report format: table, markdown or json")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func runScenario(ctx context.Context, out io.Writer, scenarioPath string, opts runOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	scenario, err := run.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	api, err := docker.NewEnvClient()
	if err != nil {
		return err
	}

	classifier := triage.New(logger, triage.Options{})
	orch := harness.New(api, classifier, logger, harness.Config{
		Image:        opts.image,
		WorkDir:      opts.workDir,
		HTTPPort:     opts.httpPort,
		HTTPSPort:    opts.httpsPort,
		TCPPort:      opts.tcpPort,
		UDPPort:      opts.udpPort,
		StartTimeout: opts.timeout,
	})

	runnerOpts := run.Options{Cleanup: !opts.keep}
	var store *capture.Store
	if opts.artifacts != "" {
		store = capture.NewStore(opts.artifacts)
		runnerOpts.Store = store
	}

	runner := run.NewRunner(
		orch,
		classifier,
		transport.NewSender(logger),
		nmea.NewCorpus(opts.fixtures),
		logger,
		runnerOpts,
	)

	report, err := runner.Run(ctx, scenario)
	if err != nil {
		return err
	}

	if err := renderReport(out, opts.format, report, classifier); err != nil {
		return err
	}
	if store != nil {
		saveRenderedReport(store, report, classifier, logger)
	}

	if !report.Passed() {
		return fmt.Errorf("validation failed: %d critical error(s) across phases %v",
			report.Summary.TotalErrors, report.Summary.FailedPhases)
	}
	return nil
}

func renderReport(out io.Writer, format string, report *run.Report, classifier *triage.Classifier) error {
	switch format {
	case "table":
		renderTable(out, report)
		return nil
	case "markdown":
		fmt.Fprintln(out, classifier.MarkdownReport())
		return nil
	case "json":
		data, err := classifier.JSONReport()
		if err != nil {
			return fmt.Errorf("render JSON report: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func renderTable(out io.Writer, report *run.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Phase", "Lines", "Errors", "Warnings", "Status"})
	for _, phase := range report.Summary.Phases {
		status := "✅"
		if !phase.Passed() {
			status = "❌"
		}
		t.AppendRow(table.Row{phase.Name, phase.Lines, phase.Errors, phase.Warnings, status})
	}
	t.AppendFooter(table.Row{
		"total",
		report.Summary.TotalLines,
		report.Summary.TotalErrors,
		report.Summary.TotalWarnings,
		verdict(report),
	})
	t.Render()

	if len(report.Deliveries) > 0 {
		d := table.NewWriter()
		d.SetOutputMirror(out)
		d.SetStyle(table.StyleRounded)
		d.AppendHeader(table.Row{"Phase", "Protocol", "Attempted", "Sent", "Errors", "Elapsed"})
		for _, delivery := range report.Deliveries {
			d.AppendRow(table.Row{
				delivery.Phase,
				delivery.Protocol,
				delivery.Result.Attempted,
				delivery.Result.Sent,
				len(delivery.Result.Errors),
				delivery.Result.Elapsed.Round(time.Millisecond),
			})
		}
		d.Render()
	}

	if first := report.Summary.FirstError; first != nil {
		fmt.Fprintf(out, "first error (%s, %s): %s\n", first.Phase, first.Stream, first.Text)
	}
}

func verdict(report *run.Report) string {
	if report.Passed() {
		return "PASS"
	}
	return "FAIL"
}

// saveRenderedReport archives both presentation forms next to the raw
// capture. Best effort; archival never fails the run.
func saveRenderedReport(store *capture.Store, report *run.Report, classifier *triage.Classifier, logger *slog.Logger) {
	if err := store.SaveReport(report.RunID, "md", []byte(classifier.MarkdownReport())); err != nil {
		logger.Warn("Could not save Markdown report", slog.Any("error", err))
	}
	if data, err := classifier.JSONReport(); err == nil {
		if err := store.SaveReport(report.RunID, "json", data); err != nil {
			logger.Warn("Could not save JSON report", slog.Any("error", err))
		}
	}
}
