package run

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openmarine/seatrial/internal/capture"
	"github.com/openmarine/seatrial/internal/harness"
	"github.com/openmarine/seatrial/internal/nmea"
	"github.com/openmarine/seatrial/internal/traffic"
	"github.com/openmarine/seatrial/internal/transport"
	"github.com/openmarine/seatrial/internal/triage"
)

const removeTimeout = 30 * time.Second

// PhaseDelivery records the transmission outcome of one protocol within one
// phase.
type PhaseDelivery struct {
	Phase    string
	Protocol string
	Result   transport.Result
}

// Report is the outcome of one validation run.
type Report struct {
	RunID      string
	Scenario   string
	Started    time.Time
	Finished   time.Time
	Summary    triage.Summary
	Deliveries []PhaseDelivery
}

// Passed reports whether the run observed no critical errors in any phase.
func (r Report) Passed() bool {
	return r.Summary.Passed()
}

// Options configures a [Runner].
type Options struct {
	// Store receives per-run artifacts (raw log capture, metadata) when
	// set.
	Store *capture.Store

	// Cleanup deletes the instance working directory on teardown.
	Cleanup bool
}

// Runner drives scenarios against one orchestrated instance. Lifecycle
// operations are issued strictly sequentially; only traffic delivery within
// a phase fans out.
type Runner struct {
	orch       *harness.Orchestrator
	classifier *triage.Classifier
	sender     *transport.Sender
	corpus     *nmea.Corpus
	logger     *slog.Logger
	opts       Options
}

// NewRunner wires a validation runner from its collaborators.
func NewRunner(
	orch *harness.Orchestrator,
	classifier *triage.Classifier,
	sender *transport.Sender,
	corpus *nmea.Corpus,
	logger *slog.Logger,
	opts Options,
) *Runner {
	return &Runner{
		orch:       orch,
		classifier: classifier,
		sender:     sender,
		corpus:     corpus,
		logger:     logger,
		opts:       opts,
	}
}

// Run executes the scenario end to end: prepare, start, each phase in
// declaration order, settle, verdict, teardown. The instance is removed even
// when startup or a phase fails.
func (r *Runner) Run(ctx context.Context, scenario Scenario) (*Report, error) {
	report := &Report{
		RunID:    "run-" + uuid.NewString()[:8],
		Scenario: scenario.Name,
		Started:  time.Now(),
	}

	if err := r.orch.Prepare(); err != nil {
		return nil, fmt.Errorf("prepare instance: %w", err)
	}

	// Registered before Start: a readiness timeout still leaves a created
	// instance and an attached log follower behind.
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		defer cancel()
		r.saveArtifacts(removeCtx, report)
		if err := r.orch.Remove(removeCtx, r.opts.Cleanup); err != nil {
			r.logger.Warn("Instance teardown failed",
				slog.String("runId", report.RunID),
				slog.Any("error", err),
			)
		}
	}()

	if _, err := r.orch.Start(ctx); err != nil {
		return nil, fmt.Errorf("start instance: %w", err)
	}

	gen := traffic.NewGenerator(scenario.Seed)
	voyage := traffic.Voyage{
		Lat:        scenario.Voyage.Lat,
		Lon:        scenario.Voyage.Lon,
		SpeedKnots: scenario.Voyage.SpeedKnots,
		HeadingDeg: scenario.Voyage.HeadingDeg,
	}

	for _, phase := range scenario.Phases {
		r.classifier.SetPhase(phase.Name)
		r.logger.Info("Running phase",
			slog.String("runId", report.RunID),
			slog.String("phase", phase.Name),
			slog.String("action", phase.Action),
		)

		deliveries, err := r.runPhase(ctx, phase, gen, voyage)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", phase.Name, err)
		}
		report.Deliveries = append(report.Deliveries, deliveries...)
	}

	if settle := scenario.settleDelay(); settle > 0 {
		if err := sleep(ctx, settle); err != nil {
			return nil, err
		}
	}

	report.Summary = r.classifier.Summary()
	report.Finished = time.Now()
	return report, nil
}

func (r *Runner) runPhase(ctx context.Context, phase Phase, gen *traffic.Generator, voyage traffic.Voyage) ([]PhaseDelivery, error) {
	switch phase.Action {
	case ActionWait:
		return nil, sleep(ctx, phase.duration())

	case ActionReplay:
		res, err := r.sender.Replay(ctx, phase.File, phase.transportProtocol(), r.addr(phase.transportProtocol()), transport.ReplayOptions{
			BatchSize: phase.BatchSize,
			Delay:     phase.delay(),
		})
		if err != nil {
			return nil, err
		}
		return []PhaseDelivery{{Phase: phase.Name, Protocol: "replay", Result: res}}, nil

	case ActionFixtures:
		msgs, err := r.fixtureBurst(phase)
		if err != nil {
			return nil, err
		}
		res, err := r.sender.Send(ctx, phase.transportProtocol(), r.addr(phase.transportProtocol()), msgs, transport.Options{Delay: phase.delay()})
		if err != nil {
			return nil, err
		}
		return []PhaseDelivery{{Phase: phase.Name, Protocol: "fixtures", Result: res}}, nil

	case ActionSend:
		return r.sendBursts(ctx, phase, gen, voyage)

	default:
		return nil, fmt.Errorf("unknown action %q", phase.Action)
	}
}

// sendBursts generates the phase's traffic up front, then delivers each
// protocol's batch on its own socket. Generation stays sequential so the
// seeded source keeps runs reproducible.
func (r *Runner) sendBursts(ctx context.Context, phase Phase, gen *traffic.Generator, voyage traffic.Voyage) ([]PhaseDelivery, error) {
	protocols := phase.protocols()
	batches := make([][]string, len(protocols))
	for i, proto := range protocols {
		switch proto {
		case ProtocolNMEA0183:
			batches[i] = gen.SentenceBurst(phase.Count, voyage)
		case ProtocolPGN:
			msgs, err := traffic.EncodeMessages(gen.MessageBurst(phase.Count, voyage))
			if err != nil {
				return nil, fmt.Errorf("encode %s burst: %w", proto, err)
			}
			batches[i] = msgs
		default:
			return nil, fmt.Errorf("unknown protocol %q", proto)
		}
	}

	deliveries := make([]PhaseDelivery, len(protocols))
	g, gctx := errgroup.WithContext(ctx)
	for i, proto := range protocols {
		g.Go(func() error {
			res, err := r.sender.Send(gctx, phase.transportProtocol(), r.addr(phase.transportProtocol()), batches[i], transport.Options{Delay: phase.delay()})
			if err != nil {
				return fmt.Errorf("deliver %s burst: %w", proto, err)
			}
			deliveries[i] = PhaseDelivery{Phase: phase.Name, Protocol: proto, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// fixtureBurst draws count sentences from the captured corpus, cycling a
// category view when one is requested.
func (r *Runner) fixtureBurst(phase Phase) ([]string, error) {
	if phase.Category == "" {
		return r.corpus.Burst(phase.Count)
	}

	lines, err := r.corpus.ByCategory(nmea.Category(phase.Category))
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no fixtures in category %q", phase.Category)
	}

	burst := make([]string, 0, phase.Count)
	for len(burst) < phase.Count {
		burst = append(burst, lines[len(burst)%len(lines)])
	}
	return burst, nil
}

func (r *Runner) addr(proto transport.Protocol) string {
	endpoints := r.orch.Endpoints()
	port := endpoints.TCPPort
	if proto == transport.ProtocolUDP {
		port = endpoints.UDPPort
	}
	return fmt.Sprintf("localhost:%d", port)
}

// saveArtifacts captures the raw instance logs and the run metadata. Failures
// are logged, never fatal; the verdict does not depend on archival.
func (r *Runner) saveArtifacts(ctx context.Context, report *Report) {
	if r.opts.Store == nil {
		return
	}

	meta := capture.RunMeta{
		RunID:      report.RunID,
		Scenario:   report.Scenario,
		StartedAt:  report.Started,
		FinishedAt: report.Finished,
		Passed:     report.Summary.Passed(),
		Errors:     report.Summary.TotalErrors,
		Warnings:   report.Summary.TotalWarnings,
	}

	w, err := r.opts.Store.Create(meta)
	if err != nil {
		r.logger.Warn("Could not create run artifacts", slog.Any("error", err))
		return
	}
	defer w.Close()

	lines, err := r.orch.Logs(ctx, 0)
	if err != nil {
		r.logger.Warn("Could not capture instance logs", slog.Any("error", err))
		return
	}
	if _, err := fmt.Fprintln(w, strings.Join(lines, "\n")); err != nil {
		r.logger.Warn("Could not write log capture", slog.Any("error", err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
