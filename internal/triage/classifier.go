// Package triage continuously classifies a server's interleaved stdout and
// stderr lines into actionable severity buckets, scoped to caller-declared
// test phases.
package triage

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// StreamType identifies the origin stream of a log line.
type StreamType string

const (
	StreamStdout StreamType = "stdout"
	StreamStderr StreamType = "stderr"
)

// Classification is the severity assigned to a line.
type Classification string

const (
	ClassificationNone    Classification = ""
	ClassificationError   Classification = "error"
	ClassificationWarning Classification = "warning"
)

// Line is one immutable classified log record.
type Line struct {
	Timestamp      time.Time      `json:"timestamp"`
	Stream         StreamType     `json:"stream"`
	Text           string         `json:"text"`
	Phase          string         `json:"phase"`
	Classification Classification `json:"classification,omitempty"`
	Pattern        string         `json:"pattern,omitempty"`
}

// EventKind discriminates classifier notifications.
type EventKind string

const (
	EventError       EventKind = "error"
	EventWarning     EventKind = "warning"
	EventStreamError EventKind = "stream-error"
)

// Event is a classifier notification delivered to the registered callback.
// Stream failures are surfaced this way rather than as errors so they never
// unwind a caller mid-test.
type Event struct {
	Kind EventKind
	Line Line
	Err  error
}

// DefaultPhase is the phase attributed to lines observed before the caller
// declares one; the classifier is attached before the instance starts, so
// boot output lands here.
const DefaultPhase = "startup"

const defaultRingSize = 1000

// Options configures a Classifier.
type Options struct {
	// RingSize bounds the global raw-line buffer. Defaults to 1000.
	RingSize int

	// Patterns is the triage rule table. Defaults to [DefaultPatterns].
	Patterns *PatternSet

	// OnEvent, if set, is invoked for every error/warning classification
	// and for stream failures. It is called outside the classifier lock
	// but sequentially with respect to line processing.
	OnEvent func(Event)
}

type bucket struct {
	lines    []Line
	errors   []Line
	warnings []Line
}

// Classifier triages an unbounded line stream. Process never blocks on I/O
// and never fails: a malformed line is simply retained unclassified.
type Classifier struct {
	logger  *slog.Logger
	onEvent func(Event)

	mu         sync.Mutex
	patterns   PatternSet
	ring       *ring
	phases     map[string]*bucket
	phaseOrder []string
	current    string
	errors     []Line
	warnings   []Line
	firstError *Line
}

// New returns a Classifier with the given options.
func New(logger *slog.Logger, opts Options) *Classifier {
	if opts.RingSize <= 0 {
		opts.RingSize = defaultRingSize
	}
	patterns := DefaultPatterns()
	if opts.Patterns != nil {
		patterns = *opts.Patterns
	}

	c := &Classifier{
		logger:   logger,
		onEvent:  opts.OnEvent,
		patterns: patterns,
		ring:     newRing(opts.RingSize),
		phases:   map[string]*bucket{},
	}
	c.setPhaseLocked(DefaultPhase)
	return c
}

// SetPhase switches the current phase, lazily initializing buckets for a
// first-seen name. Attribution is by phase value observed at the moment a
// line is read, not by causality: a previous phase's trailing output can
// land in the next phase if the caller advances faster than the log pipe
// drains. That imprecision is inherent to the design; callers should insert
// a settle delay before switching when it matters.
func (c *Classifier) SetPhase(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPhaseLocked(name)
}

func (c *Classifier) setPhaseLocked(name string) {
	if _, ok := c.phases[name]; !ok {
		c.phases[name] = &bucket{}
		c.phaseOrder = append(c.phaseOrder, name)
	}
	c.current = name
}

// Process triages one fully-framed log line and returns the classified
// record. It must not block: it runs synchronously on the log stream's
// read path.
func (c *Classifier) Process(text string, stream StreamType) Line {
	// Blank lines are dropped before any other step.
	if strings.TrimSpace(text) == "" {
		return Line{}
	}

	line, event := c.classify(text, stream)
	if event != nil && c.onEvent != nil {
		c.onEvent(*event)
	}
	return line
}

func (c *Classifier) classify(text string, stream StreamType) (Line, *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := Line{
		Timestamp: time.Now(),
		Stream:    stream,
		Text:      text,
		Phase:     c.current,
	}

	// Raw retention happens unconditionally so post-hoc debugging of a
	// phase never loses context, even for ignored lines.
	phase := c.phases[c.current]
	defer func() {
		c.ring.append(line)
		phase.lines = append(phase.lines, line)
	}()

	for _, m := range c.patterns.Ignore {
		if m.Matches(text) {
			return line, nil
		}
	}

	for _, m := range c.patterns.Critical {
		if m.Matches(text) {
			line.Classification = ClassificationError
			line.Pattern = m.Name
			c.errors = append(c.errors, line)
			phase.errors = append(phase.errors, line)
			if c.firstError == nil {
				first := line
				c.firstError = &first
			}
			return line, &Event{Kind: EventError, Line: line}
		}
	}

	for _, m := range c.patterns.Warning {
		if m.Matches(text) {
			line.Classification = ClassificationWarning
			line.Pattern = m.Name
			c.warnings = append(c.warnings, line)
			phase.warnings = append(phase.warnings, line)
			return line, &Event{Kind: EventWarning, Line: line}
		}
	}

	return line, nil
}

// StreamError surfaces a failure of the underlying log stream as an event.
func (c *Classifier) StreamError(err error) {
	c.logger.Error("Log stream failed", slog.Any("error", err))
	if c.onEvent != nil {
		c.onEvent(Event{Kind: EventStreamError, Err: err})
	}
}

// PhaseErrors returns the error lines attributed to the phase. A never-seen
// phase yields an empty slice, not an error.
func (c *Classifier) PhaseErrors(phase string) []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.phases[phase]; ok {
		return append([]Line(nil), b.errors...)
	}
	return nil
}

// PhaseWarnings returns the warning lines attributed to the phase.
func (c *Classifier) PhaseWarnings(phase string) []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.phases[phase]; ok {
		return append([]Line(nil), b.warnings...)
	}
	return nil
}

// PhaseReport returns everything recorded for one phase.
func (c *Classifier) PhaseReport(phase string) PhaseReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := PhaseReport{Phase: phase}
	if b, ok := c.phases[phase]; ok {
		report.Lines = append([]Line(nil), b.lines...)
		report.Errors = append([]Line(nil), b.errors...)
		report.Warnings = append([]Line(nil), b.warnings...)
	}
	return report
}

// RecentLines returns the retained tail of the raw line stream, oldest
// first.
func (c *Classifier) RecentLines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.snapshot()
}

// Summary aggregates classification counts across all phases. An empty
// FailedPhases list is the release go signal.
func (c *Classifier) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		TotalErrors:   len(c.errors),
		TotalWarnings: len(c.warnings),
		FirstError:    c.firstError,
	}
	for _, name := range c.phaseOrder {
		b := c.phases[name]
		s.TotalLines += len(b.lines)
		s.Phases = append(s.Phases, PhaseSummary{
			Name:     name,
			Lines:    len(b.lines),
			Errors:   len(b.errors),
			Warnings: len(b.warnings),
		})
		if len(b.errors) > 0 {
			s.FailedPhases = append(s.FailedPhases, name)
		}
	}
	return s
}
