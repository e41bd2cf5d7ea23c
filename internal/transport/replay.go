package transport

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const defaultReplayBatchSize = 50

// ReplayOptions configures a capture-file replay.
type ReplayOptions struct {
	// BatchSize bounds how many lines are handed to one delivery call.
	// Defaults to 50.
	BatchSize int

	// Delay is the pause between consecutive messages within a batch.
	Delay time.Duration
}

// Replay streams a captured sentence file to the given endpoint. Lines not
// starting with a recognized sentence delimiter are skipped; the remainder is
// chunked into fixed-size batches, each delegated to the TCP or UDP
// primitive. Results are aggregated across batches with message indexes
// rebased onto the whole replay.
func (s *Sender) Replay(ctx context.Context, path string, proto Protocol, addr string, opts ReplayOptions) (Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultReplayBatchSize
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || (line[0] != '$' && line[0] != '!') {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("read capture file: %w", err)
	}

	s.logger.Info("Replaying capture file",
		slog.String("path", path),
		slog.Int("sentences", len(lines)),
		slog.String("proto", string(proto)),
		slog.String("addr", addr),
	)

	start := time.Now()
	total := Result{}
	for offset := 0; offset < len(lines); offset += opts.BatchSize {
		end := min(offset+opts.BatchSize, len(lines))

		batch, err := s.Send(ctx, proto, addr, lines[offset:end], Options{Delay: opts.Delay})
		total.Attempted += batch.Attempted
		total.Sent += batch.Sent
		for _, se := range batch.Errors {
			total.Errors = append(total.Errors, SendError{Index: offset + se.Index, Err: se.Err})
		}
		if err != nil {
			total.Elapsed = time.Since(start)
			return total, fmt.Errorf("replay batch starting at line %d: %w", offset, err)
		}
	}

	total.Elapsed = time.Since(start)
	return total, nil
}
