// Package transport delivers generated messages to a server instance's raw
// TCP/UDP endpoints with configurable pacing, reporting partial failure
// without aborting the whole batch.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"
)

// Protocol selects the delivery transport.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Options configures a single delivery call.
type Options struct {
	// Delay is the pause inserted between consecutive messages.
	// Zero means no pacing.
	Delay time.Duration
}

// SendError records a delivery failure for one message of a batch.
type SendError struct {
	// Index is the position of the failed message within the batch.
	Index int

	// Err is the underlying write error.
	Err error
}

func (e SendError) Error() string {
	return fmt.Sprintf("message %d: %v", e.Index, e.Err)
}

// Result summarizes one delivery call. Per-message errors are collected as
// data for assertion rather than thrown.
type Result struct {
	Attempted int
	Sent      int
	Errors    []SendError
	Elapsed   time.Duration
}

// Sender delivers message batches over independent sockets. Concurrent calls
// are safe; each call owns its own connection.
type Sender struct {
	dialer net.Dialer
	logger *slog.Logger
}

// NewSender returns a Sender logging delivery progress to the given logger.
func NewSender(logger *slog.Logger) *Sender {
	return &Sender{logger: logger}
}

// TCP delivers the messages over one TCP connection, CRLF-terminated, with
// optional pacing between writes. A failed dial is fatal for the whole call;
// a mid-batch write failure is recorded per message and later messages are
// still attempted unless the connection itself is down.
func (s *Sender) TCP(ctx context.Context, addr string, messages []string, opts Options) (Result, error) {
	res := Result{Attempted: len(messages)}
	start := time.Now()

	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("dial tcp %s: %w", addr, err)
	}
	defer conn.Close()

	for i, msg := range messages {
		if i > 0 && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				res.Elapsed = time.Since(start)
				return res, err
			}
		}

		if _, err := conn.Write([]byte(msg + "\r\n")); err != nil {
			res.Errors = append(res.Errors, SendError{Index: i, Err: err})
			if connectionDown(err) {
				s.logger.Warn("TCP connection dropped mid-batch",
					slog.String("addr", addr),
					slog.Int("sent", res.Sent),
					slog.Any("error", err),
				)
				break
			}
			continue
		}
		res.Sent++
	}

	res.Elapsed = time.Since(start)
	s.logger.Debug("TCP batch delivered",
		slog.String("addr", addr),
		slog.Int("attempted", res.Attempted),
		slog.Int("sent", res.Sent),
	)
	return res, nil
}

// UDP delivers each message as one datagram with the same pacing semantics
// as [Sender.TCP]. The socket is closed after the batch.
func (s *Sender) UDP(ctx context.Context, addr string, messages []string, opts Options) (Result, error) {
	res := Result{Attempted: len(messages)}
	start := time.Now()

	conn, err := s.dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("dial udp %s: %w", addr, err)
	}
	defer conn.Close()

	for i, msg := range messages {
		if i > 0 && opts.Delay > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				res.Elapsed = time.Since(start)
				return res, err
			}
		}

		if _, err := conn.Write([]byte(msg + "\n")); err != nil {
			res.Errors = append(res.Errors, SendError{Index: i, Err: err})
			continue
		}
		res.Sent++
	}

	res.Elapsed = time.Since(start)
	s.logger.Debug("UDP batch delivered",
		slog.String("addr", addr),
		slog.Int("attempted", res.Attempted),
		slog.Int("sent", res.Sent),
	)
	return res, nil
}

// Send dispatches to TCP or UDP delivery depending on the protocol.
func (s *Sender) Send(ctx context.Context, proto Protocol, addr string, messages []string, opts Options) (Result, error) {
	switch proto {
	case ProtocolTCP:
		return s.TCP(ctx, addr, messages, opts)
	case ProtocolUDP:
		return s.UDP(ctx, addr, messages, opts)
	default:
		return Result{}, fmt.Errorf("unknown protocol %q", proto)
	}
}

func connectionDown(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
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
