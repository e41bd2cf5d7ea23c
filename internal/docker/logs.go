package docker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/client"

	"github.com/openmarine/seatrial/internal/harness"
	"github.com/openmarine/seatrial/internal/triage"
)

// The platform multiplexes stdout and stderr into one byte stream using
// 8-byte frame headers: one stream-type tag byte, three zero bytes, and a
// big-endian payload length.
const (
	frameHeaderLen = 8

	// maxFramePayload bounds a declared frame length in follow mode, where
	// no buffer end exists to validate against. The daemon frames
	// individual writes, so anything near this size is a corrupt header.
	maxFramePayload = 1 << 20
)

// Frame is one demultiplexed unit of the log stream. Raw marks trailing
// bytes that could not be parsed as a well-formed frame; they are common at
// stream close and are surfaced as unframed stdout text rather than
// an error.
type Frame struct {
	Stream  triage.StreamType
	Payload []byte
	Raw     bool
}

// DemuxBuffer splits a fully captured multiplexed buffer into frames. Any
// invalid header (unknown tag, zero or out-of-bounds length) turns the
// remainder of the buffer into a single raw frame; demultiplexing never
// fails.
func DemuxBuffer(buf []byte) []Frame {
	var frames []Frame
	for len(buf) > 0 {
		if len(buf) < frameHeaderLen {
			frames = append(frames, Frame{Stream: triage.StreamStdout, Payload: buf, Raw: true})
			return frames
		}

		stream, size, ok := parseFrameHeader(buf[:frameHeaderLen])
		if !ok || int(size) > len(buf)-frameHeaderLen {
			frames = append(frames, Frame{Stream: triage.StreamStdout, Payload: buf, Raw: true})
			return frames
		}

		frames = append(frames, Frame{
			Stream:  stream,
			Payload: buf[frameHeaderLen : frameHeaderLen+int(size)],
		})
		buf = buf[frameHeaderLen+int(size):]
	}
	return frames
}

// parseFrameHeader decodes an 8-byte frame header. A header is valid only
// when the tag byte is a known stream, the padding bytes are zero and the
// declared length is non-zero.
func parseFrameHeader(header []byte) (triage.StreamType, uint32, bool) {
	if header[1] != 0 || header[2] != 0 || header[3] != 0 {
		return "", 0, false
	}

	var stream triage.StreamType
	switch header[0] {
	case 0, 1: // stdin is never produced but tolerated as stdout
		stream = triage.StreamStdout
	case 2:
		stream = triage.StreamStderr
	default:
		return "", 0, false
	}

	size := binary.BigEndian.Uint32(header[4:])
	if size == 0 {
		return "", 0, false
	}
	return stream, size, true
}

// splitFrameLines splits a frame payload into trimmed text lines.
func splitFrameLines(payload []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// FollowContainerLogs attaches to the instance's combined output stream and
// emits demultiplexed lines until the context is cancelled or the stream
// closes. Attaching to a created-but-not-started instance is valid and is
// how boot-time lines are captured.
func (c *Client) FollowContainerLogs(ctx context.Context, id string) (<-chan harness.StreamLine, <-chan error, error) {
	r, err := c.api.ContainerLogs(ctx, id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil, fmt.Errorf("follow container logs: %w", harness.ErrInstanceNotFound)
		}
		return nil, nil, fmt.Errorf("follow container logs: %w", err)
	}

	lineCh := make(chan harness.StreamLine, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(lineCh)
		defer close(errCh)
		defer r.Close()

		emit := func(line harness.StreamLine) {
			select {
			case lineCh <- line:
			case <-ctx.Done():
			}
		}
		outW := newLineWriter(triage.StreamStdout, emit)
		errW := newLineWriter(triage.StreamStderr, emit)

		err := demuxStream(r, outW, errW)
		// Flush partially assembled lines before reporting anything.
		_ = outW.Close()
		_ = errW.Close()

		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	return lineCh, errCh, nil
}

// demuxStream reads frames from r and routes payloads to the per-stream
// writers. A malformed header downgrades the remainder of the stream to raw
// stdout text, mirroring [DemuxBuffer].
func demuxStream(r io.Reader, outW, errW io.Writer) error {
	header := make([]byte, frameHeaderLen)
	for {
		n, err := io.ReadFull(r, header)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			_, _ = outW.Write(header[:n])
			return nil
		}
		if err != nil {
			return err
		}

		stream, size, ok := parseFrameHeader(header)
		if !ok || size > maxFramePayload {
			_, _ = outW.Write(header)
			_, _ = io.Copy(outW, r)
			return nil
		}

		w := outW
		if stream == triage.StreamStderr {
			w = errW
		}
		if _, err := io.CopyN(w, r, int64(size)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
	}
}

// lineWriter accumulates stream payload bytes and emits one [harness.StreamLine]
// per completed line, stripping the timestamp prefix the platform prepends.
type lineWriter struct {
	stream triage.StreamType
	emit   func(harness.StreamLine)
	buf    bytes.Buffer
}

func newLineWriter(stream triage.StreamType, emit func(harness.StreamLine)) *lineWriter {
	return &lineWriter{stream: stream, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if err != nil {
		return n, err
	}

	for {
		data := w.buf.Bytes()
		nlIdx := bytes.IndexByte(data, '\n')
		// Wait for more writes to complete the line.
		if nlIdx == -1 {
			break
		}

		line := append([]byte(nil), data[:nlIdx+1]...)
		w.buf.Next(nlIdx + 1)
		w.emitLine(line)
	}

	return n, nil
}

func (w *lineWriter) emitLine(line []byte) {
	var ts time.Time
	if sepIdx := bytes.IndexByte(line, ' '); sepIdx > 0 {
		if parsed, err := time.Parse(time.RFC3339Nano, string(line[:sepIdx])); err == nil {
			ts = parsed
			line = line[sepIdx+1:]
		}
	}

	w.emit(harness.StreamLine{
		Time:   ts,
		Stream: w.stream,
		Text:   strings.TrimRight(string(line), "\r\n"),
	})
}

// Close flushes any partially assembled trailing line.
func (w *lineWriter) Close() error {
	if w.buf.Len() > 0 {
		w.emitLine(append([]byte(nil), w.buf.Bytes()...))
		w.buf.Reset()
	}
	return nil
}
