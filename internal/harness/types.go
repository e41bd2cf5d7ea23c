// Package harness orchestrates one disposable instance of the marine-data
// server under test: lifecycle control, readiness detection, diagnostics and
// log-classifier attachment.
package harness

import (
	"context"
	"time"

	"github.com/openmarine/seatrial/internal/triage"
)

// State is the lifecycle state of a managed instance.
type State string

const (
	StateAbsent   State = "absent"
	StateCreating State = "creating"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateKilled   State = "killed"
)

// PortBinding maps one host port onto one container port.
type PortBinding struct {
	HostPort      int
	ContainerPort int
	// Protocol is "tcp" or "udp"; empty means tcp.
	Protocol string
}

// HealthCheck configures the platform-side periodic probe of an instance.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// CreateSpec describes the instance to create.
type CreateSpec struct {
	Name   string
	Image  string
	Env    []string
	Binds  []string
	Ports  []PortBinding
	Health *HealthCheck
}

// InstanceInfo is the observed state of an instance.
type InstanceInfo struct {
	ID      string
	State   State
	Running bool
	Health  string
}

// Stats is one resource-usage sample of a running instance. CPUPercent is
// derived from two consecutive cumulative counters, not an instantaneous
// value.
type Stats struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryUsage   uint64
	MemoryLimit   uint64
}

// StreamLine is one demultiplexed, timestamp-stripped log line.
type StreamLine struct {
	Time   time.Time
	Stream triage.StreamType
	Text   string
}

// ContainerAPI is the container-platform surface the orchestrator needs.
// The production implementation lives in the docker package.
type ContainerAPI interface {
	// CreateContainer creates the instance and returns its platform ID.
	CreateContainer(ctx context.Context, spec CreateSpec) (string, error)

	// StartContainer starts a created instance.
	StartContainer(ctx context.Context, id string) error

	// StopContainer requests graceful termination, waiting at most
	// graceSeconds before the platform force-kills.
	StopContainer(ctx context.Context, id string, graceSeconds int) error

	// RestartContainer stop-then-starts the instance with the platform's
	// native restart primitive.
	RestartContainer(ctx context.Context, id string, graceSeconds int) error

	// KillContainer delivers a raw termination signal without grace.
	KillContainer(ctx context.Context, id, signal string) error

	// RemoveContainer removes the instance. Returns an error wrapping
	// [ErrInstanceNotFound] if it is already gone.
	RemoveContainer(ctx context.Context, id string, force bool) error

	// InspectContainer returns the instance's observed state.
	InspectContainer(ctx context.Context, nameOrID string) (InstanceInfo, error)

	// ContainerLogs returns up to tail lines of captured output,
	// demultiplexed into plain text.
	ContainerLogs(ctx context.Context, id string, tail int) ([]string, error)

	// FollowContainerLogs streams demultiplexed log lines until the
	// context is cancelled or the stream closes. Stream failures arrive
	// on the error channel; both channels close when the stream ends.
	FollowContainerLogs(ctx context.Context, id string) (<-chan StreamLine, <-chan error, error)

	// ContainerStats returns one resource-usage sample.
	ContainerStats(ctx context.Context, id string) (Stats, error)
}
