// Package docker adapts the Docker Engine API client to the harness domain.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/openmarine/seatrial/internal/harness"
)

// Client implements [harness.ContainerAPI] on top of the Docker Engine API.
type Client struct {
	api *client.Client
}

// NewClient returns a new [Client] wrapping the given Docker Engine API
// client.
func NewClient(api *client.Client) *Client {
	return &Client{api: api}
}

// NewEnvClient builds a Docker Engine API client from the environment and
// wraps it.
func NewEnvClient() (*Client, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("new Docker Engine API client: %w", err)
	}
	return NewClient(api), nil
}

// CreateContainer creates the instance with explicit port bindings, bind
// mounts and an optional platform health probe.
func (c *Client) CreateContainer(ctx context.Context, spec harness.CreateSpec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, pb := range spec.Ports {
		proto := pb.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(pb.ContainerPort))
		if err != nil {
			return "", fmt.Errorf("port binding %d/%s: %w", pb.ContainerPort, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(pb.HostPort),
		})
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}
	if spec.Health != nil {
		cfg.Healthcheck = &container.HealthConfig{
			Test:        spec.Health.Test,
			Interval:    spec.Health.Interval,
			Timeout:     spec.Health.Timeout,
			StartPeriod: spec.Health.StartPeriod,
			Retries:     spec.Health.Retries,
		}
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        spec.Binds,
	}

	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// StartContainer starts a created instance.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.api.ContainerStart(ctx, id, client.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

// StopContainer requests graceful termination with the given grace period.
func (c *Client) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	err := c.api.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &graceSeconds})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("stop container: %w", harness.ErrInstanceNotFound)
		}
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// RestartContainer restarts the instance via the platform's native restart.
func (c *Client) RestartContainer(ctx context.Context, id string, graceSeconds int) error {
	err := c.api.ContainerRestart(ctx, id, client.ContainerStopOptions{Timeout: &graceSeconds})
	if err != nil {
		return fmt.Errorf("restart container: %w", err)
	}
	return nil
}

// KillContainer delivers a raw signal to the instance.
func (c *Client) KillContainer(ctx context.Context, id, signal string) error {
	if err := c.api.ContainerKill(ctx, id, signal); err != nil {
		return fmt.Errorf("kill container: %w", err)
	}
	return nil
}

// RemoveContainer removes the instance, returning an error wrapping
// [harness.ErrInstanceNotFound] when it is already gone.
func (c *Client) RemoveContainer(ctx context.Context, id string, force bool) error {
	err := c.api.ContainerRemove(ctx, id, client.ContainerRemoveOptions{Force: force})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("remove container: %w", harness.ErrInstanceNotFound)
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// InspectContainer returns the observed state of the instance.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (harness.InstanceInfo, error) {
	info, err := c.api.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return harness.InstanceInfo{State: harness.StateAbsent},
				fmt.Errorf("inspect container: %w", harness.ErrInstanceNotFound)
		}
		return harness.InstanceInfo{}, fmt.Errorf("inspect container: %w", err)
	}

	res := harness.InstanceInfo{ID: info.ID}
	if info.State != nil {
		res.State = harness.State(info.State.Status)
		res.Running = info.State.Running
		if info.State.Health != nil {
			res.Health = string(info.State.Health.Status)
		}
	}
	return res, nil
}

// ContainerStats returns one resource-usage sample. The platform reports the
// current and the previous cumulative CPU counters in a single sample, which
// is the two-sample delta the percentage derivation requires.
func (c *Client) ContainerStats(ctx context.Context, id string) (harness.Stats, error) {
	resp, err := c.api.ContainerStats(ctx, id, false)
	if err != nil {
		return harness.Stats{}, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var sample container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return harness.Stats{}, fmt.Errorf("decode stats sample: %w", err)
	}
	return computeStats(sample), nil
}

// computeStats derives usage percentages from a raw stats sample:
// CPU% = Δcpu_usage / Δsystem_usage × online_cpu_count × 100,
// Mem% = usage / limit × 100.
func computeStats(sample container.StatsResponse) harness.Stats {
	stats := harness.Stats{
		MemoryUsage: sample.MemoryStats.Usage,
		MemoryLimit: sample.MemoryStats.Limit,
	}

	cpuDelta := float64(sample.CPUStats.CPUUsage.TotalUsage) - float64(sample.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(sample.CPUStats.SystemUsage) - float64(sample.PreCPUStats.SystemUsage)
	onlineCPUs := float64(sample.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(sample.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 {
		stats.CPUPercent = cpuDelta / systemDelta * onlineCPUs * 100
	}

	if stats.MemoryLimit > 0 {
		stats.MemoryPercent = float64(stats.MemoryUsage) / float64(stats.MemoryLimit) * 100
	}
	return stats
}

// ContainerLogs returns up to tail lines of captured output as plain text.
// The retrieval is bounded so a wedged daemon cannot hang diagnostics.
func (c *Client) ContainerLogs(ctx context.Context, id string, tail int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}

	r, err := c.api.ContainerLogs(ctx, id, opts)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container logs: %w", harness.ErrInstanceNotFound)
		}
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer r.Close()

	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read container logs: %w", err)
	}

	var lines []string
	for _, frame := range DemuxBuffer(buf) {
		lines = append(lines, splitFrameLines(frame.Payload)...)
	}
	return lines, nil
}
