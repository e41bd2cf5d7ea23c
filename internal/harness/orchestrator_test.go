package harness_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/openmarine/seatrial/internal/harness"
	"github.com/openmarine/seatrial/internal/triage"
)

type fakeContainerAPI struct {
	mu    sync.Mutex
	calls []string

	createSpec harness.CreateSpec
	createErr  error

	inspectInfo harness.InstanceInfo
	inspectErr  error

	removeByNameErr error
	removedForce    []bool

	killSignal string
	stopGrace  []int

	logLines []string

	lines chan harness.StreamLine
	errs  chan error
}

func (f *fakeContainerAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeContainerAPI) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeContainerAPI) CreateContainer(ctx context.Context, spec harness.CreateSpec) (string, error) {
	f.record("create")
	f.mu.Lock()
	f.createSpec = spec
	f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	return "cid-123", nil
}

func (f *fakeContainerAPI) StartContainer(ctx context.Context, id string) error {
	f.record("start")
	return nil
}

func (f *fakeContainerAPI) StopContainer(ctx context.Context, id string, graceSeconds int) error {
	f.record("stop")
	f.mu.Lock()
	f.stopGrace = append(f.stopGrace, graceSeconds)
	f.mu.Unlock()
	return nil
}

func (f *fakeContainerAPI) RestartContainer(ctx context.Context, id string, graceSeconds int) error {
	f.record("restart")
	return nil
}

func (f *fakeContainerAPI) KillContainer(ctx context.Context, id, signal string) error {
	f.record("kill")
	f.mu.Lock()
	f.killSignal = signal
	f.mu.Unlock()
	return nil
}

func (f *fakeContainerAPI) RemoveContainer(ctx context.Context, id string, force bool) error {
	f.record("remove")
	f.mu.Lock()
	f.removedForce = append(f.removedForce, force)
	f.mu.Unlock()
	if id != "cid-123" && f.removeByNameErr != nil {
		return f.removeByNameErr
	}
	return nil
}

func (f *fakeContainerAPI) InspectContainer(ctx context.Context, nameOrID string) (harness.InstanceInfo, error) {
	f.record("inspect")
	if f.inspectErr != nil {
		return harness.InstanceInfo{}, f.inspectErr
	}
	return f.inspectInfo, nil
}

func (f *fakeContainerAPI) ContainerLogs(ctx context.Context, id string, tail int) ([]string, error) {
	f.record("logs")
	return f.logLines, nil
}

func (f *fakeContainerAPI) FollowContainerLogs(ctx context.Context, id string) (<-chan harness.StreamLine, <-chan error, error) {
	f.record("follow")
	lines := make(chan harness.StreamLine)
	errs := make(chan error)
	f.mu.Lock()
	f.lines = lines
	f.errs = errs
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		close(lines)
		close(errs)
	}()
	return lines, errs, nil
}

func (f *fakeContainerAPI) ContainerStats(ctx context.Context, id string) (harness.Stats, error) {
	f.record("stats")
	return harness.Stats{CPUPercent: 12.5, MemoryPercent: 40, MemoryUsage: 512, MemoryLimit: 1280}, nil
}

// discoveryServer serves the discovery document, advertising endpoints only
// from the readyAfter'th request on.
func discoveryServer(t *testing.T, readyAfter int) (*httptest.Server, *int, int) {
	t.Helper()

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		endpoints := map[string]any{}
		if requests >= readyAfter {
			endpoints["v1"] = map[string]any{"version": "2.0.0"}
		}
		json.NewEncoder(w).Encode(map[string]any{"endpoints": endpoints})
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return srv, &requests, port
}

func newTestOrchestrator(t *testing.T, api harness.ContainerAPI, cfg harness.Config) (*harness.Orchestrator, *triage.Classifier) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	classifier := triage.New(logger, triage.Options{})
	cfg.Image = "signalk/signalk-server:latest"
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 2 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return harness.New(api, classifier, logger, cfg), classifier
}

func TestStartBecomesReadyAfterSecondProbe(t *testing.T) {
	_, requests, port := discoveryServer(t, 2)
	api := &fakeContainerAPI{}
	o, _ := newTestOrchestrator(t, api, harness.Config{HTTPPort: port})

	begin := time.Now()
	endpoints, err := o.Start(t.Context())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got, want := o.State(), harness.StateRunning; got != want {
		t.Errorf("state = %q, want %q", got, want)
	}
	if *requests < 2 {
		t.Errorf("discovery probed %d times, want at least 2", *requests)
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Errorf("readiness took %s, should return well before the budget", elapsed)
	}

	if got, want := endpoints.BaseURL, fmt.Sprintf("http://localhost:%d", port); got != want {
		t.Errorf("BaseURL = %q, want %q", got, want)
	}
	if got, want := endpoints.WSURL, fmt.Sprintf("ws://localhost:%d/signalk/v1/stream", port); got != want {
		t.Errorf("WSURL = %q, want %q", got, want)
	}
	if got, want := endpoints.TCPPort, 10110; got != want {
		t.Errorf("TCPPort = %d, want %d", got, want)
	}
}

func TestStartAttachesLogStreamBeforeStarting(t *testing.T) {
	_, _, port := discoveryServer(t, 1)
	api := &fakeContainerAPI{}
	o, _ := newTestOrchestrator(t, api, harness.Config{HTTPPort: port})

	if _, err := o.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	calls := api.recorded()
	followIdx := slices.Index(calls, "follow")
	startIdx := slices.Index(calls, "start")
	if followIdx == -1 || startIdx == -1 || followIdx > startIdx {
		t.Errorf("call order %v: log stream must attach before start", calls)
	}
}

func TestStartCreateSpec(t *testing.T) {
	_, _, port := discoveryServer(t, 1)
	api := &fakeContainerAPI{}
	o, _ := newTestOrchestrator(t, api, harness.Config{HTTPPort: port})

	if _, err := o.Start(t.Context(), "DEBUG=signalk*"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	spec := api.createSpec
	if got, want := spec.Image, "signalk/signalk-server:latest"; got != want {
		t.Errorf("image = %q, want %q", got, want)
	}
	if !slices.Contains(spec.Env, "DEBUG=signalk*") {
		t.Errorf("env %v missing override", spec.Env)
	}
	if got, want := len(spec.Ports), 4; got != want {
		t.Fatalf("got %d port bindings, want %d", got, want)
	}
	var udp int
	for _, p := range spec.Ports {
		if p.Protocol == "udp" {
			udp++
		}
	}
	if udp != 1 {
		t.Errorf("got %d udp bindings, want 1", udp)
	}
	if spec.Health == nil {
		t.Fatal("health probe not configured")
	}
	if got, want := spec.Health.Interval, 5*time.Second; got != want {
		t.Errorf("health interval = %s, want %s", got, want)
	}
	if got, want := spec.Health.Retries, 12; got != want {
		t.Errorf("health retries = %d, want %d", got, want)
	}
	if got, want := spec.Health.StartPeriod, 30*time.Second; got != want {
		t.Errorf("health start period = %s, want %s", got, want)
	}
}

func TestStartIgnoresMissingStaleInstance(t *testing.T) {
	_, _, port := discoveryServer(t, 1)
	api := &fakeContainerAPI{
		removeByNameErr: fmt.Errorf("remove: %w", harness.ErrInstanceNotFound),
	}
	o, _ := newTestOrchestrator(t, api, harness.Config{HTTPPort: port})

	if _, err := o.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestStartTimeout(t *testing.T) {
	_, _, port := discoveryServer(t, 1000)
	api := &fakeContainerAPI{
		inspectInfo: harness.InstanceInfo{ID: "cid-123", State: harness.StateCreating},
		logLines:    []string{"booting", "still booting"},
	}
	o, _ := newTestOrchestrator(t, api, harness.Config{
		HTTPPort:     port,
		StartTimeout: 100 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})

	_, err := o.Start(t.Context())
	defer o.Remove(t.Context(), false)

	var timeoutErr *harness.StartupTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got %v, want StartupTimeoutError", err)
	}
	if got, want := timeoutErr.LastState, harness.StateCreating; got != want {
		t.Errorf("LastState = %q, want %q", got, want)
	}
	if got, want := timeoutErr.LogTail, []string{"booting", "still booting"}; !slices.Equal(got, want) {
		t.Errorf("LogTail = %q, want %q", got, want)
	}
}

func TestStartFeedsClassifier(t *testing.T) {
	_, _, port := discoveryServer(t, 1)
	api := &fakeContainerAPI{}
	o, classifier := newTestOrchestrator(t, api, harness.Config{HTTPPort: port})

	if _, err := o.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	api.lines <- harness.StreamLine{Stream: triage.StreamStderr, Text: "ERROR: no provider"}

	deadline := time.Now().Add(time.Second)
	for classifier.Summary().TotalErrors == 0 {
		if time.Now().After(deadline) {
			t.Fatal("classifier never observed the streamed line")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := o.Remove(t.Context(), false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestStopOnlyWhenRunning(t *testing.T) {
	tests := []struct {
		name     string
		info     harness.InstanceInfo
		wantStop bool
	}{
		{
			name:     "running instance is stopped",
			info:     harness.InstanceInfo{ID: "cid-123", State: harness.StateRunning, Running: true},
			wantStop: true,
		},
		{
			name:     "stopped instance is left alone",
			info:     harness.InstanceInfo{ID: "cid-123", State: harness.StateStopped},
			wantStop: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeContainerAPI{inspectInfo: tt.info}
			o, _ := newTestOrchestrator(t, api, harness.Config{})

			if err := o.Stop(t.Context(), 10); err != nil {
				t.Fatalf("Stop: %v", err)
			}

			stopped := slices.Contains(api.recorded(), "stop")
			if stopped != tt.wantStop {
				t.Errorf("stop called = %t, want %t", stopped, tt.wantStop)
			}
		})
	}
}

func TestKillDefaultsToSIGKILL(t *testing.T) {
	api := &fakeContainerAPI{}
	o, _ := newTestOrchestrator(t, api, harness.Config{})

	if err := o.Kill(t.Context(), ""); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	if got, want := api.killSignal, "SIGKILL"; got != want {
		t.Errorf("signal = %q, want %q", got, want)
	}
	if got, want := o.State(), harness.StateKilled; got != want {
		t.Errorf("state = %q, want %q", got, want)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	_, _, port := discoveryServer(t, 1)
	api := &fakeContainerAPI{}
	o, _ := newTestOrchestrator(t, api, harness.Config{HTTPPort: port})

	if _, err := o.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := o.Remove(t.Context(), false); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := o.Remove(t.Context(), false); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if got, want := o.State(), harness.StateAbsent; got != want {
		t.Errorf("state = %q, want %q", got, want)
	}
}

func TestRemoveCleansWorkDir(t *testing.T) {
	_, _, port := discoveryServer(t, 1)
	api := &fakeContainerAPI{}
	workDir := filepath.Join(t.TempDir(), "instance")
	o, _ := newTestOrchestrator(t, api, harness.Config{HTTPPort: port, WorkDir: workDir})

	if err := o.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := o.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := o.Remove(t.Context(), true); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := os.Stat(workDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("working directory still exists after cleanup remove")
	}
}

func TestPrepareWritesWorldWritableConfig(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "instance")
	o, _ := newTestOrchestrator(t, &fakeContainerAPI{}, harness.Config{
		WorkDir: workDir,
		TCPPort: 10110,
		UDPPort: 10111,
	})

	if err := o.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	for _, name := range []string{"settings.json", "package.json"} {
		path := filepath.Join(workDir, name)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if got, want := info.Mode().Perm(), os.FileMode(0o666); got != want {
			t.Errorf("%s permissions = %v, want %v", name, got, want)
		}
	}

	data, err := os.ReadFile(filepath.Join(workDir, "settings.json"))
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	var settings struct {
		Interfaces     map[string]bool `json:"interfaces"`
		PipedProviders []struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
		} `json:"pipedProviders"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if len(settings.Interfaces) == 0 {
		t.Error("no interfaces declared in settings")
	}
	if got, want := len(settings.PipedProviders), 2; got != want {
		t.Fatalf("got %d piped providers, want %d", got, want)
	}
	for _, p := range settings.PipedProviders {
		if !p.Enabled {
			t.Errorf("provider %s not enabled", p.ID)
		}
	}
}

func TestRestartWaitsForReadiness(t *testing.T) {
	_, requests, port := discoveryServer(t, 1)
	api := &fakeContainerAPI{}
	o, _ := newTestOrchestrator(t, api, harness.Config{HTTPPort: port})

	if _, err := o.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	probesAfterStart := *requests

	if err := o.Restart(t.Context(), 10); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	if !slices.Contains(api.recorded(), "restart") {
		t.Error("platform restart primitive never called")
	}
	if *requests <= probesAfterStart {
		t.Error("restart did not re-poll readiness")
	}
	if got, want := o.State(), harness.StateRunning; got != want {
		t.Errorf("state = %q, want %q", got, want)
	}
}
