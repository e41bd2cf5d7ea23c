package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/openmarine/seatrial/internal/triage"
)

const (
	defaultHTTPPort  = 3000
	defaultHTTPSPort = 3443
	defaultTCPPort   = 10110
	defaultUDPPort   = 10111

	defaultDiscoveryPath = "/signalk"
	defaultStartTimeout  = 60 * time.Second
	defaultPollInterval  = time.Second

	// Grace given to a best-effort stop during Remove.
	removeStopGraceSeconds = 5

	// Platform-side health probe parameters.
	healthInterval    = 5 * time.Second
	healthTimeout     = 3 * time.Second
	healthStartPeriod = 30 * time.Second
	healthRetries     = 12

	logTailLines = 20

	containerSettingsDir = "/home/node/.signalk"
)

// Config configures an [Orchestrator]. The zero value of every field except
// Image is usable; New fills in defaults.
type Config struct {
	// Image is the server image reference to run. Required.
	Image string

	// Name identifies the instance. Defaults to seatrial-<8 hex chars>.
	Name string

	// WorkDir holds the generated configuration and is bind-mounted into
	// the instance. Defaults to a directory under os.TempDir.
	WorkDir string

	// Env is appended to the instance environment on every start.
	Env []string

	HTTPPort  int
	HTTPSPort int
	TCPPort   int
	UDPPort   int

	// DiscoveryPath is the HTTP path polled for readiness.
	DiscoveryPath string

	// StartTimeout bounds the readiness wait after start and restart.
	StartTimeout time.Duration

	// PollInterval is the readiness poll cadence.
	PollInterval time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Name == "" {
		cfg.Name = "seatrial-" + uuid.NewString()[:8]
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = fmt.Sprintf("%s/%s", os.TempDir(), cfg.Name)
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = defaultHTTPPort
	}
	if cfg.HTTPSPort == 0 {
		cfg.HTTPSPort = defaultHTTPSPort
	}
	if cfg.TCPPort == 0 {
		cfg.TCPPort = defaultTCPPort
	}
	if cfg.UDPPort == 0 {
		cfg.UDPPort = defaultUDPPort
	}
	if cfg.DiscoveryPath == "" {
		cfg.DiscoveryPath = defaultDiscoveryPath
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return cfg
}

// Endpoints are the connection coordinates of a ready instance.
type Endpoints struct {
	BaseURL  string
	WSURL    string
	RESTRoot string
	TCPPort  int
	UDPPort  int
	WorkDir  string
}

// Orchestrator controls exactly one disposable instance of the server under
// test. Lifecycle operations are not safe for concurrent use; callers
// serialize them. Traffic against the instance's ports may run concurrently
// with reads like Logs and Stats.
type Orchestrator struct {
	api        ContainerAPI
	classifier *triage.Classifier
	logger     *slog.Logger
	httpClient *http.Client
	cfg        Config

	id    string
	state State

	detachLogs context.CancelFunc
	logsDone   chan struct{}
}

// New returns an [Orchestrator] for one instance, with the classifier that
// will be attached to its log stream on start.
func New(
	api ContainerAPI,
	classifier *triage.Classifier,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		api:        api,
		classifier: classifier,
		logger:     logger,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cfg:        cfg.withDefaults(),
		state:      StateAbsent,
	}
}

// Name returns the instance identity.
func (o *Orchestrator) Name() string {
	return o.cfg.Name
}

// State returns the last lifecycle state observed through this
// orchestrator's own operations.
func (o *Orchestrator) State() State {
	return o.state
}

// Endpoints returns the connection coordinates the instance was started
// with. Only meaningful once Start has returned successfully.
func (o *Orchestrator) Endpoints() Endpoints {
	return Endpoints{
		BaseURL:  fmt.Sprintf("http://localhost:%d", o.cfg.HTTPPort),
		WSURL:    fmt.Sprintf("ws://localhost:%d/signalk/v1/stream", o.cfg.HTTPPort),
		RESTRoot: fmt.Sprintf("http://localhost:%d/signalk/v1/api", o.cfg.HTTPPort),
		TCPPort:  o.cfg.TCPPort,
		UDPPort:  o.cfg.UDPPort,
		WorkDir:  o.cfg.WorkDir,
	}
}

// Start boots a fresh instance and blocks until it is ready. Any stale
// instance with the same identity is force-removed first. The classifier is
// attached to the log stream before the process starts so boot-time lines
// are never lost. envOverrides are appended after the configured
// environment.
func (o *Orchestrator) Start(ctx context.Context, envOverrides ...string) (Endpoints, error) {
	if err := o.api.RemoveContainer(ctx, o.cfg.Name, true); err != nil && !errors.Is(err, ErrInstanceNotFound) {
		return Endpoints{}, fmt.Errorf("remove stale instance: %w", err)
	}

	o.state = StateCreating

	spec := CreateSpec{
		Name:  o.cfg.Name,
		Image: o.cfg.Image,
		Env:   append(append([]string(nil), o.cfg.Env...), envOverrides...),
		Binds: []string{o.cfg.WorkDir + ":" + containerSettingsDir},
		Ports: []PortBinding{
			{HostPort: o.cfg.HTTPPort, ContainerPort: defaultHTTPPort},
			{HostPort: o.cfg.HTTPSPort, ContainerPort: defaultHTTPSPort},
			{HostPort: o.cfg.TCPPort, ContainerPort: defaultTCPPort},
			{HostPort: o.cfg.UDPPort, ContainerPort: defaultUDPPort, Protocol: "udp"},
		},
		Health: &HealthCheck{
			Test: []string{
				"CMD-SHELL",
				fmt.Sprintf("wget -q -O /dev/null http://localhost:%d%s || exit 1", defaultHTTPPort, o.cfg.DiscoveryPath),
			},
			Interval:    healthInterval,
			Timeout:     healthTimeout,
			StartPeriod: healthStartPeriod,
			Retries:     healthRetries,
		},
	}

	id, err := o.api.CreateContainer(ctx, spec)
	if err != nil {
		return Endpoints{}, fmt.Errorf("create instance: %w", err)
	}
	o.id = id

	if err := o.attachClassifier(ctx); err != nil {
		return Endpoints{}, err
	}

	if err := o.api.StartContainer(ctx, id); err != nil {
		return Endpoints{}, fmt.Errorf("start instance: %w", err)
	}

	if err := o.awaitReady(ctx); err != nil {
		return Endpoints{}, err
	}

	o.state = StateRunning
	o.logger.Info("Instance ready",
		slog.String("name", o.cfg.Name),
		slog.String("id", id),
	)
	return o.Endpoints(), nil
}

// attachClassifier follows the instance's log stream and feeds every line to
// the classifier until Remove detaches it or the stream closes.
func (o *Orchestrator) attachClassifier(ctx context.Context) error {
	followCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	lines, errs, err := o.api.FollowContainerLogs(followCtx, o.id)
	if err != nil {
		cancel()
		return fmt.Errorf("attach log stream: %w", err)
	}

	o.detachLogs = cancel
	o.logsDone = make(chan struct{})

	go func() {
		defer close(o.logsDone)
		for lines != nil || errs != nil {
			select {
			case line, ok := <-lines:
				if !ok {
					lines = nil
					continue
				}
				o.classifier.Process(line.Text, line.Stream)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				o.classifier.StreamError(err)
			}
		}
	}()
	return nil
}

// detachClassifier stops the log follower and waits for in-flight lines to
// drain.
func (o *Orchestrator) detachClassifier() {
	if o.detachLogs == nil {
		return
	}
	o.detachLogs()
	<-o.logsDone
	o.detachLogs = nil
	o.logsDone = nil
}

// awaitReady polls the discovery endpoint on a fixed cadence until it
// returns success with a non-empty endpoint advertisement, or the budget
// expires. A bare HTTP 200 is not enough; the process accepts connections
// before its routing table is populated.
func (o *Orchestrator) awaitReady(ctx context.Context) error {
	deadline, cancel := context.WithTimeout(ctx, o.cfg.StartTimeout)
	defer cancel()

	url := o.Endpoints().BaseURL + o.cfg.DiscoveryPath

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if o.probeDiscovery(deadline, url) {
			return nil
		}
		select {
		case <-deadline.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return o.startupTimeoutError(ctx)
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) probeDiscovery(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var discovery struct {
		Endpoints map[string]json.RawMessage `json:"endpoints"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return false
	}
	return len(discovery.Endpoints) > 0
}

// startupTimeoutError gathers last-known state and a log tail so a readiness
// failure is diagnosable without re-running.
func (o *Orchestrator) startupTimeoutError(ctx context.Context) error {
	lastState := StateCreating
	if info, err := o.api.InspectContainer(ctx, o.id); err == nil {
		lastState = info.State
	}

	tail, err := o.api.ContainerLogs(ctx, o.id, logTailLines)
	if err != nil {
		o.logger.Warn("Could not fetch log tail for startup timeout",
			slog.String("name", o.cfg.Name),
			slog.Any("error", err),
		)
	}

	return &StartupTimeoutError{
		Budget:    o.cfg.StartTimeout,
		LastState: lastState,
		LogTail:   tail,
	}
}

// Stop requests graceful termination, waiting at most graceSeconds. An
// instance that is not currently running is left alone.
func (o *Orchestrator) Stop(ctx context.Context, graceSeconds int) error {
	info, err := o.api.InspectContainer(ctx, o.id)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			o.state = StateAbsent
			return nil
		}
		return fmt.Errorf("inspect instance: %w", err)
	}
	if !info.Running {
		o.state = StateStopped
		return nil
	}

	o.state = StateStopping
	if err := o.api.StopContainer(ctx, o.id, graceSeconds); err != nil {
		return fmt.Errorf("stop instance: %w", err)
	}
	o.state = StateStopped
	return nil
}

// Restart stop-then-starts the instance through the platform's native
// restart primitive and blocks on the same readiness gate as Start.
func (o *Orchestrator) Restart(ctx context.Context, graceSeconds int) error {
	o.state = StateStopping
	if err := o.api.RestartContainer(ctx, o.id, graceSeconds); err != nil {
		return fmt.Errorf("restart instance: %w", err)
	}
	o.state = StateCreating

	if err := o.awaitReady(ctx); err != nil {
		return err
	}
	o.state = StateRunning
	return nil
}

// Kill delivers a raw termination signal without grace, simulating an
// abrupt crash. An empty signal defaults to SIGKILL.
func (o *Orchestrator) Kill(ctx context.Context, signal string) error {
	if signal == "" {
		signal = "SIGKILL"
	}
	if err := o.api.KillContainer(ctx, o.id, signal); err != nil {
		return fmt.Errorf("kill instance: %w", err)
	}
	o.state = StateKilled
	return nil
}

// Remove tears the instance down: detaches the classifier, best-effort
// stops, force-removes tolerating "already gone", and optionally deletes
// the working directory. Safe to call repeatedly.
func (o *Orchestrator) Remove(ctx context.Context, cleanup bool) error {
	o.detachClassifier()

	if o.id != "" {
		if err := o.api.StopContainer(ctx, o.id, removeStopGraceSeconds); err != nil && !errors.Is(err, ErrInstanceNotFound) {
			o.logger.Warn("Best-effort stop before remove failed",
				slog.String("name", o.cfg.Name),
				slog.Any("error", err),
			)
		}
		if err := o.api.RemoveContainer(ctx, o.id, true); err != nil && !errors.Is(err, ErrInstanceNotFound) {
			return fmt.Errorf("remove instance: %w", err)
		}
		o.id = ""
	}
	o.state = StateAbsent

	if cleanup {
		if err := os.RemoveAll(o.cfg.WorkDir); err != nil {
			o.logger.Warn("Could not delete working directory",
				slog.String("workDir", o.cfg.WorkDir),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// Logs returns up to tail lines of the instance's captured output.
func (o *Orchestrator) Logs(ctx context.Context, tail int) ([]string, error) {
	lines, err := o.api.ContainerLogs(ctx, o.id, tail)
	if err != nil {
		return nil, fmt.Errorf("instance logs: %w", err)
	}
	return lines, nil
}

// Stats returns one resource-usage sample of the running instance.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	stats, err := o.api.ContainerStats(ctx, o.id)
	if err != nil {
		return Stats{}, fmt.Errorf("instance stats: %w", err)
	}
	return stats, nil
}
