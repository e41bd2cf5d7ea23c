// Package run composes one validation run: it boots the instance, drives
// phased synthetic traffic against it and turns the classified log stream
// into a go/no-go verdict.
package run

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openmarine/seatrial/internal/transport"
)

// Phase actions.
const (
	ActionSend     = "send"
	ActionReplay   = "replay"
	ActionFixtures = "fixtures"
	ActionWait     = "wait"
)

// Traffic protocols a send phase can emit.
const (
	ProtocolNMEA0183 = "nmea0183"
	ProtocolPGN      = "pgn"
)

// Scenario is one declarative validation plan, usually loaded from a YAML
// file. Durations are authored as Go duration strings ("500ms", "2s").
type Scenario struct {
	Name string `yaml:"name"`

	// Settle is how long to wait after the last phase before reading the
	// final verdict, giving the server time to ingest trailing traffic.
	Settle string `yaml:"settle"`

	// Seed fixes the traffic generator so runs are reproducible.
	Seed int64 `yaml:"seed"`

	Voyage VoyageConfig `yaml:"voyage"`
	Phases []Phase      `yaml:"phases"`
}

// VoyageConfig is the simulated vessel's starting condition.
type VoyageConfig struct {
	Lat        float64 `yaml:"lat"`
	Lon        float64 `yaml:"lon"`
	SpeedKnots float64 `yaml:"speedKnots"`
	HeadingDeg float64 `yaml:"headingDeg"`
}

// Phase is one named step of a scenario. Log lines observed while a phase
// runs are attributed to it.
type Phase struct {
	Name   string `yaml:"name"`
	Action string `yaml:"action"`

	// Protocols selects the traffic families of a send phase. Defaults
	// to nmea0183. A phase naming both emits them concurrently.
	Protocols []string `yaml:"protocols"`

	// Transport is "tcp" or "udp". Defaults to tcp.
	Transport string `yaml:"transport"`

	// Count is the number of messages per protocol for send and fixtures
	// phases.
	Count int `yaml:"count"`

	// Delay paces consecutive messages.
	Delay string `yaml:"delay"`

	// Duration is how long a wait phase sleeps.
	Duration string `yaml:"duration"`

	// File is the capture file a replay phase streams.
	File string `yaml:"file"`

	// Category filters the fixture corpus (navigation, satellite, ais).
	// Empty means the whole corpus.
	Category string `yaml:"category"`

	// BatchSize bounds replay delivery calls.
	BatchSize int `yaml:"batchSize"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario file: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario file: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return s, nil
}

// Validate checks the scenario is executable before any instance is booted.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Phases) == 0 {
		return fmt.Errorf("scenario has no phases")
	}
	if _, err := parseOptionalDuration(s.Settle); err != nil {
		return fmt.Errorf("settle: %w", err)
	}

	for i, p := range s.Phases {
		if err := p.validate(); err != nil {
			return fmt.Errorf("phase %d (%s): %w", i, p.Name, err)
		}
	}
	return nil
}

func (p Phase) validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := parseOptionalDuration(p.Delay); err != nil {
		return fmt.Errorf("delay: %w", err)
	}

	switch p.Transport {
	case "", string(transport.ProtocolTCP), string(transport.ProtocolUDP):
	default:
		return fmt.Errorf("unknown transport %q", p.Transport)
	}

	switch p.Action {
	case ActionSend:
		if p.Count <= 0 {
			return fmt.Errorf("send requires a positive count")
		}
		for _, proto := range p.Protocols {
			if proto != ProtocolNMEA0183 && proto != ProtocolPGN {
				return fmt.Errorf("unknown protocol %q", proto)
			}
		}
	case ActionReplay:
		if p.File == "" {
			return fmt.Errorf("replay requires a file")
		}
	case ActionFixtures:
		if p.Count <= 0 {
			return fmt.Errorf("fixtures requires a positive count")
		}
	case ActionWait:
		d, err := parseOptionalDuration(p.Duration)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("wait requires a positive duration")
		}
	default:
		return fmt.Errorf("unknown action %q", p.Action)
	}
	return nil
}

// protocols returns the phase's traffic families with the default applied.
func (p Phase) protocols() []string {
	if len(p.Protocols) == 0 {
		return []string{ProtocolNMEA0183}
	}
	return p.Protocols
}

// transportProtocol returns the delivery transport with the default applied.
func (p Phase) transportProtocol() transport.Protocol {
	if p.Transport == "" {
		return transport.ProtocolTCP
	}
	return transport.Protocol(p.Transport)
}

// settleDelay returns the parsed settle duration. Validate has already
// vetted the string.
func (s Scenario) settleDelay() time.Duration {
	d, _ := parseOptionalDuration(s.Settle)
	return d
}

func (p Phase) delay() time.Duration {
	d, _ := parseOptionalDuration(p.Delay)
	return d
}

func (p Phase) duration() time.Duration {
	d, _ := parseOptionalDuration(p.Duration)
	return d
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}
