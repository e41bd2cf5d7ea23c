package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// The server rewrites its own configuration at runtime as an unprivileged
// in-container user, so everything Prepare materializes must be
// world-writable.
const (
	workDirMode      = 0o777
	settingsFileMode = 0o666

	settingsFileName = "settings.json"
	manifestFileName = "package.json"
)

type serverSettings struct {
	Interfaces     map[string]bool  `json:"interfaces"`
	Security       securitySettings `json:"security"`
	PipedProviders []pipedProvider  `json:"pipedProviders"`
}

type securitySettings struct {
	Strategy string `json:"strategy"`
}

type pipedProvider struct {
	ID           string        `json:"id"`
	Enabled      bool          `json:"enabled"`
	PipeElements []pipeElement `json:"pipeElements"`
}

type pipeElement struct {
	Type    string         `json:"type"`
	Options map[string]any `json:"options"`
}

type packageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Prepare materializes the instance's working directory: the server settings
// file with network interfaces, security policy and seeded input providers
// for the TCP and UDP feeds, plus a minimal package manifest.
func (o *Orchestrator) Prepare() error {
	if err := os.MkdirAll(o.cfg.WorkDir, workDirMode); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	// MkdirAll mode is filtered by umask.
	if err := os.Chmod(o.cfg.WorkDir, workDirMode); err != nil {
		return fmt.Errorf("chmod working directory: %w", err)
	}

	settings := serverSettings{
		Interfaces: map[string]bool{
			"rest":      true,
			"webapps":   true,
			"tcp":       true,
			"webserver": true,
		},
		Security: securitySettings{Strategy: "./tokensecurity"},
		PipedProviders: []pipedProvider{
			{
				ID:      "nmea0183-tcp",
				Enabled: true,
				PipeElements: []pipeElement{{
					Type: "providers/simple",
					Options: map[string]any{
						"type": "NMEA0183",
						"subOptions": map[string]any{
							"type": "tcpserver",
							"port": o.cfg.TCPPort,
						},
					},
				}},
			},
			{
				ID:      "nmea0183-udp",
				Enabled: true,
				PipeElements: []pipeElement{{
					Type: "providers/simple",
					Options: map[string]any{
						"type": "NMEA0183",
						"subOptions": map[string]any{
							"type": "udp",
							"port": o.cfg.UDPPort,
						},
					},
				}},
			},
		},
	}

	if err := o.writeWorldWritableJSON(settingsFileName, settings); err != nil {
		return err
	}

	manifest := packageManifest{
		Name:         "seatrial-instance",
		Version:      "0.0.1",
		Dependencies: map[string]string{},
	}
	return o.writeWorldWritableJSON(manifestFileName, manifest)
}

func (o *Orchestrator) writeWorldWritableJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')

	path := filepath.Join(o.cfg.WorkDir, name)
	if err := os.WriteFile(path, data, settingsFileMode); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	// WriteFile mode is filtered by umask too.
	if err := os.Chmod(path, settingsFileMode); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	return nil
}
