// Package capture stores per-run validation artifacts on the filesystem:
// the raw captured log stream, run metadata and rendered reports.
package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ErrRunNotFound indicates no stored artifacts exist for the given run ID.
var ErrRunNotFound = errors.New("run not found")

// RunMeta describes one validation run. It is written when the run's log
// capture is created and can be updated once the outcome is known.
type RunMeta struct {
	RunID     string    `json:"runId"`
	Scenario  string    `json:"scenario"`
	Image     string    `json:"image"`
	StartedAt time.Time `json:"startedAt"`

	FinishedAt time.Time `json:"finishedAt,omitzero"`
	Passed     bool      `json:"passed"`
	Errors     int       `json:"errors"`
	Warnings   int       `json:"warnings"`
}

// Store provides filesystem-based storage for validation-run artifacts.
// Each run owns a "<runID>.log" file with the raw captured stream, a
// "<runID>.meta.json" metadata file and optionally a rendered report, all
// within a single root directory.
type Store struct {
	root string
}

// NewStore creates a new Store rooted at the given directory.
func NewStore(root string) *Store {
	return &Store{
		root: root,
	}
}

// Create creates the log capture file for the run and returns a WriteCloser
// for appending raw log lines. It creates the root directory if it does not
// exist and writes the metadata file alongside.
func (s *Store) Create(meta RunMeta) (io.WriteCloser, error) {
	err := os.MkdirAll(s.root, os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("make artifact root directory: %w", err)
	}

	if err := s.WriteMeta(meta); err != nil {
		return nil, err
	}

	logPath := filepath.Join(s.root, meta.RunID+".log")
	return os.Create(logPath)
}

// Open opens the run's captured log stream for reading. It returns an error
// wrapping [ErrRunNotFound] if no capture exists for the run ID.
func (s *Store) Open(runID string) (io.ReadCloser, error) {
	path := filepath.Join(s.root, runID+".log")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("open log capture for %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// WriteMeta writes or replaces the run's metadata file.
func (s *Store) WriteMeta(meta RunMeta) error {
	path := filepath.Join(s.root, meta.RunID+".meta.json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create run metadata file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(meta); err != nil {
		return fmt.Errorf("encode run metadata: %w", err)
	}
	return nil
}

// ReadMeta reads the run's metadata. It returns an error wrapping
// [ErrRunNotFound] if no metadata exists for the run ID.
func (s *Store) ReadMeta(runID string) (RunMeta, error) {
	path := filepath.Join(s.root, runID+".meta.json")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return RunMeta{}, fmt.Errorf("open metadata for %q: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return RunMeta{}, err
	}
	defer f.Close()

	var meta RunMeta
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return RunMeta{}, fmt.Errorf("decode run metadata: %w", err)
	}
	return meta, nil
}

// Runs lists the metadata of every stored run, most recent first.
// A missing or empty root directory yields an empty list.
func (s *Store) Runs() ([]RunMeta, error) {
	paths, err := filepath.Glob(filepath.Join(s.root, "*.meta.json"))
	if err != nil {
		return nil, fmt.Errorf("list run metadata: %w", err)
	}

	runs := make([]RunMeta, 0, len(paths))
	for _, path := range paths {
		runID := strings.TrimSuffix(filepath.Base(path), ".meta.json")
		meta, err := s.ReadMeta(runID)
		if err != nil {
			return nil, err
		}
		runs = append(runs, meta)
	}
	slices.SortFunc(runs, func(a, b RunMeta) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return runs, nil
}

// SaveReport stores a rendered report next to the run's other artifacts.
// ext is the report file extension, e.g. "md" or "json".
func (s *Store) SaveReport(runID, ext string, report []byte) error {
	path := filepath.Join(s.root, runID+".report."+ext)
	if err := os.WriteFile(path, report, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport reads a previously saved rendered report. It returns an error
// wrapping [ErrRunNotFound] if no report with that extension exists for the
// run ID.
func (s *Store) ReadReport(runID, ext string) ([]byte, error) {
	path := filepath.Join(s.root, runID+".report."+ext)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("open %s report for %q: %w", ext, runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
