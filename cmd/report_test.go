package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openmarine/seatrial/internal/capture"
)

func storedRunFixture(t *testing.T) *capture.Store {
	t.Helper()

	store := capture.NewStore(t.TempDir())
	w, err := store.Create(capture.RunMeta{
		RunID:     "run-old",
		Scenario:  "smoke",
		Image:     "signalk/signalk-server:2.0.0",
		StartedAt: time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC),
		Passed:    true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Close()

	if err := store.SaveReport("run-old", "md", []byte("# Validation Report\n\nall phases passed\n")); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	return store
}

func TestListRuns(t *testing.T) {
	store := storedRunFixture(t)

	var out strings.Builder
	if err := listRuns(&out, store); err != nil {
		t.Fatalf("listRuns: %v", err)
	}

	rendered := out.String()
	for _, want := range []string{"run-old", "smoke", "signalk/signalk-server:2.0.0", "✅"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("run listing missing %q:\n%s", want, rendered)
		}
	}
}

func TestListRunsEmpty(t *testing.T) {
	store := capture.NewStore(t.TempDir())

	var out strings.Builder
	if err := listRuns(&out, store); err != nil {
		t.Fatalf("listRuns: %v", err)
	}
	if got, want := out.String(), "no stored runs\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestShowRunReport(t *testing.T) {
	store := storedRunFixture(t)

	var out strings.Builder
	err := showRun(&out, store, "run-old", reportOptions{format: "markdown"})
	if err != nil {
		t.Fatalf("showRun: %v", err)
	}
	if !strings.Contains(out.String(), "all phases passed") {
		t.Errorf("report output missing saved content:\n%s", out.String())
	}
}

func TestShowRunLogs(t *testing.T) {
	store := storedRunFixture(t)

	var out strings.Builder
	err := showRun(&out, store, "run-old", reportOptions{logs: true})
	if err != nil {
		t.Fatalf("showRun: %v", err)
	}
}

func TestShowRunUnknown(t *testing.T) {
	store := capture.NewStore(t.TempDir())

	var out strings.Builder
	err := showRun(&out, store, "run-nope", reportOptions{format: "markdown"})
	if !errors.Is(err, capture.ErrRunNotFound) {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}
