package diagnostics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v4/mem"

	"carbalite/internal/domain"
)

// fakeHealth answers the service probe.
type fakeHealth struct {
	msg string
	err error
}

// Health returns the configured response.
func (f fakeHealth) Health(ctx context.Context) (string, error) {
	return f.msg, f.err
}

func memoryWith(availableMB uint64) func(context.Context) (*mem.VirtualMemoryStat, error) {
	return func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Available: availableMB << 20}, nil
	}
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "output")
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		memoryWith(4096),
		fakeHealth{msg: "Carba API is running"},
	)

	report := checker.Run(context.Background(), Options{
		APIBaseURL:           "http://localhost:5000/api",
		OutputDir:            outputDir,
		MinAvailableMemoryMB: 512,
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "extraction_api", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusPass)
	assertStatusByID(t, report, "memory", domain.DiagnosticStatusPass)
	if _, err := os.Stat(outputDir); err != nil {
		t.Fatalf("output dir should be created: %v", err)
	}
}

// TestCheckerRunMissingToolsAndService validates failure reporting.
func TestCheckerRunMissingToolsAndService(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		memoryWith(4096),
		fakeHealth{err: errors.New("connection refused")},
	)

	report := checker.Run(context.Background(), Options{APIBaseURL: "http://localhost:5000/api"})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_ffprobe", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "extraction_api", domain.DiagnosticStatusFail)
	assertMissing(t, report, "output_dir")

	if item, _ := report.Item("tool_ffmpeg"); !item.Fixable {
		t.Fatal("missing ffmpeg should be fixable")
	}
	if item, _ := report.Item("extraction_api"); item.Fixable {
		t.Fatal("service reachability is not fixable locally")
	}
}

// TestCheckerUsesConfiguredToolPath checks explicit binary paths are resolved.
func TestCheckerUsesConfiguredToolPath(t *testing.T) {
	var looked []string
	checker := NewCheckerForTests(
		func(name string) (string, error) { looked = append(looked, name); return name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		memoryWith(4096),
		nil,
	)

	report := checker.Run(context.Background(), Options{FFmpegPath: "/opt/ffmpeg/bin/ffmpeg"})
	if looked[0] != "/opt/ffmpeg/bin/ffmpeg" || looked[1] != "ffprobe" {
		t.Fatalf("lookPath calls = %v", looked)
	}
	assertMissing(t, report, "extraction_api")
}

// TestCheckerUnwritableOutputDirFails validates the write probe.
func TestCheckerUnwritableOutputDirFails(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return name, nil },
		os.MkdirAll,
		func(string, string) (*os.File, error) { return nil, os.ErrPermission },
		os.Remove,
		memoryWith(4096),
		nil,
	)

	report := checker.Run(context.Background(), Options{OutputDir: t.TempDir()})
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusFail)
}

// TestCheckerLowMemoryWarns validates the memory floor is advisory.
func TestCheckerLowMemoryWarns(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		memoryWith(256),
		nil,
	)

	report := checker.Run(context.Background(), Options{MinAvailableMemoryMB: 512})
	assertStatusByID(t, report, "memory", domain.DiagnosticStatusWarn)
	if report.HasFailures || !report.HasWarnings {
		t.Fatalf("low memory must warn without failing: %+v", report)
	}

	checker.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("unsupported platform")
	}
	report = checker.Run(context.Background(), Options{})
	assertStatusByID(t, report, "memory", domain.DiagnosticStatusWarn)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	item, ok := report.Item(id)
	if !ok {
		t.Fatalf("diagnostic item not found: %s", id)
	}
	if item.Status != want {
		t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
	}
}

// assertMissing checks a skipped check is absent from the report.
func assertMissing(t *testing.T, report domain.DiagnosticReport, id string) {
	t.Helper()
	if _, ok := report.Item(id); ok {
		t.Fatalf("diagnostic item %s should be skipped", id)
	}
}
