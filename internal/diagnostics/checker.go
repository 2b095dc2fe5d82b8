package diagnostics

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"carbalite/internal/domain"
)

// HealthChecker probes the extraction service.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// Options selects what Run checks.
type Options struct {
	FFmpegPath           string
	FFprobePath          string
	APIBaseURL           string
	OutputDir            string
	MinAvailableMemoryMB uint64
}

// Checker validates external tools, the extraction service and host resources.
type Checker struct {
	lookPath      func(string) (string, error)
	mkdirAll      func(string, os.FileMode) error
	createTemp    func(string, string) (*os.File, error)
	remove        func(string) error
	virtualMemory func(context.Context) (*mem.VirtualMemoryStat, error)
	health        HealthChecker
}

// NewChecker builds a checker using real OS dependencies. health may be nil
// to skip the service probe.
func NewChecker(health HealthChecker) *Checker {
	return &Checker{
		lookPath:      exec.LookPath,
		mkdirAll:      os.MkdirAll,
		createTemp:    os.CreateTemp,
		remove:        os.Remove,
		virtualMemory: mem.VirtualMemoryWithContext,
		health:        health,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, opts Options) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool("ffmpeg", opts.FFmpegPath, true),
		c.checkTool("ffprobe", opts.FFprobePath, false),
	}
	if c.health != nil {
		items = append(items, c.checkAPI(ctx, opts.APIBaseURL))
	}
	if strings.TrimSpace(opts.OutputDir) != "" {
		items = append(items, c.checkOutputDir(opts.OutputDir))
	}
	items = append(items, c.checkMemory(ctx, opts.MinAvailableMemoryMB))

	return domain.NewDiagnosticReport(time.Now().UTC(), items)
}

// checkTool verifies a CLI executable resolves. Optional tools only warn.
func (c *Checker) checkTool(name, configured string, required bool) domain.DiagnosticItem {
	bin := strings.TrimSpace(configured)
	if bin == "" {
		bin = name
	}

	path, err := c.lookPath(bin)
	if err != nil {
		item := domain.DiagnosticItem{
			ID:      "tool_" + name,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", bin),
			Hint:    "Install it and ensure the binary is on PATH, or set its path in the configuration.",
			Fixable: true,
		}
		if !required {
			item.Status = domain.DiagnosticStatusWarn
			item.Hint = "Optional; used for media inspection only."
		}
		return item
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkAPI calls the extraction service health endpoint.
func (c *Checker) checkAPI(ctx context.Context, baseURL string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "extraction_api",
		Name: "Extraction service",
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg, err := c.health.Health(ctx)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Extraction service unreachable at %s", baseURL)
		item.Hint = "Start the extraction service or set CARBALITE_API_BASE_URL."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = strings.TrimSpace(fmt.Sprintf("%s %s", baseURL, msg))
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		item.Fixable = true
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for downloads."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// checkMemory warns when available memory is below the buffering floor.
// Runs hold the raw download and the converted output in memory at once.
func (c *Checker) checkMemory(ctx context.Context, minMB uint64) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "memory",
		Name: "Available memory",
	}

	vm, err := c.virtualMemory(ctx)
	if err != nil {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "Could not read memory statistics."
		return item
	}

	availMB := vm.Available / (1 << 20)
	if minMB > 0 && availMB < minMB {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("%d MiB available, %d MiB recommended", availMB, minMB)
		item.Hint = "Large videos are buffered in memory; close other applications or pick a lower quality."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%d MiB available", availMB)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	virtualMemory func(context.Context) (*mem.VirtualMemoryStat, error),
	health HealthChecker,
) *Checker {
	return &Checker{
		lookPath:      lookPath,
		mkdirAll:      mkdirAll,
		createTemp:    createTemp,
		remove:        remove,
		virtualMemory: virtualMemory,
		health:        health,
	}
}
