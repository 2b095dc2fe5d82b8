package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"carbalite/internal/config"
	"carbalite/internal/domain"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// installer runs package-manager commands. Fields are swappable in tests.
type installer struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func newInstaller() installer {
	return installer{goos: goruntime.GOOS, lookPath: exec.LookPath, run: runCommand}
}

// FixDiagnostic applies an OS-specific remediation for one failed diagnostic item
// and returns the refreshed report.
func (a *App) FixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	var fixErr error
	switch id {
	case "tool_ffmpeg", "tool_ffprobe":
		fixErr = newInstaller().installFFmpeg()
	case "output_dir":
		a.mu.Lock()
		dir := a.Runtime.OutputDir
		a.mu.Unlock()

		dir, fixErr = fixOutputDir(dir)
		a.mu.Lock()
		a.Runtime.OutputDir = dir
		a.mu.Unlock()
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	report := a.RefreshDiagnostics()
	if fixErr != nil {
		return report, fixErr
	}
	a.logger.Info("diagnostic fixed", "item", id)
	return report, nil
}

// ensureLocalBinOnPATH prepends ~/.carbalite/bin so user-installed tools resolve.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".carbalite", "bin")
}

func ffmpegInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"}}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "ffmpeg"}}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

func (in installer) installFFmpeg() error {
	if err := in.runFirstSuccessful(ffmpegInstallOptions(in.goos)); err != nil {
		return fmt.Errorf("install ffmpeg/ffprobe: %w", err)
	}
	if err := in.requireTools("ffmpeg", "ffprobe"); err != nil {
		return fmt.Errorf("verify ffmpeg/ffprobe on PATH: %w", err)
	}
	return nil
}

// runFirstSuccessful tries each available package manager in order.
func (in installer) runFirstSuccessful(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", in.goos)
	}

	failures := make([]string, 0, len(options))
	found := false
	for _, option := range options {
		if !in.available(option.manager) {
			continue
		}
		found = true
		if err := in.runAll(option.commands); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", option.manager, err))
			continue
		}
		return nil
	}

	if !found {
		return fmt.Errorf("no supported package manager found for %s", in.goos)
	}
	return errors.New(strings.Join(failures, " | "))
}

func (in installer) runAll(commands [][]string) error {
	for _, command := range commands {
		if err := in.runElevated(command); err != nil {
			return err
		}
	}
	return nil
}

// runElevated retries system package managers through pkexec or sudo -n on linux.
func (in installer) runElevated(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if in.goos == "linux" && requiresElevation(command[0]) {
		if in.available("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if in.available("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attempts := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
		err := in.run(ctx, candidate[0], candidate[1:]...)
		cancel()
		if err == nil {
			return nil
		}
		attempts = append(attempts, err.Error())
	}
	return errors.New(strings.Join(attempts, " | "))
}

func (in installer) available(name string) bool {
	_, err := in.lookPath(name)
	return err == nil
}

func (in installer) requireTools(names ...string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if !in.available(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

// fixOutputDir creates the download directory, falling back to the default.
func fixOutputDir(outputDir string) (string, error) {
	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		outputDir = config.DefaultRuntime().OutputDir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return outputDir, fmt.Errorf("create output directory %s: %w", outputDir, err)
	}
	return outputDir, nil
}
