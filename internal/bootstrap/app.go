package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"carbalite/internal/config"
	"carbalite/internal/delivery"
	"carbalite/internal/diagnostics"
	"carbalite/internal/domain"
	"carbalite/internal/failure"
	"carbalite/internal/jobs"
	"carbalite/internal/orchestrator"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// StateEventName is the runtime event carrying every ProcessingState change.
const StateEventName = "job:state"

const diagnosticsTimeout = 15 * time.Second

// diagnosticsRunner isolates the checker behind an interface.
type diagnosticsRunner interface {
	Run(ctx context.Context, opts diagnostics.Options) domain.DiagnosticReport
}

type (
	saveDialogFunc func(ctx context.Context, opts wailsruntime.SaveDialogOptions) (string, error)
	emitFunc       func(ctx context.Context, name string, data ...interface{})
)

// App wires configuration, the orchestrator and UI runtime callbacks.
type App struct {
	Runtime     config.Runtime
	Store       config.Store
	Diagnostics domain.DiagnosticReport

	orch    *orchestrator.Orchestrator
	checker diagnosticsRunner
	logger  hclog.Logger
	assets  fs.FS

	saveDialog saveDialogFunc
	emit       emitFunc

	mu         sync.Mutex
	runtimeCtx context.Context
}

// New builds the application with persisted preferences and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	rt, err := config.LoadRuntime("")
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return nil, fmt.Errorf("validate runtime config: %w", err)
	}
	logger := rt.Logger()

	if homeDir, err := os.UserHomeDir(); err == nil {
		if err := ensureLocalBinOnPATH(homeDir); err != nil {
			logger.Warn("prepare local tool path", "error", err)
		}
	}

	store := config.NewJSONStore(rt.PreferencesPath, logger.Named("config"))
	prefs, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	app := &App{
		Runtime:    rt,
		Store:      store,
		logger:     logger,
		assets:     assets,
		saveDialog: wailsruntime.SaveFileDialog,
		emit:       wailsruntime.EventsEmit,
	}

	comps, err := Wire(rt, prefs, delivery.SaverFunc(app.saveArtifact), logger)
	if err != nil {
		return nil, err
	}
	app.orch = comps.Orchestrator
	app.checker = diagnostics.NewChecker(comps.Client)
	app.orch.OnChange(app.pushState)

	ctx, cancel := context.WithTimeout(context.Background(), diagnosticsTimeout)
	defer cancel()
	app.Diagnostics = app.checker.Run(ctx, DiagnosticOptions(rt))
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "CarbaLite",
		Width:       960,
		Height:      720,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events and dialogs.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown abandons any in-flight run and drops the runtime context.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.orch.Abandon(); err == nil {
		a.logger.Info("abandoned in-flight run on shutdown")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = nil
}

// ProcessMedia starts a run for url and returns the state right after it began.
func (a *App) ProcessMedia(url string, opts domain.RunOptions) (domain.ProcessingState, error) {
	if _, err := a.orch.Run(context.Background(), url, opts); err != nil {
		return a.orch.State(), err
	}
	return a.orch.State(), nil
}

// AbandonRun cancels the in-flight run.
func (a *App) AbandonRun() error {
	return a.orch.Abandon()
}

// ResetRun returns a finished run to Idle.
func (a *App) ResetRun() (domain.ProcessingState, error) {
	if err := a.orch.Reset(); err != nil {
		return a.orch.State(), err
	}
	return a.orch.State(), nil
}

// CurrentState returns the current run state.
func (a *App) CurrentState() domain.ProcessingState {
	return a.orch.State()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.orch.Events(sinceSeq)
}

// GetPreferences loads and returns the persisted preferences.
func (a *App) GetPreferences() (domain.Preferences, error) {
	prefs, err := a.Store.Load()
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	return prefs, nil
}

// SavePreferences normalizes and persists preferences. They apply from the next run.
func (a *App) SavePreferences(prefs domain.Preferences) (domain.Preferences, error) {
	normalized := config.NormalizePreferences(prefs)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Preferences{}, fmt.Errorf("save preferences: %w", err)
	}
	a.orch.SetPreferences(normalized)
	return normalized, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reruns dependency and service checks.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	ctx, cancel := context.WithTimeout(context.Background(), diagnosticsTimeout)
	defer cancel()

	a.mu.Lock()
	opts := DiagnosticOptions(a.Runtime)
	a.mu.Unlock()

	report := a.checker.Run(ctx, opts)
	a.mu.Lock()
	a.Diagnostics = report
	a.mu.Unlock()
	return report
}

// PickOutputDirectory opens a native directory picker and makes the choice
// the default save location for this session.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select download directory",
	})
	if err != nil {
		return "", err
	}

	path = strings.TrimSpace(path)
	if path != "" {
		a.mu.Lock()
		a.Runtime.OutputDir = path
		a.mu.Unlock()
	}
	return path, nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Runtime.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// saveArtifact asks the user where to save through the native dialog. Without
// a UI runtime the artifact goes to the configured output directory.
func (a *App) saveArtifact(ctx context.Context, artifact domain.DownloadArtifact) (string, error) {
	a.mu.Lock()
	outputDir := a.Runtime.OutputDir
	a.mu.Unlock()

	rctx, err := a.runtimeContext()
	if err != nil {
		return delivery.DirSaver{Dir: outputDir}.Save(ctx, artifact)
	}

	path, err := a.saveDialog(rctx, wailsruntime.SaveDialogOptions{
		Title:            "Save download",
		DefaultDirectory: outputDir,
		DefaultFilename:  artifact.Filename,
		Filters:          saveFilters(artifact.Filename),
	})
	if err != nil {
		return "", fmt.Errorf("open save dialog: %w", err)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", failure.New(failure.KindCancelled, "save", "Save cancelled", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.WriteFile(path, artifact.Bytes, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// pushState forwards a state change to the UI.
func (a *App) pushState(state domain.ProcessingState) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil && a.emit != nil {
		a.emit(ctx, StateEventName, state)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

func saveFilters(filename string) []wailsruntime.FileFilter {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return nil
	}
	return []wailsruntime.FileFilter{
		{DisplayName: strings.ToUpper(ext) + " files", Pattern: "*." + ext},
		{DisplayName: "All files", Pattern: "*"},
	}
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
