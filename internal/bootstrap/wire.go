package bootstrap

import (
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"carbalite/internal/config"
	"carbalite/internal/delivery"
	"carbalite/internal/diagnostics"
	"carbalite/internal/domain"
	"carbalite/internal/extract"
	"carbalite/internal/jobs"
	"carbalite/internal/orchestrator"
	"carbalite/internal/transcode"
)

// Components is the object graph behind one host.
type Components struct {
	Client       *extract.Client
	Poller       *extract.Poller
	Engine       *transcode.Engine
	Orchestrator *orchestrator.Orchestrator
	Events       *jobs.EventBus
}

// Wire builds the client, poller, engine and orchestrator from runtime config.
func Wire(rt config.Runtime, prefs domain.Preferences, saver delivery.Saver, logger hclog.Logger) (*Components, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	client := extract.NewClient(extract.ClientConfig{
		BaseURL:          rt.APIBaseURL,
		HTTPClient:       &http.Client{Timeout: rt.HTTPTimeout},
		Logger:           logger.Named("extract"),
		MaxDownloadBytes: rt.MaxDownloadBytes,
	})
	poller := extract.NewPoller(client, PollConfig(rt), logger.Named("poller"))
	engine := transcode.NewEngine(rt.FFmpegPath, logger.Named("transcode"))
	events := jobs.NewEventBus(1000)

	orch, err := orchestrator.New(orchestrator.Config{
		Client:      client,
		Poller:      poller,
		Engine:      engine,
		Saver:       saver,
		Preferences: prefs,
		Events:      events,
		Logger:      logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &Components{
		Client:       client,
		Poller:       poller,
		Engine:       engine,
		Orchestrator: orch,
		Events:       events,
	}, nil
}

// PollConfig maps runtime config onto poll bounds.
func PollConfig(rt config.Runtime) extract.PollConfig {
	return extract.PollConfig{
		Interval:             rt.PollInterval,
		MaxAttempts:          rt.PollMaxAttempts,
		MaxWait:              rt.PollMaxWait,
		MaxTransientFailures: rt.PollMaxTransient,
		MaxBackoff:           rt.PollMaxBackoff,
	}
}

// DiagnosticOptions maps runtime config onto checker options.
func DiagnosticOptions(rt config.Runtime) diagnostics.Options {
	return diagnostics.Options{
		FFmpegPath:           rt.FFmpegPath,
		FFprobePath:          rt.FFprobePath,
		APIBaseURL:           rt.APIBaseURL,
		OutputDir:            rt.OutputDir,
		MinAvailableMemoryMB: rt.MinAvailableMemoryMB,
	}
}
