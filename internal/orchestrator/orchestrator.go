// Package orchestrator drives one acquisition run from URL to saved artifact:
// classify, validate remotely, submit, poll, download, convert, deliver.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"carbalite/internal/delivery"
	"carbalite/internal/domain"
	"carbalite/internal/failure"
	"carbalite/internal/jobs"
	"carbalite/internal/progress"
	"carbalite/internal/transcode"
	"carbalite/internal/urlcheck"
)

// ErrRunInFlight is returned by Run while another run is active.
var ErrRunInFlight = jobs.ErrRunInFlight

// ErrResetWhileRunning is returned by Reset while a run is active.
var ErrResetWhileRunning = jobs.ErrResetWhileRunning

// ErrNoRunningJob is returned by Abandon when nothing is running.
var ErrNoRunningJob = jobs.ErrNoRunningJob

// InvalidURLMessage is shown when a URL fails local classification.
const InvalidURLMessage = "Please enter a valid YouTube or SoundCloud URL"

// JobClient is the remote extraction API.
type JobClient interface {
	Validate(ctx context.Context, mediaURL string) (domain.VideoMetadata, error)
	Submit(ctx context.Context, req domain.MediaRequest) (string, error)
	Download(ctx context.Context, jobID string, onProgress func(float64)) ([]byte, error)
}

// JobWaiter blocks until a remote job reaches a terminal status.
type JobWaiter interface {
	Wait(ctx context.Context, jobID string, onUpdate func(domain.ExtractionJob)) (domain.ExtractionJob, error)
}

// Transcoder converts raw media bytes.
type Transcoder interface {
	Convert(ctx context.Context, input []byte, target transcode.Target, onProgress func(float64)) ([]byte, error)
}

// Config wires an Orchestrator.
type Config struct {
	Client      JobClient
	Poller      JobWaiter
	Engine      Transcoder
	Saver       delivery.Saver
	Preferences domain.Preferences
	Events      *jobs.EventBus
	Logger      hclog.Logger
}

type runHandle struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns the run state machine. All state changes go through
// its jobs.Manager so stale continuations are dropped by generation.
type Orchestrator struct {
	client JobClient
	poller JobWaiter
	engine Transcoder
	saver  delivery.Saver
	prefs  domain.Preferences
	logger hclog.Logger
	jobs   *jobs.Manager
	events *jobs.EventBus

	mu       sync.Mutex
	active   *runHandle
	onChange func(domain.ProcessingState)
}

// New validates cfg and builds an idle Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Client == nil:
		return nil, errors.New("orchestrator: job client is required")
	case cfg.Poller == nil:
		return nil, errors.New("orchestrator: poller is required")
	case cfg.Engine == nil:
		return nil, errors.New("orchestrator: transcoder is required")
	case cfg.Saver == nil:
		return nil, errors.New("orchestrator: saver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Events == nil {
		cfg.Events = jobs.NewEventBus(0)
	}

	o := &Orchestrator{
		client: cfg.Client,
		poller: cfg.Poller,
		engine: cfg.Engine,
		saver:  cfg.Saver,
		prefs:  cfg.Preferences,
		logger: cfg.Logger,
		jobs:   jobs.NewManager(),
		events: cfg.Events,
	}
	o.jobs.SetObserver(o.publish)
	return o, nil
}

// OnChange registers fn to receive every state snapshot. fn runs on the
// goroutine that made the change and must not block.
func (o *Orchestrator) OnChange(fn func(domain.ProcessingState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onChange = fn
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() domain.ProcessingState {
	return o.jobs.Current()
}

// Events returns published events with sequence greater than since.
func (o *Orchestrator) Events(since int64) []jobs.Event {
	return o.events.Since(since)
}

// Preferences returns the defaults applied to new runs.
func (o *Orchestrator) Preferences() domain.Preferences {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prefs
}

// SetPreferences replaces the defaults for subsequent runs. A run already in
// flight keeps the request it started with.
func (o *Orchestrator) SetPreferences(prefs domain.Preferences) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prefs = prefs
}

// Run starts a run on its own goroutine and returns its generation. ctx
// bounds the whole run. An unsupported URL ends the run in Error right away
// without any network call.
func (o *Orchestrator) Run(ctx context.Context, mediaURL string, opts domain.RunOptions) (uint64, error) {
	gen, req, handle, err := o.start(ctx, mediaURL, opts)
	if err != nil || handle == nil {
		return gen, err
	}

	go o.execute(handle, gen, req)
	return gen, nil
}

// RunSync runs on the caller's goroutine and returns the terminal state.
func (o *Orchestrator) RunSync(ctx context.Context, mediaURL string, opts domain.RunOptions) (domain.ProcessingState, error) {
	_, req, handle, err := o.start(ctx, mediaURL, opts)
	if err != nil {
		return o.State(), err
	}
	if handle != nil {
		o.execute(handle, handle.gen, req)
	}
	return o.State(), nil
}

// Wait blocks until the active run, if any, has finished.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	handle := o.active
	o.mu.Unlock()
	if handle == nil {
		return nil
	}

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset returns a finished run to Idle. It never interrupts in-flight work.
func (o *Orchestrator) Reset() error {
	return o.jobs.Reset()
}

// Abandon cancels the in-flight run and moves it to Error.
func (o *Orchestrator) Abandon() error {
	gen, err := o.jobs.Abandon()
	if err != nil {
		return err
	}

	o.mu.Lock()
	handle := o.active
	o.mu.Unlock()
	if handle != nil && handle.gen == gen {
		handle.cancel()
	}
	o.logger.Info("run abandoned", "generation", gen)
	return nil
}

// start claims the manager for a new run. A nil handle with a nil error
// means the run already ended during local classification.
func (o *Orchestrator) start(ctx context.Context, mediaURL string, opts domain.RunOptions) (uint64, domain.MediaRequest, *runHandle, error) {
	gen, err := o.jobs.Begin("Validating URL...")
	if err != nil {
		return 0, domain.MediaRequest{}, nil, err
	}

	req, err := o.buildRequest(mediaURL, opts)
	if err != nil {
		o.logger.Debug("run rejected", "generation", gen, "error", err)
		_ = o.jobs.Fail(gen, err)
		return gen, req, nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &runHandle{gen: gen, ctx: runCtx, cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.active = handle
	o.mu.Unlock()

	// Abandon may have landed between Begin and publishing the handle.
	if o.jobs.Generation() != gen {
		cancel()
	}
	return gen, req, handle, nil
}

// buildRequest classifies the URL and resolves per-run choices against preferences.
func (o *Orchestrator) buildRequest(mediaURL string, opts domain.RunOptions) (domain.MediaRequest, error) {
	prefs := o.Preferences()
	mediaURL = strings.TrimSpace(mediaURL)
	if !urlcheck.Supported(mediaURL) {
		return domain.MediaRequest{}, failure.Validation("classify", InvalidURLMessage)
	}
	if !opts.Type.Valid() {
		return domain.MediaRequest{}, failure.Validation("classify", fmt.Sprintf("Unsupported media type %q", opts.Type))
	}

	req := domain.MediaRequest{
		URL:          mediaURL,
		Type:         opts.Type,
		AudioQuality: opts.AudioQuality,
		VideoQuality: opts.VideoQuality,
		AudioFormat:  prefs.SelectedAudioFormat,
		VideoFormat:  prefs.SelectedVideoFormat,
	}
	if !req.AudioQuality.Valid() {
		req.AudioQuality = prefs.AudioQuality
	}
	if !req.VideoQuality.Valid() {
		req.VideoQuality = prefs.VideoQuality
	}
	return req, nil
}

func (o *Orchestrator) execute(handle *runHandle, gen uint64, req domain.MediaRequest) {
	defer close(handle.done)
	defer handle.cancel()

	log := o.logger.With("run", newRunID(), "generation", gen)
	log.Info("run started", "url", req.URL, "type", req.Type, "quality", req.Quality())

	err := o.pipeline(handle.ctx, log, gen, req)
	switch {
	case err == nil:
		log.Info("run completed")
	case errors.Is(err, jobs.ErrStaleGeneration):
		log.Debug("run superseded, result discarded")
	default:
		if ferr := o.jobs.Fail(gen, err); ferr != nil {
			log.Debug("failure from superseded run discarded", "error", err)
			return
		}
		log.Warn("run failed", "kind", failure.KindOf(err), "error", err)
		o.publishCommandLog(gen, err)
	}
}

// publishCommandLog records the failing ffmpeg invocation, if err carries one.
func (o *Orchestrator) publishCommandLog(gen uint64, err error) {
	var cmdErr *transcode.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.CommandLog.Command == "" {
		return
	}
	state := o.State()
	o.events.Publish(jobs.Event{
		Generation: gen,
		JobID:      state.JobID,
		Type:       jobs.EventTypeLog,
		Stage:      domain.StageConverting,
		Progress:   state.Progress,
		Message:    "Failed command",
		Command:    cmdErr.CommandLog.Command,
		Args:       cmdErr.CommandLog.Args,
		ExitCode:   cmdErr.CommandLog.ExitCode,
		Stderr:     cmdErr.CommandLog.Stderr,
	})
}

// pipeline runs every stage. Manager writes return ErrStaleGeneration once
// the run was reset or abandoned, which stops the pipeline.
func (o *Orchestrator) pipeline(ctx context.Context, log hclog.Logger, gen uint64, req domain.MediaRequest) error {
	meta, err := o.client.Validate(ctx, req.URL)
	if err != nil {
		return err
	}
	if err := o.setVideoInfo(gen, meta); err != nil {
		return err
	}
	if err := o.jobs.Progress(gen, 1, ""); err != nil {
		return err
	}

	if err := o.jobs.Transition(gen, domain.StageExtracting, "Extracting media..."); err != nil {
		return err
	}
	jobID, err := o.client.Submit(ctx, req)
	if err != nil {
		return err
	}
	if err := o.jobs.Apply(gen, func(s *domain.ProcessingState) { s.JobID = jobID }); err != nil {
		return err
	}
	log = log.With("job_id", jobID)
	log.Debug("waiting for extraction")

	job, err := o.poller.Wait(ctx, jobID, func(j domain.ExtractionJob) {
		_ = o.jobs.Progress(gen, progress.FromPercent(j.Progress), j.Message)
		if j.Metadata != nil {
			_ = o.setVideoInfo(gen, *j.Metadata)
		}
	})
	if err != nil {
		return err
	}
	if job.Metadata != nil {
		if err := o.setVideoInfo(gen, *job.Metadata); err != nil {
			return err
		}
	}

	if err := o.jobs.Transition(gen, domain.StageDownloading, "Downloading file..."); err != nil {
		return err
	}
	raw, err := o.client.Download(ctx, jobID, func(f float64) {
		_ = o.jobs.Progress(gen, f, "")
	})
	if err != nil {
		return err
	}
	log.Debug("downloaded raw media", "bytes", len(raw))

	target := transcode.TargetFor(req)
	if err := o.jobs.Transition(gen, domain.StageConverting, fmt.Sprintf("Converting to %s...", strings.ToUpper(target.Format))); err != nil {
		return err
	}
	out, err := o.engine.Convert(ctx, raw, target, func(f float64) {
		_ = o.jobs.Progress(gen, f, "")
	})
	if err != nil {
		return err
	}

	// Last liveness check before the artifact leaves the process.
	if err := o.jobs.Progress(gen, 1, "Saving file..."); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	title := ""
	if info := o.State().VideoInfo; info != nil {
		title = info.Title
	}
	artifact, location, err := delivery.Deliver(ctx, o.saver, out, title, req.Type, target.Format)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if failure.KindOf(err) != failure.KindInternal {
			return err
		}
		return failure.New(failure.KindInternal, "deliver", "Failed to save file", err)
	}
	o.events.Publish(jobs.Event{
		Generation: gen,
		JobID:      jobID,
		Type:       jobs.EventTypeResult,
		Stage:      domain.StageCompleted,
		Progress:   100,
		Message:    artifact.Filename,
		Location:   location,
	})
	log.Info("artifact delivered", "filename", artifact.Filename, "location", location, "bytes", len(artifact.Bytes))

	return o.jobs.Complete(gen, artifact.Filename, "Download complete!")
}

// setVideoInfo attaches metadata once the remote side reported a title.
func (o *Orchestrator) setVideoInfo(gen uint64, meta domain.VideoMetadata) error {
	if meta.Title == "" && meta.Uploader == "" {
		return nil
	}
	return o.jobs.Apply(gen, func(s *domain.ProcessingState) {
		info := meta
		s.VideoInfo = &info
	})
}

// publish is the manager observer: it records the event and forwards to the host.
func (o *Orchestrator) publish(state domain.ProcessingState) {
	o.events.Publish(jobs.StateEvent(state))

	o.mu.Lock()
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
