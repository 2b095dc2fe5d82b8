// Package transcode converts raw media bytes into the requested container
// using an ffmpeg executable.
package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-hclog"

	"carbalite/internal/failure"
)

// Engine runs conversions through a lazily probed ffmpeg binary.
type Engine struct {
	ffmpegPath string
	runner     commandRunner
	logger     hclog.Logger
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	writeFile  func(name string, data []byte, perm os.FileMode) error
	readFile   func(name string) ([]byte, error)

	initMu   sync.Mutex
	initDone bool
	initErr  error
	version  string
}

// NewEngine constructs the production engine. An empty path resolves
// "ffmpeg" from PATH.
func NewEngine(ffmpegPath string, logger hclog.Logger) *Engine {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		ffmpegPath: ffmpegPath,
		runner:     &execRunner{},
		logger:     logger,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		writeFile:  os.WriteFile,
		readFile:   os.ReadFile,
	}
}

// Init probes the ffmpeg binary once per Engine. Later calls return the
// first result, so concurrent runs share one probe. A probe interrupted by
// ctx is not remembered and returns ctx.Err().
func (e *Engine) Init(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.initDone {
		return e.initErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	args := []string{"-hide_banner", "-version"}
	res, err := e.runner.Run(ctx, e.ffmpegPath, args, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.initErr = failure.Transcode("init", "ffmpeg is not available", &CommandError{
			Message: "ffmpeg probe failed",
			CommandLog: CommandLog{
				Command:  e.ffmpegPath,
				Args:     args,
				ExitCode: res.ExitCode,
				Stdout:   res.Stdout,
				Stderr:   res.Stderr,
			},
			Err: err,
		})
		e.initDone = true
		return e.initErr
	}
	e.version = parseVersion(res.Stdout)
	e.initDone = true
	e.logger.Info("codec engine ready", "ffmpeg", e.ffmpegPath, "version", e.version)
	return nil
}

// Version returns the probed ffmpeg version, empty before a successful Init.
func (e *Engine) Version() string {
	if e.Init(context.Background()) != nil {
		return ""
	}
	return e.version
}

// Convert transcodes input into target. Each call works in its own
// temporary directory which is removed before Convert returns.
func (e *Engine) Convert(ctx context.Context, input []byte, target Target, onProgress func(float64)) ([]byte, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	if len(input) == 0 {
		return nil, failure.Transcode("convert", "no media to convert", nil)
	}
	target = target.Normalize()

	workDir, err := e.mkdirTemp("", "carbalite-*")
	if err != nil {
		return nil, failure.Transcode("convert", "failed to create temporary workspace", err)
	}
	defer func() {
		if err := e.removeAll(workDir); err != nil {
			e.logger.Warn("failed to remove workspace", "dir", workDir, "error", err)
		}
	}()

	inPath := filepath.Join(workDir, "input"+inputExtension(input))
	outPath := filepath.Join(workDir, "output."+target.Format)
	if err := e.writeFile(inPath, input, 0o600); err != nil {
		return nil, failure.Transcode("convert", "failed to stage input media", err)
	}

	args := buildArgs(inPath, outPath, target)
	e.logger.Debug("converting", "format", target.Format, "quality", target.Quality, "input_bytes", len(input))

	var parser progressParser
	res, runErr := e.runner.Run(ctx, e.ffmpegPath, args, func(line string) {
		if ratio, ok := parser.feed(line); ok && onProgress != nil {
			onProgress(ratio)
		}
	})
	log := CommandLog{
		Command:  e.ffmpegPath,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Error("ffmpeg conversion failed", "exit", res.ExitCode, "stderr", res.Stderr)
		return nil, failure.Transcode("convert", fmt.Sprintf("Conversion to %s failed", target.Format), &CommandError{
			Message:    "ffmpeg conversion failed",
			CommandLog: log,
			Err:        runErr,
		})
	}

	out, err := e.readFile(outPath)
	if err != nil || len(out) == 0 {
		return nil, failure.Transcode("convert", "ffmpeg completed but produced no output", &CommandError{
			Message:    "ffmpeg output file is missing or empty",
			CommandLog: log,
			Err:        err,
		})
	}

	if onProgress != nil {
		onProgress(1)
	}
	return out, nil
}

// inputExtension names the staged input after its sniffed container.
func inputExtension(data []byte) string {
	ext := mimetype.Detect(data).Extension()
	if ext == "" || ext == ".txt" {
		return ".bin"
	}
	return ext
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(stdout string) string {
	first, _, _ := strings.Cut(stdout, "\n")
	fields := strings.Fields(first)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(first)
}

// NewEngineForTests constructs an engine with injectable dependencies.
func NewEngineForTests(
	ffmpegPath string,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
) *Engine {
	return &Engine{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		logger:     hclog.NewNullLogger(),
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		writeFile:  os.WriteFile,
		readFile:   os.ReadFile,
	}
}
