package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"carbalite/internal/domain"
	"carbalite/internal/failure"
)

// fakeRunner simulates command execution order and outcomes.
type fakeRunner struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context, name string, args []string, onStderr func(string)) (commandResult, error)
}

// Run answers the version probe and delegates everything else.
func (f *fakeRunner) Run(ctx context.Context, name string, args []string, onStderr func(string)) (commandResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if hasArg(args, "-version") {
		return commandResult{Stdout: "ffmpeg version 6.1.1 Copyright (c) 2000-2023\nbuilt with gcc"}, nil
	}
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args, onStderr)
}

// trackingTemp records every workspace created and removed.
type trackingTemp struct {
	root    string
	created []string
	removed []string
}

func (tt *trackingTemp) mkdirTemp(dir, pattern string) (string, error) {
	d, err := os.MkdirTemp(tt.root, pattern)
	if err == nil {
		tt.created = append(tt.created, d)
	}
	return d, err
}

func (tt *trackingTemp) removeAll(path string) error {
	tt.removed = append(tt.removed, path)
	return os.RemoveAll(path)
}

// TestEngineConvertAudioSuccess checks args, progress reporting and cleanup.
func TestEngineConvertAudioSuccess(t *testing.T) {
	tmp := &trackingTemp{root: t.TempDir()}
	var gotArgs []string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onStderr func(string)) (commandResult, error) {
			if name != "ffmpeg-custom" {
				t.Fatalf("command name = %q, want ffmpeg-custom", name)
			}
			gotArgs = append([]string{}, args...)
			onStderr("Duration: 00:00:10.00, start: 0.000000, bitrate: 128 kb/s")
			onStderr("out_time_us=2500000")
			onStderr("out_time_us=5000000")
			onStderr("out_time_us=4000000")
			onStderr("progress=end")
			mustWriteFile(t, args[len(args)-1], "encoded")
			return commandResult{}, nil
		},
	}

	engine := NewEngineForTests("ffmpeg-custom", runner, tmp.mkdirTemp, tmp.removeAll)
	var ratios []float64
	out, err := engine.Convert(context.Background(), []byte("raw media"), Target{
		Type:    domain.MediaTypeAudio,
		Format:  "mp3",
		Quality: "256k",
	}, func(r float64) { ratios = append(ratios, r) })
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if string(out) != "encoded" {
		t.Fatalf("output = %q, want encoded", out)
	}
	if got := argValue(gotArgs, "-c:a"); got != "libmp3lame" {
		t.Fatalf("-c:a = %q, want libmp3lame", got)
	}
	if got := argValue(gotArgs, "-b:a"); got != "256k" {
		t.Fatalf("-b:a = %q, want 256k", got)
	}
	if got := argValue(gotArgs, "-metadata"); got != "title=CarbaLite Download" {
		t.Fatalf("-metadata = %q", got)
	}
	if !hasArg(gotArgs, "-vn") {
		t.Fatalf("audio conversion should drop video, args=%v", gotArgs)
	}
	if got := argValue(gotArgs, "-progress"); got != "pipe:2" {
		t.Fatalf("-progress = %q, want pipe:2", got)
	}
	if !strings.HasSuffix(argValue(gotArgs, "-i"), ".bin") {
		t.Fatalf("unsniffable input should be staged as .bin, got %q", argValue(gotArgs, "-i"))
	}

	want := []float64{0.25, 0.5, 1, 1}
	if len(ratios) != len(want) {
		t.Fatalf("ratios = %v, want %v", ratios, want)
	}
	for i := range want {
		if ratios[i] != want[i] {
			t.Fatalf("ratios = %v, want %v", ratios, want)
		}
	}

	assertCleanedUp(t, tmp)
}

// TestEngineConvertVideoArgs checks the resolution table and container flags.
func TestEngineConvertVideoArgs(t *testing.T) {
	tests := []struct {
		quality   string
		format    string
		wantScale string
		wantCodec string
		faststart bool
	}{
		{"1080p", "mp4", "scale=1920:1080", "libx264", true},
		{"720p", "mkv", "scale=1280:720", "libx264", false},
		{"480p", "mp4", "scale=854:480", "libx264", true},
		{"4k", "mp4", "scale=1280:720", "libx264", true},
		{"720p", "webm", "scale=1280:720", "libvpx-vp9", false},
	}

	for _, tt := range tests {
		args := buildArgs("in", "out", Target{Type: domain.MediaTypeVideo, Format: tt.format, Quality: tt.quality}.Normalize())
		if got := argValue(args, "-vf"); got != tt.wantScale {
			t.Fatalf("%s/%s -vf = %q, want %q", tt.quality, tt.format, got, tt.wantScale)
		}
		if got := argValue(args, "-c:v"); got != tt.wantCodec {
			t.Fatalf("%s/%s -c:v = %q, want %q", tt.quality, tt.format, got, tt.wantCodec)
		}
		if got := argValue(args, "-crf"); got != "23" {
			t.Fatalf("-crf = %q, want 23", got)
		}
		if hasArg(args, "-movflags") != tt.faststart {
			t.Fatalf("%s/%s faststart = %v, want %v", tt.quality, tt.format, !tt.faststart, tt.faststart)
		}
		if hasArg(args, "-vn") {
			t.Fatalf("video conversion must keep video, args=%v", args)
		}
	}
}

// TestTargetNormalize checks fallbacks for unknown formats and tiers.
func TestTargetNormalize(t *testing.T) {
	got := Target{Type: domain.MediaTypeAudio, Format: "AVI", Quality: "999k"}.Normalize()
	if got.Format != "mp3" || got.Quality != "320k" {
		t.Fatalf("audio normalize = %+v", got)
	}

	got = Target{Type: domain.MediaTypeVideo, Format: "avi"}.Normalize()
	if got.Format != "mp4" || got.Quality != "720p" {
		t.Fatalf("video normalize = %+v", got)
	}

	args := buildAudioArgs(Target{Type: domain.MediaTypeAudio, Format: "flac", Quality: "320k"})
	if hasArg(args, "-b:a") {
		t.Fatalf("flac should not carry a bitrate, args=%v", args)
	}
}

// TestTargetFor maps a request onto its conversion target.
func TestTargetFor(t *testing.T) {
	got := TargetFor(domain.MediaRequest{
		Type:         domain.MediaTypeVideo,
		VideoQuality: domain.VideoQuality1080p,
		AudioQuality: domain.AudioQuality128k,
		VideoFormat:  "mkv",
		AudioFormat:  "ogg",
	})
	if got.Format != "mkv" || got.Quality != "1080p" {
		t.Fatalf("TargetFor() = %+v", got)
	}
}

// TestEngineConvertFailureReturnsTranscodeError checks the failure path cleans up.
func TestEngineConvertFailureReturnsTranscodeError(t *testing.T) {
	tmp := &trackingTemp{root: t.TempDir()}
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onStderr func(string)) (commandResult, error) {
			return commandResult{Stderr: "Invalid data found when processing input", ExitCode: 1}, errors.New("exit status 1")
		},
	}

	engine := NewEngineForTests("ffmpeg", runner, tmp.mkdirTemp, tmp.removeAll)
	_, err := engine.Convert(context.Background(), []byte("garbage"), Target{Type: domain.MediaTypeAudio}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !failure.Is(err, failure.KindTranscode) {
		t.Fatalf("kind = %q, want transcode", failure.KindOf(err))
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %T", err)
	}
	if cmdErr.CommandLog.ExitCode != 1 || !strings.Contains(cmdErr.CommandLog.Stderr, "Invalid data") {
		t.Fatalf("command log = %+v", cmdErr.CommandLog)
	}

	assertCleanedUp(t, tmp)
}

// TestEngineConvertMissingOutput treats a silent ffmpeg as a failure.
func TestEngineConvertMissingOutput(t *testing.T) {
	tmp := &trackingTemp{root: t.TempDir()}
	engine := NewEngineForTests("ffmpeg", &fakeRunner{}, tmp.mkdirTemp, tmp.removeAll)

	_, err := engine.Convert(context.Background(), []byte("raw"), Target{Type: domain.MediaTypeVideo}, nil)
	if !failure.Is(err, failure.KindTranscode) {
		t.Fatalf("err = %v, want transcode failure", err)
	}
	assertCleanedUp(t, tmp)
}

// TestEngineConvertCancelled returns the context error rather than a codec failure.
func TestEngineConvertCancelled(t *testing.T) {
	tmp := &trackingTemp{root: t.TempDir()}
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args []string, onStderr func(string)) (commandResult, error) {
			cancel()
			return commandResult{ExitCode: -1}, errors.New("signal: killed")
		},
	}

	engine := NewEngineForTests("ffmpeg", runner, tmp.mkdirTemp, tmp.removeAll)
	_, err := engine.Convert(ctx, []byte("raw"), Target{Type: domain.MediaTypeAudio}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	assertCleanedUp(t, tmp)
}

// TestEngineConvertRejectsEmptyInput never starts ffmpeg for empty bytes.
func TestEngineConvertRejectsEmptyInput(t *testing.T) {
	runner := &fakeRunner{}
	engine := NewEngineForTests("ffmpeg", runner, os.MkdirTemp, os.RemoveAll)

	_, err := engine.Convert(context.Background(), nil, Target{Type: domain.MediaTypeAudio}, nil)
	if !failure.Is(err, failure.KindTranscode) {
		t.Fatalf("err = %v, want transcode failure", err)
	}
	if runner.calls != 1 {
		t.Fatalf("runner calls = %d, want only the version probe", runner.calls)
	}
}

// TestEngineInitRunsOnce checks concurrent Init calls share one probe.
func TestEngineInitRunsOnce(t *testing.T) {
	runner := &fakeRunner{}
	engine := NewEngineForTests("ffmpeg", runner, os.MkdirTemp, os.RemoveAll)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.Init(context.Background()); err != nil {
				t.Errorf("Init() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if runner.calls != 1 {
		t.Fatalf("probe calls = %d, want 1", runner.calls)
	}
	if engine.Version() != "6.1.1" {
		t.Fatalf("version = %q, want 6.1.1", engine.Version())
	}
}

// TestEngineInitFailureIsRemembered checks a missing binary fails every conversion.
func TestEngineInitFailureIsRemembered(t *testing.T) {
	probes := 0
	runner := runnerFunc(func(ctx context.Context, name string, args []string, onStderr func(string)) (commandResult, error) {
		probes++
		return commandResult{ExitCode: -1}, errors.New(`exec: "ffmpeg": executable file not found in $PATH`)
	})
	engine := NewEngineForTests("ffmpeg", runner, os.MkdirTemp, os.RemoveAll)

	for i := 0; i < 2; i++ {
		_, err := engine.Convert(context.Background(), []byte("raw"), Target{}, nil)
		if !failure.Is(err, failure.KindTranscode) {
			t.Fatalf("err = %v, want transcode failure", err)
		}
	}
	if probes != 1 {
		t.Fatalf("probes = %d, want 1", probes)
	}
}

// TestEngineInitCancelledIsRetried checks an interrupted probe does not disable later runs.
func TestEngineInitCancelledIsRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probes := 0
	runner := runnerFunc(func(runCtx context.Context, name string, args []string, onStderr func(string)) (commandResult, error) {
		if hasArg(args, "-version") {
			probes++
			if probes == 1 {
				cancel()
				return commandResult{ExitCode: -1}, runCtx.Err()
			}
			return commandResult{Stdout: "ffmpeg version 7.0 Copyright"}, nil
		}
		mustWriteFile(t, args[len(args)-1], "encoded")
		return commandResult{}, nil
	})
	tmp := &trackingTemp{root: t.TempDir()}
	engine := NewEngineForTests("ffmpeg", runner, tmp.mkdirTemp, tmp.removeAll)

	_, err := engine.Convert(ctx, []byte("raw"), Target{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("first Convert() error = %v, want context.Canceled", err)
	}
	if failure.KindOf(err) != failure.KindCancelled {
		t.Fatalf("kind = %s, want cancelled", failure.KindOf(err))
	}

	out, err := engine.Convert(context.Background(), []byte("raw"), Target{}, nil)
	if err != nil {
		t.Fatalf("second Convert() error = %v", err)
	}
	if string(out) != "encoded" {
		t.Fatalf("output = %q, want encoded", out)
	}
	if probes != 2 {
		t.Fatalf("probes = %d, want 2", probes)
	}
	if engine.Version() != "7.0" {
		t.Fatalf("version = %q, want 7.0", engine.Version())
	}
}

// TestProgressParser checks header parsing and monotonic ratios.
func TestProgressParser(t *testing.T) {
	var p progressParser
	if _, ok := p.feed("out_time_us=1000000"); ok {
		t.Fatal("ratio reported before duration is known")
	}
	p.feed("Duration: 00:01:40.00, start: 0.000000, bitrate: 320 kb/s")
	if r, ok := p.feed("out_time_ms=50000000"); !ok || r != 0.5 {
		t.Fatalf("feed = %v,%v want 0.5,true", r, ok)
	}
	if _, ok := p.feed("out_time_us=N/A"); ok {
		t.Fatal("N/A should be ignored")
	}
	if r, ok := p.feed("out_time_us=999000000"); !ok || r != 1 {
		t.Fatalf("overshoot = %v,%v want 1,true", r, ok)
	}
}

// TestParseDurationHeader covers the ffmpeg input banner.
func TestParseDurationHeader(t *testing.T) {
	d, ok := parseDurationHeader("Duration: 01:02:03.50, start: 0.000000")
	if !ok || d.Seconds() != 3723.5 {
		t.Fatalf("duration = %v,%v", d, ok)
	}
	if _, ok := parseDurationHeader("Duration: N/A, bitrate: N/A"); ok {
		t.Fatal("N/A duration should not parse")
	}
}

// TestScanLinesSplitsCarriageReturns checks ffmpeg status rewrites become lines.
func TestScanLinesSplitsCarriageReturns(t *testing.T) {
	var lines []string
	scanLines(strings.NewReader("a\rb\r\nc\n\nd"), func(l string) { lines = append(lines, l) })
	if strings.Join(lines, ",") != "a,b,c,d" {
		t.Fatalf("lines = %v", lines)
	}
}

// TestLineTailKeepsLastLines bounds captured stderr.
func TestLineTailKeepsLastLines(t *testing.T) {
	tail := newLineTail(2)
	tail.add("one")
	tail.add("two")
	tail.add("three")
	if tail.String() != "two\nthree" {
		t.Fatalf("tail = %q", tail.String())
	}
}

// TestInputExtensionSniffsContainer names staged inputs by content.
func TestInputExtensionSniffsContainer(t *testing.T) {
	mp3 := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
	if got := inputExtension(mp3); got != ".mp3" {
		t.Fatalf("mp3 extension = %q", got)
	}
	if got := inputExtension([]byte("plain text")); got != ".bin" {
		t.Fatalf("text extension = %q, want .bin", got)
	}
}

type runnerFunc func(ctx context.Context, name string, args []string, onStderr func(string)) (commandResult, error)

func (f runnerFunc) Run(ctx context.Context, name string, args []string, onStderr func(string)) (commandResult, error) {
	return f(ctx, name, args, onStderr)
}

func assertCleanedUp(t *testing.T, tmp *trackingTemp) {
	t.Helper()
	if len(tmp.created) != 1 {
		t.Fatalf("workspaces created = %d, want 1", len(tmp.created))
	}
	if len(tmp.removed) != 1 || tmp.removed[0] != tmp.created[0] {
		t.Fatalf("removed = %v, want %v", tmp.removed, tmp.created)
	}
	if _, err := os.Stat(tmp.created[0]); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace still present, stat err = %v", err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func hasArg(args []string, want string) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}

func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}
