package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"carbalite/internal/bootstrap"
	"carbalite/internal/config"
	"carbalite/internal/delivery"
	"carbalite/internal/diagnostics"
	"carbalite/internal/domain"
)

// loadRuntime resolves config file, environment and global flag overrides.
func loadRuntime(c *cli.Context) (config.Runtime, hclog.Logger, error) {
	rt, err := config.LoadRuntime(c.String("config"))
	if err != nil {
		return config.Runtime{}, nil, cli.Exit(err.Error(), 2)
	}
	if v := c.String("log-level"); v != "" {
		rt.LogLevel = v
	}
	if v := c.String("api"); v != "" {
		rt.APIBaseURL = v
	}
	if v := c.String("preferences"); v != "" {
		rt.PreferencesPath = v
	}
	if err := rt.Validate(); err != nil {
		return config.Runtime{}, nil, cli.Exit(err.Error(), 2)
	}
	return rt, rt.LoggerTo(c.App.ErrWriter), nil
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "download one URL and save the converted file",
		ArgsUsage: "URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "audio or video",
				Value:   string(domain.MediaTypeAudio),
			},
			&cli.StringFlag{
				Name:    "quality",
				Aliases: []string{"q"},
				Usage:   "128k/256k/320k for audio, 480p/720p/1080p for video; defaults to the saved preference",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "output container for this run; defaults to the saved preference",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "directory to save into; defaults to the configured output directory",
			},
		},
		Action: runFetch,
	}
}

func runFetch(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("fetch takes exactly one URL", 2)
	}
	rt, logger, err := loadRuntime(c)
	if err != nil {
		return err
	}

	prefs, err := config.NewJSONStore(rt.PreferencesPath, logger.Named("config")).Load()
	if err != nil {
		return cli.Exit(fmt.Sprintf("load preferences: %v", err), 1)
	}

	mediaType := domain.MediaType(strings.ToLower(c.String("type")))
	opts := domain.RunOptions{Type: mediaType}
	if q := c.String("quality"); q != "" {
		switch mediaType {
		case domain.MediaTypeVideo:
			opts.VideoQuality = domain.VideoQuality(q)
			if !opts.VideoQuality.Valid() {
				return cli.Exit(fmt.Sprintf("unknown video quality %q", q), 2)
			}
		default:
			opts.AudioQuality = domain.AudioQuality(q)
			if !opts.AudioQuality.Valid() {
				return cli.Exit(fmt.Sprintf("unknown audio quality %q", q), 2)
			}
		}
	}
	if f := strings.ToLower(c.String("format")); f != "" {
		switch {
		case mediaType == domain.MediaTypeVideo && domain.ValidVideoFormat(f):
			prefs.SelectedVideoFormat = f
		case mediaType == domain.MediaTypeAudio && domain.ValidAudioFormat(f):
			prefs.SelectedAudioFormat = f
		default:
			return cli.Exit(fmt.Sprintf("unsupported %s format %q", mediaType, f), 2)
		}
	}

	outDir := rt.OutputDir
	if v := c.String("out"); v != "" {
		outDir = v
	}

	comps, err := bootstrap.Wire(rt, prefs, delivery.DirSaver{Dir: outDir}, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	comps.Orchestrator.OnChange(progressPrinter(c))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	state, err := comps.Orchestrator.RunSync(ctx, c.Args().First(), opts)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if state.Stage != domain.StageCompleted {
		kind := ""
		if state.Error != nil {
			kind = " [" + state.Error.Kind + "]"
		}
		return cli.Exit(fmt.Sprintf("failed during %s%s: %s", failedStage(state), kind, state.Message), 1)
	}

	for _, ev := range comps.Events.Since(0) {
		if ev.Location != "" {
			fmt.Fprintln(c.App.Writer, ev.Location)
			return nil
		}
	}
	fmt.Fprintln(c.App.Writer, state.Filename)
	return nil
}

// progressPrinter writes one line per stage change or progress step.
func progressPrinter(c *cli.Context) func(domain.ProcessingState) {
	var (
		mu   sync.Mutex
		last domain.ProcessingState
	)
	return func(s domain.ProcessingState) {
		mu.Lock()
		defer mu.Unlock()
		if s.Stage == last.Stage && s.Progress == last.Progress && s.Message == last.Message {
			return
		}
		last = s
		fmt.Fprintf(c.App.ErrWriter, "%3d%% %-11s %s\n", s.Progress, s.Stage, s.Message)
	}
}

func failedStage(s domain.ProcessingState) domain.Stage {
	if s.Error != nil && s.Error.Stage != "" {
		return s.Error.Stage
	}
	return s.Stage
}

func prefsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prefs",
		Usage: "show or change saved preferences",
		Subcommands: []*cli.Command{{
			Name:  "show",
			Usage: "print the effective preferences as JSON",
			Action: func(c *cli.Context) error {
				store, err := prefsStore(c)
				if err != nil {
					return err
				}
				prefs, err := store.Load()
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				return printJSON(c, prefs)
			},
		}, {
			Name:  "set",
			Usage: "update one or more preference fields",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "video-format", Usage: "mp4, webm or mkv"},
				&cli.StringFlag{Name: "audio-format", Usage: "mp3, m4a, ogg, wav, flac or opus"},
				&cli.StringFlag{Name: "video-quality", Usage: "480p, 720p or 1080p"},
				&cli.StringFlag{Name: "audio-quality", Usage: "128k, 256k or 320k"},
			},
			Action: func(c *cli.Context) error {
				store, err := prefsStore(c)
				if err != nil {
					return err
				}
				prefs, err := store.Load()
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}

				if v := c.String("video-format"); v != "" {
					prefs.SelectedVideoFormat = v
				}
				if v := c.String("audio-format"); v != "" {
					prefs.SelectedAudioFormat = v
				}
				if v := c.String("video-quality"); v != "" {
					prefs.VideoQuality = domain.VideoQuality(v)
				}
				if v := c.String("audio-quality"); v != "" {
					prefs.AudioQuality = domain.AudioQuality(v)
				}

				normalized := config.NormalizePreferences(prefs)
				if err := store.Save(normalized); err != nil {
					return cli.Exit(err.Error(), 1)
				}
				return printJSON(c, normalized)
			},
		}},
	}
}

func prefsStore(c *cli.Context) (*config.JSONStore, error) {
	rt, logger, err := loadRuntime(c)
	if err != nil {
		return nil, err
	}
	return config.NewJSONStore(rt.PreferencesPath, logger.Named("config")), nil
}

func doctorCommand() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "check ffmpeg, the extraction service, the output directory and memory",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
		},
		Action: func(c *cli.Context) error {
			rt, logger, err := loadRuntime(c)
			if err != nil {
				return err
			}
			comps, err := bootstrap.Wire(rt, config.DefaultPreferences(), delivery.DirSaver{Dir: rt.OutputDir}, logger)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			report := diagnostics.NewChecker(comps.Client).Run(c.Context, bootstrap.DiagnosticOptions(rt))
			if c.Bool("json") {
				if err := printJSON(c, report); err != nil {
					return err
				}
			} else {
				printReport(c, report)
			}
			if report.HasFailures {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func printReport(c *cli.Context, report domain.DiagnosticReport) {
	for _, item := range report.Items {
		fmt.Fprintf(c.App.Writer, "[%s] %-20s %s\n", strings.ToUpper(string(item.Status)), item.Name, item.Message)
		if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
			fmt.Fprintf(c.App.Writer, "       %s\n", item.Hint)
		}
		if item.Fixable && item.Status == domain.DiagnosticStatusFail {
			fmt.Fprintln(c.App.Writer, "       The desktop app can fix this from its diagnostics panel.")
		}
	}
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
