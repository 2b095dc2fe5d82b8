// Command carbalite fetches media through the extraction service from a terminal.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitCode(err))
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:        "carbalite",
		Usage:       "download YouTube and SoundCloud media as audio or video files",
		Writer:      stdout,
		ErrWriter:   stderr,
		HideVersion: true,
		// Errors are reported by main so tests can observe exit codes.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the runtime YAML config file",
				EnvVars: []string{"CARBALITE_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level (trace, debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "api",
				Usage: "override the extraction service base URL",
			},
			&cli.StringFlag{
				Name:  "preferences",
				Usage: "override the preferences file path",
			},
		},
		Commands: []*cli.Command{
			fetchCommand(),
			prefsCommand(),
			doctorCommand(),
		},
	}
}

func exitCode(err error) int {
	if coder, ok := err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	return 1
}
