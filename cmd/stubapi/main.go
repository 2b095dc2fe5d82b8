// Command stubapi serves a local stand-in for the extraction service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"

	"carbalite/internal/domain"
	"carbalite/internal/stubapi"
)

func main() {
	app := &cli.App{
		Name:        "stubapi",
		Usage:       "serve a fake extraction API for local development",
		HideVersion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:5000", Usage: "listen address"},
			&cli.PathFlag{Name: "media", Usage: "file served by /download for every completed job", Required: true},
			&cli.StringFlag{Name: "title", Value: "Stub Media", Usage: "title reported by /validate and /status"},
			&cli.IntFlag{Name: "steps", Value: 3, Usage: "processing polls before a job completes"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level"},
		},
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "stubapi",
		Level: hclog.LevelFromString(c.String("log-level")),
	})

	media, err := os.ReadFile(c.Path("media"))
	if err != nil {
		return fmt.Errorf("read media: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	stub := stubapi.New(stubapi.Options{
		Media:    media,
		Filename: filepath.Base(c.Path("media")),
		Info:     domain.VideoMetadata{Title: c.String("title"), Uploader: "stubapi"},
		Steps:    c.Int("steps"),
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              c.String("addr"),
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "media_bytes", len(media))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
