package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"carbalite/internal/domain"
	"carbalite/internal/failure"
)

// PollConfig bounds one status polling loop.
type PollConfig struct {
	Interval             time.Duration
	MaxAttempts          int
	MaxWait              time.Duration
	MaxTransientFailures int
	MaxBackoff           time.Duration
}

// DefaultPollConfig matches the extraction service's typical job duration.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:             2 * time.Second,
		MaxAttempts:          300,
		MaxWait:              10 * time.Minute,
		MaxTransientFailures: 3,
		MaxBackoff:           10 * time.Second,
	}
}

func (c PollConfig) withDefaults() PollConfig {
	d := DefaultPollConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.MaxTransientFailures <= 0 {
		c.MaxTransientFailures = d.MaxTransientFailures
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.Interval {
		c.MaxBackoff = c.Interval
	}
	return c
}

// StatusFetcher reads one remote job status.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (domain.ExtractionJob, error)
}

// Poller waits for a remote job to reach a terminal status.
type Poller struct {
	fetcher StatusFetcher
	cfg     PollConfig
	logger  hclog.Logger
}

// NewPoller builds a Poller; zero config fields take their defaults.
func NewPoller(fetcher StatusFetcher, cfg PollConfig, logger hclog.Logger) *Poller {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Poller{fetcher: fetcher, cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the effective bounds.
func (p *Poller) Config() PollConfig {
	return p.cfg
}

// Wait polls jobID until it completes, fails, or a bound is exceeded.
// Polls are sequential so at most one request is outstanding. onUpdate sees
// every Processing status in arrival order.
func (p *Poller) Wait(ctx context.Context, jobID string, onUpdate func(domain.ExtractionJob)) (domain.ExtractionJob, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.MaxWait)
	defer cancel()

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	transient := 0
	for attempt := 1; ; attempt++ {
		select {
		case <-waitCtx.Done():
			return domain.ExtractionJob{}, p.stopped(ctx, jobID)
		case <-timer.C:
		}

		if attempt > p.cfg.MaxAttempts {
			return domain.ExtractionJob{}, failure.Timeout(
				"poll",
				fmt.Sprintf("Extraction did not finish after %d status checks", p.cfg.MaxAttempts),
			)
		}

		job, err := p.fetcher.Status(waitCtx, jobID)
		if err != nil {
			if waitCtx.Err() != nil {
				return domain.ExtractionJob{}, p.stopped(ctx, jobID)
			}
			if !IsTransient(err) {
				return domain.ExtractionJob{}, err
			}
			transient++
			if transient >= p.cfg.MaxTransientFailures {
				p.logger.Warn("giving up on job status", "job_id", jobID, "failures", transient, "error", err)
				return domain.ExtractionJob{}, err
			}
			delay := p.backoff(transient)
			p.logger.Debug("status check failed, retrying", "job_id", jobID, "attempt", attempt, "delay", delay, "error", err)
			timer.Reset(delay)
			continue
		}
		transient = 0

		switch job.Status {
		case domain.RemoteStatusCompleted:
			p.logger.Debug("extraction job completed", "job_id", jobID, "attempts", attempt)
			return job, nil
		case domain.RemoteStatusError:
			message := job.Message
			if message == "" {
				message = "Processing failed"
			}
			return job, failure.RemoteJob("poll", message)
		default:
			if onUpdate != nil {
				onUpdate(job)
			}
		}
		timer.Reset(p.cfg.Interval)
	}
}

// backoff grows linearly with consecutive failures up to MaxBackoff.
func (p *Poller) backoff(failures int) time.Duration {
	d := p.cfg.Interval * time.Duration(failures+1)
	if d > p.cfg.MaxBackoff {
		d = p.cfg.MaxBackoff
	}
	return d
}

func (p *Poller) stopped(parent context.Context, jobID string) error {
	if err := parent.Err(); err != nil {
		return err
	}
	p.logger.Warn("extraction wait exceeded", "job_id", jobID, "max_wait", p.cfg.MaxWait)
	return failure.Timeout("poll", fmt.Sprintf("Extraction did not finish within %s", p.cfg.MaxWait))
}
