package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CTAG07/Mimicry/pkg/pool"
	rcron "github.com/robfig/cron/v3"
)

// Checkpointer periodically saves dirty pooled models, so a crash loses at
// most one schedule interval of training.
type Checkpointer struct {
	cron    *rcron.Cron
	pool    *pool.Pool
	logger  *slog.Logger
	timeout time.Duration
}

// NewCheckpointer registers a checkpoint job on schedule, any expression the
// standard cron parser accepts including "@every 1m". An empty schedule
// disables checkpoints and returns nil.
func NewCheckpointer(schedule string, p *pool.Pool, logger *slog.Logger) (*Checkpointer, error) {
	if schedule == "" {
		return nil, nil
	}
	c := &Checkpointer{
		cron:    rcron.New(),
		pool:    p,
		logger:  logger,
		timeout: 30 * time.Second,
	}
	if _, err := c.cron.AddFunc(schedule, c.run); err != nil {
		return nil, fmt.Errorf("invalid checkpoint schedule %q: %w", schedule, err)
	}
	return c, nil
}

// Start begins running checkpoints in the background.
func (c *Checkpointer) Start() {
	if c == nil {
		return
	}
	c.cron.Start()
	c.logger.Info("Checkpoints scheduled", "entries", len(c.cron.Entries()))
}

// Stop halts the schedule and waits for a running checkpoint to finish.
func (c *Checkpointer) Stop() {
	if c == nil {
		return
	}
	<-c.cron.Stop().Done()
}

func (c *Checkpointer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.pool.Checkpoint(ctx); err != nil {
		c.logger.Error("Checkpoint failed", "error", err)
		return
	}
	c.logger.Debug("Checkpoint completed", "elapsed", time.Since(start))
}
