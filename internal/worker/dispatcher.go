// Package worker runs the two job-processing loops of the pipeline: report
// generation and email delivery. A Dispatcher owns one queue; it claims due
// jobs up to a concurrency bound, heartbeats them while a handler runs, and
// reports the outcome back to the job store, which decides about retries.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"reportflow/internal/jobstore"
)

// Store is the slice of the job store a dispatcher needs.
type Store interface {
	Claim(ctx context.Context, queue string) (*jobstore.Job, error)
	Heartbeat(ctx context.Context, queue, jobID string) error
	Complete(ctx context.Context, job *jobstore.Job) error
	Fail(ctx context.Context, job *jobstore.Job, jobErr error) error
	RecoverStalled(ctx context.Context, queue string) (jobstore.RecoveryStats, error)
}

// Handler processes one claimed job. A nil return acknowledges the job; an
// error hands it back to the store for retry or terminal failure.
type Handler interface {
	Handle(ctx context.Context, job *jobstore.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *jobstore.Job) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, job *jobstore.Job) error {
	return f(ctx, job)
}

// DispatcherConfig tunes one dispatcher.
type DispatcherConfig struct {
	Queue             string
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// ReapInterval is how often the stalled-job reaper runs. Defaults to
	// the heartbeat interval.
	ReapInterval time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = c.HeartbeatInterval
	}
	return c
}

// Dispatcher pulls jobs from one queue and feeds them to a handler.
type Dispatcher struct {
	store   Store
	handler Handler
	cfg     DispatcherConfig
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher for one queue.
func NewDispatcher(store Store, handler Handler, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		handler: handler,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Run starts the claim loops and the stalled-job reaper and blocks until
// the context is canceled. In-flight handlers get to finish; their final
// Complete/Fail calls use a background context so shutdown does not lose
// outcomes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.claimLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.reapLoop(ctx)
	}()

	wg.Wait()
	d.logger.Info("dispatcher stopped", "queue", d.cfg.Queue)
}

func (d *Dispatcher) claimLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := d.store.Claim(ctx, d.cfg.Queue)
		if err != nil {
			if errors.Is(err, jobstore.ErrNoJob) {
				d.sleep(ctx, d.cfg.PollInterval)
				continue
			}
			d.logger.Error("claim failed", "queue", d.cfg.Queue, "error", err.Error())
			d.sleep(ctx, d.cfg.PollInterval)
			continue
		}

		d.process(ctx, job)
	}
}

// process runs the handler with a heartbeat keeping the claim alive.
func (d *Dispatcher) process(ctx context.Context, job *jobstore.Job) {
	d.logger.Info("job started",
		"queue", job.Queue,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)

	hbCtx, stopHB := context.WithCancel(ctx)
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		d.heartbeatLoop(hbCtx, job)
	}()

	err := d.handler.Handle(ctx, job)

	stopHB()
	hbDone.Wait()

	// The outcome write must not be dropped on shutdown, or the job would
	// be replayed as a stall.
	ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		if failErr := d.store.Fail(ackCtx, job, err); failErr != nil {
			d.logger.Error("failed to record job failure",
				"queue", job.Queue,
				"job_id", job.ID,
				"error", failErr.Error(),
			)
		}
		return
	}

	if ackErr := d.store.Complete(ackCtx, job); ackErr != nil {
		d.logger.Error("failed to acknowledge job",
			"queue", job.Queue,
			"job_id", job.ID,
			"error", ackErr.Error(),
		)
		return
	}

	d.logger.Info("job completed",
		"queue", job.Queue,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
}

func (d *Dispatcher) heartbeatLoop(ctx context.Context, job *jobstore.Job) {
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.store.Heartbeat(ctx, job.Queue, job.ID); err != nil && ctx.Err() == nil {
				d.logger.Warn("heartbeat failed",
					"queue", job.Queue,
					"job_id", job.ID,
					"error", err.Error(),
				)
			}
		}
	}
}

func (d *Dispatcher) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := d.store.RecoverStalled(ctx, d.cfg.Queue)
			if err != nil {
				d.logger.Error("stalled job recovery failed", "queue", d.cfg.Queue, "error", err.Error())
				continue
			}
			if stats.Requeued > 0 || stats.Failed > 0 {
				d.logger.Warn("stalled jobs recovered",
					"queue", d.cfg.Queue,
					"requeued", stats.Requeued,
					"failed", stats.Failed,
				)
			}
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
