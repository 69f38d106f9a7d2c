package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/repo"
	"github.com/mergegate-labs/mergegate-go/internal/service/jobs"
)

const (
	defaultDispatcherWorkers = 2
	defaultDispatcherPoll    = 3 * time.Second
	dispatcherPollBatch      = 50
)

// dispatcher feeds queued job runs to a fixed pool of workers. The
// in-memory queue is best effort: webhook intake enqueues directly for
// low latency, and the poller sweeps the database so that dropped or
// crashed-over runs are picked up again. Double delivery is harmless
// because claiming a run is a compare-and-swap on its status.
type dispatcher struct {
	logger  *slog.Logger
	service *jobs.Service
	runs    repo.JobRunRepository
	queue   chan string
	poll    time.Duration
	wg      sync.WaitGroup
}

func startDispatcher(ctx context.Context, logger *slog.Logger, service *jobs.Service, runs repo.JobRunRepository, workers int, poll time.Duration) *dispatcher {
	if service == nil || runs == nil {
		logger.Warn("dispatcher disabled", "component", "dispatcher", "reason", "missing dependencies")
		return nil
	}
	if workers <= 0 {
		workers = defaultDispatcherWorkers
	}
	if poll <= 0 {
		poll = defaultDispatcherPoll
	}

	d := &dispatcher{
		logger:  logger,
		service: service,
		runs:    runs,
		queue:   make(chan string, workers*8),
		poll:    poll,
	}

	d.recoverInterrupted(ctx)

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	go d.pollLoop(ctx)

	logger.Info("dispatcher started",
		"component", "dispatcher",
		"workers", workers,
		"poll_interval", poll.String(),
	)
	return d
}

// Enqueue hands a job run to the worker pool without blocking the
// caller. When the queue is full the run is left for the poller.
func (d *dispatcher) Enqueue(jobRunID string) {
	if d == nil {
		return
	}
	select {
	case d.queue <- jobRunID:
	default:
	}
}

// Wait blocks until every worker has observed the context cancel and
// returned. Callers use it to let in-flight runs persist their state
// during shutdown.
func (d *dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// recoverInterrupted flips runs stranded in running back to queued.
// They were claimed by a process that died before finishing, so their
// next attempt starts from scratch.
func (d *dispatcher) recoverInterrupted(ctx context.Context) {
	requeued, err := d.runs.RequeueInterrupted(ctx)
	if err != nil {
		d.logger.Warn("requeue interrupted runs failed", "component", "dispatcher", "error", err)
		return
	}
	if requeued > 0 {
		d.logger.Info("requeued interrupted job runs", "component", "dispatcher", "count", requeued)
	}
}

func (d *dispatcher) pollLoop(ctx context.Context) {
	d.pollOnce(ctx)

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

func (d *dispatcher) pollOnce(ctx context.Context) {
	ids, err := d.runs.ListQueuedIDs(ctx, dispatcherPollBatch)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.logger.Warn("poll queued runs failed", "component", "dispatcher", "error", err)
		}
		return
	}
	for _, id := range ids {
		d.Enqueue(id)
	}
}

func (d *dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			if err := d.service.ExecuteRun(ctx, id); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				d.logger.Warn("job run execution failed",
					"component", "dispatcher",
					"job_run_id", id,
					"error", err,
				)
			}
		}
	}
}
