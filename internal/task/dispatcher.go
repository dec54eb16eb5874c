package task

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/internal/platform/logger"
	"github.com/conveyorhq/conveyor/internal/store"
)

// DispatcherConfig holds configuration for the dispatcher pool.
type DispatcherConfig struct {
	// WorkerCount is the number of concurrent dispatcher loops. Each loop
	// claims and executes one job at a time, so WorkerCount bounds
	// in-flight task executions in this process.
	WorkerCount int

	// PollInterval is the idle sleep between claim attempts when no job
	// is ready. Jitter of up to the same amount is added on top.
	PollInterval time.Duration

	// LeaseDuration is how long a claim is held before the job becomes
	// eligible for reclaim by another worker.
	LeaseDuration time.Duration

	// Retry computes delays for transient handler failures.
	Retry RetryPolicy
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerCount:   4,
		PollInterval:  time.Second,
		LeaseDuration: 60 * time.Second,
		Retry:         DefaultRetryPolicy(),
	}
}

// Dispatcher runs a fixed-size pool of loops that claim jobs from the
// store and execute the registered handlers. Multiple processes may run
// dispatchers against the same store; correctness relies entirely on the
// store's atomic claim.
type Dispatcher struct {
	store    JobStore
	registry *Registry
	config   DispatcherConfig
	logger   *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewDispatcher creates a dispatcher pool. Start must be called to begin
// processing.
func NewDispatcher(store JobStore, registry *Registry, config DispatcherConfig, log *slog.Logger) *Dispatcher {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = 60 * time.Second
	}
	if config.Retry.Base <= 0 {
		config.Retry = DefaultRetryPolicy()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		store:      store,
		registry:   registry,
		config:     config,
		logger:     log,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start freezes the registry and launches the worker loops. Registration
// after Start fails with ErrRegistryFrozen.
func (d *Dispatcher) Start() {
	d.registry.Freeze()

	for i := 0; i < d.config.WorkerCount; i++ {
		workerID := uuid.New()
		d.wg.Add(1)
		go d.loop(workerID)
	}

	d.logger.Info("dispatcher started",
		"worker_count", d.config.WorkerCount,
		"poll_interval", d.config.PollInterval,
		"lease_duration", d.config.LeaseDuration)
}

// Stop cancels the loops and waits for in-flight jobs to finish their
// current execution and state transition.
func (d *Dispatcher) Stop() {
	d.cancelFunc()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// loop is one claim-execute cycle. It backs off with jitter when no job
// is ready and backs off further when the store itself is failing, to
// avoid hot-looping against a broken database.
func (d *Dispatcher) loop(workerID uuid.UUID) {
	defer d.wg.Done()

	log := d.logger.With("worker_id", workerID)
	log.Debug("starting dispatcher loop")

	for {
		select {
		case <-d.ctx.Done():
			log.Debug("stopping dispatcher loop")
			return
		default:
		}

		job, err := d.store.ClaimNext(d.ctx, workerID, d.config.LeaseDuration)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			log.Error("failed to claim job", "error", err)
			d.sleep(4 * d.config.PollInterval)
			continue
		}

		if job == nil {
			d.sleep(d.config.PollInterval)
			continue
		}

		d.execute(workerID, job)
	}
}

// sleep waits for d plus up to d of jitter, or until shutdown.
func (d *Dispatcher) sleep(dur time.Duration) {
	jittered := dur + time.Duration(rand.Int64N(int64(dur)+1)) //nolint:gosec // poll jitter
	select {
	case <-d.ctx.Done():
	case <-time.After(jittered):
	}
}

// execute runs a claimed job's handler and routes the outcome. Handler
// errors never escape: they are routed through the retry policy, and a
// stale lease on the final transition means another worker has reclaimed
// the job, so the result is discarded.
func (d *Dispatcher) execute(workerID uuid.UUID, job *Job) {
	log := d.logger.With(
		"job_id", job.ID,
		"task_name", job.TaskName,
		"worker_id", workerID,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
	)

	// Mark transitions use a fresh context: shutdown must not abandon a
	// finished execution before its status is recorded.
	markCtx := context.Background()

	handler, ok := d.registry.Handler(job.TaskName)
	if !ok {
		// Configuration error: the job references a task this process does
		// not know. Park it where operators can see it instead of dropping
		// it or retrying forever.
		log.Error("no task definition registered, parking job")
		d.mark(log, "failed",
			d.store.MarkFailed(markCtx, job.ID, workerID, fmt.Sprintf("%v: %q", ErrUnknownTask, job.TaskName)))
		return
	}

	// Defense in depth: the payload was validated at enqueue time, but the
	// schema may have evolved since the job was persisted.
	if err := d.registry.ValidatePayload(job.TaskName, job.Payload); err != nil {
		log.Error("payload no longer conforms to task schema", "error", err)
		d.mark(log, "failed", d.store.MarkFailed(markCtx, job.ID, workerID, err.Error()))
		return
	}

	log.Info("executing job")

	ctx := logger.WithLogger(d.ctx, log)
	ctx = withJob(ctx, job)

	start := time.Now()
	err := d.invoke(ctx, handler, job.Payload)
	elapsed := time.Since(start)

	if err == nil {
		log.Info("job succeeded", "duration", elapsed)
		d.mark(log, "succeeded", d.store.MarkSucceeded(markCtx, job.ID, workerID))
		return
	}

	if IsPermanent(err) {
		log.Error("job failed permanently", "error", err, "duration", elapsed)
		d.mark(log, "failed", d.store.MarkFailed(markCtx, job.ID, workerID, err.Error()))
		return
	}

	if job.Attempts < job.MaxAttempts {
		delay := d.config.Retry.Delay(job.Attempts)
		nextRunAt := time.Now().UTC().Add(delay)
		log.Warn("job failed, scheduling retry",
			"error", err,
			"retry_delay", delay,
			"next_run_at", nextRunAt)
		d.mark(log, "retry", d.store.MarkRetry(markCtx, job.ID, workerID, nextRunAt, err.Error()))
		return
	}

	log.Error("job failed, attempts exhausted", "error", err, "duration", elapsed)
	d.mark(log, "failed", d.store.MarkFailed(markCtx, job.ID, workerID, err.Error()))
}

// invoke calls the handler, converting a panic into an error so a
// misbehaving task cannot take down the worker process.
func (d *Dispatcher) invoke(ctx context.Context, handler HandlerFunc, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return handler(ctx, payload)
}

// mark logs the outcome of a state transition. A stale lease is expected
// when this worker held the job past its lease; the result has already
// taken effect elsewhere, so it is noted and dropped.
func (d *Dispatcher) mark(log *slog.Logger, transition string, err error) {
	if err == nil {
		return
	}
	if store.IsConflictError(err) {
		log.Warn("lease no longer held, discarding result", "transition", transition)
		return
	}
	log.Error("failed to record job transition", "transition", transition, "error", err)
}
