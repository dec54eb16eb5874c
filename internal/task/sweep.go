package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/internal/platform/logger"
)

// TaskDedupeSweep is the task name of the dedupe ledger sweeper.
const TaskDedupeSweep = "dedupe-sweep"

// sweepInput is the (empty) payload of the sweep task.
type sweepInput struct{}

// RegisterDedupeSweep registers the housekeeping task that purges expired
// dedupe entries. The sweep re-enqueues itself with a RunAt one interval
// ahead, using its own name as dedupe key so at most one sweep is ever
// pending. Expired entries are removed here rather than on the enqueue
// read path.
func RegisterDedupeSweep(
	registry *Registry,
	client *Client,
	dedupe DedupeStore,
	interval time.Duration,
	log *slog.Logger,
) error {
	handler := func(ctx context.Context, _ sweepInput) error {
		purged, err := dedupe.DeleteExpired(ctx)
		if err != nil {
			return fmt.Errorf("failed to purge expired dedupe entries: %w", err)
		}

		logger.FromContext(ctx).Info("dedupe sweep completed", "purged", purged)

		// The running sweep still holds its own key from when it was
		// enqueued. Free it first so the re-enqueue below creates a fresh
		// job instead of deduplicating against the current one.
		if err := dedupe.Release(ctx, TaskDedupeSweep); err != nil {
			return fmt.Errorf("failed to release dedupe sweep key: %w", err)
		}

		// Schedule the next sweep. The dedupe key keeps concurrent workers
		// from piling up sweep jobs.
		_, err = client.Enqueue(ctx, TaskDedupeSweep, sweepInput{}, EnqueueOptions{
			RunAt:     time.Now().UTC().Add(interval),
			DedupeKey: TaskDedupeSweep,
			DedupeTTL: interval,
		})
		if err != nil {
			return fmt.Errorf("failed to schedule next dedupe sweep: %w", err)
		}
		return nil
	}

	if err := Define(registry, TaskDedupeSweep, handler); err != nil {
		return err
	}

	log.Debug("dedupe sweep task registered", "interval", interval)
	return nil
}

// KickDedupeSweep enqueues the first sweep. Safe to call on every process
// start: the dedupe key makes it a no-op when a sweep is already pending.
func KickDedupeSweep(ctx context.Context, client *Client, interval time.Duration) error {
	_, err := client.Enqueue(ctx, TaskDedupeSweep, sweepInput{}, EnqueueOptions{
		DedupeKey: TaskDedupeSweep,
		DedupeTTL: interval,
	})
	return err
}
