package workflow

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/internal/platform/logger"
	"github.com/conveyorhq/conveyor/internal/task"
)

// Definition names a workflow and fixes its input type. The input schema
// is the struct type T with its validate tags, checked the same way task
// payloads are.
type Definition[T any] struct {
	Name string
}

// Define declares a workflow. The returned definition is the handle used
// by Implement and Enqueue; declaring it in a shared package keeps
// producer and worker in agreement about the input type.
func Define[T any](name string) Definition[T] {
	return Definition[T]{Name: name}
}

// Implement registers the workflow's driver function as the handler of a
// task named after the workflow. Each execution attempt of the backing
// job re-invokes the driver from the top; the step primitives on Run
// short-circuit steps that already completed in earlier attempts.
//
// Driver errors (including step errors the driver does not catch) fail
// the attempt and flow through the job's normal retry policy.
func Implement[T any](
	registry *task.Registry,
	steps StepStore,
	def Definition[T],
	driver func(ctx context.Context, input T, run *Run) error,
) error {
	return task.Define(registry, def.Name, func(ctx context.Context, input T) error {
		job, ok := task.JobFromContext(ctx)
		if !ok {
			// Implement only ever runs under the dispatcher; a missing job
			// means the handler was invoked outside it.
			return errors.New("workflow driver invoked outside job execution")
		}

		run := &Run{
			id:    job.ID,
			name:  def.Name,
			store: steps,
			logger: logger.FromContext(ctx).With(
				"workflow", def.Name,
				"run_id", job.ID,
			),
		}

		run.logger.Debug("driver starting", "attempt", job.Attempts)
		return driver(ctx, input, run)
	})
}

// Enqueue starts a workflow run by enqueueing its backing job. The
// returned ID identifies both the job and the run. Options behave as for
// task enqueues; in particular a dedupe key suppresses duplicate runs.
func Enqueue[T any](
	ctx context.Context,
	client *task.Client,
	def Definition[T],
	input T,
	opts task.EnqueueOptions,
) (uuid.UUID, error) {
	return client.Enqueue(ctx, def.Name, input, opts)
}
