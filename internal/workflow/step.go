package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conveyorhq/conveyor/internal/store"
)

// Step executes a named step function at most once per completed run.
// On first execution fn runs and its outcome is persisted; on replay a
// completed record short-circuits without invoking fn. A step that
// previously failed is re-invoked, so steps are individually retryable.
//
// The returned error wraps fn's error; callers may catch it to continue
// the run, or let it propagate and fail the whole attempt.
func (r *Run) Step(ctx context.Context, stepID string, fn func(ctx context.Context) error) error {
	record, err := r.store.GetStep(ctx, r.id, stepID)
	if err != nil && !errors.Is(err, store.ErrStepNotFound) {
		return fmt.Errorf("workflow %s: get step %q: %w", r.name, stepID, err)
	}
	if record != nil && record.Status == StepStatusCompleted {
		r.logger.Debug("skipping completed step", "step_id", stepID)
		return nil
	}

	if err := r.markStarted(ctx, stepID); err != nil {
		return err
	}
	stepErr := fn(ctx)

	if saveErr := r.saveOutcome(ctx, stepID, nil, stepErr); saveErr != nil {
		return saveErr
	}
	if stepErr != nil {
		return fmt.Errorf("workflow %s step %q: %w", r.name, stepID, stepErr)
	}
	return nil
}

// StepResult executes a named step that returns a typed value. The value
// is serialized as JSON in the step record; on replay the recorded value
// is returned without re-invoking fn.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepResult[T any](
	ctx context.Context,
	r *Run,
	stepID string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	record, err := r.store.GetStep(ctx, r.id, stepID)
	if err != nil && !errors.Is(err, store.ErrStepNotFound) {
		return zero, fmt.Errorf("workflow %s: get step %q: %w", r.name, stepID, err)
	}
	if record != nil && record.Status == StepStatusCompleted {
		var result T
		if len(record.Output) > 0 {
			if decErr := json.Unmarshal(record.Output, &result); decErr != nil {
				return zero, fmt.Errorf("workflow %s: decode step %q output: %w", r.name, stepID, decErr)
			}
		}
		r.logger.Debug("returning recorded step output", "step_id", stepID)
		return result, nil
	}

	if err := r.markStarted(ctx, stepID); err != nil {
		return zero, err
	}
	result, stepErr := fn(ctx)

	var output []byte
	if stepErr == nil {
		output, err = json.Marshal(result)
		if err != nil {
			return zero, fmt.Errorf("workflow %s: encode step %q output: %w", r.name, stepID, err)
		}
	}

	if saveErr := r.saveOutcome(ctx, stepID, output, stepErr); saveErr != nil {
		return zero, saveErr
	}
	if stepErr != nil {
		return zero, fmt.Errorf("workflow %s step %q: %w", r.name, stepID, stepErr)
	}
	return result, nil
}

// Parallel fans out several steps concurrently and fans back in, failing
// on the first step error. Each step keeps its own record keyed by its
// own ID, so partial completion across a crash is preserved per step:
// a replay re-runs only the steps that had not completed.
func (r *Run) Parallel(ctx context.Context, steps map[string]func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for stepID, fn := range steps {
		g.Go(func() error {
			return r.Step(gctx, stepID, fn)
		})
	}
	return g.Wait()
}

// Sleep pauses the run for the given duration, recorded as a step so a
// replay after the sleep completed skips it immediately. The sleep is
// interrupted by context cancellation; an interrupted sleep does not
// complete its record and runs in full on replay.
func (r *Run) Sleep(ctx context.Context, stepID string, d time.Duration) error {
	return r.Step(ctx, stepID, func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// markStarted records the step as pending before its function runs, so
// an in-flight or crashed step is visible when listing a run's steps.
func (r *Run) markStarted(ctx context.Context, stepID string) error {
	record := &StepRecord{
		RunID:  r.id,
		StepID: stepID,
		Status: StepStatusPending,
	}
	if err := r.store.SaveStep(ctx, record); err != nil {
		return fmt.Errorf("workflow %s: save step %q: %w", r.name, stepID, err)
	}
	return nil
}

// saveOutcome upserts the step record for a finished execution.
func (r *Run) saveOutcome(ctx context.Context, stepID string, output []byte, stepErr error) error {
	record := &StepRecord{
		RunID:  r.id,
		StepID: stepID,
		Status: StepStatusCompleted,
		Output: output,
	}
	if stepErr != nil {
		record.Status = StepStatusFailed
		record.Output = nil
		record.Error = stepErr.Error()
	}

	if err := r.store.SaveStep(ctx, record); err != nil {
		return fmt.Errorf("workflow %s: save step %q: %w", r.name, stepID, err)
	}
	return nil
}
