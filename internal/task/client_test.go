package task

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, jobs *MockJobStore, dedupe *MockDedupeStore, reg *Registry) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(nil, jobs, dedupe, reg, ClientConfig{
		DefaultMaxAttempts: 3,
		DefaultDedupeTTL:   time.Minute,
	}, logger)
}

func newEmailRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, Define(reg, "send-email", func(ctx context.Context, input emailInput) error {
		return nil
	}))
	return reg
}

func TestClient_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("creates a queued job", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		client := newTestClient(t, jobs, NewMockDedupeStore(), newEmailRegistry(t))

		id, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "a@b.com"}, EnqueueOptions{})
		require.NoError(t, err)

		job, err := jobs.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, job.Status)
		assert.Equal(t, "send-email", job.TaskName)
		assert.Equal(t, 3, job.MaxAttempts)
		assert.JSONEq(t, `{"to":"a@b.com","subject":""}`, string(job.Payload))
	})

	t.Run("rejects invalid payload without creating a job", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		client := newTestClient(t, jobs, NewMockDedupeStore(), newEmailRegistry(t))

		_, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "not-an-email"}, EnqueueOptions{})

		assert.ErrorIs(t, err, ErrInvalidPayload)
		assert.Equal(t, 0, jobs.CountByStatus(StatusQueued))
	})

	t.Run("rejects unknown task", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, NewMockJobStore(), NewMockDedupeStore(), newEmailRegistry(t))

		_, err := client.Enqueue(context.Background(), "no-such-task", nil, EnqueueOptions{})
		assert.ErrorIs(t, err, ErrUnknownTask)
	})

	t.Run("honors RunAt and MaxAttempts options", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		client := newTestClient(t, jobs, NewMockDedupeStore(), newEmailRegistry(t))

		runAt := time.Now().Add(time.Hour).UTC()
		id, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "a@b.com"}, EnqueueOptions{RunAt: runAt, MaxAttempts: 7})
		require.NoError(t, err)

		job, err := jobs.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.WithinDuration(t, runAt, job.RunAt, time.Second)
		assert.Equal(t, 7, job.MaxAttempts)
	})
}

func TestClient_EnqueueDedupe(t *testing.T) {
	t.Parallel()

	t.Run("second enqueue within ttl returns the same job id", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		client := newTestClient(t, jobs, NewMockDedupeStore(), newEmailRegistry(t))

		first, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "a@b.com"}, EnqueueOptions{DedupeKey: "x"})
		require.NoError(t, err)

		second, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "a@b.com"}, EnqueueOptions{DedupeKey: "x"})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, jobs.CountByStatus(StatusQueued), "exactly one job row must exist")
	})

	t.Run("expired key allows a new job", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		client := newTestClient(t, jobs, NewMockDedupeStore(), newEmailRegistry(t))

		first, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "a@b.com"},
			EnqueueOptions{DedupeKey: "x", DedupeTTL: time.Millisecond})
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		second, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "a@b.com"},
			EnqueueOptions{DedupeKey: "x", DedupeTTL: time.Millisecond})
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
		assert.Equal(t, 2, jobs.CountByStatus(StatusQueued))
	})

	t.Run("different keys create separate jobs", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		client := newTestClient(t, jobs, NewMockDedupeStore(), newEmailRegistry(t))

		first, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "a@b.com"}, EnqueueOptions{DedupeKey: "x"})
		require.NoError(t, err)

		second, err := client.Enqueue(context.Background(), "send-email",
			emailInput{To: "a@b.com"}, EnqueueOptions{DedupeKey: "y"})
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})

	t.Run("concurrent enqueues with one key create one job", func(t *testing.T) {
		t.Parallel()

		jobs := NewMockJobStore()
		client := newTestClient(t, jobs, NewMockDedupeStore(), newEmailRegistry(t))

		const goroutines = 16
		results := make(chan error, goroutines)
		for i := 0; i < goroutines; i++ {
			go func() {
				_, err := client.Enqueue(context.Background(), "send-email",
					emailInput{To: "a@b.com"}, EnqueueOptions{DedupeKey: "x"})
				results <- err
			}()
		}
		for i := 0; i < goroutines; i++ {
			require.NoError(t, <-results)
		}

		assert.Equal(t, 1, jobs.CountByStatus(StatusQueued))
	})
}
