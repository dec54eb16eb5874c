package task

import (
	"context"
)

// jobContextKey is the context key used to expose the executing job to
// its handler.
type jobContextKey struct{}

// withJob returns a copy of ctx carrying the job being executed.
func withJob(ctx context.Context, job *Job) context.Context {
	return context.WithValue(ctx, jobContextKey{}, job)
}

// JobFromContext returns the job the handler is executing, if any.
// Handlers use it for metadata such as the job ID (which doubles as the
// workflow run ID) and the current attempt count.
func JobFromContext(ctx context.Context) (*Job, bool) {
	job, ok := ctx.Value(jobContextKey{}).(*Job)
	return job, ok
}
