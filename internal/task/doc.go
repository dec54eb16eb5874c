// Package task implements the durable job execution core: a persistent
// job queue with leased claims, a process-wide task registry, a dispatcher
// pool, and bounded retries with exponential backoff. Producers enqueue
// named, schema-validated payloads; workers claim jobs one at a time
// through the store's atomic claim, so any number of processes can run
// against the same database.
package task
