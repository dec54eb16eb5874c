// Package postgres provides PostgreSQL implementations of the store
// interfaces defined by the task and workflow packages.
//
// All stores accept a store.DBTX so they run identically on a *sql.DB or
// inside a *sql.Tx, and all database errors pass through MapError so
// callers only ever see the store package's sentinel errors.
//
// The job store's ClaimNext relies on FOR UPDATE SKIP LOCKED to let many
// worker processes poll the same table without serializing on row locks.
package postgres
