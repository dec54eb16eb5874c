// Package workflow layers multi-step, replayable processes on top of the
// task subsystem. A workflow run is backed by one job whose handler is the
// workflow's driver function; every step's outcome is persisted, so when
// the run is replayed after a crash or lease expiry, completed steps
// return their recorded output without re-executing. This makes step
// functions with side effects (sending an email, calling a webhook) safe
// to "re-run" at the driver level while the underlying effect fires at
// most once per completed step.
//
// The driver must call its steps with the same IDs in the same causal
// order on every replay. That determinism is a usage contract: the engine
// cannot detect a driver that renames or reorders completed steps, and
// the resulting step/output pairing is undefined.
package workflow
