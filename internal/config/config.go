package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker"    validate:"required"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" validate:"required"`
}

// ServerConfig contains the settings for the ops HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// JWTSecret signs and verifies operator bearer tokens for the ops API.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// WorkerConfig tunes the dispatcher pool and the retry policy.
// The claim/lease and backoff contracts are fixed; these values only move
// the knobs within them.
type WorkerConfig struct {
	// Count is the number of concurrent dispatcher loops in this process.
	// It bounds in-flight task executions per process.
	Count int `mapstructure:"count" validate:"required,gt=0"`

	// PollIntervalMs is the idle sleep between claim attempts when no job
	// is ready. Jitter is added on top to avoid synchronized polling.
	PollIntervalMs int `mapstructure:"poll_interval_ms" validate:"required,gt=0"`

	// LeaseSeconds is how long a claimed job is held before it becomes
	// eligible for reclaim by another worker.
	LeaseSeconds int `mapstructure:"lease_seconds" validate:"required,gt=0"`

	// DefaultMaxAttempts applies to jobs enqueued without an explicit limit.
	DefaultMaxAttempts int `mapstructure:"default_max_attempts" validate:"required,gt=0"`

	// BackoffBaseMs and BackoffMaxMs bound the exponential retry delay.
	BackoffBaseMs int `mapstructure:"backoff_base_ms" validate:"required,gt=0"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"  validate:"required,gtefield=BackoffBaseMs"`

	// DedupeTTLSeconds is the default time window during which an enqueue
	// with a previously seen dedupe key is suppressed.
	DedupeTTLSeconds int `mapstructure:"dedupe_ttl_seconds" validate:"required,gt=0"`

	// DedupeSweepMinutes is the interval of the dedupe-sweep housekeeping job.
	DedupeSweepMinutes int `mapstructure:"dedupe_sweep_minutes" validate:"required,gt=0"`
}

// HeartbeatConfig controls the process liveness signal.
type HeartbeatConfig struct {
	// Path is the file the current unix timestamp is written to.
	Path string `mapstructure:"path" validate:"required"`

	// Endpoint, when set, is additionally pinged with an HTTP GET on every
	// beat (dead man's switch style monitoring).
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`

	IntervalSeconds int `mapstructure:"interval_seconds" validate:"required,gt=0"`
}
