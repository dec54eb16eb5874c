package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over values from the config file. Returns a populated Config
// struct or an error if loading or validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file; absence is not an error.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// CONVEYOR_SERVER_PORT overrides server.port, and so on.
	v.SetEnvPrefix("CONVEYOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so bind
	// every key that has no default explicitly.
	for _, key := range []string{
		"server.jwt_secret",
		"database.url",
		"heartbeat.endpoint",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval_ms", 1000)
	v.SetDefault("worker.lease_seconds", 60)
	v.SetDefault("worker.default_max_attempts", 5)
	v.SetDefault("worker.backoff_base_ms", 1000)
	v.SetDefault("worker.backoff_max_ms", 300000)
	v.SetDefault("worker.dedupe_ttl_seconds", 3600)
	v.SetDefault("worker.dedupe_sweep_minutes", 15)

	v.SetDefault("heartbeat.path", "/tmp/conveyor-heartbeat")
	v.SetDefault("heartbeat.interval_seconds", 30)
}

// validate checks the unmarshalled config against its struct tags and
// converts validator errors into a readable configuration error.
func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
	}

	return fmt.Errorf("failed to validate config: %w", err)
}
