package ecs

import (
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// worldConfig holds the configuration of a World that can be set from the environment.
type worldConfig struct {
	// Name of the world, used in logs and metric tags.
	Name string `env:"ECS_WORLD_NAME" envDefault:"world"`

	// Maximum number of systems of a batch that run at the same time. 0 means GOMAXPROCS.
	Workers int `env:"ECS_WORKERS" envDefault:"0"`

	// Run a full integrity check after every command apply.
	DebugValidate bool `env:"ECS_DEBUG_VALIDATE" envDefault:"false"`

	// Initial row capacity of new archetypes.
	InitialCapacity int `env:"ECS_INITIAL_CAPACITY" envDefault:"16"`

	// Address of the statsd agent. Metrics are disabled when empty.
	StatsdAddress string `env:"ECS_STATSD_ADDRESS"`
}

// loadWorldConfig loads the world configuration from environment variables.
func loadWorldConfig() (worldConfig, error) {
	cfg := worldConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse world config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *worldConfig) validate() error {
	if cfg.Name == "" {
		return eris.New("world name cannot be empty")
	}
	if cfg.Workers < 0 {
		return eris.New("workers cannot be negative")
	}
	if cfg.InitialCapacity < 0 {
		return eris.New("initial capacity cannot be negative")
	}
	return nil
}

// applyToOptions applies the configuration values to the given WorldOptions.
func (cfg *worldConfig) applyToOptions(opt *WorldOptions) {
	opt.Name = cfg.Name
	opt.Workers = cfg.Workers
	opt.DebugValidate = cfg.DebugValidate
	opt.InitialCapacity = cfg.InitialCapacity
	opt.StatsdAddress = cfg.StatsdAddress
}

// WorldOptions configures a World. Non-zero fields override the environment configuration.
type WorldOptions struct {
	Name            string          // Name of the world
	Workers         int             // Maximum concurrent systems per batch, 0 means GOMAXPROCS
	DebugValidate   bool            // Validate the storage after every command apply
	InitialCapacity int             // Initial row capacity of new archetypes
	StatsdAddress   string          // Statsd agent address, metrics are disabled when empty
	Logger          *zerolog.Logger // Logger of the world, the global logger when nil
	Tracer          trace.Tracer    // Tracer for tick spans, a no-op tracer when nil
}

// newDefaultWorldOptions creates WorldOptions with default values.
func newDefaultWorldOptions() WorldOptions {
	return WorldOptions{
		Name:            "world",
		Workers:         0,
		DebugValidate:   false,
		InitialCapacity: defaultColumnCapacity,
		StatsdAddress:   "",
		Logger:          nil,
		Tracer:          nil,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *WorldOptions) apply(newOpt WorldOptions) {
	if newOpt.Name != "" {
		opt.Name = newOpt.Name
	}
	if newOpt.Workers != 0 {
		opt.Workers = newOpt.Workers
	}
	if newOpt.DebugValidate {
		opt.DebugValidate = true
	}
	if newOpt.InitialCapacity != 0 {
		opt.InitialCapacity = newOpt.InitialCapacity
	}
	if newOpt.StatsdAddress != "" {
		opt.StatsdAddress = newOpt.StatsdAddress
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
	if newOpt.Tracer != nil {
		opt.Tracer = newOpt.Tracer
	}
}

// validate checks that all required options are set and valid.
func (opt *WorldOptions) validate() error {
	if opt.Name == "" {
		return eris.New("world name cannot be empty")
	}
	if opt.Workers < 0 {
		return eris.New("workers cannot be negative")
	}
	if opt.InitialCapacity < 0 {
		return eris.New("initial capacity cannot be negative")
	}
	return nil
}

// workers returns the effective worker limit.
func (opt *WorldOptions) workers() int {
	if opt.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return opt.Workers
}
