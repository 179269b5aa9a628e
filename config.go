package eventscope

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process-level settings read from the environment.
type Config struct {
	DisableDispatch  bool          `env:"EVENTSCOPE_DISABLE_DISPATCH"  envDefault:"false"`
	Tracing          bool          `env:"EVENTSCOPE_TRACING"           envDefault:"true"`
	Metrics          bool          `env:"EVENTSCOPE_METRICS"           envDefault:"true"`
	SpanLinking      bool          `env:"EVENTSCOPE_USE_SPAN_LINKING"  envDefault:"true"`
	PropagateTrace   bool          `env:"EVENTSCOPE_PROPAGATE_TRACE"   envDefault:"false"`
	ModelsAsMaps     bool          `env:"EVENTSCOPE_MODELS_AS_MAPS"    envDefault:"false"`
	RevalidateModels bool          `env:"EVENTSCOPE_REVALIDATE_MODELS" envDefault:"false"`
	ErrorPolicy      ErrorPolicy   `env:"EVENTSCOPE_ERROR_POLICY"      envDefault:"collect"`
	MaxConcurrency   int           `env:"EVENTSCOPE_MAX_CONCURRENCY"   envDefault:"0"`
	HandlerTimeout   time.Duration `env:"EVENTSCOPE_HANDLER_TIMEOUT"   envDefault:"0s"`
	DrainTimeout     time.Duration `env:"EVENTSCOPE_DRAIN_TIMEOUT"     envDefault:"0s"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ExecutorOptions returns the executor options described by c.
func (c Config) ExecutorOptions() []ExecutorOption {
	return []ExecutorOption{
		WithErrorPolicy(c.ErrorPolicy),
		WithMaxConcurrency(c.MaxConcurrency),
		WithHandlerTimeout(c.HandlerTimeout),
		WithExecutorTracing(c.Tracing),
		WithSpanLinking(c.SpanLinking),
		WithExecutorMetrics(c.Metrics),
	}
}

// DispatcherOptions returns the dispatcher options described by c,
// including an executor built from ExecutorOptions.
func (c Config) DispatcherOptions() []DispatcherOption {
	return []DispatcherOption{
		WithDisabled(c.DisableDispatch),
		WithTracing(c.Tracing),
		WithMetrics(c.Metrics),
		WithTracePropagation(c.PropagateTrace),
		WithModelsAsMaps(c.ModelsAsMaps),
		WithModelRevalidation(c.RevalidateModels),
		WithDispatchExecutor(NewExecutor(c.ExecutorOptions()...)),
	}
}

// ManagerOptions returns the manager options described by c.
func (c Config) ManagerOptions() []ManagerOption {
	return []ManagerOption{
		WithDrainTimeout(c.DrainTimeout),
		WithManagerMetrics(c.Metrics),
		WithExecutor(NewExecutor(c.ExecutorOptions()...)),
	}
}

// dispatchDisabledByEnv reads EVENTSCOPE_DISABLE_DISPATCH on its own so a
// malformed unrelated variable cannot hide the kill switch.
func dispatchDisabledByEnv() bool {
	var cfg struct {
		DisableDispatch bool `env:"EVENTSCOPE_DISABLE_DISPATCH" envDefault:"false"`
	}
	if err := env.Parse(&cfg); err != nil {
		Logger("eventscope>dispatcher").Warn("invalid EVENTSCOPE_DISABLE_DISPATCH, dispatch stays enabled", "error", err)
		return false
	}
	return cfg.DisableDispatch
}
