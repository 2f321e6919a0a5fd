package injector

import (
	"github.com/google/wire"
	"github.com/spf13/viper"

	"github.com/zeusync/cabintrainer/internal/config"
	"github.com/zeusync/cabintrainer/internal/core/events/bus"
	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/telemetry"
)

// ConfigPath is the optional runtime configuration file.
type ConfigPath string

// App carries the process-wide services a command needs. Scenario sessions
// are built per run on top of it.
type App struct {
	Config  *config.Config
	Log     *log.Logger
	Bus     bus.EventBus
	Hub     *telemetry.Hub
	Metrics *telemetry.Metrics
}

var ProviderSet = wire.NewSet(
	ProvideViper,
	config.Load,
	ProvideLogger,
	bus.New,
	ProvideHub,
	telemetry.NewMetrics,
	wire.Struct(new(App), "*"),
)

func ProvideViper(path ConfigPath) (*viper.Viper, error) {
	return config.New(string(path))
}

func ProvideLogger(cfg *config.Config) *log.Logger {
	return log.New(cfg.Log.Options())
}

func ProvideHub(logger *log.Logger) *telemetry.Hub {
	return telemetry.NewHub(logger)
}
