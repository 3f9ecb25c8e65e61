package metrics

import (
	"github.com/smallbiznis/homecare/internal/config"
	"go.uber.org/fx"
)

func provide(cfg config.Config) *Metrics {
	return WithConfig(Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}

var Module = fx.Module("observability.metrics",
	fx.Provide(provide),
)
