package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-gamenet/config"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(func(cfg *config.Config) *Metrics {
			return New(cfg.Metrics.Namespace)
		}),
	)
}
