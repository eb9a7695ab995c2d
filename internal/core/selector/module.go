package selector

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-gamenet/internal/core/nat"
)

// Module 返回 Fx 模块
//
// Transports 由节点根据配置提供。
func Module() fx.Option {
	return fx.Module("selector",
		fx.Provide(
			New,
			func(c *nat.Classifier) LocalNAT { return c },
		),
	)
}
