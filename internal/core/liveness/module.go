package liveness

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-gamenet/internal/core/selector"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("liveness",
		fx.Provide(
			NewTracker,
			func(s *selector.Selector) Sender { return s },
			func(s *selector.Selector) LatencySink { return s },
		),
	)
}
