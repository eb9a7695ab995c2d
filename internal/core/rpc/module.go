package rpc

import "go.uber.org/fx"

// Module 返回 Fx 模块
//
// Router 与 Reliable 由传输选择器与可靠层模块提供。
func Module() fx.Option {
	return fx.Module("rpc",
		fx.Provide(
			NewRegistry,
			NewDispatcher,
		),
	)
}
