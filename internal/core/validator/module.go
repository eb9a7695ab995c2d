package validator

import "go.uber.org/fx"

// Module 返回 Fx 模块
//
// interfaces.Disconnector 由节点提供。
func Module() fx.Option {
	return fx.Module("validator",
		fx.Provide(New),
	)
}
