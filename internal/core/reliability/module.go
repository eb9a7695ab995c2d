package reliability

import "go.uber.org/fx"

// Module 返回 Fx 模块
//
// Outbound 与 Procedures 由传输选择器与 RPC 注册表提供。
func Module() fx.Option {
	return fx.Module("reliability",
		fx.Provide(NewLayer),
	)
}
