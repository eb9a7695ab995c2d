package nat

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	Config  *config.Config
	Clock   clock.Clock
	Bus     *eventbus.Bus
	Metrics *metrics.Metrics
	Probe   interfaces.PlatformProbe `optional:"true"`
	Socket  interfaces.PacketSocket  `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Classifier *Classifier
}

// ProvideClassifier 从配置构造分类器
func ProvideClassifier(in ModuleInput) (ModuleOutput, error) {
	c, err := NewClassifier(in.Config.NAT, in.Probe, in.Clock, in.Bus, in.Metrics)
	if err != nil {
		return ModuleOutput{}, err
	}
	c.ShareSocket(in.Socket)
	return ModuleOutput{Classifier: c}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("nat",
		fx.Provide(ProvideClassifier),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, c *Classifier) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// 检测生命周期独立于 OnStart 的上下文
			return c.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			return c.Stop()
		},
	})
}
