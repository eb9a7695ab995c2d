package gamenet

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/compensator"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/liveness"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/internal/core/nat"
	"github.com/dep2p/go-gamenet/internal/core/reliability"
	"github.com/dep2p/go-gamenet/internal/core/rpc"
	"github.com/dep2p/go-gamenet/internal/core/selector"
	"github.com/dep2p/go-gamenet/internal/core/transport"
	"github.com/dep2p/go-gamenet/internal/core/validator"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/types"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 基础：Config → Clock → EventBus → Metrics
//  2. 传输：Transport → NAT → Selector
//  3. 协议：RPC Registry → Reliability → Dispatcher → Liveness
//  4. 游戏：Validator → Compensator
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 基础组件
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(o.config),
		fx.Provide(func() clock.Clock { return o.clock }),
		eventbus.Module(),
		metrics.Module(),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 传输层
	// ════════════════════════════════════════════════════════════════════════
	if o.transports != nil {
		modules = append(modules,
			fx.Supply(*o.transports),
			fx.Invoke(transport.RegisterLifecycle),
		)
	} else {
		modules = append(modules, transport.Module())
	}
	if o.probe != nil {
		modules = append(modules, fx.Provide(func() interfaces.PlatformProbe { return o.probe }))
	}
	modules = append(modules,
		fx.Provide(sharedSocket),
		nat.Module(),
		selector.Module(),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. 协议层与游戏层
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		rpc.Module(),
		reliability.Module(),
		liveness.Module(),
		validator.Module(),
		compensator.Module(),
		fx.Provide(
			func(s *selector.Selector) rpc.Router { return s },
			func(s *selector.Selector) reliability.Outbound { return s },
			func(l *reliability.Layer) rpc.Reliable { return l },
			func(r *rpc.Registry) reliability.Procedures { return r },
			func() interfaces.Disconnector { return node },
		),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 5. 用户自定义 Fx 选项
	// ════════════════════════════════════════════════════════════════════════
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 6. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Invoke(injectNodeComponents(node)))

	// ════════════════════════════════════════════════════════════════════════
	// 7. Fx 日志
	// ════════════════════════════════════════════════════════════════════════
	fxDebug := o.fxDebug
	modules = append(modules, fx.WithLogger(func() fxevent.Logger {
		if !fxDebug {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}
		zl, err := zap.NewDevelopment()
		if err != nil {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}
		return &fxevent.ZapLogger{Logger: zl.Named("fx")}
	}))

	return fx.New(modules...), nil
}

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Config      *config.Config
	Bus         *eventbus.Bus
	Metrics     *metrics.Metrics
	Transports  selector.Transports
	Classifier  *nat.Classifier
	Selector    *selector.Selector
	Registry    *rpc.Registry
	Dispatcher  *rpc.Dispatcher
	Reliability *reliability.Layer
	Tracker     *liveness.Tracker
	Validator   *validator.Validator
	Compensator *compensator.Compensator
}

// injectNodeComponents 把 Fx 构造的组件注入 Node，并接好拆除回调
func injectNodeComponents(node *Node) func(nodeInjectParams) error {
	return func(p nodeInjectParams) error {
		node.cfg = p.Config
		node.bus = p.Bus
		node.metrics = p.Metrics
		node.transports = p.Transports
		node.classifier = p.Classifier
		node.selector = p.Selector
		node.registry = p.Registry
		node.dispatcher = p.Dispatcher
		node.reliable = p.Reliability
		node.tracker = p.Tracker
		node.validator = p.Validator
		node.compensator = p.Compensator

		sub, err := p.Bus.Subscribe(new(types.EvtReliableSendFailed), eventbus.BufSize(256))
		if err != nil {
			return err
		}
		node.failures = sub

		p.Selector.OnDisconnect(node.onDisconnect)
		return nil
	}
}

// sharedSocket 直连传输可共享套接字时，NAT 检测在游戏端口上进行
func sharedSocket(t selector.Transports) interfaces.PacketSocket {
	if sharer, ok := t.Direct.(interfaces.SocketSharer); ok {
		return sharer.SharedSocket()
	}
	return nil
}
