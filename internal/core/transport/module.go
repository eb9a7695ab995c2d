package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/selector"
	"github.com/dep2p/go-gamenet/internal/core/transport/quic"
	"github.com/dep2p/go-gamenet/internal/core/transport/relay"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
)

var logger = log.Logger("core/transport")

// relayDialTimeout 连接中继代理并完成登记的时限
const relayDialTimeout = 10 * time.Second

// Module 返回 Fx 模块，按配置构造直连与中继传输
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(ProvideTransports),
		fx.Invoke(RegisterLifecycle),
	)
}

// ProvideTransports 按配置创建传输
//
// 中继传输在构造时即连接代理，失败时已创建的直连传输会被关闭。
func ProvideTransports(cfg *config.Config) (selector.Transports, error) {
	tc := cfg.Transport
	var out selector.Transports

	if tc.EnableDirect {
		direct, err := quic.New(tc)
		if err != nil {
			return out, fmt.Errorf("direct transport: %w", err)
		}
		out.Direct = direct
	}

	if tc.EnableRelay {
		ctx, cancel := context.WithTimeout(context.Background(), relayDialTimeout)
		defer cancel()
		r, err := relay.Dial(ctx, tc)
		if err != nil {
			if out.Direct != nil {
				_ = out.Direct.Close()
			}
			return selector.Transports{}, fmt.Errorf("relay transport: %w", err)
		}
		out.Relay = r
	}

	if out.Direct == nil && out.Relay == nil {
		return out, ErrNoTransport
	}
	logger.Debug("传输已创建", "direct", out.Direct != nil, "relay", out.Relay != nil)
	return out, nil
}

// RegisterLifecycle 节点停止时关闭传输
func RegisterLifecycle(lc fx.Lifecycle, t selector.Transports) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return Close(t)
		},
	})
}

// Close 关闭全部传输
func Close(t selector.Transports) error {
	var err error
	if t.Direct != nil {
		err = multierr.Append(err, t.Direct.Close())
	}
	if t.Relay != nil {
		err = multierr.Append(err, t.Relay.Close())
	}
	return err
}
