package gamenet

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/selector"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	config     *config.Config
	clock      clock.Clock
	transports *selector.Transports
	probe      interfaces.PlatformProbe

	// 在配置文件之上覆盖的字段
	role       *types.Role
	listenAddr string
	relayURL   string
	identity   string

	fxDebug       bool
	userFxOptions []fx.Option
}

func newOptions() *options {
	return &options{
		config: config.NewConfig(),
		clock:  clock.New(),
	}
}

// apply 依次应用选项，并把覆盖字段写入配置
func (o *options) apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}

	if o.role != nil {
		o.config.Role = o.role.String()
	}
	if o.listenAddr != "" {
		o.config.Transport.ListenAddr = o.listenAddr
	}
	if o.relayURL != "" {
		o.config.Transport.EnableRelay = true
		o.config.Transport.RelayURL = o.relayURL
	}
	if o.identity != "" {
		o.config.Transport.Identity = o.identity
	}
	return nil
}

// WithConfig 使用完整配置替换默认配置
//
// 应放在其他选项之前；其后的 WithRole 等选项会覆盖对应字段。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidOption)
		}
		o.config = cfg
		return nil
	}
}

// WithRole 设置本地角色
func WithRole(role types.Role) Option {
	return func(o *options) error {
		o.role = &role
		return nil
	}
}

// WithClock 注入时钟，测试中使用 clock.NewMock()
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		if clk == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidOption)
		}
		o.clock = clk
		return nil
	}
}

// WithListenAddr 设置直连传输监听地址
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		o.listenAddr = addr
		return nil
	}
}

// WithRelay 启用中继传输并设置代理地址
func WithRelay(url string) Option {
	return func(o *options) error {
		if url == "" {
			return fmt.Errorf("%w: empty relay url", ErrInvalidOption)
		}
		o.relayURL = url
		return nil
	}
}

// WithIdentity 设置本地平台身份
func WithIdentity(identity string) Option {
	return func(o *options) error {
		o.identity = identity
		return nil
	}
}

// WithTransports 使用外部提供的传输替换按配置创建的传输
//
// 任一参数可为 nil，但不能同时为 nil。节点关闭时会关闭这些传输。
func WithTransports(direct, relay interfaces.Transport) Option {
	return func(o *options) error {
		if direct == nil && relay == nil {
			return fmt.Errorf("%w: no transport", ErrInvalidOption)
		}
		o.transports = &selector.Transports{Direct: direct, Relay: relay}
		return nil
	}
}

// WithPlatformProbe 注入平台 NAT 探测器，优先于 STUN
func WithPlatformProbe(probe interfaces.PlatformProbe) Option {
	return func(o *options) error {
		o.probe = probe
		return nil
	}
}

// WithFxDebug 输出依赖注入过程日志
func WithFxDebug() Option {
	return func(o *options) error {
		o.fxDebug = true
		return nil
	}
}

// WithFxOption 追加自定义 Fx 选项
func WithFxOption(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
