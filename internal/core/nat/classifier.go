package nat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/internal/core/nat/stun"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("core/nat")

// binder 执行一次 STUN 绑定交换
type binder interface {
	Bind(ctx context.Context) (*stun.Binding, error)
}

// Classifier 本地 NAT 分类器
//
// 分类结果以原子方式保存，检测协程写入、主循环读取。
type Classifier struct {
	cfg     config.NATConfig
	probe   interfaces.PlatformProbe
	binder  binder
	clock   clock.Clock
	emitter *eventbus.Emitter
	metrics *metrics.Metrics

	local atomic.Int32
	done  chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewClassifier 创建分类器
//
// probe 可为 nil，此时使用 STUN 探测。
func NewClassifier(cfg config.NATConfig, probe interfaces.PlatformProbe, clk clock.Clock, bus *eventbus.Bus, m *metrics.Metrics) (*Classifier, error) {
	emitter, err := bus.Emitter(new(types.EvtNATClassified))
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		cfg:     cfg,
		probe:   probe,
		clock:   clk,
		emitter: emitter,
		metrics: m,
		done:    make(chan struct{}),
	}
	if cfg.STUNServer != "" {
		c.binder = stun.NewClient(cfg.STUNServer, cfg.Timeout.Duration())
	}
	return c, nil
}

// ShareSocket 改在直连传输的套接字上执行 STUN 绑定
//
// 须在 Start 之前调用。sock 为 nil 或未配置 STUN 服务器时无效。
func (c *Classifier) ShareSocket(sock interfaces.PacketSocket) {
	client, ok := c.binder.(*stun.Client)
	if !ok || sock == nil {
		return
	}
	c.binder = socketBinder{client: client, sock: sock}
}

// socketBinder 在固定套接字上绑定
type socketBinder struct {
	client *stun.Client
	sock   interfaces.PacketSocket
}

func (b socketBinder) Bind(ctx context.Context) (*stun.Binding, error) {
	return b.client.BindOn(ctx, b.sock)
}

// Local 返回当前本地分类，检测完成前为 Unknown
func (c *Classifier) Local() types.NATType {
	return types.NATType(c.local.Load())
}

// Done 检测完成后关闭
func (c *Classifier) Done() <-chan struct{} {
	return c.done
}

// Start 异步启动一次检测
func (c *Classifier) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	if !c.cfg.Enable && c.cfg.Override == "" {
		logger.Info("NAT 检测已禁用，保持 Unknown")
		c.publish(types.NATTypeUnknown)
		return nil
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Detect(ctx)
	}()
	return nil
}

// Stop 取消进行中的检测并等待退出
func (c *Classifier) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	return nil
}

// Detect 同步执行一次检测并发布结果
//
// 任何失败都降级为 Strict 或 Unknown，不返回错误。
func (c *Classifier) Detect(ctx context.Context) types.NATType {
	natType := c.classify(ctx)
	c.publish(natType)
	return natType
}

func (c *Classifier) classify(ctx context.Context) types.NATType {
	if c.cfg.Override != "" {
		natType := types.ParseNATType(c.cfg.Override)
		logger.Info("使用配置指定的 NAT 分类", "nat", natType)
		return natType
	}

	if c.probe != nil {
		natType, err := c.probe.ProbeNAT(ctx)
		if err == nil {
			logger.Info("平台探测完成", "nat", natType)
			return natType
		}
		logger.Warn("平台探测失败，回退到 STUN", "err", err)
	}

	if c.binder == nil {
		logger.Warn("无法进行 NAT 检测", "err", ErrNoStrategy)
		return types.NATTypeUnknown
	}

	binding, err := c.binder.Bind(ctx)
	switch {
	case errors.Is(err, stun.ErrTimeout):
		logger.Info("STUN 无响应，判定为 Strict", "server", c.cfg.STUNServer)
		return types.NATTypeStrict
	case err != nil:
		logger.Warn("STUN 探测失败", "server", c.cfg.STUNServer, "err", err)
		return types.NATTypeUnknown
	}

	logger.Debug("STUN 绑定完成",
		"local", binding.Local.String(),
		"mapped", binding.Mapped.String())
	if binding.PortPreserved() {
		return types.NATTypeOpen
	}
	return types.NATTypeModerate
}

func (c *Classifier) publish(natType types.NATType) {
	c.local.Store(int32(natType))
	c.metrics.LocalNAT.Set(float64(natType))
	_ = c.emitter.Emit(types.EvtNATClassified{NAT: natType, At: c.clock.Now()})

	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
