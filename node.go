package gamenet

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/compensator"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/liveness"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/internal/core/nat"
	"github.com/dep2p/go-gamenet/internal/core/reliability"
	"github.com/dep2p/go-gamenet/internal/core/rpc"
	"github.com/dep2p/go-gamenet/internal/core/selector"
	"github.com/dep2p/go-gamenet/internal/core/validator"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("gamenet")

// 生命周期超时
const (
	startTimeout = 15 * time.Second
	stopTimeout  = 10 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              Node 结构
// ════════════════════════════════════════════════════════════════════════════

// Node 一个参与会话的进程（服务器或客户端）
//
// Node 组合传输、选择器与各协议组件，对外提供单一的调用入口。
// 协议逻辑由调用方每帧调用 Tick 推进；Tick 不可并发调用。
type Node struct {
	opts  *options
	app   *fx.App
	clock clock.Clock

	// 由 Fx 注入
	cfg         *config.Config
	bus         *eventbus.Bus
	metrics     *metrics.Metrics
	transports  selector.Transports
	classifier  *nat.Classifier
	selector    *selector.Selector
	registry    *rpc.Registry
	dispatcher  *rpc.Dispatcher
	reliable    *reliability.Layer
	tracker     *liveness.Tracker
	validator   *validator.Validator
	compensator *compensator.Compensator
	failures    *eventbus.Subscription

	// peers 连接提示与路径状态，只在 Tick 与 Connect 中访问
	peers *peerBook

	logFile *os.File

	mu      sync.Mutex
	started bool
	closed  bool
}

// New 创建节点但不启动
//
// 选项按顺序应用，随后校验配置并构建依赖图。
func New(ctx context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	if err := o.apply(opts...); err != nil {
		return nil, fmt.Errorf("apply option: %w", err)
	}

	node := &Node{
		opts:  o,
		clock: o.clock,
		peers: newPeerBook(),
	}

	var err error
	node.app, err = buildFxApp(o, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	if err := node.app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return node, nil
}

// Start 快捷启动函数
//
// 等价于 New() + Start()。
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// Start 启动节点：打开日志文件，启动传输与 NAT 检测
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return nil
	}

	if path := n.opts.config.LogFile; path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
		n.logFile = f
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := n.app.Start(startCtx); err != nil {
		logger.Error("节点启动失败", "error", err)
		return fmt.Errorf("start fx app: %w", err)
	}

	n.started = true
	logger.Info("节点已启动",
		"role", n.cfg.RoleType(),
		"version", Version,
		"localAddrs", n.localAddrs())
	return nil
}

// Close 关闭节点
//
// 停止 Fx 应用（关闭传输、取消 NAT 检测），重复调用返回 nil。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var errs error
	if n.failures != nil {
		errs = multierr.Append(errs, n.failures.Close())
	}
	if n.started {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := n.app.Stop(ctx); err != nil {
			logger.Warn("停止 Fx 应用失败", "error", err)
			errs = multierr.Append(errs, err)
		}
		n.started = false
	}
	logger.Info("节点已关闭")

	if n.logFile != nil {
		log.SetOutput(os.Stderr)
		errs = multierr.Append(errs, n.logFile.Close())
		n.logFile = nil
	}
	return errs
}

// running 节点是否处于可用状态
func (n *Node) running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started && !n.closed
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// Role 返回本地角色
func (n *Node) Role() types.Role {
	return n.opts.config.RoleType()
}

// Config 返回生效的配置（只读）
func (n *Node) Config() *config.Config {
	return n.opts.config
}

// LocalAddrs 返回各传输的本地地址
//
// 直连传输为监听地址，中继传输为本地平台身份。
func (n *Node) LocalAddrs() map[types.TransportKind]string {
	return n.localAddrs()
}

func (n *Node) localAddrs() map[types.TransportKind]string {
	out := make(map[types.TransportKind]string, 2)
	if n.transports.Direct != nil {
		out[types.TransportDirect] = n.transports.Direct.LocalAddr()
	}
	if n.transports.Relay != nil {
		out[types.TransportRelay] = n.transports.Relay.LocalAddr()
	}
	return out
}

// LocalNAT 返回本地 NAT 分类，检测完成前为 Unknown
func (n *Node) LocalNAT() types.NATType {
	return n.classifier.Local()
}

// NATReady 本地 NAT 分类完成后关闭
func (n *Node) NATReady() <-chan struct{} {
	return n.classifier.Done()
}

// ConnID 查询远端的连接 ID
func (n *Node) ConnID(endpoint types.Endpoint) (types.ConnID, bool) {
	return n.selector.ConnID(endpoint)
}

// Endpoint 按连接 ID 查询远端
func (n *Node) Endpoint(id types.ConnID) (types.Endpoint, bool) {
	return n.selector.Endpoint(id)
}

// Connections 返回所有连接快照，按连接 ID 排序
func (n *Node) Connections() []ConnInfo {
	return n.selector.Connections()
}

// ConnInfo 返回单个连接快照
func (n *Node) ConnInfo(endpoint types.Endpoint) (ConnInfo, bool) {
	return n.selector.Info(endpoint)
}

// ReliabilityStats 返回连接的可靠投递统计
func (n *Node) ReliabilityStats(endpoint types.Endpoint) ReliabilityStats {
	return n.reliable.Stats(endpoint)
}

// Latency 返回连接的平均往返延迟，没有样本时 ok 为 false
func (n *Node) Latency(endpoint types.Endpoint) (time.Duration, bool) {
	return n.tracker.Latency(endpoint)
}

// Stats 节点概况
type Stats struct {
	// Connections 已注册连接数
	Connections int

	// Relayed 当前走中继的连接数
	Relayed int

	// PendingReliable 待确认的可靠消息数
	PendingReliable int

	// Procedures 已注册过程数
	Procedures int
}

// Stats 返回节点概况
func (n *Node) Stats() Stats {
	conns := n.selector.Connections()
	s := Stats{
		Connections:     len(conns),
		PendingReliable: n.reliable.Pending(),
		Procedures:      n.registry.Len(),
	}
	for _, c := range conns {
		if c.Relay {
			s.Relayed++
		}
	}
	return s
}

// MetricsRegistry 返回节点的 Prometheus 注册表
func (n *Node) MetricsRegistry() *prometheus.Registry {
	return n.metrics.Registry()
}

// Subscribe 订阅领域事件
//
// eventType 为事件指针，例如 new(types.EvtPeerConnected)。
// 订阅缓冲满时新事件被丢弃，不阻塞 Tick。
func (n *Node) Subscribe(eventType interface{}, bufSize int) (*eventbus.Subscription, error) {
	if bufSize <= 0 {
		bufSize = 16
	}
	return n.bus.Subscribe(eventType, eventbus.BufSize(bufSize))
}
