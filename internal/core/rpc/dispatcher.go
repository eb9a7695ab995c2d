package rpc

import (
	"fmt"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("core/rpc")

// Router 分发所需的连接视图，由传输选择器实现
type Router interface {
	// Send 通过选定的传输发送字节
	Send(endpoint types.Endpoint, data []byte, mode types.DeliveryMode) bool

	// ConnID 查询连接 ID
	ConnID(endpoint types.Endpoint) (types.ConnID, bool)

	// Endpoint 按连接 ID 查询端点
	Endpoint(id types.ConnID) (types.Endpoint, bool)

	// Clients 返回所有客户端连接
	Clients() []types.Endpoint

	// Server 返回服务器连接（客户端角色）
	Server() (types.Endpoint, bool)
}

// Reliable 可靠层能力
type Reliable interface {
	// Send 分配序号、登记待确认并发送 build(seq) 的结果
	Send(dest types.Endpoint, mode types.DeliveryMode, build func(seq uint32) []byte) uint32

	// ShouldProcess 首次见到 (sender, seq) 时确认并返回 true
	ShouldProcess(sender types.Endpoint, seq uint32) bool
}

// Dispatcher RPC 分发器
type Dispatcher struct {
	registry    *Registry
	role        types.Role
	router      Router
	reliable    Reliable
	metrics     *metrics.Metrics
	defaultMode types.DeliveryMode
	forwardMode types.DeliveryMode
}

// NewDispatcher 创建分发器
func NewDispatcher(cfg *config.Config, registry *Registry, router Router, reliable Reliable, m *metrics.Metrics) (*Dispatcher, error) {
	defaultMode, err := config.ParseDeliveryMode(cfg.RPC.DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("default mode: %w", err)
	}
	forwardMode, err := config.ParseDeliveryMode(cfg.RPC.ForwardMode)
	if err != nil {
		return nil, fmt.Errorf("forward mode: %w", err)
	}
	return &Dispatcher{
		registry:    registry,
		role:        cfg.RoleType(),
		router:      router,
		reliable:    reliable,
		metrics:     m,
		defaultMode: defaultMode,
		forwardMode: forwardMode,
	}, nil
}

// Registry 返回注册表
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Role 返回本地角色
func (d *Dispatcher) Role() types.Role {
	return d.role
}

// ============================================================================
//                              出站
// ============================================================================

// Call 按名称调用过程
//
// 配置错误（未注册、目标非法、缺少目标连接）记录警告后丢弃并返回错误，
// 投递失败不会同步返回。
func (d *Dispatcher) Call(name string, target types.Target, dest types.ConnID, write envelope.PayloadWriter, opts ...CallOption) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	mode := o.deliveryMode(d.defaultMode)

	id, ok := d.registry.ID(name)
	if !ok {
		return d.reject(name, target, ErrUnknownProcedure, "unknown_procedure")
	}
	if !target.IsValid() {
		return d.reject(name, target, ErrInvalidTarget, "invalid_target")
	}
	if d.role == types.RoleClient && target != types.TargetServer {
		return d.reject(name, target, ErrClientTarget, "client_target")
	}

	audience, err := d.audience(target, dest)
	if err != nil {
		return d.reject(name, target, err, "no_destination")
	}

	env := envelope.Build(id, target, dest, write)

	// 服务器调用自身
	if d.role == types.RoleServer && target == types.TargetServer {
		d.invoke(&CallContext{Name: name, Proc: id, Target: target}, env.Payload)
		return nil
	}

	d.metrics.RPCSent.WithLabelValues(target.String()).Inc()
	if o.reliable {
		for _, ep := range audience {
			d.reliable.Send(ep, mode, func(seq uint32) []byte {
				env.HasSeq = true
				env.Seq = seq
				return envelope.Encode(env)
			})
		}
		return nil
	}

	data := envelope.Encode(env)
	for _, ep := range audience {
		d.router.Send(ep, data, mode)
	}
	return nil
}

// audience 计算出站受众
func (d *Dispatcher) audience(target types.Target, dest types.ConnID) ([]types.Endpoint, error) {
	switch target {
	case types.TargetServer:
		if d.role == types.RoleServer {
			return nil, nil
		}
		ep, ok := d.router.Server()
		if !ok {
			return nil, ErrNoServer
		}
		return []types.Endpoint{ep}, nil

	case types.TargetClient:
		if !dest.IsValid() {
			return nil, ErrNoDestination
		}
		ep, ok := d.router.Endpoint(dest)
		if !ok {
			return nil, ErrNoDestination
		}
		return []types.Endpoint{ep}, nil

	case types.TargetAllClients:
		return d.router.Clients(), nil

	case types.TargetAllClientsExceptSender:
		return d.except(dest), nil
	}
	return nil, ErrInvalidTarget
}

func (d *Dispatcher) except(dest types.ConnID) []types.Endpoint {
	excluded, _ := d.router.Endpoint(dest)
	clients := d.router.Clients()
	out := clients[:0:0]
	for _, ep := range clients {
		if ep != excluded {
			out = append(out, ep)
		}
	}
	return out
}

func (d *Dispatcher) reject(name string, target types.Target, err error, reason string) error {
	logger.Warn("丢弃调用", "name", name, "target", target, "err", err)
	d.metrics.RPCDropped.WithLabelValues(reason).Inc()
	return fmt.Errorf("call %q: %w", name, err)
}

// ============================================================================
//                              入站
// ============================================================================

// HandleInbound 处理一条 RPC 信封
//
// 解码失败、重复消息与未知过程均记录后丢弃。服务器只转发不带序号的信封，
// 带序号的转发请求既不确认也不转发。
func (d *Dispatcher) HandleInbound(from types.Endpoint, data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		logger.Debug("信封解码失败", "from", from, "err", err)
		d.metrics.RPCDropped.WithLabelValues("malformed").Inc()
		return
	}

	if d.role == types.RoleServer && env.Target != types.TargetServer {
		// 序号空间属于发送方，原样转发会与服务器自己的序号冲突
		if env.HasSeq {
			logger.Warn("拒绝转发带序号的信封", "from", from, "proc", env.Proc, "seq", env.Seq)
			d.metrics.RPCDropped.WithLabelValues("sequenced_forward").Inc()
			return
		}
		d.forward(from, env, data)
		return
	}

	if env.HasSeq && !d.reliable.ShouldProcess(from, env.Seq) {
		return
	}
	if d.role == types.RoleClient && env.Target == types.TargetServer {
		logger.Warn("客户端收到发往服务器的信封", "from", from, "proc", env.Proc)
		d.metrics.RPCDropped.WithLabelValues("misrouted").Inc()
		return
	}

	name, _, ok := d.registry.Lookup(env.Proc)
	if !ok {
		logger.Warn("未知过程", "from", from, "proc", env.Proc)
		d.metrics.RPCDropped.WithLabelValues("unknown_procedure").Inc()
		return
	}

	senderID, _ := d.router.ConnID(from)
	d.metrics.RPCReceived.WithLabelValues(env.Target.String()).Inc()
	d.invoke(&CallContext{
		Name:     name,
		Proc:     env.Proc,
		Sender:   from,
		SenderID: senderID,
		Target:   env.Target,
		HasSeq:   env.HasSeq,
		Seq:      env.Seq,
	}, env.Payload)
}

// forward 服务器原样转发收到的字节
func (d *Dispatcher) forward(from types.Endpoint, env *envelope.Envelope, data []byte) {
	var audience []types.Endpoint
	switch env.Target {
	case types.TargetClient:
		ep, ok := d.router.Endpoint(env.Dest)
		if !ok {
			logger.Debug("转发目标不存在", "from", from, "dest", env.Dest)
			d.metrics.RPCDropped.WithLabelValues("no_destination").Inc()
			return
		}
		audience = []types.Endpoint{ep}
	case types.TargetAllClients:
		audience = d.router.Clients()
	case types.TargetAllClientsExceptSender:
		for _, ep := range d.router.Clients() {
			if ep != from {
				audience = append(audience, ep)
			}
		}
	}

	for _, ep := range audience {
		if d.router.Send(ep, data, d.forwardMode) {
			d.metrics.RPCForwarded.Inc()
		}
	}
}

func (d *Dispatcher) invoke(ctx *CallContext, payload []byte) {
	_, h, _ := d.registry.Lookup(ctx.Proc)
	if h == nil {
		logger.Debug("过程未绑定处理器", "name", ctx.Name)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("处理器异常", "name", ctx.Name, "sender", ctx.Sender, "panic", r)
		}
	}()
	h(ctx, payload)
}
