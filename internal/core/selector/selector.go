package selector

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/internal/core/nat"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("core/selector")

// LocalNAT 本地 NAT 分类来源
type LocalNAT interface {
	Local() types.NATType
}

// Transports 可用的传输，任一可为 nil
type Transports struct {
	Direct interfaces.Transport
	Relay  interfaces.Transport
}

// DisconnectHandler 连接拆除回调
type DisconnectHandler func(endpoint types.Endpoint, id types.ConnID, reason types.DisconnectReason)

// Selector 传输选择器
type Selector struct {
	cfg       config.SelectorConfig
	role      types.Role
	transport Transports
	local     LocalNAT
	clock     clock.Clock
	metrics   *metrics.Metrics

	connected    *eventbus.Emitter
	disconnected *eventbus.Emitter
	relayChanged *eventbus.Emitter

	mu         sync.Mutex
	nextID     types.ConnID
	byEndpoint map[types.Endpoint]*conn
	byID       map[types.ConnID]*conn
	byIdentity map[string]*conn
	onClose    DisconnectHandler
}

// New 创建传输选择器
func New(cfg *config.Config, transports Transports, local LocalNAT, clk clock.Clock, bus *eventbus.Bus, m *metrics.Metrics) (*Selector, error) {
	s := &Selector{
		cfg:        cfg.Selector,
		role:       cfg.RoleType(),
		transport:  transports,
		local:      local,
		clock:      clk,
		metrics:    m,
		byEndpoint: make(map[types.Endpoint]*conn),
		byID:       make(map[types.ConnID]*conn),
		byIdentity: make(map[string]*conn),
	}

	var err error
	if s.connected, err = bus.Emitter(new(types.EvtPeerConnected)); err != nil {
		return nil, err
	}
	if s.disconnected, err = bus.Emitter(new(types.EvtPeerDisconnected)); err != nil {
		return nil, err
	}
	if s.relayChanged, err = bus.Emitter(new(types.EvtRelayModeChanged)); err != nil {
		return nil, err
	}
	return s, nil
}

// OnDisconnect 设置连接拆除回调，在锁外调用
func (s *Selector) OnDisconnect(h DisconnectHandler) {
	s.mu.Lock()
	s.onClose = h
	s.mu.Unlock()
}

// ============================================================================
//                              连接注册
// ============================================================================

// RegisterConnection 注册远端连接并返回连接 ID，已注册时返回原 ID
//
// 直连 Endpoint 即远端地址；RelayEndpoint 形式的 Endpoint 没有直连地址。
func (s *Selector) RegisterConnection(endpoint types.Endpoint, identity string, natType types.NATType) types.ConnID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if c, ok := s.byEndpoint[endpoint]; ok {
		c.lastActivity = now
		if identity != "" && c.identity == "" {
			c.identity = identity
			s.byIdentity[identity] = c
		}
		if natType != types.NATTypeUnknown {
			c.nat = natType
		}
		return c.id
	}

	s.nextID++
	c := &conn{
		id:           s.nextID,
		endpoint:     endpoint,
		identity:     identity,
		nat:          natType,
		lastActivity: now,
	}
	if !endpoint.IsRelayOnly() {
		c.directAddr = string(endpoint)
	}
	if s.cfg.RelayBytesPerSecond > 0 {
		bps := s.cfg.RelayBytesPerSecond
		c.budget = rate.NewLimiter(rate.Limit(bps), bps)
	}
	// 客户端的第一个连接即服务器
	if s.role == types.RoleClient && s.serverLocked() == nil {
		c.server = true
	}
	c.relaying = s.shouldRelayLocked(c)

	s.byEndpoint[endpoint] = c
	s.byID[c.id] = c
	if identity != "" {
		s.byIdentity[identity] = c
	}
	s.updateGauges()

	logger.Info("注册连接",
		"endpoint", endpoint,
		"connID", c.id,
		"nat", natType,
		"relay", c.relaying)
	_ = s.connected.Emit(types.EvtPeerConnected{
		Endpoint: endpoint,
		ConnID:   c.id,
		Identity: identity,
		NAT:      natType,
		At:       now,
	})
	return c.id
}

// UnregisterConnection 拆除连接
//
// 关闭底层传输连接，发布断开事件并调用拆除回调。
func (s *Selector) UnregisterConnection(endpoint types.Endpoint, reason types.DisconnectReason) {
	s.mu.Lock()
	c, ok := s.byEndpoint[endpoint]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.removeLocked(c)
	handler := s.onClose
	s.mu.Unlock()

	if reason != types.DisconnectRemote {
		s.closeTransports(c)
	}

	logger.Info("拆除连接", "endpoint", endpoint, "connID", c.id, "reason", reason)
	_ = s.disconnected.Emit(types.EvtPeerDisconnected{
		Endpoint: endpoint,
		ConnID:   c.id,
		Reason:   reason,
		At:       s.clock.Now(),
	})
	if handler != nil {
		handler(endpoint, c.id, reason)
	}
}

func (s *Selector) removeLocked(c *conn) {
	delete(s.byEndpoint, c.endpoint)
	delete(s.byID, c.id)
	if c.identity != "" && s.byIdentity[c.identity] == c {
		delete(s.byIdentity, c.identity)
	}
	s.metrics.PeerLatency.DeleteLabelValues(string(c.endpoint))
	s.updateGauges()
}

func (s *Selector) closeTransports(c *conn) {
	if c.directAddr != "" && s.transport.Direct != nil {
		if err := s.transport.Direct.Disconnect(c.directAddr); err != nil {
			logger.Debug("断开直连失败", "endpoint", c.endpoint, "err", err)
		}
	}
	if c.identity != "" && s.transport.Relay != nil {
		if err := s.transport.Relay.Disconnect(c.identity); err != nil {
			logger.Debug("断开中继失败", "endpoint", c.endpoint, "err", err)
		}
	}
}

// ============================================================================
//                              选择与发送
// ============================================================================

// ShouldRelay 连接当前是否走中继
func (s *Selector) ShouldRelay(endpoint types.Endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byEndpoint[endpoint]
	if !ok {
		return false
	}
	return s.shouldRelayLocked(c)
}

func (s *Selector) shouldRelayLocked(c *conn) bool {
	canRelay := s.transport.Relay != nil && c.identity != ""
	canDirect := s.transport.Direct != nil && c.directAddr != ""

	switch {
	case !canRelay:
		return false
	case !canDirect:
		return true
	case c.unhealthy:
		return true
	default:
		return !nat.CanDirectConnect(s.local.Local(), c.nat)
	}
}

// Send 通过选定的传输发送字节
//
// 直连发送失败计入健康窗口，并在中继可用时改走中继。
func (s *Selector) Send(endpoint types.Endpoint, data []byte, mode types.DeliveryMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byEndpoint[endpoint]
	if !ok {
		logger.Debug("发送目标未注册", "endpoint", endpoint)
		s.metrics.TransportSends.WithLabelValues("none", "unknown_endpoint").Inc()
		return false
	}

	now := s.clock.Now()
	relay := s.shouldRelayLocked(c)
	s.noteMode(c, relay, now)

	if relay {
		return s.sendRelay(c, data, mode, now)
	}
	if s.transport.Direct == nil {
		s.metrics.TransportSends.WithLabelValues("none", "no_transport").Inc()
		return false
	}

	if err := s.transport.Direct.Send(c.directAddr, data, mode); err != nil {
		s.metrics.TransportSends.WithLabelValues("direct", "error").Inc()
		logger.Debug("直连发送失败", "endpoint", endpoint, "err", err)
		s.recordFailure(c, now)
		if s.shouldRelayLocked(c) {
			s.noteMode(c, true, now)
			return s.sendRelay(c, data, mode, now)
		}
		return false
	}
	s.metrics.TransportSends.WithLabelValues("direct", "ok").Inc()
	return true
}

func (s *Selector) sendRelay(c *conn, data []byte, mode types.DeliveryMode, now time.Time) bool {
	if c.budget != nil && !c.budget.AllowN(now, len(data)) {
		s.metrics.TransportSends.WithLabelValues("relay", "throttled").Inc()
		logger.Debug("中继带宽预算不足", "endpoint", c.endpoint, "size", len(data), "err", ErrThrottled)
		return false
	}
	if err := s.transport.Relay.Send(c.identity, data, mode); err != nil {
		s.metrics.TransportSends.WithLabelValues("relay", "error").Inc()
		logger.Debug("中继发送失败", "endpoint", c.endpoint, "err", err)
		return false
	}
	s.metrics.TransportSends.WithLabelValues("relay", "ok").Inc()
	return true
}

// ReportFailure 报告一次直连路径丢失（例如可靠消息重试耗尽）
func (s *Selector) ReportFailure(endpoint types.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byEndpoint[endpoint]
	if !ok || c.relaying {
		return
	}
	now := s.clock.Now()
	s.recordFailure(c, now)
	s.noteMode(c, s.shouldRelayLocked(c), now)
}

// recordFailure 记录一次直连失败，窗口内达到阈值即标记不健康
func (s *Selector) recordFailure(c *conn, now time.Time) {
	c.lastFailure = now
	c.failures = append(c.failures, now)
	c.pruneFailures(now, s.cfg.FailureWindow.Duration())

	if !c.unhealthy && len(c.failures) >= s.cfg.FailureThreshold {
		c.unhealthy = true
		logger.Warn("直连路径不健康，强制中继",
			"endpoint", c.endpoint,
			"failures", len(c.failures))
	}
}

// noteMode 记录选择结果，切换时发布事件
func (s *Selector) noteMode(c *conn, relay bool, now time.Time) {
	if c.relaying == relay {
		return
	}
	c.relaying = relay
	s.updateGauges()
	logger.Info("切换传输", "endpoint", c.endpoint, "relay", relay, "unhealthy", c.unhealthy)
	_ = s.relayChanged.Emit(types.EvtRelayModeChanged{
		Endpoint:  c.endpoint,
		Relay:     relay,
		Unhealthy: c.unhealthy,
		At:        now,
	})
}

// ============================================================================
//                              周期任务
// ============================================================================

// Tick 执行恢复探测与空闲拆除
func (s *Selector) Tick(now time.Time) {
	s.mu.Lock()
	var idle []types.Endpoint
	for _, c := range s.sortedLocked() {
		if now.Sub(c.lastActivity) >= s.cfg.IdleTimeout.Duration() {
			idle = append(idle, c.endpoint)
			continue
		}
		cooldown := s.cfg.RecoveryCooldown.Duration()
		if c.unhealthy && now.Sub(c.lastFailure) >= cooldown &&
			(!c.probing || now.Sub(c.probeSentAt) >= cooldown) {
			s.probe(c, now)
		}
	}
	s.mu.Unlock()

	for _, ep := range idle {
		s.UnregisterConnection(ep, types.DisconnectIdle)
	}
}

// probe 直连发送健康探测，收到回显（ConfirmDirect）后才清除不健康标记
func (s *Selector) probe(c *conn, now time.Time) {
	if s.transport.Direct == nil || c.directAddr == "" {
		return
	}
	if err := s.transport.Direct.Send(c.directAddr, envelope.HealthProbe(), types.DeliveryUnreliable); err != nil {
		logger.Debug("恢复探测失败", "endpoint", c.endpoint, "err", err)
		c.probing = false
		s.recordFailure(c, now)
		return
	}
	c.probing = true
	c.probeSentAt = now
}

// ConfirmDirect 收到健康探测回显，直连路径恢复
//
// 没有未完成探测时忽略。
func (s *Selector) ConfirmDirect(endpoint types.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byEndpoint[endpoint]
	if !ok || !c.probing {
		return
	}
	c.probing = false
	c.unhealthy = false
	c.failures = c.failures[:0]
	logger.Info("直连路径恢复", "endpoint", c.endpoint)
	s.noteMode(c, s.shouldRelayLocked(c), s.clock.Now())
}

// Touch 记录入站活动
func (s *Selector) Touch(endpoint types.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byEndpoint[endpoint]; ok {
		c.lastActivity = s.clock.Now()
	}
}

// ============================================================================
//                              查询
// ============================================================================

// Resolve 将传输层地址解析为 Endpoint
func (s *Selector) Resolve(kind types.TransportKind, addr string) (types.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == types.TransportRelay {
		if c, ok := s.byIdentity[addr]; ok {
			return c.endpoint, true
		}
		return types.RelayEndpoint(addr), false
	}
	ep := types.Endpoint(addr)
	_, ok := s.byEndpoint[ep]
	return ep, ok
}

// ConnID 查询连接 ID
func (s *Selector) ConnID(endpoint types.Endpoint) (types.ConnID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byEndpoint[endpoint]; ok {
		return c.id, true
	}
	return 0, false
}

// Endpoint 按连接 ID 查询 Endpoint
func (s *Selector) Endpoint(id types.ConnID) (types.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byID[id]; ok {
		return c.endpoint, true
	}
	return "", false
}

// MarkServer 标记连接为服务器
func (s *Selector) MarkServer(endpoint types.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byEndpoint[endpoint]; ok {
		c.server = true
	}
}

// Server 返回服务器连接
func (s *Selector) Server() (types.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.serverLocked(); c != nil {
		return c.endpoint, true
	}
	return "", false
}

func (s *Selector) serverLocked() *conn {
	var found *conn
	for _, c := range s.byEndpoint {
		if c.server && (found == nil || c.id < found.id) {
			found = c
		}
	}
	return found
}

// Clients 返回所有客户端连接，按连接 ID 排序
func (s *Selector) Clients() []types.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Endpoint, 0, len(s.byEndpoint))
	for _, c := range s.sortedLocked() {
		if !c.server {
			out = append(out, c.endpoint)
		}
	}
	return out
}

// Connections 返回所有连接快照，按连接 ID 排序
func (s *Selector) Connections() []ConnInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ConnInfo, 0, len(s.byEndpoint))
	for _, c := range s.sortedLocked() {
		out = append(out, c.info())
	}
	return out
}

// Info 返回单个连接快照
func (s *Selector) Info(endpoint types.Endpoint) (ConnInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byEndpoint[endpoint]; ok {
		return c.info(), true
	}
	return ConnInfo{}, false
}

// ObserveLatency 记录延迟跟踪器给出的平均延迟
func (s *Selector) ObserveLatency(endpoint types.Endpoint, avg time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byEndpoint[endpoint]; ok {
		c.latency = avg
		s.metrics.PeerLatency.WithLabelValues(string(endpoint)).Set(float64(avg) / float64(time.Millisecond))
	}
}

// Len 连接数
func (s *Selector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEndpoint)
}

func (s *Selector) sortedLocked() []*conn {
	out := make([]*conn, 0, len(s.byEndpoint))
	for _, c := range s.byEndpoint {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Selector) updateGauges() {
	relayed := 0
	for _, c := range s.byEndpoint {
		if c.relaying {
			relayed++
		}
	}
	s.metrics.Connections.Set(float64(len(s.byEndpoint)))
	s.metrics.Relayed.Set(float64(relayed))
}
