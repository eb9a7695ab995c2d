package reliability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("core/reliability")

// Outbound 出站通道，由传输选择器实现
type Outbound interface {
	Send(endpoint types.Endpoint, data []byte, mode types.DeliveryMode) bool
	ConnID(endpoint types.Endpoint) (types.ConnID, bool)
}

// Procedures 过程名查询
type Procedures interface {
	ID(name string) (types.ProcID, bool)
}

// pending 一条待确认的可靠消息
type pending struct {
	seq     uint32
	dest    types.Endpoint
	data    []byte
	mode    types.DeliveryMode
	sentAt  time.Time
	retries int
}

// dedupKey 去重记录键
type dedupKey struct {
	sender types.Endpoint
	seq    uint32
}

// Layer 可靠层
type Layer struct {
	cfg     config.ReliabilityConfig
	role    types.Role
	out     Outbound
	procs   Procedures
	clock   clock.Clock
	metrics *metrics.Metrics
	failed  *eventbus.Emitter

	mu      sync.Mutex
	nextSeq uint32
	pending map[uint32]*pending
	dedup   *lru.Cache[dedupKey, time.Time]
	stats   map[types.Endpoint]*lossWindow
}

// NewLayer 创建可靠层
func NewLayer(cfg *config.Config, out Outbound, procs Procedures, clk clock.Clock, bus *eventbus.Bus, m *metrics.Metrics) (*Layer, error) {
	dedup, err := lru.New[dedupKey, time.Time](cfg.Reliability.DedupCapacity)
	if err != nil {
		return nil, fmt.Errorf("dedup table: %w", err)
	}
	failed, err := bus.Emitter(new(types.EvtReliableSendFailed))
	if err != nil {
		return nil, err
	}
	return &Layer{
		cfg:     cfg.Reliability,
		role:    cfg.RoleType(),
		out:     out,
		procs:   procs,
		clock:   clk,
		metrics: m,
		failed:  failed,
		pending: make(map[uint32]*pending),
		dedup:   dedup,
		stats:   make(map[types.Endpoint]*lossWindow),
	}, nil
}

// ============================================================================
//                              发送侧
// ============================================================================

// SendReliable 以可靠方式调用 dest 上的过程
//
// 客户端发往服务器（TargetServer），服务器发往指定客户端（TargetClient）。
func (l *Layer) SendReliable(name string, dest types.Endpoint, write envelope.PayloadWriter) (uint32, error) {
	id, ok := l.procs.ID(name)
	if !ok {
		logger.Warn("可靠发送的过程未注册", "name", name)
		return 0, fmt.Errorf("%w: %q", ErrUnknownProcedure, name)
	}

	target := types.TargetServer
	var connID types.ConnID
	if l.role == types.RoleServer {
		target = types.TargetClient
		if connID, ok = l.out.ConnID(dest); !ok {
			logger.Warn("可靠发送目标不存在", "name", name, "dest", dest)
			return 0, fmt.Errorf("%w: %s", ErrUnknownDestination, dest)
		}
	}

	env := envelope.Build(id, target, connID, write)
	env.HasSeq = true
	return l.Send(dest, types.DeliveryUnreliable, func(seq uint32) []byte {
		env.Seq = seq
		return envelope.Encode(env)
	}), nil
}

// Send 分配序号，登记待确认条目并立即发送 build(seq)
func (l *Layer) Send(dest types.Endpoint, mode types.DeliveryMode, build func(seq uint32) []byte) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	if l.nextSeq == 0 {
		l.nextSeq = 1
	}
	seq := l.nextSeq

	p := &pending{
		seq:    seq,
		dest:   dest,
		data:   build(seq),
		mode:   mode,
		sentAt: l.clock.Now(),
	}
	l.pending[seq] = p
	l.windowFor(dest).sent++

	l.metrics.ReliableSent.Inc()
	l.metrics.PendingReliable.Set(float64(len(l.pending)))
	l.out.Send(dest, p.data, mode)
	return seq
}

// HandleAck 处理确认帧
//
// 只有来自该条目目标连接的确认才会生效，未知或重复确认为空操作。
func (l *Layer) HandleAck(from types.Endpoint, seq uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pending[seq]
	if !ok {
		logger.Debug("忽略未知确认", "from", from, "seq", seq)
		return
	}
	if p.dest != from {
		logger.Debug("忽略来源不匹配的确认", "from", from, "seq", seq, "dest", p.dest)
		return
	}

	delete(l.pending, seq)
	l.windowFor(from).record(false)
	l.metrics.ReliableAcked.Inc()
	l.metrics.PendingReliable.Set(float64(len(l.pending)))
}

// Tick 重发超时条目，回收过期去重记录
func (l *Layer) Tick(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timeout := l.cfg.RetryTimeout.Duration()
	for _, p := range l.sortedPending() {
		if now.Sub(p.sentAt) < timeout {
			continue
		}
		if p.retries >= l.cfg.MaxRetries {
			l.lose(p, now)
			continue
		}
		p.retries++
		p.sentAt = now
		l.windowFor(p.dest).retries++
		l.metrics.ReliableRetries.Inc()
		logger.Debug("重发可靠消息", "dest", p.dest, "seq", p.seq, "retry", p.retries)
		l.out.Send(p.dest, p.data, p.mode)
	}
	l.metrics.PendingReliable.Set(float64(len(l.pending)))

	l.sweep(now)
}

func (l *Layer) lose(p *pending, now time.Time) {
	delete(l.pending, p.seq)
	l.windowFor(p.dest).record(true)
	l.metrics.ReliableLost.Inc()
	logger.Warn("可靠消息重试耗尽", "dest", p.dest, "seq", p.seq, "retries", p.retries)
	_ = l.failed.Emit(types.EvtReliableSendFailed{
		Endpoint: p.dest,
		Sequence: p.seq,
		Retries:  p.retries,
		At:       now,
	})
}

// sortedPending 按序号排列待确认条目，保证重发顺序稳定
func (l *Layer) sortedPending() []*pending {
	out := make([]*pending, 0, len(l.pending))
	for _, p := range l.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// ============================================================================
//                              接收侧
// ============================================================================

// ShouldProcess 判断 (sender, seq) 是否首次出现
//
// 首次出现时记录并回送确认；去重窗口内重复出现时重发确认并返回 false。
func (l *Layer) ShouldProcess(sender types.Endpoint, seq uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	key := dedupKey{sender: sender, seq: seq}
	l.out.Send(sender, envelope.EncodeAck(seq), types.DeliveryUnreliable)

	if last, ok := l.dedup.Get(key); ok && now.Sub(last) < l.cfg.DedupWindow.Duration() {
		l.dedup.Add(key, now)
		l.metrics.DuplicatesDropped.Inc()
		logger.Debug("丢弃重复消息", "sender", sender, "seq", seq)
		return false
	}
	l.dedup.Add(key, now)
	return true
}

// sweep 回收静默超过去重窗口的记录
func (l *Layer) sweep(now time.Time) {
	window := l.cfg.DedupWindow.Duration()
	for _, key := range l.dedup.Keys() {
		if last, ok := l.dedup.Peek(key); ok && now.Sub(last) >= window {
			l.dedup.Remove(key)
		}
	}
}

// ============================================================================
//                              连接管理
// ============================================================================

// Purge 清除连接的全部可靠层状态，不计为丢失
func (l *Layer) Purge(endpoint types.Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for seq, p := range l.pending {
		if p.dest == endpoint {
			delete(l.pending, seq)
			dropped++
		}
	}
	for _, key := range l.dedup.Keys() {
		if key.sender == endpoint {
			l.dedup.Remove(key)
		}
	}
	delete(l.stats, endpoint)
	l.metrics.PendingReliable.Set(float64(len(l.pending)))

	if dropped > 0 {
		logger.Debug("清除连接待确认消息", "endpoint", endpoint, "count", dropped)
	}
}

// Stats 返回连接的投递统计
func (l *Layer) Stats(endpoint types.Endpoint) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{}
	for _, p := range l.pending {
		if p.dest == endpoint {
			s.Pending++
		}
	}
	w, ok := l.stats[endpoint]
	if !ok {
		return s
	}
	s.Sent = w.sent
	s.Acked = w.acked
	s.Lost = w.dropped
	s.Retries = w.retries
	s.RecentLoss = w.recent()
	s.LifetimeLoss = w.lifetime()
	return s
}

// Pending 当前待确认条目总数
func (l *Layer) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Layer) windowFor(endpoint types.Endpoint) *lossWindow {
	w, ok := l.stats[endpoint]
	if !ok {
		w = newLossWindow(l.cfg.LossWindow)
		l.stats[endpoint] = w
	}
	return w
}
