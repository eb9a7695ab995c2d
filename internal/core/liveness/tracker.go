package liveness

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("core/liveness")

// Sender 探测帧出站通道
type Sender interface {
	Send(endpoint types.Endpoint, data []byte, mode types.DeliveryMode) bool
}

// LatencySink 平均延迟的消费者
type LatencySink interface {
	ObserveLatency(endpoint types.Endpoint, avg time.Duration)
}

// peerState 单个节点的探测状态
type peerState struct {
	lastSeq  uint32
	answered bool
	pacer    *rate.Limiter
	samples  []time.Duration
	next     int
	sum      time.Duration
}

func (p *peerState) push(sample time.Duration, window int) {
	if len(p.samples) < window {
		p.samples = append(p.samples, sample)
	} else {
		p.sum -= p.samples[p.next]
		p.samples[p.next] = sample
		p.next = (p.next + 1) % window
	}
	p.sum += sample
}

func (p *peerState) average() time.Duration {
	if len(p.samples) == 0 {
		return 0
	}
	return p.sum / time.Duration(len(p.samples))
}

// Tracker 往返延迟跟踪器
type Tracker struct {
	cfg   config.LivenessConfig
	out   Sender
	sink  LatencySink
	clock clock.Clock

	mu    sync.Mutex
	peers map[types.Endpoint]*peerState
}

// NewTracker 创建延迟跟踪器，sink 可为 nil
func NewTracker(cfg *config.Config, out Sender, sink LatencySink, clk clock.Clock) *Tracker {
	return &Tracker{
		cfg:   cfg.Liveness,
		out:   out,
		sink:  sink,
		clock: clk,
		peers: make(map[types.Endpoint]*peerState),
	}
}

// RegisterPeer 开始跟踪节点
func (t *Tracker) RegisterPeer(endpoint types.Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[endpoint]; ok {
		return
	}
	t.peers[endpoint] = &peerState{
		pacer: rate.NewLimiter(rate.Every(t.cfg.ProbeInterval.Duration()), 1),
	}
}

// UnregisterPeer 停止跟踪节点并丢弃样本
func (t *Tracker) UnregisterPeer(endpoint types.Endpoint) {
	t.mu.Lock()
	delete(t.peers, endpoint)
	t.mu.Unlock()
}

// Tick 向到期的节点发送探测
func (t *Tracker) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	endpoints := make([]types.Endpoint, 0, len(t.peers))
	for ep := range t.peers {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i] < endpoints[j] })

	for _, ep := range endpoints {
		p := t.peers[ep]
		if !p.pacer.AllowN(now, 1) {
			continue
		}
		p.lastSeq++
		p.answered = false
		data := encodeProbe(envelope.MarkerPing, probe{seq: p.lastSeq, sentAt: now.UnixNano()})
		t.out.Send(ep, data, types.DeliveryUnreliable)
	}
}

// HandleProbe 原样回显探测的序号与时间戳
func (t *Tracker) HandleProbe(from types.Endpoint, data []byte) {
	p, err := decodeProbe(envelope.MarkerPing, data)
	if err != nil {
		logger.Debug("丢弃探测", "from", from, "err", err)
		return
	}
	t.out.Send(from, encodeProbe(envelope.MarkerPong, p), types.DeliveryUnreliable)
}

// HandleEcho 处理回显，过期或重复的回显被丢弃
func (t *Tracker) HandleEcho(from types.Endpoint, data []byte) {
	echo, err := decodeProbe(envelope.MarkerPong, data)
	if err != nil {
		logger.Debug("丢弃回显", "from", from, "err", err)
		return
	}

	t.mu.Lock()
	p, ok := t.peers[from]
	if !ok {
		t.mu.Unlock()
		return
	}
	if echo.seq != p.lastSeq || p.answered {
		t.mu.Unlock()
		logger.Debug("丢弃过期回显", "from", from, "seq", echo.seq, "last", p.lastSeq)
		return
	}

	sample := t.clock.Now().Sub(time.Unix(0, echo.sentAt))
	if sample < 0 {
		t.mu.Unlock()
		return
	}
	p.push(sample, t.cfg.SampleWindow)
	p.answered = true
	avg := p.average()
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.ObserveLatency(from, avg)
	}
}

// Latency 返回平均延迟，没有样本时 ok 为 false
func (t *Tracker) Latency(endpoint types.Endpoint) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[endpoint]
	if !ok || len(p.samples) == 0 {
		return 0, false
	}
	return p.average(), true
}

// Samples 返回当前样本数
func (t *Tracker) Samples(endpoint types.Endpoint) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[endpoint]; ok {
		return len(p.samples)
	}
	return 0
}
