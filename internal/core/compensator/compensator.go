// Package compensator 缓存远端节点的位姿历史并重建延迟补偿后的位置
package compensator

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/pkg/types"
)

// Snapshot 一条位姿历史快照，插入后不再修改
type Snapshot struct {
	Position types.Vec3
	Rotation types.Quat
	Velocity types.Vec3
	At       time.Time
}

// Compensator 延迟补偿器
type Compensator struct {
	cfg   config.CompensatorConfig
	clock clock.Clock

	mu      sync.Mutex
	history map[types.Endpoint][]Snapshot
}

// New 创建延迟补偿器
func New(cfg *config.Config, clk clock.Clock) *Compensator {
	return &Compensator{
		cfg:     cfg.Compensator,
		clock:   clk,
		history: make(map[types.Endpoint][]Snapshot),
	}
}

// RecordPosition 追加一条带时间戳的快照
//
// 历史同时受条数与时长限制，最旧的先淘汰。
func (c *Compensator) RecordPosition(endpoint types.Endpoint, pos types.Vec3, rot types.Quat, vel types.Vec3) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	h := append(c.history[endpoint], Snapshot{
		Position: pos,
		Rotation: rot.Normalize(),
		Velocity: vel,
		At:       now,
	})
	if over := len(h) - c.cfg.MaxSnapshots; over > 0 {
		h = append(h[:0], h[over:]...)
	}
	c.history[endpoint] = c.pruneLocked(h, now)
}

// pruneLocked 淘汰超过 MaxAge 的快照
func (c *Compensator) pruneLocked(h []Snapshot, now time.Time) []Snapshot {
	maxAge := c.cfg.MaxAge.Duration()
	i := 0
	for i < len(h) && now.Sub(h[i].At) > maxAge {
		i++
	}
	if i == 0 {
		return h
	}
	return append(h[:0], h[i:]...)
}

// Compensate 返回延迟补偿后的位置
//
// 延迟非正、超过 MaxLatency 或历史不足两条时原样返回 received。
// 否则在 now - latency 两侧的快照之间线性插值，加上半个延迟的速度外推，
// 并将相对 received 的修正量限制在 MaxOffset 以内。
func (c *Compensator) Compensate(endpoint types.Endpoint, received types.Vec3, latency time.Duration) types.Vec3 {
	if latency <= 0 || latency > c.cfg.MaxLatency.Duration() {
		return received
	}

	snap, ok := c.sample(endpoint, latency)
	if !ok {
		return received
	}

	half := latency.Seconds() / 2
	compensated := snap.Position.Add(snap.Velocity.Scale(half))
	correction := compensated.Sub(received).ClampLen(c.cfg.MaxOffset)
	return received.Add(correction)
}

// Pose 重建 latency 之前的位姿，旋转使用归一化线性插值
func (c *Compensator) Pose(endpoint types.Endpoint, latency time.Duration) (Snapshot, bool) {
	if latency < 0 || latency > c.cfg.MaxLatency.Duration() {
		return Snapshot{}, false
	}
	return c.sample(endpoint, latency)
}

// sample 在 now - latency 处插值
func (c *Compensator) sample(endpoint types.Endpoint, latency time.Duration) (Snapshot, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	h := c.pruneLocked(c.history[endpoint], now)
	c.history[endpoint] = h
	if len(h) < 2 {
		return Snapshot{}, false
	}

	target := now.Add(-latency)
	a, b := bracket(h, target)

	t := 0.0
	if span := b.At.Sub(a.At); span > 0 {
		t = float64(target.Sub(a.At)) / float64(span)
	}
	t = clamp01(t)

	return Snapshot{
		Position: a.Position.Lerp(b.Position, t),
		Rotation: a.Rotation.Nlerp(b.Rotation, t),
		Velocity: a.Velocity.Lerp(b.Velocity, t),
		At:       target,
	}, true
}

// bracket 返回包围 target 的相邻快照，超出历史范围时取最近的一对
func bracket(h []Snapshot, target time.Time) (Snapshot, Snapshot) {
	for i := 1; i < len(h); i++ {
		if !h[i].At.Before(target) {
			return h[i-1], h[i]
		}
	}
	return h[len(h)-2], h[len(h)-1]
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Len 返回节点的历史条数
func (c *Compensator) Len(endpoint types.Endpoint) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history[endpoint])
}

// Forget 丢弃节点的历史
func (c *Compensator) Forget(endpoint types.Endpoint) {
	c.mu.Lock()
	delete(c.history, endpoint)
	c.mu.Unlock()
}
