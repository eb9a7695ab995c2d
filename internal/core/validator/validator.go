// Package validator 在入站输入到达玩法处理器之前拒绝不可能或滥用的输入
//
// 每次拒绝都使节点的可疑计数加一，计数只增不减；达到阈值时通过
// Disconnector 强制断开该节点，且只断开一次。被踢出的节点记入封禁表，
// 之后的所有校验直接失败。
package validator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("core/validator")

// 拒绝类别
const (
	KindPosition = "position"
	KindFireRate = "fire_rate"
	KindDamage   = "damage"
)

// peerRecord 单个节点的校验状态
type peerRecord struct {
	hasPos    bool
	lastPos   types.Vec3
	lastAt    time.Time
	fires     []time.Time
	suspicion int
}

// Validator 输入校验器
type Validator struct {
	cfg     config.ValidatorConfig
	clock   clock.Clock
	kicker  interfaces.Disconnector
	metrics *metrics.Metrics
	kicked  *eventbus.Emitter

	mu     sync.Mutex
	peers  map[types.Endpoint]*peerRecord
	banned map[types.Endpoint]int
}

// New 创建校验器
func New(cfg *config.Config, kicker interfaces.Disconnector, clk clock.Clock, bus *eventbus.Bus, m *metrics.Metrics) (*Validator, error) {
	kicked, err := bus.Emitter(new(types.EvtPeerKicked))
	if err != nil {
		return nil, err
	}
	return &Validator{
		cfg:     cfg.Validator,
		clock:   clk,
		kicker:  kicker,
		metrics: m,
		kicked:  kicked,
		peers:   make(map[types.Endpoint]*peerRecord),
		banned:  make(map[types.Endpoint]int),
	}, nil
}

// ValidatePosition 校验位置更新
//
// 新节点的第一个样本无条件接受并作为基线。之后隐含速度（距离/间隔）
// 与上报速度的大小都不得超过 MaxSpeed。间隔不足 MinSampleInterval 时按
// MinSampleInterval 计算。被拒绝的位置不更新基线。
func (v *Validator) ValidatePosition(endpoint types.Endpoint, pos, vel types.Vec3) bool {
	now := v.clock.Now()

	v.mu.Lock()
	if _, ok := v.banned[endpoint]; ok {
		v.mu.Unlock()
		return false
	}
	p := v.recordLocked(endpoint)

	var reason string
	switch {
	case !pos.IsFinite() || !vel.IsFinite():
		reason = "non-finite position"
	case !p.hasPos:
	case vel.Len() > v.cfg.MaxSpeed:
		reason = fmt.Sprintf("reported speed %.2f", vel.Len())
	default:
		dist := pos.Distance(p.lastPos)
		elapsed := now.Sub(p.lastAt)
		if floor := v.cfg.MinSampleInterval.Duration(); elapsed < floor {
			elapsed = floor
		}
		if dist/elapsed.Seconds() > v.cfg.MaxSpeed {
			reason = fmt.Sprintf("implied speed over %.2f", v.cfg.MaxSpeed)
		}
	}

	if reason == "" {
		p.hasPos = true
		p.lastPos = pos
		p.lastAt = now
		v.mu.Unlock()
		return true
	}
	return v.rejectLocked(endpoint, p, KindPosition, reason, now)
}

// ValidateFireRate 校验开火频率
//
// 滚动窗口内已有 MaxFireRate 次事件时拒绝，被拒绝的事件不计入窗口。
func (v *Validator) ValidateFireRate(endpoint types.Endpoint) bool {
	now := v.clock.Now()

	v.mu.Lock()
	if _, ok := v.banned[endpoint]; ok {
		v.mu.Unlock()
		return false
	}
	p := v.recordLocked(endpoint)

	window := v.cfg.FireWindow.Duration()
	keep := p.fires[:0]
	for _, t := range p.fires {
		if now.Sub(t) < window {
			keep = append(keep, t)
		}
	}
	p.fires = keep

	if len(p.fires) >= v.cfg.MaxFireRate {
		return v.rejectLocked(endpoint, p, KindFireRate, fmt.Sprintf("%d events in window", len(p.fires)), now)
	}
	p.fires = append(p.fires, now)
	v.mu.Unlock()
	return true
}

// ValidateDamage 校验单次伤害值
func (v *Validator) ValidateDamage(endpoint types.Endpoint, value float64) bool {
	now := v.clock.Now()

	v.mu.Lock()
	if _, ok := v.banned[endpoint]; ok {
		v.mu.Unlock()
		return false
	}
	p := v.recordLocked(endpoint)

	if math.IsNaN(value) || value < v.cfg.MinDamage || value > v.cfg.MaxDamage {
		return v.rejectLocked(endpoint, p, KindDamage, fmt.Sprintf("damage %v", value), now)
	}
	v.mu.Unlock()
	return true
}

// rejectLocked 记录一次拒绝并释放锁，达到阈值时踢出节点
func (v *Validator) rejectLocked(endpoint types.Endpoint, p *peerRecord, kind, reason string, now time.Time) bool {
	p.suspicion++
	suspicion := p.suspicion
	kick := suspicion >= v.cfg.SuspicionThreshold
	if kick {
		v.banned[endpoint] = suspicion
	}
	v.mu.Unlock()

	v.metrics.Rejections.WithLabelValues(kind).Inc()
	logger.Warn("拒绝输入",
		"endpoint", endpoint,
		"kind", kind,
		"reason", reason,
		"suspicion", suspicion)

	if kick {
		v.metrics.Kicks.Inc()
		logger.Warn("可疑计数达到阈值，强制断开", "endpoint", endpoint, "suspicion", suspicion)
		_ = v.kicked.Emit(types.EvtPeerKicked{Endpoint: endpoint, Suspicion: suspicion, At: now})
		if v.kicker != nil {
			v.kicker.Kick(endpoint, fmt.Sprintf("suspicion %d", suspicion))
		}
	}
	return false
}

func (v *Validator) recordLocked(endpoint types.Endpoint) *peerRecord {
	p, ok := v.peers[endpoint]
	if !ok {
		p = &peerRecord{}
		v.peers[endpoint] = p
	}
	return p
}

// Suspicion 返回节点的可疑计数
func (v *Validator) Suspicion(endpoint types.Endpoint) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n, ok := v.banned[endpoint]; ok {
		return n
	}
	if p, ok := v.peers[endpoint]; ok {
		return p.suspicion
	}
	return 0
}

// Banned 节点是否已被踢出
func (v *Validator) Banned(endpoint types.Endpoint) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.banned[endpoint]
	return ok
}

// Forget 丢弃节点的校验状态，封禁记录保留
func (v *Validator) Forget(endpoint types.Endpoint) {
	v.mu.Lock()
	delete(v.peers, endpoint)
	v.mu.Unlock()
}
