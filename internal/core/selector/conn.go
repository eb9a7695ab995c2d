package selector

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-gamenet/pkg/types"
)

// conn 一个远端连接
type conn struct {
	id         types.ConnID
	endpoint   types.Endpoint
	identity   string
	directAddr string
	nat        types.NATType
	server     bool

	lastActivity time.Time
	latency      time.Duration

	// 直连健康
	failures    []time.Time
	lastFailure time.Time
	unhealthy   bool
	probing     bool
	probeSentAt time.Time

	// relaying 最近一次选择结果，用于检测切换
	relaying bool

	budget *rate.Limiter
}

// pruneFailures 丢弃窗口外的失败记录
func (c *conn) pruneFailures(now time.Time, window time.Duration) {
	keep := c.failures[:0]
	for _, t := range c.failures {
		if now.Sub(t) < window {
			keep = append(keep, t)
		}
	}
	c.failures = keep
}

// ConnInfo 连接快照
type ConnInfo struct {
	ID           types.ConnID
	Endpoint     types.Endpoint
	Identity     string
	NAT          types.NATType
	Server       bool
	Relay        bool
	Unhealthy    bool
	LastActivity time.Time
	Latency      time.Duration
}

func (c *conn) info() ConnInfo {
	return ConnInfo{
		ID:           c.id,
		Endpoint:     c.endpoint,
		Identity:     c.identity,
		NAT:          c.nat,
		Server:       c.server,
		Relay:        c.relaying,
		Unhealthy:    c.unhealthy,
		LastActivity: c.lastActivity,
		Latency:      c.latency,
	}
}
