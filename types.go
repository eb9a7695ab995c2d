package gamenet

import (
	"github.com/dep2p/go-gamenet/internal/core/compensator"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/internal/core/reliability"
	"github.com/dep2p/go-gamenet/internal/core/rpc"
	"github.com/dep2p/go-gamenet/internal/core/selector"
	"github.com/dep2p/go-gamenet/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// Handler 过程处理器，payload 在返回后失效
	Handler = rpc.Handler

	// CallContext 一次入站调用的上下文
	CallContext = rpc.CallContext

	// CallOption 调用选项
	CallOption = rpc.CallOption

	// PayloadWriter 将负载追加到缓冲区
	PayloadWriter = envelope.PayloadWriter

	// Snapshot 一条位姿历史快照
	Snapshot = compensator.Snapshot

	// ConnInfo 连接快照
	ConnInfo = selector.ConnInfo

	// ReliabilityStats 可靠投递统计
	ReliabilityStats = reliability.Stats
)

// Reliable 经可靠层投递（应用级 ACK 与重传）
func Reliable() CallOption {
	return rpc.WithReliable()
}

// Mode 指定传输层投递模式
func Mode(mode types.DeliveryMode) CallOption {
	return rpc.WithMode(mode)
}
