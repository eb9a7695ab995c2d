package types

import "time"

// ============================================================================
//                              领域事件
// ============================================================================
//
// 核心通过事件总线向外发布以下事件，对展示层一无所知。

// DisconnectReason 断开原因
type DisconnectReason int

const (
	// DisconnectRemote 传输层报告远端关闭
	DisconnectRemote DisconnectReason = iota
	// DisconnectIdle 空闲超时
	DisconnectIdle
	// DisconnectKicked 校验器判定作弊踢出
	DisconnectKicked
	// DisconnectLocal 本地主动断开
	DisconnectLocal
)

// String 返回断开原因的字符串表示
func (r DisconnectReason) String() string {
	switch r {
	case DisconnectRemote:
		return "remote"
	case DisconnectIdle:
		return "idle"
	case DisconnectKicked:
		return "kicked"
	case DisconnectLocal:
		return "local"
	default:
		return "unknown"
	}
}

// EvtPeerConnected 新连接注册
type EvtPeerConnected struct {
	Endpoint Endpoint
	ConnID   ConnID
	Identity string
	NAT      NATType
	At       time.Time
}

// EvtPeerDisconnected 连接拆除
type EvtPeerDisconnected struct {
	Endpoint Endpoint
	ConnID   ConnID
	Reason   DisconnectReason
	At       time.Time
}

// EvtRelayModeChanged 连接的传输选择发生变化
type EvtRelayModeChanged struct {
	Endpoint Endpoint
	Relay    bool
	// Unhealthy 为 true 表示因直连健康度下降被强制中继
	Unhealthy bool
	At        time.Time
}

// EvtNATClassified 本地 NAT 分类完成
type EvtNATClassified struct {
	NAT NATType
	At  time.Time
}

// EvtReliableSendFailed 可靠消息重试耗尽
type EvtReliableSendFailed struct {
	Endpoint Endpoint
	Sequence uint32
	Retries  int
	At       time.Time
}

// EvtPeerKicked 节点因累计可疑行为被踢出
type EvtPeerKicked struct {
	Endpoint  Endpoint
	Suspicion int
	At        time.Time
}
