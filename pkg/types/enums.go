package types

// ============================================================================
//                              Role - 进程角色
// ============================================================================

// Role 本地进程在会话中的角色
type Role int

const (
	// RoleClient 客户端
	RoleClient Role = iota
	// RoleServer 权威服务器
	RoleServer
)

// String 返回角色的字符串表示
func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ============================================================================
//                              Target - 路由目标
// ============================================================================

// Target RPC 路由目标，线上占 7 位
type Target uint8

const (
	// TargetServer 发往服务器
	TargetServer Target = 0
	// TargetAllClients 发往所有客户端
	TargetAllClients Target = 1
	// TargetClient 发往指定客户端
	TargetClient Target = 2
	// TargetAllClientsExceptSender 发往除发送者外的所有客户端
	TargetAllClientsExceptSender Target = 3
)

// IsValid 是否为已定义的目标
func (t Target) IsValid() bool {
	return t <= TargetAllClientsExceptSender
}

// String 返回目标的字符串表示
func (t Target) String() string {
	switch t {
	case TargetServer:
		return "server"
	case TargetAllClients:
		return "all_clients"
	case TargetClient:
		return "target_client"
	case TargetAllClientsExceptSender:
		return "all_clients_except_sender"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              DeliveryMode - 投递模式
// ============================================================================

// DeliveryMode 传输层 QoS 提示
//
// 与可靠层的应用级 ACK/重传相互独立。
type DeliveryMode int

const (
	// DeliveryReliableOrdered 可靠有序
	DeliveryReliableOrdered DeliveryMode = iota
	// DeliveryUnreliable 不可靠
	DeliveryUnreliable
	// DeliveryReliableUnordered 可靠无序
	DeliveryReliableUnordered
	// DeliverySequenced 顺序（丢弃过期）
	DeliverySequenced
)

// IsReliable 传输层是否保证送达
func (m DeliveryMode) IsReliable() bool {
	return m == DeliveryReliableOrdered || m == DeliveryReliableUnordered
}

// String 返回投递模式的字符串表示
func (m DeliveryMode) String() string {
	switch m {
	case DeliveryReliableOrdered:
		return "reliable_ordered"
	case DeliveryUnreliable:
		return "unreliable"
	case DeliveryReliableUnordered:
		return "reliable_unordered"
	case DeliverySequenced:
		return "sequenced"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              TransportKind - 传输类型
// ============================================================================

// TransportKind 传输类型
type TransportKind int

const (
	// TransportDirect 直连 UDP 传输
	TransportDirect TransportKind = iota
	// TransportRelay 平台中继传输
	TransportRelay
)

// String 返回传输类型的字符串表示
func (k TransportKind) String() string {
	if k == TransportRelay {
		return "relay"
	}
	return "direct"
}

// ============================================================================
//                              ConnState - 连接状态
// ============================================================================

// ConnState 传输层连接状态通知
type ConnState int

const (
	// ConnStateConnecting 连接中
	ConnStateConnecting ConnState = iota
	// ConnStateConnected 已连接
	ConnStateConnected
	// ConnStateClosed 已关闭
	ConnStateClosed
)

// String 返回连接状态的字符串表示
func (s ConnState) String() string {
	switch s {
	case ConnStateConnecting:
		return "connecting"
	case ConnStateConnected:
		return "connected"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
