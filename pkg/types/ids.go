package types

import "strings"

// Endpoint 远端节点的稳定标识
//
// 直连传输下为远端 "ip:port"；仅能通过中继到达的节点为 "relay:<identity>"。
type Endpoint string

// relayEndpointPrefix 仅中继节点的 Endpoint 前缀
const relayEndpointPrefix = "relay:"

// RelayEndpoint 为仅中继可达的节点生成 Endpoint
func RelayEndpoint(identity string) Endpoint {
	return Endpoint(relayEndpointPrefix + identity)
}

// IsRelayOnly 是否为仅中继可达的 Endpoint
func (e Endpoint) IsRelayOnly() bool {
	return strings.HasPrefix(string(e), relayEndpointPrefix)
}

// String 返回字符串形式
func (e Endpoint) String() string {
	return string(e)
}

// ConnID 连接标识
//
// 由传输选择器在注册连接时分配，稠密递增，从 1 开始；0 表示无效。
// 该值即信封中的目标连接 ID。
type ConnID uint32

// IsValid 是否为有效连接 ID
func (c ConnID) IsValid() bool {
	return c != 0
}

// ProcID 远程过程标识
//
// 按首次注册顺序稠密分配，仅在单次会话内稳定，不持久化。
type ProcID uint16
