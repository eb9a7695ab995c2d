// Package interfaces 定义 gamenet 公共接口
//
// 本文件定义 Transport 接口，抽象直连与中继两种传输。
package interfaces

import (
	"context"
	"net"

	"github.com/dep2p/go-gamenet/pkg/types"
)

// Inbound 一条入站数据报
type Inbound struct {
	// Addr 发送方在该传输下的地址
	// 直连传输为 "ip:port"，中继传输为对端平台身份
	Addr string

	// Data 原始字节，首字节为消息类型标记
	Data []byte
}

// StateChange 传输层连接状态通知
type StateChange struct {
	// Addr 对端在该传输下的地址
	Addr string

	// State 新状态
	State types.ConnState
}

// Transport 传输能力接口
//
// 直连（Direct）与中继（Relay）两种实现，由传输选择器按连接选定，
// 调用方从不按传输类型分支。
//
// Receive 与 NextState 均为非阻塞轮询，由主循环每帧排空。
type Transport interface {
	// Kind 返回传输类型
	Kind() types.TransportKind

	// LocalAddr 返回本地地址（直连为监听地址，中继为本地平台身份）
	LocalAddr() string

	// Connect 连接到远端地址（直连为 "ip:port"，中继为对端平台身份）
	Connect(ctx context.Context, addr string) error

	// Send 发送一条消息
	Send(addr string, data []byte, mode types.DeliveryMode) error

	// Receive 取出下一条入站数据报，没有时立即返回 false
	Receive() (Inbound, bool)

	// NextState 取出下一条连接状态通知，没有时立即返回 false
	NextState() (StateChange, bool)

	// Disconnect 断开与远端的连接
	Disconnect(addr string) error

	// Close 关闭传输
	Close() error
}

// PlatformProbe 平台 SDK 的中继能力探测（黑盒）
type PlatformProbe interface {
	// ProbeNAT 返回平台判定的 NAT 分类
	ProbeNAT(ctx context.Context) (types.NATType, error)
}

// Disconnector 强制断开远端节点的能力
type Disconnector interface {
	// Kick 终止与 endpoint 的连接，原因由 reason 描述
	Kick(endpoint types.Endpoint, reason string)
}

// PacketSocket 传输底层的 UDP 套接字，供 STUN 等非传输协议收发报文
type PacketSocket interface {
	// WriteTo 向 addr 发送一个报文
	WriteTo(b []byte, addr net.Addr) (int, error)

	// ReadFrom 读取一个不属于传输协议的报文，ctx 结束时返回其错误
	ReadFrom(ctx context.Context, b []byte) (int, net.Addr, error)

	// LocalAddr 本地绑定地址
	LocalAddr() net.Addr
}

// SocketSharer 可共享底层套接字的传输
type SocketSharer interface {
	SharedSocket() PacketSocket
}
