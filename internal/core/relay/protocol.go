// Package relay 定义中继代理与中继传输之间的协议
//
// 中继代理模拟游戏平台的中继服务：客户端以平台身份登记，
// 按身份请求连接，代理为每对连接分配数值句柄并转发数据帧。
//
// 控制消息为 websocket 文本帧，内容为 JSON 编码的 Message：
//
//	client -> relay: hello{version, identity}
//	relay  -> client: welcome{identity} | error{error}
//	client -> relay: connect{identity} | disconnect{handle}
//	relay  -> client: state{handle, identity, state}
//
// 数据帧为 websocket 二进制帧：[4 字节句柄][负载]，句柄为接收方视角。
package relay

import (
	"encoding/binary"
	"errors"
)

// ============================================================================
//                              协议常量
// ============================================================================

const (
	// ProtocolVersion 当前协议版本（语义化版本）
	ProtocolVersion = "1.0.0"

	// DefaultVersionConstraint 代理默认接受的协议版本范围
	DefaultVersionConstraint = "^1.0"

	// MaxFrameSize 单个数据帧上限
	MaxFrameSize = 64 * 1024

	// handleLen 句柄长度
	handleLen = 4
)

// 控制消息类型
const (
	TypeHello      = "hello"
	TypeWelcome    = "welcome"
	TypeError      = "error"
	TypeConnect    = "connect"
	TypeDisconnect = "disconnect"
	TypeState      = "state"
)

// 连接状态
const (
	StateConnected = "connected"
	StateClosed    = "closed"
)

// ErrMalformedFrame 数据帧格式错误
var ErrMalformedFrame = errors.New("relay: malformed frame")

// Message 控制消息
type Message struct {
	Type     string `json:"type"`
	Version  string `json:"version,omitempty"`
	Identity string `json:"identity,omitempty"`
	Handle   uint32 `json:"handle,omitempty"`
	State    string `json:"state,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ============================================================================
//                              数据帧
// ============================================================================

// EncodeFrame 编码数据帧
func EncodeFrame(handle uint32, payload []byte) []byte {
	buf := make([]byte, handleLen+len(payload))
	binary.BigEndian.PutUint32(buf, handle)
	copy(buf[handleLen:], payload)
	return buf
}

// DecodeFrame 解码数据帧，返回的负载与 data 共享内存
func DecodeFrame(data []byte) (uint32, []byte, error) {
	if len(data) < handleLen || len(data) > handleLen+MaxFrameSize {
		return 0, nil, ErrMalformedFrame
	}
	return binary.BigEndian.Uint32(data), data[handleLen:], nil
}
