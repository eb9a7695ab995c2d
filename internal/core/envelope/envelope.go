// Package envelope 实现 RPC 信封与控制消息的线上格式
//
// 每条数据报以 1 字节消息类型标记开头。RPC 信封格式：
//
//	[1 字节标记 0x52][2 字节过程 ID][1 字节 flags: bit0-6 目标, bit7 带序号]
//	[4 字节目标连接 ID，仅当目标为 TargetClient]
//	[4 字节序号，仅当 bit7 置位]
//	[不透明负载]
//
// 所有多字节整数为大端序。编码与解码严格互逆，服务器可原样转发收到的字节。
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dep2p/go-gamenet/pkg/types"
)

// Marker 消息类型标记
type Marker byte

const (
	// MarkerRPC RPC 信封
	MarkerRPC Marker = 0x52
	// MarkerAck 可靠层确认
	MarkerAck Marker = 0x41
	// MarkerPing 延迟探测
	MarkerPing Marker = 0x50
	// MarkerPong 延迟探测回显
	MarkerPong Marker = 0x51
	// MarkerHealthProbe 直连路径健康探测
	MarkerHealthProbe Marker = 0x48
	// MarkerHealthEcho 健康探测回显
	MarkerHealthEcho Marker = 0x49
)

const (
	flagHasSeq   = 0x80
	targetMask   = 0x7f
	baseHeader   = 4
	connIDLen    = 4
	sequenceLen  = 4
	ackFrameSize = 1 + sequenceLen
)

var (
	// ErrShortFrame 帧长度不足
	ErrShortFrame = errors.New("envelope: frame too short")

	// ErrBadMarker 标记不匹配
	ErrBadMarker = errors.New("envelope: unexpected marker")

	// ErrBadTarget 未定义的路由目标
	ErrBadTarget = errors.New("envelope: invalid target")
)

// Envelope 一条 RPC 消息的头部与负载
type Envelope struct {
	// Proc 过程 ID
	Proc types.ProcID

	// Target 路由目标
	Target types.Target

	// Dest 目标连接 ID，仅 TargetClient 时上线
	Dest types.ConnID

	// HasSeq 是否携带可靠层序号
	HasSeq bool

	// Seq 可靠层序号
	Seq uint32

	// Payload 不透明负载；解码时引用输入切片
	Payload []byte
}

// PayloadWriter 由调用方追加负载字节到 buf 并返回结果
type PayloadWriter func(buf []byte) []byte

// Build 构造带负载的信封，write 为 nil 时负载为空
func Build(proc types.ProcID, target types.Target, dest types.ConnID, write PayloadWriter) *Envelope {
	e := &Envelope{Proc: proc, Target: target, Dest: dest}
	if write != nil {
		e.Payload = write(nil)
	}
	return e
}

// HeaderLen 返回编码后头部长度（含标记）
func (e *Envelope) HeaderLen() int {
	n := baseHeader
	if e.Target == types.TargetClient {
		n += connIDLen
	}
	if e.HasSeq {
		n += sequenceLen
	}
	return n
}

// Encode 编码信封
func Encode(e *Envelope) []byte {
	buf := make([]byte, e.HeaderLen(), e.HeaderLen()+len(e.Payload))
	buf[0] = byte(MarkerRPC)
	binary.BigEndian.PutUint16(buf[1:3], uint16(e.Proc))
	flags := byte(e.Target) & targetMask
	if e.HasSeq {
		flags |= flagHasSeq
	}
	buf[3] = flags

	off := baseHeader
	if e.Target == types.TargetClient {
		binary.BigEndian.PutUint32(buf[off:], uint32(e.Dest))
		off += connIDLen
	}
	if e.HasSeq {
		binary.BigEndian.PutUint32(buf[off:], e.Seq)
	}
	return append(buf, e.Payload...)
}

// Decode 解码信封，Payload 引用 data
func Decode(data []byte) (*Envelope, error) {
	if len(data) < baseHeader {
		return nil, ErrShortFrame
	}
	if Marker(data[0]) != MarkerRPC {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadMarker, data[0])
	}

	e := &Envelope{
		Proc:   types.ProcID(binary.BigEndian.Uint16(data[1:3])),
		Target: types.Target(data[3] & targetMask),
		HasSeq: data[3]&flagHasSeq != 0,
	}
	if !e.Target.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrBadTarget, e.Target)
	}
	if len(data) < e.HeaderLen() {
		return nil, ErrShortFrame
	}

	off := baseHeader
	if e.Target == types.TargetClient {
		e.Dest = types.ConnID(binary.BigEndian.Uint32(data[off:]))
		off += connIDLen
	}
	if e.HasSeq {
		e.Seq = binary.BigEndian.Uint32(data[off:])
		off += sequenceLen
	}
	e.Payload = data[off:]
	return e, nil
}

// MarkerOf 返回数据报的消息类型标记
func MarkerOf(data []byte) (Marker, bool) {
	if len(data) == 0 {
		return 0, false
	}
	return Marker(data[0]), true
}

// EncodeAck 编码确认帧
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, ackFrameSize)
	buf[0] = byte(MarkerAck)
	binary.BigEndian.PutUint32(buf[1:], seq)
	return buf
}

// DecodeAck 解码确认帧
func DecodeAck(data []byte) (uint32, error) {
	if len(data) < ackFrameSize {
		return 0, ErrShortFrame
	}
	if Marker(data[0]) != MarkerAck {
		return 0, fmt.Errorf("%w: 0x%02x", ErrBadMarker, data[0])
	}
	return binary.BigEndian.Uint32(data[1:]), nil
}

// HealthProbe 返回直连健康探测帧
func HealthProbe() []byte {
	return []byte{byte(MarkerHealthProbe)}
}

// HealthEcho 返回健康探测回显帧
func HealthEcho() []byte {
	return []byte{byte(MarkerHealthEcho)}
}
