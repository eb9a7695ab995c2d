// Package memory 提供进程内传输
//
// 同一 Hub 上的传输通过地址互相连接，数据报直接投递到对端队列。
// 支持丢包与发送失败注入，供端到端测试使用。
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dep2p/go-gamenet/internal/core/transport/queue"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("transport/memory")

var (
	// ErrAddrInUse 地址已被占用
	ErrAddrInUse = errors.New("memory: address in use")
	// ErrUnreachable 目标地址不存在
	ErrUnreachable = errors.New("memory: address unreachable")
	// ErrNotConnected 未与目标建立连接
	ErrNotConnected = errors.New("memory: not connected")
	// ErrInjected 注入的发送失败
	ErrInjected = errors.New("memory: injected send failure")
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("memory: transport closed")
)

// Hub 进程内网络
type Hub struct {
	mu    sync.Mutex
	nodes map[string]*Transport
}

// NewHub 创建进程内网络
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Transport)}
}

// Transport 在 Hub 上以 addr 注册一个传输
func (h *Hub) Transport(kind types.TransportKind, addr string, queueSize int) (*Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.nodes[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddrInUse, addr)
	}
	t := &Transport{
		hub:   h,
		kind:  kind,
		addr:  addr,
		queue: queue.New(queueSize),
		links: make(map[string]*Transport),
	}
	h.nodes[addr] = t
	return t, nil
}

func (h *Hub) lookup(addr string) (*Transport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.nodes[addr]
	return t, ok
}

func (h *Hub) remove(addr string) {
	h.mu.Lock()
	delete(h.nodes, addr)
	h.mu.Unlock()
}

// Transport 进程内传输
type Transport struct {
	hub   *Hub
	kind  types.TransportKind
	addr  string
	queue *queue.Queue

	mu       sync.Mutex
	links    map[string]*Transport
	drop     func(to string, data []byte) bool
	failSend bool
	closed   bool
}

var _ interfaces.Transport = (*Transport)(nil)

// Kind 返回传输类型
func (t *Transport) Kind() types.TransportKind {
	return t.kind
}

// LocalAddr 返回本地地址
func (t *Transport) LocalAddr() string {
	return t.addr
}

// Connect 连接 Hub 上的另一个传输，双方都会收到 Connected 通知
func (t *Transport) Connect(_ context.Context, addr string) error {
	remote, ok := t.hub.lookup(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, linked := t.links[addr]; linked {
		t.mu.Unlock()
		return nil
	}
	t.links[addr] = remote
	t.mu.Unlock()

	remote.mu.Lock()
	remote.links[t.addr] = t
	remote.mu.Unlock()

	t.queue.PushState(addr, types.ConnStateConnecting)
	t.queue.PushState(addr, types.ConnStateConnected)
	remote.queue.PushState(t.addr, types.ConnStateConnected)
	logger.Debug("进程内连接建立", "local", t.addr, "remote", addr)
	return nil
}

// Send 投递一条数据报到对端队列
func (t *Transport) Send(addr string, data []byte, _ types.DeliveryMode) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.failSend {
		t.mu.Unlock()
		return ErrInjected
	}
	remote, ok := t.links[addr]
	drop := t.drop
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	if drop != nil && drop(addr, data) {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	remote.queue.PushInbound(t.addr, buf)
	return nil
}

// Receive 取出下一条入站数据报
func (t *Transport) Receive() (interfaces.Inbound, bool) {
	return t.queue.Receive()
}

// NextState 取出下一条连接状态通知
func (t *Transport) NextState() (interfaces.StateChange, bool) {
	return t.queue.NextState()
}

// Disconnect 断开与 addr 的连接，对端收到 Closed 通知
func (t *Transport) Disconnect(addr string) error {
	t.mu.Lock()
	remote, ok := t.links[addr]
	delete(t.links, addr)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	remote.mu.Lock()
	delete(remote.links, t.addr)
	remote.mu.Unlock()
	remote.queue.PushState(t.addr, types.ConnStateClosed)
	return nil
}

// Close 断开全部连接并从 Hub 注销
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	addrs := make([]string, 0, len(t.links))
	for addr := range t.links {
		addrs = append(addrs, addr)
	}
	t.mu.Unlock()

	for _, addr := range addrs {
		_ = t.Disconnect(addr)
	}
	t.hub.remove(t.addr)
	return nil
}

// ============================================================================
//                              故障注入
// ============================================================================

// SetDrop 设置丢包判定，返回 true 的数据报被静默丢弃
func (t *Transport) SetDrop(drop func(to string, data []byte) bool) {
	t.mu.Lock()
	t.drop = drop
	t.mu.Unlock()
}

// SetFailSends 使后续发送全部返回错误
func (t *Transport) SetFailSends(fail bool) {
	t.mu.Lock()
	t.failSend = fail
	t.mu.Unlock()
}

// Dropped 因入站队列已满丢弃的数据报数
func (t *Transport) Dropped() uint64 {
	return t.queue.Dropped()
}
