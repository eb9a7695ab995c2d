// Package relay 实现经中继代理转发的传输
//
// 远端以平台身份寻址。Connect 只发出请求，结果以状态通知异步到达：
// connecting 立即发布，代理配对成功后发布 connected，失败或对端离开时发布 closed。
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/dep2p/go-gamenet/config"
	relayproto "github.com/dep2p/go-gamenet/internal/core/relay"
	"github.com/dep2p/go-gamenet/internal/core/transport/queue"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("transport/relay")

const writeTimeout = 5 * time.Second

var (
	// ErrRejected 代理拒绝登记
	ErrRejected = errors.New("relay: rejected by broker")
	// ErrNotConnected 未与目标身份配对
	ErrNotConnected = errors.New("relay: not connected")
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("relay: transport closed")
	// ErrFrameTooLarge 负载超过数据帧上限
	ErrFrameTooLarge = errors.New("relay: frame too large")
)

// Transport 中继传输
type Transport struct {
	identity string
	conn     *websocket.Conn
	queue    *queue.Queue

	writeMu sync.Mutex

	mu       sync.Mutex
	handles  map[string]uint32 // identity -> handle
	peers    map[uint32]string // handle -> identity
	pending  map[string]struct{}
	closed   bool
	readDone chan struct{}
}

var _ interfaces.Transport = (*Transport)(nil)

// Dial 连接中继代理并完成登记
//
// cfg.Identity 为空时生成随机 UUID 作为平台身份。
func Dial(ctx context.Context, cfg config.TransportConfig) (*Transport, error) {
	identity := cfg.Identity
	if identity == "" {
		identity = uuid.NewString()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.RelayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", cfg.RelayURL, err)
	}
	conn.SetReadLimit(relayproto.MaxFrameSize + 1024)

	t := &Transport{
		conn:     conn,
		queue:    queue.New(cfg.InboundQueue),
		handles:  make(map[string]uint32),
		peers:    make(map[uint32]string),
		pending:  make(map[string]struct{}),
		readDone: make(chan struct{}),
	}

	if err := t.hello(ctx, identity); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go t.readLoop()
	logger.Info("已登记到中继代理", "url", cfg.RelayURL, "identity", t.identity)
	return t, nil
}

// hello 发送登记请求并等待 welcome
func (t *Transport) hello(ctx context.Context, identity string) error {
	if err := t.writeJSON(relayproto.Message{
		Type:     relayproto.TypeHello,
		Version:  relayproto.ProtocolVersion,
		Identity: identity,
	}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetReadDeadline(deadline)
	defer func() { _ = t.conn.SetReadDeadline(time.Time{}) }()

	var reply relayproto.Message
	if err := t.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	if reply.Type != relayproto.TypeWelcome {
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	t.identity = reply.Identity
	return nil
}

// Kind 返回传输类型
func (t *Transport) Kind() types.TransportKind {
	return types.TransportRelay
}

// LocalAddr 返回本地平台身份
func (t *Transport) LocalAddr() string {
	return t.identity
}

// Connect 请求与 identity 配对
func (t *Transport) Connect(_ context.Context, identity string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if _, ok := t.handles[identity]; ok {
		t.mu.Unlock()
		return nil
	}
	t.pending[identity] = struct{}{}
	t.mu.Unlock()

	t.queue.PushState(identity, types.ConnStateConnecting)
	return t.writeJSON(relayproto.Message{Type: relayproto.TypeConnect, Identity: identity})
}

// Send 经代理发送一条数据帧
//
// 代理到端的 websocket 已保证有序送达，投递模式不影响行为。
func (t *Transport) Send(identity string, data []byte, _ types.DeliveryMode) error {
	if len(data) > relayproto.MaxFrameSize {
		return ErrFrameTooLarge
	}
	t.mu.Lock()
	handle, ok := t.handles[identity]
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, identity)
	}
	return t.write(websocket.BinaryMessage, relayproto.EncodeFrame(handle, data))
}

// Receive 取出下一条入站数据报
func (t *Transport) Receive() (interfaces.Inbound, bool) {
	return t.queue.Receive()
}

// NextState 取出下一条连接状态通知
func (t *Transport) NextState() (interfaces.StateChange, bool) {
	return t.queue.NextState()
}

// Disconnect 拆除与 identity 的配对
func (t *Transport) Disconnect(identity string) error {
	t.mu.Lock()
	handle, ok := t.handles[identity]
	if ok {
		delete(t.handles, identity)
		delete(t.peers, handle)
	}
	closed := t.closed
	t.mu.Unlock()
	if !ok || closed {
		return nil
	}
	return t.writeJSON(relayproto.Message{Type: relayproto.TypeDisconnect, Handle: handle})
}

// Close 关闭与代理的连接
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	err := t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	t.writeMu.Unlock()
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	err = multierr.Append(err, t.conn.Close())
	<-t.readDone
	return err
}

// Dropped 因入站队列已满丢弃的数据报数
func (t *Transport) Dropped() uint64 {
	return t.queue.Dropped()
}

// ============================================================================
//                              读循环
// ============================================================================

func (t *Transport) readLoop() {
	defer close(t.readDone)
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			t.lost(err)
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			t.frame(data)
		case websocket.TextMessage:
			var msg relayproto.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Debug("丢弃格式错误的控制消息", "err", err)
				continue
			}
			t.control(msg)
		}
	}
}

func (t *Transport) frame(data []byte) {
	handle, payload, err := relayproto.DecodeFrame(data)
	if err != nil {
		return
	}
	t.mu.Lock()
	identity, ok := t.peers[handle]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.queue.PushInbound(identity, payload)
}

func (t *Transport) control(msg relayproto.Message) {
	switch msg.Type {
	case relayproto.TypeState:
		t.state(msg)
	case relayproto.TypeError:
		logger.Warn("中继代理返回错误", "err", msg.Error)
	}
}

func (t *Transport) state(msg relayproto.Message) {
	t.mu.Lock()
	_, wasPending := t.pending[msg.Identity]
	delete(t.pending, msg.Identity)
	var notify bool
	switch msg.State {
	case relayproto.StateConnected:
		_, known := t.handles[msg.Identity]
		t.handles[msg.Identity] = msg.Handle
		t.peers[msg.Handle] = msg.Identity
		notify = !known
	case relayproto.StateClosed:
		h, ok := t.handles[msg.Identity]
		switch {
		case ok && (msg.Handle == 0 || h == msg.Handle):
			delete(t.handles, msg.Identity)
			delete(t.peers, h)
			notify = true
		case !ok:
			// 连接请求失败
			notify = wasPending
		}
	}
	t.mu.Unlock()

	if !notify {
		return
	}
	if msg.State == relayproto.StateConnected {
		logger.Debug("中继连接建立", "peer", msg.Identity, "handle", msg.Handle)
		t.queue.PushState(msg.Identity, types.ConnStateConnected)
		return
	}
	if msg.Error != "" {
		logger.Info("中继连接失败", "peer", msg.Identity, "err", msg.Error)
	}
	t.queue.PushState(msg.Identity, types.ConnStateClosed)
}

// lost 与代理的连接中断，全部配对视为关闭
func (t *Transport) lost(err error) {
	t.mu.Lock()
	closed := t.closed
	t.closed = true
	identities := make([]string, 0, len(t.handles)+len(t.pending))
	for id := range t.handles {
		identities = append(identities, id)
	}
	for id := range t.pending {
		identities = append(identities, id)
	}
	t.handles = make(map[string]uint32)
	t.peers = make(map[uint32]string)
	t.pending = make(map[string]struct{})
	t.mu.Unlock()

	if closed {
		return
	}
	logger.Warn("与中继代理的连接中断", "err", err)
	_ = t.conn.Close()
	for _, id := range identities {
		t.queue.PushState(id, types.ConnStateClosed)
	}
}

func (t *Transport) writeJSON(msg relayproto.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.write(websocket.TextMessage, data)
}

func (t *Transport) write(kind int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(kind, data)
}
