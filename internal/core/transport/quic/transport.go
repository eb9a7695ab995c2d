// Package quic 实现直连 QUIC 传输
//
// 监听与拨号共享同一个 UDP socket，远端看到的源端口即本地监听端口，
// 因此对端地址可以直接作为 Endpoint。
//
// 不可靠与顺序模式使用 QUIC 数据报，超过单个数据报容量时改用流；
// 可靠模式每条消息使用一个单向流。
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/transport/queue"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var logger = log.Logger("transport/quic")

const (
	// maxDatagramPayload 走数据报的最大消息长度，留出 QUIC 包头余量
	maxDatagramPayload = 1100

	// maxStreamMessage 单条流消息上限
	maxStreamMessage = 1 << 20

	// errCodeDisconnect 本地主动断开的应用错误码
	errCodeDisconnect quic.ApplicationErrorCode = 0x1
)

var (
	// ErrInvalidAddress 地址不是 "ip:port" 字面量
	ErrInvalidAddress = errors.New("quic: invalid address")
	// ErrNotConnected 未与目标建立连接
	ErrNotConnected = errors.New("quic: not connected")
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("quic: transport closed")
	// ErrMessageTooLarge 消息超过流消息上限
	ErrMessageTooLarge = errors.New("quic: message too large")
)

// Transport QUIC 直连传输
type Transport struct {
	serverTLS *tls.Config
	clientTLS *tls.Config
	config    *quic.Config

	writeTimeout time.Duration

	udpConn       *net.UDPConn
	quicTransport *quic.Transport
	listener      *quic.Listener
	queue         *queue.Queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[string]quic.Connection
	closed bool
}

var (
	_ interfaces.Transport    = (*Transport)(nil)
	_ interfaces.SocketSharer = (*Transport)(nil)
)

// New 在 cfg.ListenAddr 上监听并启动接受循环
func New(cfg config.TransportConfig) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, cfg.ListenAddr)
	}
	serverTLS, clientTLS, err := newTLSConfigs()
	if err != nil {
		return nil, err
	}

	udpConn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	t := &Transport{
		serverTLS: serverTLS,
		clientTLS: clientTLS,
		config: &quic.Config{
			MaxIdleTimeout:        cfg.IdleTimeout.Duration(),
			KeepAlivePeriod:       cfg.KeepAlive.Duration(),
			MaxIncomingUniStreams: 1024,
			EnableDatagrams:       true,
		},
		writeTimeout:  cfg.WriteTimeout.Duration(),
		udpConn:       udpConn,
		quicTransport: &quic.Transport{Conn: udpConn},
		queue:         queue.New(cfg.InboundQueue),
		conns:         make(map[string]quic.Connection),
	}

	t.listener, err = t.quicTransport.Listen(t.serverTLS, t.config)
	if err != nil {
		_ = udpConn.Close()
		return nil, fmt.Errorf("listen quic: %w", err)
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.wg.Add(1)
	go t.acceptLoop()

	logger.Info("QUIC 传输已监听", "addr", t.LocalAddr())
	return t, nil
}

// Kind 返回传输类型
func (t *Transport) Kind() types.TransportKind {
	return types.TransportDirect
}

// LocalAddr 返回监听地址
func (t *Transport) LocalAddr() string {
	return t.udpConn.LocalAddr().String()
}

// ============================================================================
//                              连接管理
// ============================================================================

// Connect 拨号连接 addr，addr 须为 "ip:port" 字面量
func (t *Transport) Connect(ctx context.Context, addr string) error {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	key := ap.String()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if _, ok := t.conns[key]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	t.queue.PushState(key, types.ConnStateConnecting)
	conn, err := t.quicTransport.Dial(ctx, net.UDPAddrFromAddrPort(ap), t.clientTLS, t.config)
	if err != nil {
		t.queue.PushState(key, types.ConnStateClosed)
		return fmt.Errorf("dial %s: %w", key, err)
	}

	t.adopt(key, conn)
	return nil
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil {
				logger.Warn("接受连接失败", "err", err)
			}
			return
		}
		key, ok := addrKey(conn.RemoteAddr())
		if !ok {
			_ = conn.CloseWithError(errCodeDisconnect, "bad address")
			continue
		}
		t.adopt(key, conn)
	}
}

// adopt 登记连接并启动读协程
//
// 双方同时拨号时已有连接优先，后到的连接只用于接收，不参与发送。
func (t *Transport) adopt(key string, conn quic.Connection) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.CloseWithError(errCodeDisconnect, "transport closed")
		return
	}
	_, dup := t.conns[key]
	if !dup {
		t.conns[key] = conn
	}
	t.wg.Add(1)
	t.mu.Unlock()

	if !dup {
		logger.Debug("QUIC 连接建立", "remote", key)
		t.queue.PushState(key, types.ConnStateConnected)
	}
	go t.serve(key, conn)
}

// serve 读取数据报与单向流，连接结束后发布关闭通知
//
// 流读取协程归属同一个 errgroup，serve 返回时全部已退出。
func (t *Transport) serve(key string, conn quic.Connection) {
	defer t.wg.Done()

	g, ctx := errgroup.WithContext(conn.Context())
	g.Go(func() error {
		for {
			data, err := conn.ReceiveDatagram(ctx)
			if err != nil {
				return err
			}
			t.queue.PushInbound(key, data)
		}
	})
	g.Go(func() error {
		for {
			stream, err := conn.AcceptUniStream(ctx)
			if err != nil {
				return err
			}
			g.Go(func() error {
				t.readStream(key, stream)
				return nil
			})
		}
	})
	err := g.Wait()

	t.mu.Lock()
	current := t.conns[key] == conn
	if current {
		delete(t.conns, key)
	}
	closed := t.closed
	t.mu.Unlock()

	if current && !closed {
		logger.Debug("QUIC 连接关闭", "remote", key, "err", err)
		t.queue.PushState(key, types.ConnStateClosed)
	}
}

func (t *Transport) readStream(key string, stream quic.ReceiveStream) {
	data, err := io.ReadAll(io.LimitReader(stream, maxStreamMessage+1))
	if err != nil {
		logger.Debug("读取流失败", "remote", key, "err", err)
		return
	}
	if len(data) == 0 || len(data) > maxStreamMessage {
		stream.CancelRead(0)
		return
	}
	t.queue.PushInbound(key, data)
}

// ============================================================================
//                              收发
// ============================================================================

// Send 按投递模式发送一条消息
func (t *Transport) Send(addr string, data []byte, mode types.DeliveryMode) error {
	if len(data) > maxStreamMessage {
		return ErrMessageTooLarge
	}

	t.mu.Lock()
	conn, ok := t.conns[addr]
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}

	if !mode.IsReliable() && len(data) <= maxDatagramPayload {
		err := conn.SendDatagram(data)
		var tooLarge *quic.DatagramTooLargeError
		if !errors.As(err, &tooLarge) {
			return err
		}
	}

	stream, err := conn.OpenUniStream()
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := stream.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("write deadline: %w", err)
	}
	if _, err := stream.Write(data); err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("write stream: %w", err)
	}
	return stream.Close()
}

// Receive 取出下一条入站数据报
func (t *Transport) Receive() (interfaces.Inbound, bool) {
	return t.queue.Receive()
}

// NextState 取出下一条连接状态通知
func (t *Transport) NextState() (interfaces.StateChange, bool) {
	return t.queue.NextState()
}

// Disconnect 关闭与 addr 的连接，不再发布关闭通知
func (t *Transport) Disconnect(addr string) error {
	t.mu.Lock()
	conn, ok := t.conns[addr]
	delete(t.conns, addr)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.CloseWithError(errCodeDisconnect, "disconnect")
}

// Close 关闭全部连接、监听器与 socket
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = make(map[string]quic.Connection)
	t.mu.Unlock()

	t.cancel()
	var err error
	for _, conn := range conns {
		err = multierr.Append(err, conn.CloseWithError(errCodeDisconnect, "shutdown"))
	}
	err = multierr.Append(err, t.listener.Close())
	err = multierr.Append(err, t.quicTransport.Close())
	if cerr := t.udpConn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	t.wg.Wait()
	return err
}

// SharedSocket 返回与 QUIC 共用的 UDP 套接字
//
// 读取只返回非 QUIC 报文，用于在游戏端口上执行 STUN 绑定。
func (t *Transport) SharedSocket() interfaces.PacketSocket {
	return sharedSocket{t}
}

type sharedSocket struct {
	t *Transport
}

func (s sharedSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	return s.t.quicTransport.WriteTo(b, addr)
}

func (s sharedSocket) ReadFrom(ctx context.Context, b []byte) (int, net.Addr, error) {
	return s.t.quicTransport.ReadNonQUICPacket(ctx, b)
}

func (s sharedSocket) LocalAddr() net.Addr {
	return s.t.udpConn.LocalAddr()
}

// Dropped 因入站队列已满丢弃的数据报数
func (t *Transport) Dropped() uint64 {
	return t.queue.Dropped()
}

// addrKey 规范化远端地址为 "ip:port"
func addrKey(a net.Addr) (string, bool) {
	udp, ok := a.(*net.UDPAddr)
	if !ok {
		return "", false
	}
	ap := udp.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()).String(), true
}
