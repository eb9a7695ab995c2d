// Package server 实现中继代理
//
// 中继代理扮演游戏平台中继服务的角色：
//   - 身份登记：客户端 hello 携带平台身份与协议版本
//   - 连接配对：按身份请求连接，为双方分配数值句柄
//   - 数据转发：按句柄把二进制帧转发给对端
//   - 带宽限制：每个客户端独立的令牌桶
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-gamenet/internal/core/relay"
	"github.com/dep2p/go-gamenet/pkg/lib/log"
)

var logger = log.Logger("relay/server")

var (
	// ErrIdentityInUse 身份已被其他客户端登记
	ErrIdentityInUse = errors.New("relay: identity in use")
	// ErrVersionRejected 协议版本不在接受范围内
	ErrVersionRejected = errors.New("relay: protocol version rejected")
	// ErrUnknownIdentity 目标身份未登记
	ErrUnknownIdentity = errors.New("relay: unknown identity")
	// ErrServerFull 客户端数已达上限
	ErrServerFull = errors.New("relay: server full")
)

// Config 中继代理配置
type Config struct {
	// VersionConstraint 接受的协议版本范围（semver 约束）
	VersionConstraint string

	// BytesPerSecond 单客户端上行带宽（0 = 不限制）
	BytesPerSecond int

	// MaxClients 最大客户端数（0 = 不限制）
	MaxClients int

	// HandshakeTimeout hello 等待时间
	HandshakeTimeout time.Duration

	// WriteTimeout 单次写超时
	WriteTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		VersionConstraint: relay.DefaultVersionConstraint,
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// Stats 代理统计
type Stats struct {
	Clients         int
	Pairs           int
	FramesForwarded uint64
	FramesDropped   uint64
}

// Server 中继代理
type Server struct {
	cfg        Config
	constraint *semver.Constraints
	upgrader   websocket.Upgrader

	mu         sync.Mutex
	clients    map[string]*session
	nextHandle uint32
	closed     bool
	httpSrv    *http.Server

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// pair 句柄另一端
type pair struct {
	peer       *session
	peerHandle uint32
}

// session 已登记的客户端
type session struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter

	writeMu sync.Mutex
	pairs   map[uint32]pair // 受 Server.mu 保护
}

// New 创建中继代理
func New(cfg Config) (*Server, error) {
	if cfg.VersionConstraint == "" {
		cfg.VersionConstraint = relay.DefaultVersionConstraint
	}
	constraint, err := semver.NewConstraint(cfg.VersionConstraint)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint %q: %w", cfg.VersionConstraint, err)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &Server{
		cfg:        cfg,
		constraint: constraint,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*session),
	}, nil
}

// Serve 在 ln 上提供 websocket 服务，直到 Close
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.cfg.HandshakeTimeout,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpSrv = srv
	s.mu.Unlock()

	logger.Info("中继代理已启动", "addr", ln.Addr().String())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close 关闭 HTTP 服务与全部客户端连接
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpSrv
	sessions := make([]*session, 0, len(s.clients))
	for _, c := range s.clients {
		sessions = append(sessions, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		err = multierr.Append(err, srv.Shutdown(ctx))
		cancel()
	}
	for _, c := range sessions {
		err = multierr.Append(err, c.conn.Close())
	}
	return err
}

// Stats 返回统计快照
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := 0
	for _, c := range s.clients {
		pairs += len(c.pairs)
	}
	return Stats{
		Clients:         len(s.clients),
		Pairs:           pairs / 2,
		FramesForwarded: s.forwarded.Load(),
		FramesDropped:   s.dropped.Load(),
	}
}

// ServeHTTP 升级为 websocket 并处理一个客户端会话
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket 升级失败", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(relay.MaxFrameSize + 1024)

	sess, err := s.handshake(conn)
	if err != nil {
		logger.Info("拒绝客户端", "remote", r.RemoteAddr, "err", err)
		tmp := &session{conn: conn}
		_ = s.writeJSON(tmp, relay.Message{Type: relay.TypeError, Error: err.Error()})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(s.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}
	defer s.drop(sess)

	logger.Info("客户端已登记", "identity", sess.id, "remote", r.RemoteAddr)
	s.readLoop(sess)
}

// handshake 读取 hello，校验版本并登记身份
func (s *Server) handshake(conn *websocket.Conn) (*session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	var hello relay.Message
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if hello.Type != relay.TypeHello {
		return nil, fmt.Errorf("expected hello, got %q", hello.Type)
	}
	v, err := semver.NewVersion(hello.Version)
	if err != nil || !s.constraint.Check(v) {
		return nil, fmt.Errorf("%w: %q not in %q", ErrVersionRejected, hello.Version, s.cfg.VersionConstraint)
	}

	id := hello.Identity
	if id == "" {
		id = uuid.NewString()
	}
	sess := &session{
		id:    id,
		conn:  conn,
		pairs: make(map[uint32]pair),
	}
	if s.cfg.BytesPerSecond > 0 {
		burst := s.cfg.BytesPerSecond
		if burst < relay.MaxFrameSize {
			burst = relay.MaxFrameSize
		}
		sess.limiter = rate.NewLimiter(rate.Limit(s.cfg.BytesPerSecond), burst)
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, http.ErrServerClosed
	case s.clients[id] != nil:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrIdentityInUse, id)
	case s.cfg.MaxClients > 0 && len(s.clients) >= s.cfg.MaxClients:
		s.mu.Unlock()
		return nil, ErrServerFull
	}
	s.clients[id] = sess
	s.mu.Unlock()

	if err := s.writeJSON(sess, relay.Message{Type: relay.TypeWelcome, Identity: id, Version: relay.ProtocolVersion}); err != nil {
		s.drop(sess)
		return nil, err
	}
	return sess, nil
}

func (s *Server) readLoop(sess *session) {
	for {
		kind, data, err := sess.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("客户端读取结束", "identity", sess.id, "err", err)
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			s.forward(sess, data)
		case websocket.TextMessage:
			var msg relay.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Debug("丢弃格式错误的控制消息", "identity", sess.id, "err", err)
				continue
			}
			s.control(sess, msg)
		}
	}
}

// ============================================================================
//                              控制消息
// ============================================================================

func (s *Server) control(sess *session, msg relay.Message) {
	switch msg.Type {
	case relay.TypeConnect:
		s.connect(sess, msg.Identity)
	case relay.TypeDisconnect:
		s.disconnect(sess, msg.Handle)
	default:
		logger.Debug("未知控制消息", "identity", sess.id, "type", msg.Type)
	}
}

// connect 为 sess 与目标身份配对，双方各收到一条 connected 通知
func (s *Server) connect(sess *session, target string) {
	s.mu.Lock()
	peer, ok := s.clients[target]
	if !ok || peer == sess {
		s.mu.Unlock()
		_ = s.writeJSON(sess, relay.Message{
			Type:     relay.TypeState,
			Identity: target,
			State:    relay.StateClosed,
			Error:    ErrUnknownIdentity.Error(),
		})
		return
	}

	for h, p := range sess.pairs {
		if p.peer == peer {
			s.mu.Unlock()
			_ = s.writeJSON(sess, relay.Message{Type: relay.TypeState, Handle: h, Identity: target, State: relay.StateConnected})
			return
		}
	}

	s.nextHandle++
	local := s.nextHandle
	s.nextHandle++
	remote := s.nextHandle
	sess.pairs[local] = pair{peer: peer, peerHandle: remote}
	peer.pairs[remote] = pair{peer: sess, peerHandle: local}
	s.mu.Unlock()

	logger.Debug("中继配对", "from", sess.id, "to", target, "handle", local)
	_ = s.writeJSON(sess, relay.Message{Type: relay.TypeState, Handle: local, Identity: peer.id, State: relay.StateConnected})
	_ = s.writeJSON(peer, relay.Message{Type: relay.TypeState, Handle: remote, Identity: sess.id, State: relay.StateConnected})
}

// disconnect 拆除配对，对端收到 closed 通知
func (s *Server) disconnect(sess *session, handle uint32) {
	s.mu.Lock()
	p, ok := sess.pairs[handle]
	if ok {
		delete(sess.pairs, handle)
		delete(p.peer.pairs, p.peerHandle)
	}
	s.mu.Unlock()

	if ok {
		_ = s.writeJSON(p.peer, relay.Message{Type: relay.TypeState, Handle: p.peerHandle, Identity: sess.id, State: relay.StateClosed})
	}
}

// drop 注销会话，拆除全部配对
func (s *Server) drop(sess *session) {
	s.mu.Lock()
	if s.clients[sess.id] != sess {
		s.mu.Unlock()
		return
	}
	delete(s.clients, sess.id)
	peers := make([]pair, 0, len(sess.pairs))
	for h, p := range sess.pairs {
		delete(p.peer.pairs, p.peerHandle)
		delete(sess.pairs, h)
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		_ = s.writeJSON(p.peer, relay.Message{Type: relay.TypeState, Handle: p.peerHandle, Identity: sess.id, State: relay.StateClosed})
	}
	_ = sess.conn.Close()
	logger.Info("客户端已注销", "identity", sess.id)
}

// ============================================================================
//                              数据转发
// ============================================================================

func (s *Server) forward(sess *session, data []byte) {
	handle, payload, err := relay.DecodeFrame(data)
	if err != nil {
		s.dropped.Add(1)
		return
	}

	s.mu.Lock()
	p, ok := sess.pairs[handle]
	s.mu.Unlock()
	if !ok {
		s.dropped.Add(1)
		return
	}
	if sess.limiter != nil && !sess.limiter.AllowN(time.Now(), len(payload)) {
		s.dropped.Add(1)
		logger.Debug("超出带宽限制，丢弃数据帧", "identity", sess.id, "size", len(payload))
		return
	}

	if err := s.write(p.peer, websocket.BinaryMessage, relay.EncodeFrame(p.peerHandle, payload)); err != nil {
		s.dropped.Add(1)
		return
	}
	s.forwarded.Add(1)
}

func (s *Server) writeJSON(sess *session, msg relay.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(sess, websocket.TextMessage, data)
}

// write websocket 连接只允许一个并发写者
func (s *Server) write(sess *session, kind int, data []byte) error {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return sess.conn.WriteMessage(kind, data)
}
