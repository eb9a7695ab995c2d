package gamenet

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-gamenet/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              连接提示
// ════════════════════════════════════════════════════════════════════════════

// PeerInfo 连接远端时提供的信息
//
// Addr 与 Identity 至少提供一个。两者都提供时，同一远端的直连与中继
// 两条路径归并到以 Addr 为标识的同一连接上。
type PeerInfo struct {
	// Addr 直连地址 "ip:port"
	Addr string

	// Identity 远端平台身份，用于中继
	Identity string

	// NAT 远端 NAT 分类（带外交换），未知时为 NATTypeUnknown
	NAT types.NATType

	// Server 远端是否为会话服务器
	Server bool
}

// endpoint 远端的稳定标识
func (p PeerInfo) endpoint() types.Endpoint {
	if p.Addr != "" {
		return types.Endpoint(p.Addr)
	}
	return types.RelayEndpoint(p.Identity)
}

// 路径位
const (
	pathDirect uint8 = 1 << iota
	pathRelay
)

func pathBit(kind types.TransportKind) uint8 {
	if kind == types.TransportRelay {
		return pathRelay
	}
	return pathDirect
}

// peerBook 主动连接的提示与每个连接的存活路径
type peerBook struct {
	mu         sync.Mutex
	byAddr     map[string]PeerInfo
	byIdentity map[string]PeerInfo
	paths      map[types.Endpoint]uint8
}

func newPeerBook() *peerBook {
	return &peerBook{
		byAddr:     make(map[string]PeerInfo),
		byIdentity: make(map[string]PeerInfo),
		paths:      make(map[types.Endpoint]uint8),
	}
}

func (b *peerBook) remember(p PeerInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Addr != "" {
		b.byAddr[p.Addr] = p
	}
	if p.Identity != "" {
		b.byIdentity[p.Identity] = p
	}
}

// hint 查找传输层地址对应的连接提示
func (b *peerBook) hint(kind types.TransportKind, addr string) (PeerInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if kind == types.TransportRelay {
		p, ok := b.byIdentity[addr]
		return p, ok
	}
	p, ok := b.byAddr[addr]
	return p, ok
}

// up 标记路径可用
func (b *peerBook) up(ep types.Endpoint, kind types.TransportKind) {
	b.mu.Lock()
	b.paths[ep] |= pathBit(kind)
	b.mu.Unlock()
}

// down 标记路径断开，返回剩余路径
func (b *peerBook) down(ep types.Endpoint, kind types.TransportKind) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	left := b.paths[ep] &^ pathBit(kind)
	if left == 0 {
		delete(b.paths, ep)
	} else {
		b.paths[ep] = left
	}
	return left
}

// forget 清除连接的全部记录
func (b *peerBook) forget(ep types.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.paths, ep)
	for addr, p := range b.byAddr {
		if p.endpoint() == ep {
			delete(b.byAddr, addr)
		}
	}
	for id, p := range b.byIdentity {
		if p.endpoint() == ep {
			delete(b.byIdentity, id)
		}
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接管理
// ════════════════════════════════════════════════════════════════════════════

// Connect 连接远端
//
// 对提供的每种地址发起连接，连接结果在后续 Tick 中以
// EvtPeerConnected 事件呈现。所有可用传输都失败时返回合并错误。
func (n *Node) Connect(ctx context.Context, peer PeerInfo) error {
	if !n.running() {
		return ErrNodeClosed
	}
	if peer.Addr == "" && peer.Identity == "" {
		return fmt.Errorf("%w: empty peer info", ErrInvalidOption)
	}

	n.peers.remember(peer)

	var (
		errs      error
		attempted int
		succeeded int
	)
	if peer.Addr != "" && n.transports.Direct != nil {
		attempted++
		if err := n.transports.Direct.Connect(ctx, peer.Addr); err != nil {
			logger.Debug("直连失败", "addr", peer.Addr, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("direct: %w", err))
		} else {
			succeeded++
		}
	}
	if peer.Identity != "" && n.transports.Relay != nil {
		attempted++
		if err := n.transports.Relay.Connect(ctx, peer.Identity); err != nil {
			logger.Debug("中继连接失败", "identity", peer.Identity, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("relay: %w", err))
		} else {
			succeeded++
		}
	}

	switch {
	case attempted == 0:
		return ErrNoRoute
	case succeeded == 0:
		return errs
	}
	if errs != nil {
		logger.Info("部分路径连接失败", "peer", peer.endpoint(), "error", errs)
	}
	return nil
}

// Expect 登记一个将要连入的远端，不发起连接
//
// 服务器从大厅得知客户端的直连地址与平台身份后调用，
// 使同一客户端经两种传输到达时归并为一个连接。
func (n *Node) Expect(peer PeerInfo) {
	if peer.Addr == "" && peer.Identity == "" {
		return
	}
	n.peers.remember(peer)
}

// Disconnect 主动断开与远端的连接
func (n *Node) Disconnect(endpoint types.Endpoint) {
	n.selector.UnregisterConnection(endpoint, types.DisconnectLocal)
}

// Kick 强制断开作弊节点，由输入校验器在累计可疑达到阈值时调用
func (n *Node) Kick(endpoint types.Endpoint, reason string) {
	logger.Warn("踢出节点", "endpoint", endpoint, "reason", reason)
	n.selector.UnregisterConnection(endpoint, types.DisconnectKicked)
}

// onDisconnect 连接拆除后清理各组件的连接状态
func (n *Node) onDisconnect(endpoint types.Endpoint, id types.ConnID, reason types.DisconnectReason) {
	n.reliable.Purge(endpoint)
	n.tracker.UnregisterPeer(endpoint)
	n.validator.Forget(endpoint)
	n.compensator.Forget(endpoint)
	n.peers.forget(endpoint)
	logger.Debug("连接状态已清理", "endpoint", endpoint, "connID", id, "reason", reason)
}
