package gamenet

import (
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              主循环
// ════════════════════════════════════════════════════════════════════════════

// Tick 推进一帧
//
// 依次：排空连接状态通知，排空入站数据报并分发，处理可靠投递失败，
// 执行可靠层重传、延迟探测与选择器的健康检查和空闲拆除。
// 应由单个协程每帧调用一次；节点未启动或已关闭时为空操作。
func (n *Node) Tick() {
	if !n.running() {
		return
	}

	for _, t := range n.activeTransports() {
		n.drainStates(t)
	}
	for _, t := range n.activeTransports() {
		n.drainInbound(t)
	}
	n.drainFailures()

	now := n.clock.Now()
	n.reliable.Tick(now)
	n.tracker.Tick(now)
	n.selector.Tick(now)
}

func (n *Node) activeTransports() []interfaces.Transport {
	out := make([]interfaces.Transport, 0, 2)
	if n.transports.Direct != nil {
		out = append(out, n.transports.Direct)
	}
	if n.transports.Relay != nil {
		out = append(out, n.transports.Relay)
	}
	return out
}

// ════════════════════════════════════════════════════════════════════════════
//                              状态通知
// ════════════════════════════════════════════════════════════════════════════

func (n *Node) drainStates(t interfaces.Transport) {
	kind := t.Kind()
	for {
		sc, ok := t.NextState()
		if !ok {
			return
		}
		switch sc.State {
		case types.ConnStateConnecting:
			logger.Debug("连接中", "transport", kind, "addr", sc.Addr)
		case types.ConnStateConnected:
			n.pathUp(kind, sc.Addr)
		case types.ConnStateClosed:
			n.pathDown(kind, sc.Addr)
		}
	}
}

// pathUp 一条传输路径建立，注册（或合并到）对应连接
func (n *Node) pathUp(kind types.TransportKind, addr string) {
	hint, hinted := n.peers.hint(kind, addr)

	var (
		ep       types.Endpoint
		identity string
	)
	switch kind {
	case types.TransportRelay:
		identity = addr
		if known, ok := n.selector.Resolve(kind, addr); ok {
			ep = known
		} else if hinted {
			ep = hint.endpoint()
		} else {
			ep = types.RelayEndpoint(addr)
		}
	default:
		ep = types.Endpoint(addr)
	}

	id := n.selector.RegisterConnection(ep, identity, hint.NAT)
	if hint.Server {
		n.selector.MarkServer(ep)
	}
	n.tracker.RegisterPeer(ep)
	n.peers.up(ep, kind)

	logger.Info("路径已建立",
		"endpoint", ep,
		"connID", id,
		"transport", kind,
		"server", hint.Server)
}

// pathDown 一条传输路径断开，没有剩余路径时拆除连接
func (n *Node) pathDown(kind types.TransportKind, addr string) {
	ep, ok := n.selector.Resolve(kind, addr)
	if !ok {
		logger.Debug("未注册的路径关闭", "transport", kind, "addr", addr)
		return
	}

	if left := n.peers.down(ep, kind); left != 0 {
		logger.Info("路径断开，保留剩余路径", "endpoint", ep, "transport", kind)
		if kind == types.TransportDirect {
			n.selector.ReportFailure(ep)
		}
		return
	}
	n.selector.UnregisterConnection(ep, types.DisconnectRemote)
}

// ════════════════════════════════════════════════════════════════════════════
//                              入站分发
// ════════════════════════════════════════════════════════════════════════════

func (n *Node) drainInbound(t interfaces.Transport) {
	kind := t.Kind()
	for {
		in, ok := t.Receive()
		if !ok {
			return
		}
		ep, known := n.selector.Resolve(kind, in.Addr)
		if !known {
			logger.Debug("丢弃未注册来源的数据报", "transport", kind, "addr", in.Addr)
			continue
		}
		n.selector.Touch(ep)
		n.demux(t, in, ep)
	}
}

// demux 按消息类型标记分发
func (n *Node) demux(t interfaces.Transport, in interfaces.Inbound, from types.Endpoint) {
	data := in.Data
	marker, ok := envelope.MarkerOf(data)
	if !ok {
		return
	}

	switch marker {
	case envelope.MarkerRPC:
		n.dispatcher.HandleInbound(from, data)
	case envelope.MarkerAck:
		seq, err := envelope.DecodeAck(data)
		if err != nil {
			logger.Debug("丢弃畸形确认", "from", from, "error", err)
			return
		}
		n.reliable.HandleAck(from, seq)
	case envelope.MarkerPing:
		n.tracker.HandleProbe(from, data)
	case envelope.MarkerPong:
		n.tracker.HandleEcho(from, data)
	case envelope.MarkerHealthProbe:
		// 从收到探测的路径原路回显
		if err := t.Send(in.Addr, envelope.HealthEcho(), types.DeliveryUnreliable); err != nil {
			logger.Debug("健康探测回显失败", "to", from, "error", err)
		}
	case envelope.MarkerHealthEcho:
		if t.Kind() == types.TransportDirect {
			n.selector.ConfirmDirect(from)
		}
	default:
		logger.Debug("未知消息类型", "from", from, "marker", marker)
	}
}

// drainFailures 可靠消息重试耗尽视为直连路径丢失
func (n *Node) drainFailures() {
	for {
		select {
		case evt, ok := <-n.failures.Out():
			if !ok {
				return
			}
			if e, ok := evt.(types.EvtReliableSendFailed); ok {
				n.selector.ReportFailure(e.Endpoint)
			}
		default:
			return
		}
	}
}
