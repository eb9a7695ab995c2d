package gamenet

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/internal/core/rpc"
	"github.com/dep2p/go-gamenet/internal/core/transport/memory"
	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              测试夹具
// ════════════════════════════════════════════════════════════════════════════

// procedures 所有节点以相同顺序注册
var procedures = []string{"Ping", "Broadcast", "Hit"}

type testNode struct {
	*Node
	direct *memory.Transport
	relay  *memory.Transport
	calls  map[string][]*CallContext
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.NAT.Override = "open"
	cfg.Selector.FailureThreshold = 1
	cfg.Validator.SuspicionThreshold = 2
	return cfg
}

// newTestNode 在内存 Hub 上创建并启动节点，relayID 为空时不启用中继
func newTestNode(t *testing.T, hub *memory.Hub, clk *clock.Mock, role types.Role, addr, relayID string) *testNode {
	t.Helper()

	tn := &testNode{calls: make(map[string][]*CallContext)}

	var err error
	tn.direct, err = hub.Transport(types.TransportDirect, addr, 256)
	require.NoError(t, err)
	var relay interfaces.Transport
	if relayID != "" {
		tn.relay, err = hub.Transport(types.TransportRelay, relayID, 256)
		require.NoError(t, err)
		relay = tn.relay
	}

	tn.Node, err = New(context.Background(),
		WithConfig(testConfig()),
		WithRole(role),
		WithClock(clk),
		WithTransports(tn.direct, relay),
	)
	require.NoError(t, err)

	for _, name := range procedures {
		name := name
		_, err := tn.Handle(name, func(ctx *CallContext, payload []byte) {
			c := *ctx
			tn.calls[name] = append(tn.calls[name], &c)
		})
		require.NoError(t, err)
	}
	tn.Seal()

	require.NoError(t, tn.Start(context.Background()))
	t.Cleanup(func() { _ = tn.Close() })

	select {
	case <-tn.NATReady():
	case <-time.After(time.Second):
		t.Fatal("NAT classification did not finish")
	}
	return tn
}

func tickAll(rounds int, nodes ...*testNode) {
	for i := 0; i < rounds; i++ {
		for _, n := range nodes {
			n.Tick()
		}
	}
}

func payload(b ...byte) PayloadWriter {
	return func(buf []byte) []byte { return append(buf, b...) }
}

// session 一个服务器与两个客户端，客户端已直连服务器
func session(t *testing.T) (clk *clock.Mock, srv, a, b *testNode) {
	t.Helper()
	hub := memory.NewHub()
	clk = clock.NewMock()

	srv = newTestNode(t, hub, clk, types.RoleServer, "srv", "")
	a = newTestNode(t, hub, clk, types.RoleClient, "a", "")
	b = newTestNode(t, hub, clk, types.RoleClient, "b", "")

	require.NoError(t, a.Connect(context.Background(), PeerInfo{Addr: "srv", Server: true, NAT: types.NATTypeOpen}))
	require.NoError(t, b.Connect(context.Background(), PeerInfo{Addr: "srv", Server: true, NAT: types.NATTypeOpen}))
	tickAll(2, a, b, srv)
	return clk, srv, a, b
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Role = "spectator"
	_, err := New(context.Background(), WithConfig(cfg))
	assert.Error(t, err)
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(context.Background(), WithTransports(nil, nil))
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = New(context.Background(), WithRelay(""))
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestNode_CloseIsIdempotent(t *testing.T) {
	hub := memory.NewHub()
	n := newTestNode(t, hub, clock.NewMock(), types.RoleClient, "solo", "")

	require.NoError(t, n.Close())
	assert.NoError(t, n.Close())

	assert.ErrorIs(t, n.Call("Ping", types.TargetServer, 0, payload()), ErrNodeClosed)
	assert.ErrorIs(t, n.Connect(context.Background(), PeerInfo{Addr: "srv"}), ErrNodeClosed)
	n.Tick()
}

func TestNode_ConnectWithoutRoute(t *testing.T) {
	hub := memory.NewHub()
	n := newTestNode(t, hub, clock.NewMock(), types.RoleClient, "solo", "")

	assert.ErrorIs(t, n.Connect(context.Background(), PeerInfo{Identity: "only-relay"}), ErrNoRoute)
	assert.ErrorIs(t, n.Connect(context.Background(), PeerInfo{}), ErrInvalidOption)
	assert.Error(t, n.Connect(context.Background(), PeerInfo{Addr: "nobody"}))
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接与路由
// ════════════════════════════════════════════════════════════════════════════

func TestSession_ConnectionsRegistered(t *testing.T) {
	_, srv, a, b := session(t)

	server, ok := a.Server()
	require.True(t, ok)
	assert.Equal(t, types.Endpoint("srv"), server)

	assert.Equal(t, []types.Endpoint{"a", "b"}, srv.Clients())
	idA, ok := srv.ConnID("a")
	require.True(t, ok)
	idB, ok := srv.ConnID("b")
	require.True(t, ok)
	assert.Equal(t, types.ConnID(1), idA)
	assert.Equal(t, types.ConnID(2), idB)
	assert.Len(t, b.Connections(), 1)
	assert.Equal(t, Stats{Connections: 2, Procedures: len(procedures)}, srv.Stats())
}

func TestSession_ClientCallsServerOnce(t *testing.T) {
	_, srv, a, b := session(t)

	require.NoError(t, a.Call("Ping", types.TargetServer, 0, payload(7)))
	tickAll(2, srv, a, b)

	require.Len(t, srv.calls["Ping"], 1)
	ctx := srv.calls["Ping"][0]
	assert.Equal(t, types.Endpoint("a"), ctx.Sender)
	assert.Equal(t, types.ConnID(1), ctx.SenderID)
	assert.Empty(t, a.calls["Ping"])
	assert.Empty(t, b.calls["Ping"])
}

func TestSession_ClientMayOnlyCallServer(t *testing.T) {
	_, _, a, _ := session(t)
	err := a.Call("Broadcast", types.TargetAllClients, 0, payload())
	assert.ErrorIs(t, err, rpc.ErrClientTarget)
}

func TestSession_ServerBroadcastAndTargeted(t *testing.T) {
	_, srv, a, b := session(t)

	require.NoError(t, srv.Call("Broadcast", types.TargetAllClients, 0, payload(1)))
	idB, _ := srv.ConnID("b")
	require.NoError(t, srv.Call("Hit", types.TargetClient, idB, payload(2)))
	tickAll(1, a, b)

	assert.Len(t, a.calls["Broadcast"], 1)
	assert.Len(t, b.calls["Broadcast"], 1)
	assert.Empty(t, a.calls["Hit"])
	assert.Len(t, b.calls["Hit"], 1)
	assert.Empty(t, srv.calls["Broadcast"])
}

func TestSession_ServerCallsItself(t *testing.T) {
	_, srv, _, _ := session(t)
	require.NoError(t, srv.Call("Ping", types.TargetServer, 0, payload()))
	require.Len(t, srv.calls["Ping"], 1)
	assert.True(t, srv.calls["Ping"][0].IsLocal())
}

// ════════════════════════════════════════════════════════════════════════════
//                              可靠投递
// ════════════════════════════════════════════════════════════════════════════

func TestSession_ReliableRetryDeduplicated(t *testing.T) {
	clk, srv, a, b := session(t)

	// 丢弃服务器发出的第一个确认
	droppedAck := false
	srv.direct.SetDrop(func(_ string, data []byte) bool {
		if !droppedAck && len(data) > 0 && envelope.Marker(data[0]) == envelope.MarkerAck {
			droppedAck = true
			return true
		}
		return false
	})

	seq, err := a.SendReliable("Hit", "srv", payload(9))
	require.NoError(t, err)
	assert.NotZero(t, seq)

	tickAll(1, srv, a)
	require.Len(t, srv.calls["Hit"], 1)
	assert.Equal(t, 1, a.ReliabilityStats("srv").Pending)

	clk.Add(a.Config().Reliability.RetryTimeout.Duration())
	tickAll(1, a, srv, a, b)

	assert.Len(t, srv.calls["Hit"], 1, "retransmission must not be processed twice")
	stats := a.ReliabilityStats("srv")
	assert.Equal(t, uint64(1), stats.Retries)
	assert.Equal(t, uint64(1), stats.Acked)
	assert.Zero(t, stats.Pending)
}

func TestSession_ReliableCallOption(t *testing.T) {
	_, srv, a, _ := session(t)

	require.NoError(t, a.Call("Hit", types.TargetServer, 0, payload(1), Reliable()))
	tickAll(1, srv, a)

	require.Len(t, srv.calls["Hit"], 1)
	assert.True(t, srv.calls["Hit"][0].HasSeq)
	assert.Equal(t, uint64(1), a.ReliabilityStats("srv").Acked)
}

func TestSession_SequencedForwardDoesNotShadowServerStream(t *testing.T) {
	_, srv, a, b := session(t)

	// 客户端绕过分发器直接发出带序号的广播信封
	id, ok := a.registry.ID("Broadcast")
	require.True(t, ok)
	raw := envelope.Encode(&envelope.Envelope{
		Proc: id, Target: types.TargetAllClients, HasSeq: true, Seq: 1, Payload: []byte{1},
	})
	require.NoError(t, a.direct.Send("srv", raw, types.DeliveryUnreliable))
	tickAll(1, srv, b)
	assert.Empty(t, b.calls["Broadcast"])

	seq, err := srv.SendReliable("Hit", "b", payload(2))
	require.NoError(t, err)
	require.Equal(t, uint32(1), seq)
	tickAll(2, b, srv)

	require.Len(t, b.calls["Hit"], 1)
	stats := srv.ReliabilityStats("b")
	assert.Equal(t, uint64(1), stats.Acked)
	assert.Zero(t, stats.Pending)
}

// ════════════════════════════════════════════════════════════════════════════
//                              延迟与补偿
// ════════════════════════════════════════════════════════════════════════════

func TestNode_LatencyMeasured(t *testing.T) {
	hub := memory.NewHub()
	clk := clock.NewMock()
	srv := newTestNode(t, hub, clk, types.RoleServer, "srv", "")
	a := newTestNode(t, hub, clk, types.RoleClient, "a", "")

	require.NoError(t, a.Connect(context.Background(), PeerInfo{Addr: "srv", Server: true}))
	a.Tick()
	clk.Add(20 * time.Millisecond)
	srv.Tick()
	a.Tick()

	latency, ok := a.Latency("srv")
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, latency)

	info, ok := a.ConnInfo("srv")
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, info.Latency)
}

func TestNode_CompensateWithoutHistory(t *testing.T) {
	_, srv, _, _ := session(t)
	received := types.Vec3{X: 1, Y: 2, Z: 3}
	assert.Equal(t, received, srv.Compensate("a", received))
}

// ════════════════════════════════════════════════════════════════════════════
//                              校验与踢出
// ════════════════════════════════════════════════════════════════════════════

func TestSession_KickOnSuspicion(t *testing.T) {
	_, srv, a, b := session(t)

	kicked, err := srv.Subscribe(new(types.EvtPeerKicked), 4)
	require.NoError(t, err)
	defer kicked.Close()
	gone, err := srv.Subscribe(new(types.EvtPeerDisconnected), 4)
	require.NoError(t, err)
	defer gone.Close()

	_, err = srv.SendReliable("Hit", "a", payload())
	require.NoError(t, err)

	assert.False(t, srv.ValidateDamage("a", -1))
	assert.False(t, srv.ValidateDamage("a", -1))

	select {
	case evt := <-kicked.Out():
		assert.Equal(t, types.Endpoint("a"), evt.(types.EvtPeerKicked).Endpoint)
	default:
		t.Fatal("no kick event")
	}
	select {
	case evt := <-gone.Out():
		assert.Equal(t, types.DisconnectKicked, evt.(types.EvtPeerDisconnected).Reason)
	default:
		t.Fatal("no disconnect event")
	}

	_, ok := srv.ConnID("a")
	assert.False(t, ok)
	assert.Zero(t, srv.ReliabilityStats("a").Pending, "pending messages purged")
	assert.True(t, srv.Banned("a"))
	assert.Equal(t, 2, srv.Suspicion("a"), "ban survives teardown")
	assert.Equal(t, []types.Endpoint{"b"}, srv.Clients())

	// 客户端经传输层关闭通知拆除连接
	tickAll(1, a, b)
	assert.Empty(t, a.Connections())
	assert.Len(t, b.Connections(), 1)
}

// ════════════════════════════════════════════════════════════════════════════
//                              中继回退
// ════════════════════════════════════════════════════════════════════════════

func TestSession_DirectFailureFallsBackToRelay(t *testing.T) {
	hub := memory.NewHub()
	clk := clock.NewMock()
	srv := newTestNode(t, hub, clk, types.RoleServer, "srv", "srv-id")
	a := newTestNode(t, hub, clk, types.RoleClient, "a", "a-id")

	srv.Expect(PeerInfo{Addr: "a", Identity: "a-id", NAT: types.NATTypeOpen})
	require.NoError(t, a.Connect(context.Background(), PeerInfo{
		Addr:     "srv",
		Identity: "srv-id",
		NAT:      types.NATTypeOpen,
		Server:   true,
	}))
	tickAll(2, a, srv)

	require.Len(t, srv.Clients(), 1, "both paths merge into one connection")
	info, ok := a.ConnInfo("srv")
	require.True(t, ok)
	assert.Equal(t, "srv-id", info.Identity)
	assert.False(t, info.Relay)

	relayed, err := a.Subscribe(new(types.EvtRelayModeChanged), 4)
	require.NoError(t, err)
	defer relayed.Close()

	a.direct.SetFailSends(true)
	require.NoError(t, a.Call("Ping", types.TargetServer, 0, payload(5)))
	srv.Tick()

	require.Len(t, srv.calls["Ping"], 1)
	assert.Equal(t, types.Endpoint("a"), srv.calls["Ping"][0].Sender)

	info, _ = a.ConnInfo("srv")
	assert.True(t, info.Relay)
	assert.True(t, info.Unhealthy)
	select {
	case evt := <-relayed.Out():
		assert.True(t, evt.(types.EvtRelayModeChanged).Relay)
	default:
		t.Fatal("no relay mode event")
	}
}

func TestSession_DirectRecoveryWaitsForEcho(t *testing.T) {
	hub := memory.NewHub()
	clk := clock.NewMock()
	srv := newTestNode(t, hub, clk, types.RoleServer, "srv", "srv-id")
	a := newTestNode(t, hub, clk, types.RoleClient, "a", "a-id")

	srv.Expect(PeerInfo{Addr: "a", Identity: "a-id", NAT: types.NATTypeOpen})
	require.NoError(t, a.Connect(context.Background(), PeerInfo{
		Addr: "srv", Identity: "srv-id", NAT: types.NATTypeOpen, Server: true,
	}))
	tickAll(2, a, srv)

	a.direct.SetFailSends(true)
	require.NoError(t, a.Call("Ping", types.TargetServer, 0, payload(5)))
	info, _ := a.ConnInfo("srv")
	require.True(t, info.Unhealthy)
	a.direct.SetFailSends(false)

	// 回显被丢弃时探测不算成功
	srv.direct.SetDrop(func(_ string, data []byte) bool {
		return len(data) > 0 && envelope.Marker(data[0]) == envelope.MarkerHealthEcho
	})
	clk.Add(a.Config().Selector.RecoveryCooldown.Duration())
	tickAll(2, a, srv, a)
	info, _ = a.ConnInfo("srv")
	assert.True(t, info.Unhealthy)
	assert.True(t, info.Relay)

	srv.direct.SetDrop(nil)
	clk.Add(a.Config().Selector.RecoveryCooldown.Duration())
	tickAll(1, a, srv, a)
	info, _ = a.ConnInfo("srv")
	assert.False(t, info.Unhealthy)
	assert.False(t, info.Relay)
}

func TestSession_DirectPathLossKeepsRelay(t *testing.T) {
	hub := memory.NewHub()
	clk := clock.NewMock()
	srv := newTestNode(t, hub, clk, types.RoleServer, "srv", "srv-id")
	a := newTestNode(t, hub, clk, types.RoleClient, "a", "a-id")

	srv.Expect(PeerInfo{Addr: "a", Identity: "a-id"})
	require.NoError(t, a.Connect(context.Background(), PeerInfo{Addr: "srv", Identity: "srv-id", Server: true}))
	tickAll(2, a, srv)

	require.NoError(t, srv.direct.Disconnect("a"))
	tickAll(1, a, srv)

	_, ok := a.ConnID("srv")
	assert.True(t, ok, "relay path still up")

	require.NoError(t, srv.relay.Disconnect("a-id"))
	tickAll(1, a)
	_, ok = a.ConnID("srv")
	assert.False(t, ok)
}
