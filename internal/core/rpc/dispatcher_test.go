package rpc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/pkg/types"
)

// ============================================================================
//                              测试替身
// ============================================================================

type sent struct {
	to   types.Endpoint
	data []byte
	mode types.DeliveryMode
}

type fakeRouter struct {
	ids     map[types.Endpoint]types.ConnID
	clients []types.Endpoint
	server  types.Endpoint
	sent    []sent
}

func newFakeRouter(clients ...types.Endpoint) *fakeRouter {
	r := &fakeRouter{ids: make(map[types.Endpoint]types.ConnID)}
	for i, ep := range clients {
		r.ids[ep] = types.ConnID(i + 1)
	}
	r.clients = clients
	return r
}

func (r *fakeRouter) Send(ep types.Endpoint, data []byte, mode types.DeliveryMode) bool {
	r.sent = append(r.sent, sent{to: ep, data: append([]byte(nil), data...), mode: mode})
	return true
}

func (r *fakeRouter) ConnID(ep types.Endpoint) (types.ConnID, bool) {
	id, ok := r.ids[ep]
	return id, ok
}

func (r *fakeRouter) Endpoint(id types.ConnID) (types.Endpoint, bool) {
	for ep, cid := range r.ids {
		if cid == id {
			return ep, true
		}
	}
	return "", false
}

func (r *fakeRouter) Clients() []types.Endpoint {
	return append([]types.Endpoint(nil), r.clients...)
}

func (r *fakeRouter) Server() (types.Endpoint, bool) {
	return r.server, r.server != ""
}

func (r *fakeRouter) sentTo() []types.Endpoint {
	out := make([]types.Endpoint, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.to)
	}
	return out
}

type fakeReliable struct {
	router *fakeRouter
	next   uint32
	seen   map[types.Endpoint]map[uint32]bool
	acks   []uint32
}

func (f *fakeReliable) Send(dest types.Endpoint, mode types.DeliveryMode, build func(seq uint32) []byte) uint32 {
	f.next++
	f.router.Send(dest, build(f.next), mode)
	return f.next
}

func (f *fakeReliable) ShouldProcess(sender types.Endpoint, seq uint32) bool {
	f.acks = append(f.acks, seq)
	if f.seen == nil {
		f.seen = make(map[types.Endpoint]map[uint32]bool)
	}
	if f.seen[sender] == nil {
		f.seen[sender] = make(map[uint32]bool)
	}
	if f.seen[sender][seq] {
		return false
	}
	f.seen[sender][seq] = true
	return true
}

type harness struct {
	d        *Dispatcher
	router   *fakeRouter
	reliable *fakeReliable
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, role string, clients ...types.Endpoint) *harness {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Role = role
	router := newFakeRouter(clients...)
	reliable := &fakeReliable{router: router}
	m := metrics.New("test")

	d, err := NewDispatcher(cfg, NewRegistry(), router, reliable, m)
	require.NoError(t, err)
	return &harness{d: d, router: router, reliable: reliable, metrics: m}
}

func payload(s string) envelope.PayloadWriter {
	return func(buf []byte) []byte { return append(buf, s...) }
}

// ============================================================================
//                              出站
// ============================================================================

func TestCall_UnregisteredNameDropped(t *testing.T) {
	h := newHarness(t, "server", "a:1")

	err := h.d.Call("Nope", types.TargetAllClients, 0, nil)
	assert.ErrorIs(t, err, ErrUnknownProcedure)
	assert.Empty(t, h.router.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RPCDropped.WithLabelValues("unknown_procedure")))
}

func TestCall_TargetClientNeedsDestination(t *testing.T) {
	h := newHarness(t, "server", "a:1")
	_, err := h.d.registry.Register("Hit")
	require.NoError(t, err)

	assert.ErrorIs(t, h.d.Call("Hit", types.TargetClient, 0, nil), ErrNoDestination)
	assert.ErrorIs(t, h.d.Call("Hit", types.TargetClient, 42, nil), ErrNoDestination)
	assert.Empty(t, h.router.sent)

	require.NoError(t, h.d.Call("Hit", types.TargetClient, 1, payload("x")))
	assert.Equal(t, []types.Endpoint{"a:1"}, h.router.sentTo())

	env, err := envelope.Decode(h.router.sent[0].data)
	require.NoError(t, err)
	assert.Equal(t, types.ConnID(1), env.Dest)
}

func TestCall_ClientMayOnlyTargetServer(t *testing.T) {
	h := newHarness(t, "client")
	h.router.server = "srv:7777"
	h.router.ids["srv:7777"] = 1
	_, err := h.d.registry.Register("Move")
	require.NoError(t, err)

	for _, target := range []types.Target{types.TargetAllClients, types.TargetClient, types.TargetAllClientsExceptSender} {
		assert.ErrorIs(t, h.d.Call("Move", target, 1, nil), ErrClientTarget)
	}
	assert.Empty(t, h.router.sent)

	require.NoError(t, h.d.Call("Move", types.TargetServer, 0, payload("p")))
	assert.Equal(t, []types.Endpoint{"srv:7777"}, h.router.sentTo())
}

func TestCall_ClientWithoutServer(t *testing.T) {
	h := newHarness(t, "client")
	_, err := h.d.registry.Register("Move")
	require.NoError(t, err)

	assert.ErrorIs(t, h.d.Call("Move", types.TargetServer, 0, nil), ErrNoServer)
}

func TestCall_ServerRouting(t *testing.T) {
	h := newHarness(t, "server", "a:1", "b:2", "c:3")
	localCalls := 0
	_, err := h.d.registry.Handle("Ping", func(ctx *CallContext, p []byte) {
		localCalls++
		assert.True(t, ctx.IsLocal())
		assert.Equal(t, "hello", string(p))
	})
	require.NoError(t, err)

	// Server 目标在服务器本地执行
	require.NoError(t, h.d.Call("Ping", types.TargetServer, 0, payload("hello")))
	assert.Equal(t, 1, localCalls)
	assert.Empty(t, h.router.sent)

	// AllClients 不调用本地处理器
	require.NoError(t, h.d.Call("Ping", types.TargetAllClients, 0, payload("hello")))
	assert.Equal(t, 1, localCalls)
	assert.ElementsMatch(t, []types.Endpoint{"a:1", "b:2", "c:3"}, h.router.sentTo())

	h.router.sent = nil
	require.NoError(t, h.d.Call("Ping", types.TargetAllClientsExceptSender, 2, payload("hello")))
	assert.ElementsMatch(t, []types.Endpoint{"a:1", "c:3"}, h.router.sentTo())
}

func TestCall_ReliableOneSequencePerDestination(t *testing.T) {
	h := newHarness(t, "server", "a:1", "b:2")
	_, err := h.d.registry.Register("Loot")
	require.NoError(t, err)

	require.NoError(t, h.d.Call("Loot", types.TargetAllClients, 0, payload("gold"), WithReliable(), WithMode(types.DeliveryUnreliable)))
	require.Len(t, h.router.sent, 2)

	seqs := map[uint32]bool{}
	for _, s := range h.router.sent {
		assert.Equal(t, types.DeliveryUnreliable, s.mode)
		env, err := envelope.Decode(s.data)
		require.NoError(t, err)
		require.True(t, env.HasSeq)
		assert.Equal(t, "gold", string(env.Payload))
		seqs[env.Seq] = true
	}
	assert.Len(t, seqs, 2)
}

func TestCall_DeliveryModeDefaults(t *testing.T) {
	h := newHarness(t, "server", "a:1")
	_, err := h.d.registry.Register("Loot")
	require.NoError(t, err)

	require.NoError(t, h.d.Call("Loot", types.TargetAllClients, 0, payload("x")))
	require.NoError(t, h.d.Call("Loot", types.TargetAllClients, 0, payload("x"), WithReliable()))
	require.NoError(t, h.d.Call("Loot", types.TargetAllClients, 0, payload("x"), WithReliable(), WithMode(types.DeliveryReliableOrdered)))
	require.Len(t, h.router.sent, 3)

	assert.Equal(t, types.DeliveryReliableOrdered, h.router.sent[0].mode, "configured default")
	assert.Equal(t, types.DeliveryUnreliable, h.router.sent[1].mode, "reliable layer retransmits")
	assert.Equal(t, types.DeliveryReliableOrdered, h.router.sent[2].mode, "explicit mode wins")
}

// ============================================================================
//                              入站
// ============================================================================

func TestHandleInbound_ServerForwardsVerbatim(t *testing.T) {
	h := newHarness(t, "server", "a:1", "b:2", "c:3")
	fired := 0
	id, err := h.d.registry.Handle("Chat", func(*CallContext, []byte) { fired++ })
	require.NoError(t, err)

	raw := envelope.Encode(&envelope.Envelope{
		Proc: id, Target: types.TargetAllClientsExceptSender, Payload: []byte("hi"),
	})
	h.d.HandleInbound("a:1", raw)

	assert.Zero(t, fired)
	assert.ElementsMatch(t, []types.Endpoint{"b:2", "c:3"}, h.router.sentTo())
	for _, s := range h.router.sent {
		assert.Equal(t, raw, s.data)
	}
	assert.Empty(t, h.reliable.acks)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RPCForwarded))
}

func TestHandleInbound_ServerRefusesSequencedForward(t *testing.T) {
	h := newHarness(t, "server", "a:1", "b:2")
	id, err := h.d.registry.Register("Chat")
	require.NoError(t, err)

	for _, target := range []types.Target{types.TargetAllClients, types.TargetAllClientsExceptSender, types.TargetClient} {
		h.d.HandleInbound("a:1", envelope.Encode(&envelope.Envelope{
			Proc: id, Target: target, Dest: 2, HasSeq: true, Seq: 1, Payload: []byte("hi"),
		}))
	}

	// 不转发也不确认，发送方的序号不会进入接收方的去重表
	assert.Empty(t, h.router.sent)
	assert.Empty(t, h.reliable.acks)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.RPCDropped.WithLabelValues("sequenced_forward")))
}

func TestHandleInbound_ServerForwardsToTargetClient(t *testing.T) {
	h := newHarness(t, "server", "a:1", "b:2")
	id, err := h.d.registry.Register("Whisper")
	require.NoError(t, err)

	raw := envelope.Encode(&envelope.Envelope{Proc: id, Target: types.TargetClient, Dest: 2})
	h.d.HandleInbound("a:1", raw)
	assert.Equal(t, []types.Endpoint{"b:2"}, h.router.sentTo())

	h.router.sent = nil
	h.d.HandleInbound("a:1", envelope.Encode(&envelope.Envelope{Proc: id, Target: types.TargetClient, Dest: 9}))
	assert.Empty(t, h.router.sent)
}

func TestHandleInbound_DedupInvokesOnce(t *testing.T) {
	h := newHarness(t, "server", "a:1")
	var got []*CallContext
	id, err := h.d.registry.Handle("Ping", func(ctx *CallContext, _ []byte) { got = append(got, ctx) })
	require.NoError(t, err)

	raw := envelope.Encode(&envelope.Envelope{Proc: id, Target: types.TargetServer, HasSeq: true, Seq: 5})
	h.d.HandleInbound("a:1", raw)
	h.d.HandleInbound("a:1", raw)

	require.Len(t, got, 1)
	assert.Equal(t, types.Endpoint("a:1"), got[0].Sender)
	assert.Equal(t, types.ConnID(1), got[0].SenderID)
	assert.Equal(t, uint32(5), got[0].Seq)
	assert.Equal(t, "Ping", got[0].Name)
}

func TestHandleInbound_FireAndForgetBypassesReliability(t *testing.T) {
	h := newHarness(t, "client")
	fired := 0
	id, err := h.d.registry.Handle("Ping", func(*CallContext, []byte) { fired++ })
	require.NoError(t, err)

	raw := envelope.Encode(&envelope.Envelope{Proc: id, Target: types.TargetAllClients})
	h.d.HandleInbound("srv:1", raw)
	h.d.HandleInbound("srv:1", raw)

	assert.Equal(t, 2, fired)
	assert.Empty(t, h.reliable.acks)
}

func TestHandleInbound_DropsBadInput(t *testing.T) {
	h := newHarness(t, "client")

	h.d.HandleInbound("srv:1", []byte{0x52, 0x00})
	h.d.HandleInbound("srv:1", envelope.Encode(&envelope.Envelope{Proc: 99, Target: types.TargetAllClients}))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RPCDropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RPCDropped.WithLabelValues("unknown_procedure")))
}

func TestHandleInbound_HandlerPanicRecovered(t *testing.T) {
	h := newHarness(t, "client")
	id, err := h.d.registry.Handle("Boom", func(*CallContext, []byte) { panic("bad payload") })
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		h.d.HandleInbound("srv:1", envelope.Encode(&envelope.Envelope{Proc: id, Target: types.TargetAllClients}))
	})
}
