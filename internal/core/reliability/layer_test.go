package reliability

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/pkg/types"
)

type frame struct {
	to   types.Endpoint
	data []byte
}

type fakeOutbound struct {
	ids    map[types.Endpoint]types.ConnID
	frames []frame
}

func (f *fakeOutbound) Send(ep types.Endpoint, data []byte, _ types.DeliveryMode) bool {
	f.frames = append(f.frames, frame{to: ep, data: data})
	return true
}

func (f *fakeOutbound) ConnID(ep types.Endpoint) (types.ConnID, bool) {
	id, ok := f.ids[ep]
	return id, ok
}

// count 统计发往 ep 且以 marker 开头的帧数
func (f *fakeOutbound) count(ep types.Endpoint, marker envelope.Marker) int {
	n := 0
	for _, fr := range f.frames {
		if m, _ := envelope.MarkerOf(fr.data); fr.to == ep && m == marker {
			n++
		}
	}
	return n
}

type procs map[string]types.ProcID

func (p procs) ID(name string) (types.ProcID, bool) {
	id, ok := p[name]
	return id, ok
}

type harness struct {
	layer *Layer
	out   *fakeOutbound
	clock *clock.Mock
	bus   *eventbus.Bus
	m     *metrics.Metrics
}

func newHarness(t *testing.T, role string) *harness {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Role = role
	out := &fakeOutbound{ids: map[types.Endpoint]types.ConnID{"a:1": 1, "b:2": 2}}
	clk := clock.NewMock()
	bus := eventbus.NewBus()
	m := metrics.New("test")

	l, err := NewLayer(cfg, out, procs{"Ping": 1, "Loot": 2}, clk, bus, m)
	require.NoError(t, err)
	return &harness{layer: l, out: out, clock: clk, bus: bus, m: m}
}

func (h *harness) advance(d time.Duration) {
	h.clock.Add(d)
	h.layer.Tick(h.clock.Now())
}

// ============================================================================
//                              发送侧
// ============================================================================

func TestSend_SequencesMonotonic(t *testing.T) {
	h := newHarness(t, "server")

	var last uint32
	for i := 0; i < 5; i++ {
		seq, err := h.layer.SendReliable("Ping", "a:1", nil)
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
	}
	assert.Equal(t, 5, h.layer.Pending())
}

func TestSendReliable_EnvelopeShape(t *testing.T) {
	h := newHarness(t, "server")
	seq, err := h.layer.SendReliable("Loot", "b:2", func(b []byte) []byte { return append(b, "gold"...) })
	require.NoError(t, err)

	require.Len(t, h.out.frames, 1)
	env, err := envelope.Decode(h.out.frames[0].data)
	require.NoError(t, err)
	assert.Equal(t, types.ProcID(2), env.Proc)
	assert.Equal(t, types.TargetClient, env.Target)
	assert.Equal(t, types.ConnID(2), env.Dest)
	assert.True(t, env.HasSeq)
	assert.Equal(t, seq, env.Seq)
	assert.Equal(t, "gold", string(env.Payload))

	client := newHarness(t, "client")
	_, err = client.layer.SendReliable("Ping", "srv:1", nil)
	require.NoError(t, err)
	env, err = envelope.Decode(client.out.frames[0].data)
	require.NoError(t, err)
	assert.Equal(t, types.TargetServer, env.Target)
}

func TestSendReliable_Errors(t *testing.T) {
	h := newHarness(t, "server")

	_, err := h.layer.SendReliable("Nope", "a:1", nil)
	assert.ErrorIs(t, err, ErrUnknownProcedure)
	_, err = h.layer.SendReliable("Ping", "ghost:9", nil)
	assert.ErrorIs(t, err, ErrUnknownDestination)
	assert.Empty(t, h.out.frames)
}

func TestTick_RetriesExactlyMaxThenFails(t *testing.T) {
	h := newHarness(t, "server")
	sub, err := h.bus.Subscribe(new(types.EvtReliableSendFailed))
	require.NoError(t, err)
	defer sub.Close()

	seq, err := h.layer.SendReliable("Ping", "a:1", nil)
	require.NoError(t, err)
	original := h.out.frames[0].data

	// 超时前不重发
	h.advance(500 * time.Millisecond)
	assert.Len(t, h.out.frames, 1)

	for i := 0; i < 10; i++ {
		h.advance(time.Second)
	}

	// 1 次原始发送 + 3 次重发
	require.Len(t, h.out.frames, 4)
	for _, fr := range h.out.frames {
		assert.Equal(t, original, fr.data)
	}
	assert.Zero(t, h.layer.Pending())
	assert.Equal(t, 3.0, testutil.ToFloat64(h.m.ReliableRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.ReliableLost))

	evt := (<-sub.Out()).(types.EvtReliableSendFailed)
	assert.Equal(t, seq, evt.Sequence)
	assert.Equal(t, 3, evt.Retries)
	assert.Equal(t, types.Endpoint("a:1"), evt.Endpoint)

	st := h.layer.Stats("a:1")
	assert.Equal(t, uint64(1), st.Lost)
	assert.Equal(t, 1.0, st.RecentLoss)
	assert.Equal(t, 1.0, st.LifetimeLoss)
}

func TestHandleAck_StopsRetries(t *testing.T) {
	h := newHarness(t, "server")
	seq, err := h.layer.SendReliable("Ping", "a:1", nil)
	require.NoError(t, err)

	h.layer.HandleAck("a:1", seq)
	h.advance(5 * time.Second)

	assert.Len(t, h.out.frames, 1)
	st := h.layer.Stats("a:1")
	assert.Equal(t, uint64(1), st.Acked)
	assert.Zero(t, st.Lost)
	assert.Zero(t, st.RecentLoss)
}

func TestHandleAck_UnknownOrMismatchedIsNoop(t *testing.T) {
	h := newHarness(t, "server")
	seq, err := h.layer.SendReliable("Ping", "a:1", nil)
	require.NoError(t, err)

	h.layer.HandleAck("a:1", seq+100)
	h.layer.HandleAck("b:2", seq)
	assert.Equal(t, 1, h.layer.Pending())

	h.layer.HandleAck("a:1", seq)
	h.layer.HandleAck("a:1", seq)
	assert.Zero(t, h.layer.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.ReliableAcked))
}

// ============================================================================
//                              接收侧
// ============================================================================

func TestShouldProcess_TrueExactlyOnceWithinWindow(t *testing.T) {
	h := newHarness(t, "client")

	assert.True(t, h.layer.ShouldProcess("srv:1", 7))
	for i := 0; i < 5; i++ {
		h.clock.Add(time.Second)
		assert.False(t, h.layer.ShouldProcess("srv:1", 7))
	}
	// 每次都回送确认
	assert.Equal(t, 6, h.out.count("srv:1", envelope.MarkerAck))

	// 不同发送方互不影响
	assert.True(t, h.layer.ShouldProcess("other:2", 7))
}

func TestShouldProcess_ExpiresAfterQuiescence(t *testing.T) {
	h := newHarness(t, "client")

	assert.True(t, h.layer.ShouldProcess("srv:1", 9))
	h.advance(11 * time.Second)
	assert.True(t, h.layer.ShouldProcess("srv:1", 9))
}

func TestShouldProcess_DedupSurvivesAckRace(t *testing.T) {
	sender := newHarness(t, "server")
	receiver := newHarness(t, "client")

	seq, err := sender.layer.SendReliable("Ping", "a:1", nil)
	require.NoError(t, err)

	// 原始消息送达并被确认，发送方清除条目
	assert.True(t, receiver.layer.ShouldProcess("srv:1", seq))
	sender.layer.HandleAck("a:1", seq)
	assert.Zero(t, sender.layer.Pending())

	// 迟到的重复副本仍被丢弃
	assert.False(t, receiver.layer.ShouldProcess("srv:1", seq))
}

func TestPurge_DropsStateWithoutLoss(t *testing.T) {
	h := newHarness(t, "server")
	_, err := h.layer.SendReliable("Ping", "a:1", nil)
	require.NoError(t, err)
	_, err = h.layer.SendReliable("Ping", "b:2", nil)
	require.NoError(t, err)
	assert.True(t, h.layer.ShouldProcess("a:1", 3))

	h.layer.Purge("a:1")
	assert.Equal(t, 1, h.layer.Pending())
	assert.Zero(t, testutil.ToFloat64(h.m.ReliableLost))
	assert.True(t, h.layer.ShouldProcess("a:1", 3))

	h.advance(10 * time.Second)
	assert.Equal(t, 1, h.out.count("a:1", envelope.MarkerRPC))
	assert.Greater(t, h.out.count("b:2", envelope.MarkerRPC), 1)
}

func TestLossWindow_Recent(t *testing.T) {
	w := newLossWindow(4)
	w.record(true)
	w.record(true)
	assert.Equal(t, 1.0, w.recent())

	for i := 0; i < 4; i++ {
		w.record(false)
	}
	assert.Zero(t, w.recent())
	assert.InDelta(t, 2.0/6.0, w.lifetime(), 1e-9)
}
