package liveness

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/envelope"
	"github.com/dep2p/go-gamenet/pkg/types"
)

type frame struct {
	to   types.Endpoint
	data []byte
}

type fakeSender struct {
	frames []frame
}

func (f *fakeSender) Send(ep types.Endpoint, data []byte, _ types.DeliveryMode) bool {
	f.frames = append(f.frames, frame{to: ep, data: data})
	return true
}

func (f *fakeSender) last() []byte {
	return f.frames[len(f.frames)-1].data
}

type fakeSink struct {
	observed map[types.Endpoint]time.Duration
}

func (f *fakeSink) ObserveLatency(ep types.Endpoint, avg time.Duration) {
	f.observed[ep] = avg
}

func newTracker(t *testing.T) (*Tracker, *fakeSender, *fakeSink, *clock.Mock) {
	t.Helper()
	out := &fakeSender{}
	sink := &fakeSink{observed: map[types.Endpoint]time.Duration{}}
	clk := clock.NewMock()
	return NewTracker(config.NewConfig(), out, sink, clk), out, sink, clk
}

// echoOf 模拟对端回显
func echoOf(t *testing.T, ping []byte) []byte {
	t.Helper()
	p, err := decodeProbe(envelope.MarkerPing, ping)
	require.NoError(t, err)
	return encodeProbe(envelope.MarkerPong, p)
}

func TestCodec_RoundTrip(t *testing.T) {
	data := encodeProbe(envelope.MarkerPing, probe{seq: 42, sentAt: 1234567890})
	assert.Equal(t, byte(envelope.MarkerPing), data[0])

	p, err := decodeProbe(envelope.MarkerPing, data)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), p.seq)
	assert.Equal(t, int64(1234567890), p.sentAt)

	_, err = decodeProbe(envelope.MarkerPong, data)
	assert.ErrorIs(t, err, ErrMalformedProbe)
	_, err = decodeProbe(envelope.MarkerPing, data[:3])
	assert.ErrorIs(t, err, ErrMalformedProbe)
}

func TestTick_AtMostOneProbePerSecond(t *testing.T) {
	tr, out, _, clk := newTracker(t)
	tr.RegisterPeer("a:1")

	for i := 0; i < 10; i++ {
		tr.Tick(clk.Now())
		clk.Add(100 * time.Millisecond)
	}
	assert.Len(t, out.frames, 1)

	clk.Add(time.Second)
	tr.Tick(clk.Now())
	assert.Len(t, out.frames, 2)
}

func TestHandleProbe_EchoesUnchanged(t *testing.T) {
	tr, out, _, _ := newTracker(t)
	ping := encodeProbe(envelope.MarkerPing, probe{seq: 7, sentAt: 99})

	tr.HandleProbe("a:1", ping)
	require.Len(t, out.frames, 1)
	assert.Equal(t, types.Endpoint("a:1"), out.frames[0].to)

	p, err := decodeProbe(envelope.MarkerPong, out.last())
	require.NoError(t, err)
	assert.Equal(t, probe{seq: 7, sentAt: 99}, p)
}

func TestHandleEcho_AveragesSamples(t *testing.T) {
	tr, out, sink, clk := newTracker(t)
	tr.RegisterPeer("a:1")

	for _, rtt := range []time.Duration{20, 40, 60} {
		tr.Tick(clk.Now())
		ping := out.last()
		clk.Add(rtt * time.Millisecond)
		tr.HandleEcho("a:1", echoOf(t, ping))
		clk.Add(time.Second)
	}

	avg, ok := tr.Latency("a:1")
	require.True(t, ok)
	assert.Equal(t, 40*time.Millisecond, avg)
	assert.Equal(t, 40*time.Millisecond, sink.observed["a:1"])
}

func TestHandleEcho_StaleSequenceDiscarded(t *testing.T) {
	tr, out, _, clk := newTracker(t)
	tr.RegisterPeer("a:1")

	// 序号 1..4 无回显
	for i := 0; i < 4; i++ {
		tr.Tick(clk.Now())
		clk.Add(time.Second)
	}
	tr.Tick(clk.Now())
	ping5 := out.last()
	clk.Add(time.Second)
	tr.Tick(clk.Now())
	ping6 := out.last()

	p5, err := decodeProbe(envelope.MarkerPing, ping5)
	require.NoError(t, err)
	p6, err := decodeProbe(envelope.MarkerPing, ping6)
	require.NoError(t, err)
	require.Equal(t, uint32(5), p5.seq)
	require.Equal(t, uint32(6), p6.seq)

	clk.Add(30 * time.Millisecond)
	tr.HandleEcho("a:1", echoOf(t, ping5))
	_, ok := tr.Latency("a:1")
	assert.False(t, ok, "stale echo must not produce a sample")

	tr.HandleEcho("a:1", echoOf(t, ping6))
	avg, ok := tr.Latency("a:1")
	require.True(t, ok)
	assert.Equal(t, 30*time.Millisecond, avg)

	// 重复回显只计一次
	tr.HandleEcho("a:1", echoOf(t, ping6))
	assert.Equal(t, 1, tr.Samples("a:1"))
}

func TestSampleWindow_BoundedFIFO(t *testing.T) {
	tr, out, _, clk := newTracker(t)
	tr.RegisterPeer("a:1")

	for i := 1; i <= 15; i++ {
		tr.Tick(clk.Now())
		ping := out.last()
		clk.Add(time.Duration(i) * time.Millisecond)
		tr.HandleEcho("a:1", echoOf(t, ping))
		clk.Add(time.Second)
	}

	assert.Equal(t, 10, tr.Samples("a:1"))
	avg, ok := tr.Latency("a:1")
	require.True(t, ok)
	// 最近 10 个样本为 6..15ms
	assert.Equal(t, 10500*time.Microsecond, avg)
}

func TestUnregisterPeer(t *testing.T) {
	tr, out, _, clk := newTracker(t)
	tr.RegisterPeer("a:1")
	tr.Tick(clk.Now())
	ping := out.last()

	tr.UnregisterPeer("a:1")
	tr.HandleEcho("a:1", echoOf(t, ping))
	_, ok := tr.Latency("a:1")
	assert.False(t, ok)

	clk.Add(2 * time.Second)
	tr.Tick(clk.Now())
	assert.Len(t, out.frames, 1)
}
