package nat

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	pionstun "github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-gamenet/config"
	"github.com/dep2p/go-gamenet/internal/core/eventbus"
	"github.com/dep2p/go-gamenet/internal/core/metrics"
	"github.com/dep2p/go-gamenet/internal/core/nat/stun"
	"github.com/dep2p/go-gamenet/pkg/types"
)

var allTypes = []types.NATType{
	types.NATTypeUnknown,
	types.NATTypeOpen,
	types.NATTypeModerate,
	types.NATTypeStrict,
	types.NATTypeBlocked,
}

// ============================================================================
//                              兼容矩阵
// ============================================================================

func TestCanDirectConnect_OpenReachesAll(t *testing.T) {
	for _, remote := range allTypes {
		assert.True(t, CanDirectConnect(types.NATTypeOpen, remote), "open -> %s", remote)
	}
}

func TestCanDirectConnect_Matrix(t *testing.T) {
	tests := []struct {
		local, remote types.NATType
		want          bool
	}{
		{types.NATTypeModerate, types.NATTypeOpen, true},
		{types.NATTypeModerate, types.NATTypeModerate, true},
		{types.NATTypeModerate, types.NATTypeStrict, false},
		{types.NATTypeStrict, types.NATTypeOpen, true},
		{types.NATTypeStrict, types.NATTypeModerate, false},
		{types.NATTypeStrict, types.NATTypeStrict, false},
		{types.NATTypeUnknown, types.NATTypeOpen, false},
		{types.NATTypeBlocked, types.NATTypeOpen, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanDirectConnect(tt.local, tt.remote), "%s -> %s", tt.local, tt.remote)
	}
}

// ============================================================================
//                              分类器
// ============================================================================

type fakeBinder struct {
	binding *stun.Binding
	err     error
}

func (f *fakeBinder) Bind(context.Context) (*stun.Binding, error) {
	return f.binding, f.err
}

type fakeProbe struct {
	natType types.NATType
	err     error
}

func (f *fakeProbe) ProbeNAT(context.Context) (types.NATType, error) {
	return f.natType, f.err
}

func newTestClassifier(t *testing.T, cfg config.NATConfig, probe *fakeProbe) (*Classifier, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.NewBus()
	var c *Classifier
	var err error
	if probe != nil {
		c, err = NewClassifier(cfg, probe, clock.NewMock(), bus, metrics.New("test"))
	} else {
		c, err = NewClassifier(cfg, nil, clock.NewMock(), bus, metrics.New("test"))
	}
	require.NoError(t, err)
	return c, bus
}

func udp(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(203, 0, 113, 7), Port: port}
}

func TestClassifier_STUNOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		binder *fakeBinder
		want   types.NATType
	}{
		{"port preserved", &fakeBinder{binding: &stun.Binding{Local: udp(4000), Mapped: udp(4000)}}, types.NATTypeOpen},
		{"port rewritten", &fakeBinder{binding: &stun.Binding{Local: udp(4000), Mapped: udp(51000)}}, types.NATTypeModerate},
		{"timeout", &fakeBinder{err: stun.ErrTimeout}, types.NATTypeStrict},
		{"malformed", &fakeBinder{err: stun.ErrNoMappedAddress}, types.NATTypeUnknown},
		{"socket error", &fakeBinder{err: &stun.STUNError{Message: "read response", Cause: errors.New("boom")}}, types.NATTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClassifier(t, config.DefaultNATConfig(), nil)
			c.binder = tt.binder

			assert.Equal(t, types.NATTypeUnknown, c.Local())
			assert.Equal(t, tt.want, c.Detect(context.Background()))
			assert.Equal(t, tt.want, c.Local())
		})
	}
}

func TestClassifier_PlatformProbe(t *testing.T) {
	c, _ := newTestClassifier(t, config.DefaultNATConfig(), &fakeProbe{natType: types.NATTypeBlocked})
	c.binder = &fakeBinder{err: errors.New("must not be used")}

	assert.Equal(t, types.NATTypeBlocked, c.Detect(context.Background()))
}

func TestClassifier_PlatformProbeFallsBackToSTUN(t *testing.T) {
	c, _ := newTestClassifier(t, config.DefaultNATConfig(), &fakeProbe{err: errors.New("sdk unavailable")})
	c.binder = &fakeBinder{binding: &stun.Binding{Local: udp(1), Mapped: udp(1)}}

	assert.Equal(t, types.NATTypeOpen, c.Detect(context.Background()))
}

func TestClassifier_Override(t *testing.T) {
	cfg := config.DefaultNATConfig()
	cfg.Override = "strict"
	c, _ := newTestClassifier(t, cfg, nil)
	c.binder = &fakeBinder{binding: &stun.Binding{Local: udp(1), Mapped: udp(1)}}

	assert.Equal(t, types.NATTypeStrict, c.Detect(context.Background()))
}

func TestClassifier_StartIsAsyncAndEmits(t *testing.T) {
	c, bus := newTestClassifier(t, config.DefaultNATConfig(), nil)
	release := make(chan struct{})
	c.binder = &blockingBinder{release: release}

	sub, err := bus.Subscribe(new(types.EvtNATClassified))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)

	// 检测未完成前保持 Unknown
	assert.Equal(t, types.NATTypeUnknown, c.Local())
	close(release)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("detection did not finish")
	}
	assert.Equal(t, types.NATTypeModerate, c.Local())

	evt := (<-sub.Out()).(types.EvtNATClassified)
	assert.Equal(t, types.NATTypeModerate, evt.NAT)
	require.NoError(t, c.Stop())
}

func TestClassifier_Disabled(t *testing.T) {
	cfg := config.DefaultNATConfig()
	cfg.Enable = false
	c, _ := newTestClassifier(t, cfg, nil)

	require.NoError(t, c.Start(context.Background()))
	<-c.Done()
	assert.Equal(t, types.NATTypeUnknown, c.Local())
}

type blockingBinder struct {
	release chan struct{}
}

func (b *blockingBinder) Bind(ctx context.Context) (*stun.Binding, error) {
	select {
	case <-b.release:
		return &stun.Binding{Local: udp(4000), Mapped: udp(4001)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TestClassifier_LocalReflector 针对本地反射服务器的完整 STUN 交换
func TestClassifier_LocalReflector(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := &pionstun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if req.Decode() != nil {
				continue
			}
			res := pionstun.MustBuild(pionstun.NewTransactionIDSetter(req.TransactionID), pionstun.BindingSuccess,
				&pionstun.XORMappedAddress{IP: from.IP, Port: from.Port})
			_, _ = conn.WriteToUDP(res.Raw, from)
		}
	}()

	cfg := config.DefaultNATConfig()
	cfg.STUNServer = conn.LocalAddr().String()
	cfg.Timeout = config.Duration(time.Second)
	c, _ := newTestClassifier(t, cfg, nil)

	assert.Equal(t, types.NATTypeOpen, c.Detect(context.Background()))
}

// recordingSocket 测试用共享套接字
type recordingSocket struct {
	conn   *net.UDPConn
	writes int
}

func (s *recordingSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	s.writes++
	return s.conn.WriteTo(b, addr)
}

func (s *recordingSocket) ReadFrom(ctx context.Context, b []byte) (int, net.Addr, error) {
	if d, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(d)
	}
	return s.conn.ReadFrom(b)
}

func (s *recordingSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

func TestClassifier_ShareSocketBindsOnGamePort(t *testing.T) {
	refl, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer refl.Close()

	seen := make(chan int, 1)
	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := refl.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := &pionstun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if req.Decode() != nil {
				continue
			}
			select {
			case seen <- from.Port:
			default:
			}
			res := pionstun.MustBuild(pionstun.NewTransactionIDSetter(req.TransactionID), pionstun.BindingSuccess,
				&pionstun.XORMappedAddress{IP: from.IP, Port: from.Port})
			_, _ = refl.WriteToUDP(res.Raw, from)
		}
	}()

	game, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer game.Close()
	sock := &recordingSocket{conn: game}

	cfg := config.DefaultNATConfig()
	cfg.STUNServer = refl.LocalAddr().String()
	cfg.Timeout = config.Duration(time.Second)
	c, _ := newTestClassifier(t, cfg, nil)
	c.ShareSocket(sock)

	assert.Equal(t, types.NATTypeOpen, c.Detect(context.Background()))
	assert.Equal(t, 1, sock.writes)
	assert.Equal(t, game.LocalAddr().(*net.UDPAddr).Port, <-seen)
}

func TestClassifier_ShareSocketWithoutSTUNServer(t *testing.T) {
	cfg := config.DefaultNATConfig()
	cfg.STUNServer = ""
	c, _ := newTestClassifier(t, cfg, nil)
	c.ShareSocket(&recordingSocket{})
	assert.Nil(t, c.binder)
}
