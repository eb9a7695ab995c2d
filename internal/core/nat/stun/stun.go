package stun

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pion/stun"

	"github.com/dep2p/go-gamenet/pkg/interfaces"
)

// MagicCookie STUN 固定魔数
const MagicCookie uint32 = 0x2112A442

// RequestSize Binding Request 长度（仅头部，无属性）
const RequestSize = 20

// Errors
var (
	ErrTimeout             = &STUNError{Message: "binding request timeout"}
	ErrUnexpectedType      = &STUNError{Message: "response is not a binding success"}
	ErrTransactionMismatch = &STUNError{Message: "transaction id mismatch"}
	ErrNoMappedAddress     = &STUNError{Message: "no mapped address in response"}
	ErrNotIPv4             = &STUNError{Message: "mapped address is not IPv4"}
)

// STUNError STUN 错误
type STUNError struct {
	Message string
	Cause   error
}

func (e *STUNError) Error() string {
	if e.Cause != nil {
		return "stun: " + e.Message + ": " + e.Cause.Error()
	}
	return "stun: " + e.Message
}

func (e *STUNError) Unwrap() error {
	return e.Cause
}

// Binding 一次绑定交换的结果
type Binding struct {
	// Local 本地绑定地址
	Local *net.UDPAddr

	// Mapped 反射服务器观察到的外部地址
	Mapped *net.UDPAddr
}

// PortPreserved 外部端口是否与本地绑定端口一致
func (b *Binding) PortPreserved() bool {
	return b.Local.Port == b.Mapped.Port
}

// Client STUN 客户端
type Client struct {
	server  string
	timeout time.Duration
}

// NewClient 创建 STUN 客户端
func NewClient(server string, timeout time.Duration) *Client {
	return &Client{server: server, timeout: timeout}
}

// BuildBindingRequest 构造 Binding Request
func BuildBindingRequest() (*stun.Message, error) {
	return stun.Build(stun.TransactionID, stun.BindingRequest)
}

// Bind 在临时 UDP 套接字上执行一次绑定交换
//
// 超时无响应返回 ErrTimeout；响应格式错误返回相应的 *STUNError。
func (c *Client) Bind(ctx context.Context) (*Binding, error) {
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, &STUNError{Message: "create UDP socket", Cause: err}
	}
	defer conn.Close()

	// 上下文取消时关闭连接，使阻塞读立即返回
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	return c.BindOn(ctx, udpSocket{conn})
}

// BindOn 在给定套接字上执行一次绑定交换
//
// 与直连传输共享套接字时，映射端口即对端看到的游戏端口。
func (c *Client) BindOn(ctx context.Context, sock interfaces.PacketSocket) (*Binding, error) {
	raddr, err := net.ResolveUDPAddr("udp4", c.server)
	if err != nil {
		return nil, &STUNError{Message: "resolve server address", Cause: err}
	}
	local, ok := sock.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, &STUNError{Message: "socket is not UDP"}
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := BuildBindingRequest()
	if err != nil {
		return nil, &STUNError{Message: "build request", Cause: err}
	}
	if _, err := sock.WriteTo(req.Raw, raddr); err != nil {
		return nil, &STUNError{Message: "send request", Cause: err}
	}

	buf := make([]byte, 1500)
	for {
		n, from, err := sock.ReadFrom(rctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var ne net.Error
			if rctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
				return nil, ErrTimeout
			}
			return nil, &STUNError{Message: "read response", Cause: err}
		}
		// 忽略非服务器来源的数据报
		if udp, ok := from.(*net.UDPAddr); !ok || !udp.IP.Equal(raddr.IP) || udp.Port != raddr.Port {
			continue
		}

		mapped, err := ParseBindingResponse(buf[:n], req.TransactionID)
		if errors.Is(err, ErrTransactionMismatch) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Binding{Local: local, Mapped: mapped}, nil
	}
}

// udpSocket 以 ctx 截止时间作为读超时的 UDP 套接字
type udpSocket struct {
	conn *net.UDPConn
}

func (s udpSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	return s.conn.WriteTo(b, addr)
}

func (s udpSocket) ReadFrom(ctx context.Context, b []byte) (int, net.Addr, error) {
	if d, ok := ctx.Deadline(); ok {
		if err := s.conn.SetReadDeadline(d); err != nil {
			return 0, nil, err
		}
	}
	return s.conn.ReadFrom(b)
}

func (s udpSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// ParseBindingResponse 解析绑定成功响应中的外部地址
//
// 优先读取 XOR-MAPPED-ADDRESS，缺失时回退到 MAPPED-ADDRESS。
func ParseBindingResponse(raw []byte, txID [stun.TransactionIDSize]byte) (*net.UDPAddr, error) {
	res := &stun.Message{Raw: append([]byte(nil), raw...)}
	if err := res.Decode(); err != nil {
		return nil, &STUNError{Message: "decode response", Cause: err}
	}
	if res.Type != stun.BindingSuccess {
		return nil, ErrUnexpectedType
	}
	if res.TransactionID != txID {
		return nil, ErrTransactionMismatch
	}

	var ip net.IP
	var port int

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		ip, port = xorAddr.IP, xorAddr.Port
	} else {
		var mappedAddr stun.MappedAddress
		if err := mappedAddr.GetFrom(res); err != nil {
			return nil, ErrNoMappedAddress
		}
		ip, port = mappedAddr.IP, mappedAddr.Port
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil, ErrNotIPv4
	}
	return &net.UDPAddr{IP: ip4, Port: port}, nil
}
