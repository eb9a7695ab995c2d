package config

import (
	"errors"
	"time"
)

// TransportConfig 传输配置
type TransportConfig struct {
	// EnableDirect 是否启用直连 QUIC 传输
	EnableDirect bool `json:"enable_direct"`

	// ListenAddr 直连传输监听地址
	ListenAddr string `json:"listen_addr"`

	// EnableRelay 是否启用中继传输
	EnableRelay bool `json:"enable_relay"`

	// RelayURL 中继代理的 websocket 地址
	RelayURL string `json:"relay_url,omitempty"`

	// Identity 本地平台身份，为空时自动生成
	Identity string `json:"identity,omitempty"`

	// InboundQueue 入站队列容量，满时丢弃最新数据报
	InboundQueue int `json:"inbound_queue"`

	// IdleTimeout QUIC 连接空闲超时
	IdleTimeout Duration `json:"idle_timeout"`

	// KeepAlive QUIC 保活间隔
	KeepAlive Duration `json:"keep_alive"`

	// WriteTimeout 单条流消息的写超时，受流控阻塞超过该时长的发送失败
	WriteTimeout Duration `json:"write_timeout"`
}

// DefaultTransportConfig 默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EnableDirect: true,
		ListenAddr:   "0.0.0.0:7777",
		EnableRelay:  false,
		InboundQueue: 1024,
		IdleTimeout:  Duration(30 * time.Second),
		KeepAlive:    Duration(5 * time.Second),
		WriteTimeout: Duration(50 * time.Millisecond),
	}
}

// Validate 校验传输配置
func (c TransportConfig) Validate() error {
	if !c.EnableDirect && !c.EnableRelay {
		return errors.New("at least one transport must be enabled")
	}
	if c.EnableRelay && c.RelayURL == "" {
		return errors.New("relay transport requires relay_url")
	}
	if c.InboundQueue <= 0 {
		return errors.New("inbound queue must be positive")
	}
	if c.KeepAlive >= c.IdleTimeout {
		return errors.New("keep alive must be less than idle timeout")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	return nil
}
