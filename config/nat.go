package config

import (
	"errors"
	"time"
)

// NATConfig NAT 分类配置
//
// 没有平台探测器时，通过 STUN 绑定请求进行地址发现。
type NATConfig struct {
	// Enable 是否在启动时进行 NAT 分类
	Enable bool `json:"enable"`

	// STUNServer 公共反射服务器地址
	STUNServer string `json:"stun_server"`

	// Timeout 等待绑定响应的超时，超时判定为 Strict
	Timeout Duration `json:"timeout"`

	// Override 强制指定本地 NAT 分类（"open"/"moderate"/"strict"/"blocked"），跳过检测
	Override string `json:"override,omitempty"`
}

// DefaultNATConfig 默认 NAT 配置
func DefaultNATConfig() NATConfig {
	return NATConfig{
		Enable:     true,
		STUNServer: "stun.l.google.com:19302",
		Timeout:    Duration(3 * time.Second),
	}
}

// Validate 校验 NAT 配置
func (c NATConfig) Validate() error {
	if c.Enable && c.Override == "" && c.STUNServer == "" {
		return errors.New("stun server required when detection is enabled")
	}
	if c.Timeout <= 0 {
		return errors.New("stun timeout must be positive")
	}
	switch c.Override {
	case "", "open", "moderate", "strict", "blocked":
	default:
		return errors.New("override must be one of open/moderate/strict/blocked")
	}
	return nil
}
