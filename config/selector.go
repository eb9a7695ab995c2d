package config

import (
	"errors"
	"time"
)

// SelectorConfig 传输选择器配置
type SelectorConfig struct {
	// FailureThreshold 窗口内直连发送失败达到该值时标记为不健康
	FailureThreshold int `json:"failure_threshold"`

	// FailureWindow 统计发送失败的滑动窗口
	FailureWindow Duration `json:"failure_window"`

	// RecoveryCooldown 不健康连接在无新失败的冷却期后发起恢复探测
	RecoveryCooldown Duration `json:"recovery_cooldown"`

	// IdleTimeout 无流量超过该时长的连接被拆除
	IdleTimeout Duration `json:"idle_timeout"`

	// RelayBytesPerSecond 每连接中继带宽上限（0 = 不限制）
	RelayBytesPerSecond int `json:"relay_bytes_per_second"`
}

// DefaultSelectorConfig 默认选择器配置
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		FailureThreshold:    3,
		FailureWindow:       Duration(10 * time.Second),
		RecoveryCooldown:    Duration(5 * time.Second),
		IdleTimeout:         Duration(30 * time.Second),
		RelayBytesPerSecond: 0,
	}
}

// Validate 校验选择器配置
func (c SelectorConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return errors.New("failure threshold must be positive")
	}
	if c.FailureWindow <= 0 {
		return errors.New("failure window must be positive")
	}
	if c.RecoveryCooldown <= 0 {
		return errors.New("recovery cooldown must be positive")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.RelayBytesPerSecond < 0 {
		return errors.New("relay bandwidth must not be negative")
	}
	return nil
}
