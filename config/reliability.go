package config

import (
	"errors"
	"time"
)

// ReliabilityConfig 可靠层配置
type ReliabilityConfig struct {
	// RetryTimeout 未确认消息的重发超时
	RetryTimeout Duration `json:"retry_timeout"`

	// MaxRetries 最大重试次数，耗尽后判定丢失
	MaxRetries int `json:"max_retries"`

	// DedupWindow 去重记录的静默过期时间
	DedupWindow Duration `json:"dedup_window"`

	// DedupCapacity 去重表容量上限
	DedupCapacity int `json:"dedup_capacity"`

	// LossWindow 丢包率统计的最近窗口大小（条数）
	LossWindow int `json:"loss_window"`
}

// DefaultReliabilityConfig 默认可靠层配置
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RetryTimeout:  Duration(time.Second),
		MaxRetries:    3,
		DedupWindow:   Duration(10 * time.Second),
		DedupCapacity: 8192,
		LossWindow:    64,
	}
}

// Validate 校验可靠层配置
func (c ReliabilityConfig) Validate() error {
	if c.RetryTimeout <= 0 {
		return errors.New("retry timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	// 去重窗口必须覆盖完整的重试周期，否则迟到的重发会被再次处理
	if c.DedupWindow.Duration() <= c.RetryTimeout.Duration()*time.Duration(c.MaxRetries+1) {
		return errors.New("dedup window must exceed the full retry span")
	}
	if c.DedupCapacity <= 0 {
		return errors.New("dedup capacity must be positive")
	}
	if c.LossWindow <= 0 {
		return errors.New("loss window must be positive")
	}
	return nil
}
