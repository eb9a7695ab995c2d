package config

import (
	"errors"
	"time"
)

// CompensatorConfig 延迟补偿配置
type CompensatorConfig struct {
	// MaxSnapshots 每节点最多保留的历史快照数
	MaxSnapshots int `json:"max_snapshots"`

	// MaxAge 历史快照最长保留时间
	MaxAge Duration `json:"max_age"`

	// MaxLatency 超过该延迟不做补偿
	MaxLatency Duration `json:"max_latency"`

	// MaxOffset 补偿修正量上限（单位）
	MaxOffset float64 `json:"max_offset"`
}

// DefaultCompensatorConfig 默认延迟补偿配置
func DefaultCompensatorConfig() CompensatorConfig {
	return CompensatorConfig{
		MaxSnapshots: 60,
		MaxAge:       Duration(2 * time.Second),
		MaxLatency:   Duration(500 * time.Millisecond),
		MaxOffset:    5,
	}
}

// Validate 校验延迟补偿配置
func (c CompensatorConfig) Validate() error {
	if c.MaxSnapshots < 2 {
		return errors.New("max snapshots must be at least 2")
	}
	if c.MaxAge <= 0 || c.MaxLatency <= 0 {
		return errors.New("max age and max latency must be positive")
	}
	if c.MaxOffset <= 0 {
		return errors.New("max offset must be positive")
	}
	return nil
}
