package config

import (
	"errors"
	"time"
)

// LivenessConfig 往返延迟跟踪配置
type LivenessConfig struct {
	// ProbeInterval 对同一节点两次探测的最小间隔
	ProbeInterval Duration `json:"probe_interval"`

	// SampleWindow 延迟样本 FIFO 大小
	SampleWindow int `json:"sample_window"`
}

// DefaultLivenessConfig 默认延迟跟踪配置
func DefaultLivenessConfig() LivenessConfig {
	return LivenessConfig{
		ProbeInterval: Duration(time.Second),
		SampleWindow:  10,
	}
}

// Validate 校验延迟跟踪配置
func (c LivenessConfig) Validate() error {
	if c.ProbeInterval < Duration(time.Second) {
		return errors.New("probe interval must be at least 1s")
	}
	if c.SampleWindow <= 0 {
		return errors.New("sample window must be positive")
	}
	return nil
}
