package config

import (
	"errors"
	"time"
)

// ValidatorConfig 输入校验配置
type ValidatorConfig struct {
	// MaxSpeed 允许的最大移动速度（单位/秒）
	MaxSpeed float64 `json:"max_speed"`

	// MaxFireRate 滚动窗口内允许的最大开火次数
	MaxFireRate int `json:"max_fire_rate"`

	// FireWindow 开火频率统计窗口
	FireWindow Duration `json:"fire_window"`

	// MinDamage 单次伤害下限
	MinDamage float64 `json:"min_damage"`

	// MaxDamage 单次伤害上限
	MaxDamage float64 `json:"max_damage"`

	// SuspicionThreshold 可疑计数达到该值时强制断开
	SuspicionThreshold int `json:"suspicion_threshold"`

	// MinSampleInterval 计算隐含速度时两次位置样本的最小间隔，
	// 同一帧内到达的样本按该间隔计算
	MinSampleInterval Duration `json:"min_sample_interval"`
}

// DefaultValidatorConfig 默认校验配置
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxSpeed:           20,
		MaxFireRate:        20,
		FireWindow:         Duration(time.Second),
		MinDamage:          0,
		MaxDamage:          1000,
		SuspicionThreshold: 10,
		MinSampleInterval:  Duration(time.Second / 60),
	}
}

// Validate 校验输入校验配置
func (c ValidatorConfig) Validate() error {
	if c.MaxSpeed <= 0 {
		return errors.New("max speed must be positive")
	}
	if c.MaxFireRate <= 0 {
		return errors.New("max fire rate must be positive")
	}
	if c.FireWindow <= 0 {
		return errors.New("fire window must be positive")
	}
	if c.MinDamage > c.MaxDamage {
		return errors.New("min damage must not exceed max damage")
	}
	if c.SuspicionThreshold <= 0 {
		return errors.New("suspicion threshold must be positive")
	}
	if c.MinSampleInterval <= 0 {
		return errors.New("min sample interval must be positive")
	}
	return nil
}
