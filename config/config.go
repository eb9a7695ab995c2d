// Package config 提供 gamenet 统一的配置管理
//
// 本包采用与组件一一对应的子配置：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，带默认值与校验
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Role = "server"
//	cfg.Reliability.MaxRetries = 5
//
//	// 从 JSON 文件加载
//	cfg, err := config.LoadFile("gamenet.json")
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dep2p/go-gamenet/pkg/types"
)

// Config 是 gamenet 的完整配置结构
type Config struct {
	// Role 本地角色: "server" 或 "client"
	Role string `json:"role"`

	// LogFile 日志文件路径，为空时输出到 stderr
	LogFile string `json:"log_file,omitempty"`

	// Transport 直连与中继传输配置
	Transport TransportConfig `json:"transport"`

	// NAT NAT 分类配置
	NAT NATConfig `json:"nat"`

	// RPC 远程过程调用配置
	RPC RPCConfig `json:"rpc"`

	// Reliability 可靠层配置
	Reliability ReliabilityConfig `json:"reliability"`

	// Selector 传输选择器配置
	Selector SelectorConfig `json:"selector"`

	// Liveness 往返延迟跟踪配置
	Liveness LivenessConfig `json:"liveness"`

	// Validator 输入校验配置
	Validator ValidatorConfig `json:"validator"`

	// Compensator 延迟补偿配置
	Compensator CompensatorConfig `json:"compensator"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置（客户端角色）
func NewConfig() *Config {
	return &Config{
		Role:        "client",
		Transport:   DefaultTransportConfig(),
		NAT:         DefaultNATConfig(),
		RPC:         DefaultRPCConfig(),
		Reliability: DefaultReliabilityConfig(),
		Selector:    DefaultSelectorConfig(),
		Liveness:    DefaultLivenessConfig(),
		Validator:   DefaultValidatorConfig(),
		Compensator: DefaultCompensatorConfig(),
		Metrics:     DefaultMetricsConfig(),
	}
}

// RoleType 返回解析后的角色
func (c *Config) RoleType() types.Role {
	if c.Role == "server" {
		return types.RoleServer
	}
	return types.RoleClient
}

// Validate 校验全部子配置
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Role != "server" && c.Role != "client" {
		return fmt.Errorf("role must be \"server\" or \"client\", got %q", c.Role)
	}

	subs := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"transport", c.Transport},
		{"nat", c.NAT},
		{"rpc", c.RPC},
		{"reliability", c.Reliability},
		{"selector", c.Selector},
		{"liveness", c.Liveness},
		{"validator", c.Validator},
		{"compensator", c.Compensator},
	}
	for _, s := range subs {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// FromJSON 从 JSON 加载配置，未出现的字段保留默认值
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ToJSON 序列化为带缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// LoadFile 从文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return FromJSON(data)
}
