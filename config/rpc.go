package config

// RPCConfig 远程过程调用配置
type RPCConfig struct {
	// DefaultMode 未指定时使用的投递模式
	// 取值: reliable_ordered / unreliable / reliable_unordered / sequenced
	DefaultMode string `json:"default_mode"`

	// ForwardMode 服务器转发信封时使用的投递模式
	ForwardMode string `json:"forward_mode"`
}

// DefaultRPCConfig 默认 RPC 配置
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		DefaultMode: "reliable_ordered",
		ForwardMode: "reliable_ordered",
	}
}

// Validate 校验 RPC 配置
func (c RPCConfig) Validate() error {
	if _, err := ParseDeliveryMode(c.DefaultMode); err != nil {
		return err
	}
	_, err := ParseDeliveryMode(c.ForwardMode)
	return err
}
