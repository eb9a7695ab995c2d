package config

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enable 是否采集 Prometheus 指标
	Enable bool `json:"enable"`

	// Namespace 指标命名空间
	Namespace string `json:"namespace"`

	// ListenAddr /metrics HTTP 监听地址，为空则不暴露
	ListenAddr string `json:"listen_addr,omitempty"`
}

// DefaultMetricsConfig 默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enable:    true,
		Namespace: "gamenet",
	}
}
