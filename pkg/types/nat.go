package types

// ============================================================================
//                              NATType - NAT 分类
// ============================================================================

// NATType 本地节点从公网可达程度的粗粒度分类
type NATType int

const (
	// NATTypeUnknown 未知（检测未完成或响应异常）
	NATTypeUnknown NATType = iota
	// NATTypeOpen 开放：外部观察端口与本地绑定端口一致
	NATTypeOpen
	// NATTypeModerate 中等：端口被改写
	NATTypeModerate
	// NATTypeStrict 严格：地址发现无响应
	NATTypeStrict
	// NATTypeBlocked 阻断：平台探测报告 UDP 不可用
	NATTypeBlocked
)

// String 返回 NAT 类型的字符串表示
func (n NATType) String() string {
	switch n {
	case NATTypeOpen:
		return "open"
	case NATTypeModerate:
		return "moderate"
	case NATTypeStrict:
		return "strict"
	case NATTypeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// ParseNATType 解析字符串形式的 NAT 类型，无法识别时返回 NATTypeUnknown
func ParseNATType(s string) NATType {
	switch s {
	case "open":
		return NATTypeOpen
	case "moderate":
		return NATTypeModerate
	case "strict":
		return NATTypeStrict
	case "blocked":
		return NATTypeBlocked
	default:
		return NATTypeUnknown
	}
}
