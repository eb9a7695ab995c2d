package config

import (
	"fmt"

	"github.com/dep2p/go-gamenet/pkg/types"
)

// ParseDeliveryMode 解析投递模式名称
func ParseDeliveryMode(s string) (types.DeliveryMode, error) {
	switch s {
	case "reliable_ordered", "":
		return types.DeliveryReliableOrdered, nil
	case "unreliable":
		return types.DeliveryUnreliable, nil
	case "reliable_unordered":
		return types.DeliveryReliableUnordered, nil
	case "sequenced":
		return types.DeliverySequenced, nil
	default:
		return 0, fmt.Errorf("unknown delivery mode %q", s)
	}
}
