package nat

import "github.com/dep2p/go-gamenet/pkg/types"

// CanDirectConnect 本地与远端的 NAT 分类能否维持直连路径
//
// 本地为 Unknown 或 Blocked 时一律返回 false，由调用方走中继。
func CanDirectConnect(local, remote types.NATType) bool {
	switch local {
	case types.NATTypeOpen:
		return true
	case types.NATTypeModerate:
		return remote != types.NATTypeStrict
	case types.NATTypeStrict:
		return remote == types.NATTypeOpen
	default:
		return false
	}
}
