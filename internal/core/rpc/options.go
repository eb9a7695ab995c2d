package rpc

import "github.com/dep2p/go-gamenet/pkg/types"

// CallOption 调用选项
type CallOption func(*callOptions)

type callOptions struct {
	reliable bool
	mode     *types.DeliveryMode
}

// WithReliable 经可靠层投递，每个目标分配独立序号
//
// 未指定 WithMode 时以 DeliveryUnreliable 发送，重传由可靠层负责。
func WithReliable() CallOption {
	return func(o *callOptions) {
		o.reliable = true
	}
}

// WithMode 设置传输层投递模式
func WithMode(mode types.DeliveryMode) CallOption {
	return func(o *callOptions) {
		o.mode = &mode
	}
}

// deliveryMode 解析最终投递模式
func (o *callOptions) deliveryMode(fallback types.DeliveryMode) types.DeliveryMode {
	switch {
	case o.mode != nil:
		return *o.mode
	case o.reliable:
		return types.DeliveryUnreliable
	}
	return fallback
}
