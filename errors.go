package gamenet

import "errors"

// 公共错误定义
var (
	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("gamenet: node closed")

	// ErrNoRoute 没有可用于连接目标的传输
	ErrNoRoute = errors.New("gamenet: no transport can reach peer")

	// ErrInvalidOption 无效选项
	ErrInvalidOption = errors.New("gamenet: invalid option")
)
