package reliability

import "errors"

var (
	// ErrUnknownProcedure 过程未注册
	ErrUnknownProcedure = errors.New("reliability: unknown procedure")

	// ErrUnknownDestination 目标连接不存在
	ErrUnknownDestination = errors.New("reliability: unknown destination")
)
