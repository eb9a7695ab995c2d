package nat

import "errors"

var (
	// ErrAlreadyStarted 检测已启动
	ErrAlreadyStarted = errors.New("nat: classifier already started")

	// ErrNoStrategy 既没有平台探测也没有 STUN 服务器
	ErrNoStrategy = errors.New("nat: no detection strategy configured")
)
