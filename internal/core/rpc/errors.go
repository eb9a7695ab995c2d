package rpc

import "errors"

var (
	// ErrEmptyName 过程名为空
	ErrEmptyName = errors.New("rpc: empty procedure name")

	// ErrRegistrySealed 注册表已冻结
	ErrRegistrySealed = errors.New("rpc: registry sealed")

	// ErrRegistryFull 过程 ID 空间耗尽
	ErrRegistryFull = errors.New("rpc: procedure id space exhausted")

	// ErrUnknownProcedure 过程未注册
	ErrUnknownProcedure = errors.New("rpc: unknown procedure")

	// ErrNoDestination TargetClient 缺少可用的目标连接
	ErrNoDestination = errors.New("rpc: target client without usable destination")

	// ErrClientTarget 客户端调用了非 TargetServer 目标
	ErrClientTarget = errors.New("rpc: clients may only call the server")

	// ErrNoServer 客户端尚未连接服务器
	ErrNoServer = errors.New("rpc: no server connection")

	// ErrInvalidTarget 未定义的目标
	ErrInvalidTarget = errors.New("rpc: invalid target")
)
