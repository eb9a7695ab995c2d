// Package transport 组装直连与中继传输
//
// 传输实现位于子包：
//
//   - quic:   直连传输，共享 UDP socket 上的 QUIC 连接
//   - relay:  中继传输，经 websocket 连接中继代理
//   - memory: 进程内传输，用于测试，支持丢包与故障注入
//
// 所有实现满足 pkg/interfaces.Transport。入站数据报与状态通知由
// 读协程写入 queue.Queue，主循环每帧非阻塞排空。
//
// # Fx 模块集成
//
//	app := fx.New(
//	    transport.Module(),
//	    fx.Invoke(func(t selector.Transports) {
//	        // 使用直连与中继传输
//	    }),
//	)
package transport
