// Package gamenet 提供实时多人游戏的混合传输与 RPC 子系统
//
// 节点之间通过两种可互换的传输交换游戏状态消息：
//   - 直连传输：共享 UDP socket 上的 QUIC 连接
//   - 中继传输：经平台中继代理转发
//
// 传输选择器按 NAT 兼容性与直连健康度为每个连接选定传输，
// 上层 RPC 只面对单一的调用抽象。
//
// # 组件
//
//   - NAT 分类器：启动时异步检测本地 NAT 类型
//   - 延迟跟踪器：每秒一次的 ping/pong 往返测量
//   - 可靠层：应用级 ACK、重传与去重
//   - 传输选择器：直连/中继选择、健康探测、空闲拆除
//   - RPC 注册表与分发器：名称到过程 ID 的映射与路由
//   - 输入校验器：速度、开火频率、伤害校验，累计可疑计数踢出
//   - 延迟补偿器：按往返延迟回溯历史位置
//
// # 并发模型
//
// 所有协议逻辑在 Tick 中单线程推进。传输读协程只写入队列，
// Tick 每帧排空状态通知与入站数据报，再执行重传、探测与健康检查。
//
// # 使用示例
//
//	node, err := gamenet.New(ctx,
//	    gamenet.WithRole(types.RoleServer),
//	    gamenet.WithListenAddr("0.0.0.0:7777"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer node.Close()
//
//	node.Handle("Ping", func(ctx *gamenet.CallContext, payload []byte) {
//	    // 处理调用
//	})
//	node.Seal()
//
//	for range ticker.C {
//	    node.Tick()
//	}
package gamenet
