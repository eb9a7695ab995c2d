// Package eventbus 实现核心向外发布领域事件的有界队列
//
// 核心组件（传输选择器、可靠层、NAT 分类器、校验器）通过 Emitter 发布
// pkg/types 中定义的 Evt* 事件；展示层等外部消费者通过 Subscribe 获得
// 有界通道。发布永不阻塞：订阅者缓冲区满时丢弃事件并计数。
//
// # 使用示例
//
//	bus := eventbus.NewBus()
//	sub, _ := bus.Subscribe(new(types.EvtPeerDisconnected), eventbus.BufSize(32))
//	defer sub.Close()
//
//	em, _ := bus.Emitter(new(types.EvtPeerDisconnected))
//	em.Emit(types.EvtPeerDisconnected{Endpoint: ep})
//
//	evt := (<-sub.Out()).(types.EvtPeerDisconnected)
package eventbus
