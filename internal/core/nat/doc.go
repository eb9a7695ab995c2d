// Package nat 实现本地 NAT 分类与直连兼容矩阵
//
// # 检测策略
//
// 启动时异步执行一次，不阻塞其他组件：
//
//   - 平台探测：注入了 interfaces.PlatformProbe 时直接采用其结果
//   - STUN 探测：向公共反射服务器发送绑定请求，比较本地端口与外部端口
//
// STUN 结果判定：
//
//	本地端口 == 外部端口  -> Open
//	本地端口 != 外部端口  -> Moderate
//	超时无响应            -> Strict
//	响应异常或套接字错误  -> Unknown
//
// # 兼容矩阵
//
//	CanDirectConnect(Open, *)          = true
//	CanDirectConnect(Moderate, Strict) = false，其余 true
//	CanDirectConnect(Strict, Open)     = true，其余 false
//	其他组合一律中继
package nat
