// Package selector 管理远端连接并为每个连接选择直连或中继传输
//
// 选择规则：
//
//   - 本地与远端 NAT 分类不能维持直连（见 nat.CanDirectConnect）时中继
//   - 连接被标记为不健康时强制中继
//   - 没有直连地址的连接（仅中继可达）中继
//   - 首选传输未配置时回退到另一种传输
//
// 健康监测：FailureWindow 内直连发送失败达到 FailureThreshold 次即标记不健康。
// 不健康连接在 RecoveryCooldown 内无新失败后，由 Tick 发送一个直连健康探测，
// 成功则清除标记，恢复原选择规则。
//
// 连接在 IdleTimeout 内没有入站流量时被拆除。
//
// 连接记录只由本包持有，其他组件只通过 Endpoint 或 ConnID 引用。
package selector
