// Package types 定义 gamenet 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 gamenet 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go     - Endpoint, ConnID, ProcID
//   - enums.go   - Role, Target, DeliveryMode, TransportKind, ConnState
//   - nat.go     - NATType
//   - math.go    - Vec3, Quat
//   - events.go  - 领域事件（连接、中继切换、NAT、可靠发送失败、踢出）
//   - errors.go  - 公共错误定义
package types
