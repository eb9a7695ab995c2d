package gamenet

import (
	"time"

	"github.com/dep2p/go-gamenet/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              远程过程调用
// ════════════════════════════════════════════════════════════════════════════

// Register 注册过程名并返回过程 ID，重复注册返回原 ID
//
// 所有节点必须以相同顺序注册相同的过程集合。
func (n *Node) Register(name string) (types.ProcID, error) {
	return n.registry.Register(name)
}

// Handle 注册过程并绑定处理器
func (n *Node) Handle(name string, h Handler) (types.ProcID, error) {
	return n.registry.Handle(name, h)
}

// Seal 冻结注册表，之后的注册返回错误
func (n *Node) Seal() {
	n.registry.Seal()
}

// Call 调用远程过程
//
// dest 仅在 target 为 TargetClient 时使用。配置类错误同步返回，
// 投递失败不返回错误。
func (n *Node) Call(name string, target types.Target, dest types.ConnID, write PayloadWriter, opts ...CallOption) error {
	if !n.running() {
		return ErrNodeClosed
	}
	return n.dispatcher.Call(name, target, dest, write, opts...)
}

// SendReliable 以可靠方式调用 dest 上的过程，返回分配的序号
//
// 客户端的 dest 为服务器，服务器的 dest 为某个客户端。
func (n *Node) SendReliable(name string, dest types.Endpoint, write PayloadWriter) (uint32, error) {
	if !n.running() {
		return 0, ErrNodeClosed
	}
	return n.reliable.SendReliable(name, dest, write)
}

// Server 返回服务器连接（客户端视角）
func (n *Node) Server() (types.Endpoint, bool) {
	return n.selector.Server()
}

// Clients 返回所有客户端连接（服务器视角）
func (n *Node) Clients() []types.Endpoint {
	return n.selector.Clients()
}

// ════════════════════════════════════════════════════════════════════════════
//                              输入校验
// ════════════════════════════════════════════════════════════════════════════

// ValidatePosition 校验位置更新，速度超限时计入可疑
func (n *Node) ValidatePosition(endpoint types.Endpoint, pos, vel types.Vec3) bool {
	return n.validator.ValidatePosition(endpoint, pos, vel)
}

// ValidateFireRate 校验开火间隔
func (n *Node) ValidateFireRate(endpoint types.Endpoint) bool {
	return n.validator.ValidateFireRate(endpoint)
}

// ValidateDamage 校验伤害值
func (n *Node) ValidateDamage(endpoint types.Endpoint, value float64) bool {
	return n.validator.ValidateDamage(endpoint, value)
}

// Suspicion 返回累计可疑计数
func (n *Node) Suspicion(endpoint types.Endpoint) int {
	return n.validator.Suspicion(endpoint)
}

// Banned 节点是否已因累计可疑被踢出
func (n *Node) Banned(endpoint types.Endpoint) bool {
	return n.validator.Banned(endpoint)
}

// ════════════════════════════════════════════════════════════════════════════
//                              延迟补偿
// ════════════════════════════════════════════════════════════════════════════

// RecordPosition 记录远端的一条位姿快照
func (n *Node) RecordPosition(endpoint types.Endpoint, pos types.Vec3, rot types.Quat, vel types.Vec3) {
	n.compensator.RecordPosition(endpoint, pos, rot, vel)
}

// Compensate 按测得的往返延迟回溯远端位置
//
// 尚无延迟样本时按零延迟处理。
func (n *Node) Compensate(endpoint types.Endpoint, received types.Vec3) types.Vec3 {
	latency, _ := n.tracker.Latency(endpoint)
	return n.compensator.Compensate(endpoint, received, latency)
}

// CompensateWith 按给定的往返延迟回溯远端位置
func (n *Node) CompensateWith(endpoint types.Endpoint, received types.Vec3, latency time.Duration) types.Vec3 {
	return n.compensator.Compensate(endpoint, received, latency)
}

// Pose 返回按给定往返延迟插值的历史位姿
func (n *Node) Pose(endpoint types.Endpoint, latency time.Duration) (Snapshot, bool) {
	return n.compensator.Pose(endpoint, latency)
}
