// Package liveness 测量每个远端节点的往返延迟
//
// Tick 对每个已注册节点最多每秒发送一个带序号的不可靠探测，
// 对端原样回显序号与发送时间戳。回显序号不等于最近一次发送的序号时
// 视为过期丢弃；否则将 now - 时间戳 压入大小为 SampleWindow 的 FIFO，
// 平均延迟为样本的算术平均。
//
// 探测帧格式：
//
//	[1 字节标记 0x50 或 0x51][protowire: 1=seq varint, 2=sent_unix_nano fixed64]
package liveness
