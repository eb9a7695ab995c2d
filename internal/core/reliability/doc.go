// Package reliability 在不可靠通道上提供至少一次投递与一次处理
//
// 发送侧为每条可靠消息分配进程内唯一、单调递增的序号并登记待确认条目；
// Tick 扫描超时条目并以相同字节重发，重试 MaxRetries 次后判定丢失。
//
// 接收侧按 (发送方, 序号) 去重：首次见到时回送确认并放行，
// 去重窗口内再次见到时重发确认并丢弃。去重表为有界 LRU，
// 记录在静默 DedupWindow 后由 Tick 回收。
//
// 连接拆除时 Purge 清除该连接的待确认条目与去重记录，不计为丢失。
package reliability
