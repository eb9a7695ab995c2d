// Package stun 实现 NAT 分类所需的最小 STUN 绑定交换
//
// 发送 20 字节 Binding Request（类型 0x0001、长度 0、魔数 0x2112A442、
// 12 字节随机事务 ID），解析 0x0101 成功响应中的 XOR-MAPPED-ADDRESS
// (0x0020) 或旧版 MAPPED-ADDRESS (0x0001)，仅接受 IPv4。
//
// 报文构造与属性解析使用 github.com/pion/stun。
package stun
