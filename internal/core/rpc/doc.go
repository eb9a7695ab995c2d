// Package rpc 实现命名过程注册表与信封分发
//
// # 注册表
//
// 名称与过程 ID 一一对应，ID 按首次注册顺序从 1 稠密分配；
// 重复注册同一名称返回已有 ID。启动完成后调用 Seal 冻结，
// 之后只能查询已有名称。处理器通过显式的名称到函数映射登记，不使用反射。
//
// # 路由
//
//	客户端  只能调用 TargetServer，其他目标记录警告并丢弃
//	服务器  TargetServer               -> 本地处理器
//	        TargetAllClients           -> 所有客户端连接
//	        TargetClient               -> 指定连接
//	        TargetAllClientsExceptSender -> 除 dest 外的所有客户端
//
// # 入站
//
// 服务器收到目标不是 TargetServer 的信封时，原样转发收到的字节给相应受众，
// 不调用本地处理器；带序号的信封先在本跳确认并去重，再转发。
package rpc
