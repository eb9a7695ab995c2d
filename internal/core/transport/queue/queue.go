// Package queue 提供传输层共用的入站队列
//
// 读协程调用 Push*，主循环通过 Receive/NextState 非阻塞排空。
// 数据报队列有界，满时丢弃新到的数据报；状态通知不丢弃。
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-gamenet/pkg/interfaces"
	"github.com/dep2p/go-gamenet/pkg/types"
)

// Queue 入站数据报与状态通知队列
type Queue struct {
	inbound chan interfaces.Inbound
	dropped atomic.Uint64

	mu     sync.Mutex
	states []interfaces.StateChange
}

// New 创建容量为 size 的队列
func New(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{inbound: make(chan interfaces.Inbound, size)}
}

// PushInbound 入队一条数据报，队列已满时丢弃并返回 false
func (q *Queue) PushInbound(addr string, data []byte) bool {
	select {
	case q.inbound <- interfaces.Inbound{Addr: addr, Data: data}:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// PushState 入队一条状态通知
func (q *Queue) PushState(addr string, state types.ConnState) {
	q.mu.Lock()
	q.states = append(q.states, interfaces.StateChange{Addr: addr, State: state})
	q.mu.Unlock()
}

// Receive 取出下一条数据报
func (q *Queue) Receive() (interfaces.Inbound, bool) {
	select {
	case in := <-q.inbound:
		return in, true
	default:
		return interfaces.Inbound{}, false
	}
}

// NextState 取出下一条状态通知
func (q *Queue) NextState() (interfaces.StateChange, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.states) == 0 {
		return interfaces.StateChange{}, false
	}
	sc := q.states[0]
	q.states = q.states[1:]
	return sc, true
}

// Dropped 因队列已满丢弃的数据报数
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
