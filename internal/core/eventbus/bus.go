package eventbus

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-gamenet/pkg/lib/log"
)

var logger = log.Logger("core/eventbus")

var (
	// ErrInvalidEventType 无效的事件类型
	ErrInvalidEventType = errors.New("invalid event type")
	// ErrNonPointerType 非指针类型
	ErrNonPointerType = errors.New("subscribe called with non-pointer type")
	// ErrEmitterClosed 发射器已关闭
	ErrEmitterClosed = errors.New("emitter is closed")
)

// DefaultBuffer 默认订阅缓冲区大小
const DefaultBuffer = 16

// Bus 事件总线
type Bus struct {
	mu    sync.RWMutex
	nodes map[reflect.Type]*node
}

// node 单个事件类型的订阅者集合
type node struct {
	lk        sync.Mutex
	typ       reflect.Type
	sinks     []*Subscription
	dropCount atomic.Int64
}

// NewBus 创建新的事件总线
func NewBus() *Bus {
	return &Bus{nodes: make(map[reflect.Type]*node)}
}

// Option 订阅选项
type Option func(*settings)

type settings struct {
	buffer int
}

// BufSize 设置订阅缓冲区大小
func BufSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Subscribe 订阅事件，eventType 为事件类型的指针，如 new(types.EvtPeerKicked)
func (b *Bus) Subscribe(eventType interface{}, opts ...Option) (*Subscription, error) {
	typ, err := elemType(eventType)
	if err != nil {
		return nil, err
	}

	s := &settings{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(s)
	}

	sub := &Subscription{
		bus: b,
		typ: typ,
		out: make(chan interface{}, s.buffer),
	}
	b.withNode(typ, func(n *node) {
		n.sinks = append(n.sinks, sub)
	})
	return sub, nil
}

// Emitter 获取指定事件类型的发射器
func (b *Bus) Emitter(eventType interface{}) (*Emitter, error) {
	typ, err := elemType(eventType)
	if err != nil {
		return nil, err
	}

	var n *node
	b.withNode(typ, func(nd *node) { n = nd })
	return &Emitter{node: n}, nil
}

// Dropped 返回某事件类型因缓冲区满被丢弃的次数
func (b *Bus) Dropped(eventType interface{}) int64 {
	typ, err := elemType(eventType)
	if err != nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n, ok := b.nodes[typ]; ok {
		return n.dropCount.Load()
	}
	return 0
}

func elemType(eventType interface{}) (reflect.Type, error) {
	if eventType == nil {
		return nil, ErrInvalidEventType
	}
	typ := reflect.TypeOf(eventType)
	if typ.Kind() != reflect.Ptr {
		return nil, ErrNonPointerType
	}
	return typ.Elem(), nil
}

func (b *Bus) withNode(typ reflect.Type, cb func(*node)) {
	b.mu.Lock()
	n, ok := b.nodes[typ]
	if !ok {
		n = &node{typ: typ}
		b.nodes[typ] = n
	}
	n.lk.Lock()
	b.mu.Unlock()

	cb(n)
	n.lk.Unlock()
}

func (b *Bus) removeSub(sub *Subscription) {
	b.mu.RLock()
	n, ok := b.nodes[sub.typ]
	b.mu.RUnlock()
	if !ok {
		return
	}

	n.lk.Lock()
	defer n.lk.Unlock()
	for i, s := range n.sinks {
		if s == sub {
			n.sinks = append(n.sinks[:i], n.sinks[i+1:]...)
			break
		}
	}
}

// emit 发射事件到所有订阅者，缓冲区满时丢弃
func (n *node) emit(event interface{}) {
	n.lk.Lock()
	defer n.lk.Unlock()

	for _, sub := range n.sinks {
		select {
		case sub.out <- event:
		default:
			dropped := n.dropCount.Add(1)
			// 每丢弃 100 个事件警告一次
			if dropped%100 == 1 {
				logger.Warn("慢消费者检测",
					"dropped", dropped,
					"type", n.typ,
					"reason", "subscriber buffer full")
			}
		}
	}
}
