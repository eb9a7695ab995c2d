package rpc

import (
	"math"
	"sync"

	"github.com/dep2p/go-gamenet/pkg/types"
)

// Handler 过程处理器
//
// payload 引用入站缓冲区，处理器返回后不得继续持有。
type Handler func(ctx *CallContext, payload []byte)

// CallContext 一次入站调用的上下文
type CallContext struct {
	// Name 过程名
	Name string

	// Proc 过程 ID
	Proc types.ProcID

	// Sender 发送方，本地调用时为空
	Sender types.Endpoint

	// SenderID 发送方连接 ID，本地调用时为 0
	SenderID types.ConnID

	// Target 信封中的路由目标
	Target types.Target

	// HasSeq 是否经可靠层投递
	HasSeq bool

	// Seq 可靠层序号
	Seq uint32
}

// IsLocal 是否为服务器本地调用
func (c *CallContext) IsLocal() bool {
	return c.Sender == ""
}

// Registry 过程注册表
type Registry struct {
	mu       sync.RWMutex
	ids      map[string]types.ProcID
	names    []string
	handlers map[types.ProcID]Handler
	sealed   bool
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		ids:      make(map[string]types.ProcID),
		handlers: make(map[types.ProcID]Handler),
	}
}

// Register 注册过程名并返回 ID，重复注册返回已有 ID
func (r *Registry) Register(name string) (types.ProcID, error) {
	if name == "" {
		return 0, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(name)
}

func (r *Registry) registerLocked(name string) (types.ProcID, error) {
	if id, ok := r.ids[name]; ok {
		return id, nil
	}
	if r.sealed {
		return 0, ErrRegistrySealed
	}
	if len(r.names) >= math.MaxUint16 {
		return 0, ErrRegistryFull
	}

	r.names = append(r.names, name)
	id := types.ProcID(len(r.names))
	r.ids[name] = id
	logger.Debug("注册过程", "name", name, "id", id)
	return id, nil
}

// Handle 注册过程并绑定处理器，已有处理器会被替换
func (r *Registry) Handle(name string, h Handler) (types.ProcID, error) {
	if name == "" {
		return 0, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.registerLocked(name)
	if err != nil {
		return 0, err
	}
	r.handlers[id] = h
	return id, nil
}

// Seal 冻结注册表
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed 是否已冻结
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// ID 查询过程 ID
func (r *Registry) ID(name string) (types.ProcID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[name]
	return id, ok
}

// Name 查询过程名
func (r *Registry) Name(id types.ProcID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 || int(id) > len(r.names) {
		return "", false
	}
	return r.names[id-1], true
}

// Lookup 查询过程名与处理器，未绑定处理器时 h 为 nil
func (r *Registry) Lookup(id types.ProcID) (name string, h Handler, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 || int(id) > len(r.names) {
		return "", nil, false
	}
	return r.names[id-1], r.handlers[id], true
}

// Len 已注册过程数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
