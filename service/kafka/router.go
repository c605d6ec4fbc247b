package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler 处理一条消息；返回 error 表示不能提交 offset
type Handler func(ctx context.Context, key, value []byte) error

// Router topic -> Handler
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

func (r *Router) Handle(topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
}

func (r *Router) Lookup(topic string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[topic]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("no handler registered for topic: %s", topic)
}

// Topics 已注册的 topic，排序后返回
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
