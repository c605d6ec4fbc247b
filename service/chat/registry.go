package chat

import (
	"hash/fnv"
	"sync"

	"linkwave/logger"

	"go.uber.org/zap"
)

// Conn 注册表里保存的连接句柄；WsConn 是唯一的生产实现
type Conn interface {
	ID() string
	UserID() string
	IsOpen() bool
	// Send 非阻塞入队，连接已关闭或队列满时返回错误
	Send(payload []byte) error
	Close() error
}

const registryShards = 64

type registryShard struct {
	mu     sync.RWMutex
	byUser map[string]Conn
}

// Registry maps a user to the single live connection that may be pushed to.
// State is striped across shards by user id so there is no global lock.
type Registry struct {
	shards [registryShards]*registryShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{byUser: make(map[string]Conn)}
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%registryShards]
}

// Register stores c for userID. A previously registered connection for the
// same user is closed (single session per user); the close runs after the
// shard lock is released.
func (r *Registry) Register(userID string, c Conn) {
	s := r.shard(userID)
	s.mu.Lock()
	prev, had := s.byUser[userID]
	s.byUser[userID] = c
	s.mu.Unlock()

	if had && prev != c {
		logger.Info("[Registry] displace session",
			zap.String("uid", userID),
			zap.String("old", prev.ID()),
			zap.String("new", c.ID()),
		)
		if rc, ok := prev.(interface{ CloseReplaced() error }); ok {
			_ = rc.CloseReplaced()
		} else {
			_ = prev.Close()
		}
	}
}

// Deregister 只有当前登记的仍是 c 时才删除，防止被顶掉的旧连接误删新连接
func (r *Registry) Deregister(c Conn) bool {
	s := r.shard(c.UserID())
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byUser[c.UserID()]
	if !ok || cur != c {
		return false
	}
	delete(s.byUser, c.UserID())
	return true
}

// Get 返回在线连接；登记了但已关闭的连接顺带清理掉
func (r *Registry) Get(userID string) (Conn, bool) {
	s := r.shard(userID)
	s.mu.RLock()
	c, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.IsOpen() {
		return c, true
	}

	s.mu.Lock()
	if cur, ok := s.byUser[userID]; ok && cur == c {
		delete(s.byUser, userID)
	}
	s.mu.Unlock()
	return nil, false
}

// SendTo is a best-effort push. It reports whether the payload was queued;
// an offline user is not an error.
func (r *Registry) SendTo(userID string, payload []byte) bool {
	c, ok := r.Get(userID)
	if !ok {
		return false
	}
	if err := c.Send(payload); err != nil {
		logger.Debug("[Registry] send dropped",
			zap.String("uid", userID),
			zap.String("conn", c.ID()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Count 当前登记的连接数（含尚未被 Get 清理的已关闭连接）
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.byUser)
		s.mu.RUnlock()
	}
	return n
}

// CloseAll 关闭所有登记的连接，进程退出时调用；连接自己的清理流程负责注销
func (r *Registry) CloseAll() int {
	var conns []Conn
	for _, s := range r.shards {
		s.mu.RLock()
		for _, c := range s.byUser {
			conns = append(conns, c)
		}
		s.mu.RUnlock()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}
