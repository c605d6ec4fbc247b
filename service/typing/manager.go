package typing

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
)

// State 一个会话在一个房间里的输入状态
type State struct {
	RoomID         string
	UserID         string
	SessionID      string
	LastActivityAt time.Time
}

type Stats struct {
	ActiveRooms int `json:"activeRooms"`
	TypingUsers int `json:"typingUsers"`
}

// ===== 配置 =====

type Conf struct {
	Timeout    time.Duration    // 超过该时长无活动视为停止输入
	RateWindow time.Duration    // 同一 (user, room) 两次 start 的最小间隔
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *Conf) norm() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RateWindow <= 0 {
		c.RateWindow = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

const shardCount = 32

type entryKey struct {
	userID    string
	sessionID string
}

type roomShard struct {
	mu    sync.Mutex
	rooms map[string]map[entryKey]time.Time // roomId -> (user, session) -> lastActivity
}

type limiterShard struct {
	mu   sync.Mutex
	last map[string]time.Time // "userId:roomId" -> last accepted start
}

// Manager holds typing state for every room in this process. Room buckets
// and the start limiter are striped by hash; no operation takes more than
// one shard lock at a time.
type Manager struct {
	conf    Conf
	rooms   [shardCount]*roomShard
	limiter [shardCount]*limiterShard
}

func NewManager(conf Conf) *Manager {
	conf.norm()
	m := &Manager{conf: conf}
	for i := 0; i < shardCount; i++ {
		m.rooms[i] = &roomShard{rooms: make(map[string]map[entryKey]time.Time)}
		m.limiter[i] = &limiterShard{last: make(map[string]time.Time)}
	}
	return m
}

func shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func limiterKey(userID, roomID string) string { return userID + ":" + roomID }

// MarkStart reports whether the start was accepted. The limiter is keyed by
// (user, room), so two devices of one user share a bucket.
func (m *Manager) MarkStart(roomID, userID, sessionID string) bool {
	now := m.conf.Clock()

	lk := limiterKey(userID, roomID)
	ls := m.limiter[shardOf(lk)]
	ls.mu.Lock()
	if last, ok := ls.last[lk]; ok && now.Sub(last) < m.conf.RateWindow {
		ls.mu.Unlock()
		return false
	}
	ls.last[lk] = now
	ls.mu.Unlock()

	rs := m.rooms[shardOf(roomID)]
	rs.mu.Lock()
	bucket := rs.rooms[roomID]
	if bucket == nil {
		bucket = make(map[entryKey]time.Time)
		rs.rooms[roomID] = bucket
	}
	bucket[entryKey{userID, sessionID}] = now
	rs.mu.Unlock()
	return true
}

// MarkStop 删除对应条目；房间空了就整个删掉
func (m *Manager) MarkStop(roomID, userID, sessionID string) bool {
	rs := m.rooms[shardOf(roomID)]
	rs.mu.Lock()
	defer rs.mu.Unlock()
	bucket := rs.rooms[roomID]
	k := entryKey{userID, sessionID}
	if _, ok := bucket[k]; !ok {
		return false
	}
	delete(bucket, k)
	if len(bucket) == 0 {
		delete(rs.rooms, roomID)
	}
	return true
}

// TypingUsers 去重后的 userId，同一用户多端只算一次
func (m *Manager) TypingUsers(roomID string) []string {
	rs := m.rooms[shardOf(roomID)]
	rs.mu.Lock()
	seen := make(map[string]struct{}, len(rs.rooms[roomID]))
	for k := range rs.rooms[roomID] {
		seen[k.userID] = struct{}{}
	}
	rs.mu.Unlock()

	out := make([]string, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// ClearAll drops every entry of (userID, sessionID) and returns the affected
// rooms, sorted. The user's limiter entries go too, so a reconnect can start
// typing immediately.
func (m *Manager) ClearAll(userID, sessionID string) []string {
	k := entryKey{userID, sessionID}
	var affected []string
	for _, rs := range m.rooms {
		rs.mu.Lock()
		for roomID, bucket := range rs.rooms {
			if _, ok := bucket[k]; !ok {
				continue
			}
			delete(bucket, k)
			if len(bucket) == 0 {
				delete(rs.rooms, roomID)
			}
			affected = append(affected, roomID)
		}
		rs.mu.Unlock()
	}

	prefix := userID + ":"
	for _, ls := range m.limiter {
		ls.mu.Lock()
		for lk := range ls.last {
			if strings.HasPrefix(lk, prefix) {
				delete(ls.last, lk)
			}
		}
		ls.mu.Unlock()
	}

	sort.Strings(affected)
	return affected
}

// SweepStale removes entries idle longer than the timeout and returns them,
// one per removed (room, user, session). Limiter entries older than the rate
// window are pruned on the same pass.
func (m *Manager) SweepStale() []State {
	now := m.conf.Clock()
	var expired []State
	for _, rs := range m.rooms {
		rs.mu.Lock()
		for roomID, bucket := range rs.rooms {
			for k, last := range bucket {
				if now.Sub(last) <= m.conf.Timeout {
					continue
				}
				delete(bucket, k)
				expired = append(expired, State{
					RoomID:         roomID,
					UserID:         k.userID,
					SessionID:      k.sessionID,
					LastActivityAt: last,
				})
			}
			if len(bucket) == 0 {
				delete(rs.rooms, roomID)
			}
		}
		rs.mu.Unlock()
	}

	for _, ls := range m.limiter {
		ls.mu.Lock()
		for lk, last := range ls.last {
			if now.Sub(last) >= m.conf.RateWindow {
				delete(ls.last, lk)
			}
		}
		ls.mu.Unlock()
	}
	return expired
}

func (m *Manager) Stats() Stats {
	var st Stats
	users := make(map[string]struct{})
	for _, rs := range m.rooms {
		rs.mu.Lock()
		st.ActiveRooms += len(rs.rooms)
		for _, bucket := range rs.rooms {
			for k := range bucket {
				users[k.userID] = struct{}{}
			}
		}
		rs.mu.Unlock()
	}
	st.TypingUsers = len(users)
	return st
}
