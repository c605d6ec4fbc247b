package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"linkwave/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Record 存在 redis 里的在线记录；connectionCount 永不为负
type Record struct {
	UserID          string `json:"userId"`
	LastSeen        int64  `json:"lastSeen"` // unix ms
	ConnectionCount int    `json:"connectionCount"`
}

func (r Record) LastSeenAt() time.Time { return time.UnixMilli(r.LastSeen).UTC() }

type HeartbeatStatus int

const (
	HeartbeatOK HeartbeatStatus = iota
	HeartbeatRateLimited
)

func (s HeartbeatStatus) String() string {
	if s == HeartbeatOK {
		return "ok"
	}
	return "rate_limited"
}

// ===== 配置 =====

type Conf struct {
	Prefix            string           // key 前缀，默认 linkwave
	TTL               time.Duration    // 在线记录 TTL，每次写入刷新
	HeartbeatInterval time.Duration    // 同一用户两次心跳的最小间隔
	MaxTxRetries      int              // WATCH 冲突重试次数
	Clock             func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *Conf) norm() {
	if c.Prefix == "" {
		c.Prefix = "linkwave"
	}
	if c.TTL <= 0 {
		c.TTL = 75 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.MaxTxRetries <= 0 {
		c.MaxTxRetries = 3
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Tracker derives online state from connection lifecycle and heartbeats.
// Key existence is the only online signal: once the TTL lapses the user is
// offline, whatever the stored count says. Store failures are logged and
// swallowed.
type Tracker struct {
	rdb  redis.UniversalClient
	conf Conf
	log  *zap.Logger

	// userId -> time.Time，仅本进程有效
	lastBeat sync.Map
}

func NewTracker(rdb redis.UniversalClient, conf Conf) *Tracker {
	conf.norm()
	return &Tracker{rdb: rdb, conf: conf, log: logger.Named("presence")}
}

func (t *Tracker) key(userID string) string {
	return t.conf.Prefix + ":presence:" + userID
}

func (t *Tracker) MarkOnline(ctx context.Context, userID string) {
	now := t.conf.Clock()
	err := t.update(ctx, userID, func(rec *Record) *Record {
		if rec == nil {
			return &Record{UserID: userID, LastSeen: now.UnixMilli(), ConnectionCount: 1}
		}
		rec.ConnectionCount++
		rec.LastSeen = now.UnixMilli()
		return rec
	})
	if err != nil {
		t.log.Warn("mark online failed", zap.String("uid", MaskUserID(userID)), zap.Error(err))
		return
	}
	t.log.Debug("online", zap.String("uid", MaskUserID(userID)))
}

// MarkDisconnect never deletes the key; expiry alone flips the user offline,
// so a quick reconnect does not flap.
func (t *Tracker) MarkDisconnect(ctx context.Context, userID string) {
	now := t.conf.Clock()
	drained := false
	err := t.update(ctx, userID, func(rec *Record) *Record {
		if rec == nil {
			t.log.Debug("disconnect without presence record", zap.String("uid", MaskUserID(userID)))
			return nil
		}
		if rec.ConnectionCount > 0 {
			rec.ConnectionCount--
		}
		rec.LastSeen = now.UnixMilli()
		drained = rec.ConnectionCount == 0
		return rec
	})
	if err != nil {
		t.log.Warn("mark disconnect failed", zap.String("uid", MaskUserID(userID)), zap.Error(err))
		return
	}
	if drained {
		t.lastBeat.Delete(userID)
	}
}

// RecordHeartbeat refreshes lastSeen and the TTL at most once per
// HeartbeatInterval per user. A heartbeat without a record counts as an
// implicit MarkOnline. A store failure reports the heartbeat as not accepted.
func (t *Tracker) RecordHeartbeat(ctx context.Context, userID string) HeartbeatStatus {
	now := t.conf.Clock()
	prev, loaded := t.lastBeat.Load(userID)
	if loaded && now.Sub(prev.(time.Time)) < t.conf.HeartbeatInterval {
		return HeartbeatRateLimited
	}
	// 抢占本窗口；并发的另一台设备会在这里落败
	if loaded {
		if !t.lastBeat.CompareAndSwap(userID, prev, now) {
			return HeartbeatRateLimited
		}
	} else if _, raced := t.lastBeat.LoadOrStore(userID, now); raced {
		return HeartbeatRateLimited
	}

	err := t.update(ctx, userID, func(rec *Record) *Record {
		if rec == nil {
			return &Record{UserID: userID, LastSeen: now.UnixMilli(), ConnectionCount: 1}
		}
		rec.LastSeen = now.UnixMilli()
		return rec
	})
	if err != nil {
		t.log.Warn("heartbeat failed", zap.String("uid", MaskUserID(userID)), zap.Error(err))
		if loaded {
			t.lastBeat.CompareAndSwap(userID, now, prev)
		} else {
			t.lastBeat.CompareAndDelete(userID, now)
		}
		return HeartbeatRateLimited
	}
	return HeartbeatOK
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	n, err := t.rdb.Exists(ctx, t.key(userID)).Result()
	if err != nil {
		t.log.Warn("presence lookup failed", zap.String("uid", MaskUserID(userID)), zap.Error(err))
		return false
	}
	return n > 0
}

// Get 读取原始记录；不存在或读失败时 ok=false
func (t *Tracker) Get(ctx context.Context, userID string) (Record, bool) {
	raw, err := t.rdb.Get(ctx, t.key(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.log.Warn("presence read failed", zap.String("uid", MaskUserID(userID)), zap.Error(err))
		}
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.log.Warn("corrupt presence record", zap.String("uid", MaskUserID(userID)), zap.Error(err))
		return Record{}, false
	}
	return rec, true
}

func (t *Tracker) LastSeen(ctx context.Context, userID string) (time.Time, bool) {
	rec, ok := t.Get(ctx, userID)
	if !ok {
		return time.Time{}, false
	}
	return rec.LastSeenAt(), true
}

// BulkPresence 每个 id 一次 EXISTS，走一个 pipeline
func (t *Tracker) BulkPresence(ctx context.Context, userIDs []string) map[string]bool {
	out := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out
	}
	cmds := make([]*redis.IntCmd, len(userIDs))
	_, err := t.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range userIDs {
			cmds[i] = p.Exists(ctx, t.key(id))
		}
		return nil
	})
	if err != nil {
		t.log.Warn("bulk presence failed", zap.Int("n", len(userIDs)), zap.Error(err))
	}
	for i, id := range userIDs {
		out[id] = cmds[i].Err() == nil && cmds[i].Val() > 0
	}
	return out
}

// update 在 WATCH 事务里做读-改-写；fn 返回 nil 表示不写
func (t *Tracker) update(ctx context.Context, userID string, fn func(rec *Record) *Record) error {
	key := t.key(userID)
	txf := func(tx *redis.Tx) error {
		var rec *Record
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			rec = &Record{}
			if err := json.Unmarshal(raw, rec); err != nil {
				t.log.Warn("corrupt presence record, resetting", zap.String("uid", MaskUserID(userID)), zap.Error(err))
				rec = nil
			}
		}
		next := fn(rec)
		if next == nil {
			return nil
		}
		b, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, t.conf.TTL)
			return nil
		})
		return err
	}

	for i := 0; i < t.conf.MaxTxRetries; i++ {
		err := t.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

// MaskUserID 日志脱敏：保留前 4 位和后 2 位
func MaskUserID(id string) string {
	if len(id) <= 6 {
		return "***"
	}
	return id[:4] + "***" + id[len(id)-2:]
}
