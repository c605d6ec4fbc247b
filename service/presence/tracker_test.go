package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(rdb, Conf{Prefix: "test", Clock: clock.Now, MaxTxRetries: 100})
	return tr, mr, clock
}

func readRecord(t *testing.T, mr *miniredis.Miniredis, userID string) Record {
	t.Helper()
	raw, err := mr.Get("test:presence:" + userID)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec
}

func TestMarkOnlineCountsConnections(t *testing.T) {
	tr, mr, _ := newTestTracker(t)
	ctx := context.Background()

	tr.MarkOnline(ctx, "alice")
	tr.MarkOnline(ctx, "alice")

	rec := readRecord(t, mr, "alice")
	assert.Equal(t, 2, rec.ConnectionCount)
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, 75*time.Second, mr.TTL("test:presence:alice"))
	assert.True(t, tr.IsOnline(ctx, "alice"))
}

func TestMarkDisconnectNeverNegativeAndKeepsKey(t *testing.T) {
	tr, mr, _ := newTestTracker(t)
	ctx := context.Background()

	tr.MarkOnline(ctx, "alice")
	for i := 0; i < 3; i++ {
		tr.MarkDisconnect(ctx, "alice")
	}

	rec := readRecord(t, mr, "alice")
	assert.Equal(t, 0, rec.ConnectionCount)
	assert.True(t, tr.IsOnline(ctx, "alice"), "key stays until TTL")

	mr.FastForward(76 * time.Second)
	assert.False(t, tr.IsOnline(ctx, "alice"))
}

func TestMarkDisconnectWithoutRecordIsNoop(t *testing.T) {
	tr, mr, _ := newTestTracker(t)
	tr.MarkDisconnect(context.Background(), "ghost")
	assert.False(t, mr.Exists("test:presence:ghost"))
}

func TestHeartbeatRateLimit(t *testing.T) {
	tr, mr, clock := newTestTracker(t)
	ctx := context.Background()

	// 没有记录时心跳等同上线
	assert.Equal(t, HeartbeatOK, tr.RecordHeartbeat(ctx, "bob"))
	assert.Equal(t, 1, readRecord(t, mr, "bob").ConnectionCount)

	clock.Advance(5 * time.Second)
	assert.Equal(t, HeartbeatRateLimited, tr.RecordHeartbeat(ctx, "bob"))
	assert.Equal(t, clock.now.Add(-5*time.Second).UnixMilli(), readRecord(t, mr, "bob").LastSeen)

	clock.Advance(16 * time.Second)
	mr.FastForward(21 * time.Second)
	assert.Equal(t, HeartbeatOK, tr.RecordHeartbeat(ctx, "bob"))
	rec := readRecord(t, mr, "bob")
	assert.Equal(t, clock.Now().UnixMilli(), rec.LastSeen)
	assert.Equal(t, 1, rec.ConnectionCount)
	assert.Equal(t, 75*time.Second, mr.TTL("test:presence:bob"))
}

func TestHeartbeatStoreFailureNotAccepted(t *testing.T) {
	tr, mr, _ := newTestTracker(t)
	mr.SetError("ERR simulated outage")
	assert.Equal(t, HeartbeatRateLimited, tr.RecordHeartbeat(context.Background(), "carol"))
	mr.SetError("")
	// 失败不占用窗口
	assert.Equal(t, HeartbeatOK, tr.RecordHeartbeat(context.Background(), "carol"))
}

func TestLastSeenAndBulk(t *testing.T) {
	tr, _, clock := newTestTracker(t)
	ctx := context.Background()

	tr.MarkOnline(ctx, "alice")
	seen, ok := tr.LastSeen(ctx, "alice")
	require.True(t, ok)
	assert.True(t, clock.Now().Equal(seen))

	_, ok = tr.LastSeen(ctx, "nobody")
	assert.False(t, ok)

	got := tr.BulkPresence(ctx, []string{"alice", "nobody"})
	assert.Equal(t, map[string]bool{"alice": true, "nobody": false}, got)
	assert.Empty(t, tr.BulkPresence(ctx, nil))
}

func TestConcurrentMarkOnlineNoLostUpdates(t *testing.T) {
	tr, mr, _ := newTestTracker(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.MarkOnline(ctx, "dave")
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, readRecord(t, mr, "dave").ConnectionCount)
}

func TestMaskUserID(t *testing.T) {
	assert.Equal(t, "***", MaskUserID("abc"))
	assert.Equal(t, "user***89", MaskUserID("user-123456789"))
	assert.Equal(t, "ok", HeartbeatOK.String())
	assert.Equal(t, "rate_limited", HeartbeatRateLimited.String())
}
