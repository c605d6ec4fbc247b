package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"linkwave/module/chat/model"
	"linkwave/service/receipt"
	"linkwave/tools/errs"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupStore 需要真实的 PostgreSQL；未设置 LINKWAVE_TEST_POSTGRES_URL 时跳过
func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LINKWAVE_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("Skipping test: LINKWAVE_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := Open(ctx, Config{DSN: dsn, Migrate: true})
	if err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewStore(pool)
}

func msgAt(room string, ms int64) model.ChatMessage {
	return model.ChatMessage{
		MessageID: uuid.NewString(),
		RoomID:    room,
		SenderID:  "sender",
		Body:      "hello",
		SentAt:    time.UnixMilli(ms).UTC(),
	}
}

func TestSaveMessageIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	room := "room-" + uuid.NewString()
	m := msgAt(room, 1_000)

	require.NoError(t, s.SaveMessage(ctx, m))
	require.NoError(t, s.SaveMessage(ctx, m))

	got, err := s.RecentMessages(ctx, room, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.MessageID, got[0].MessageID)
	assert.True(t, m.SentAt.Equal(got[0].SentAt))
	assert.Equal(t, model.DefaultRetentionDays, got[0].Retention())

	roomID, sentAt, err := s.RoomOf(ctx, m.MessageID)
	require.NoError(t, err)
	assert.Equal(t, room, roomID)
	assert.True(t, m.SentAt.Equal(sentAt))

	_, _, err = s.RoomOf(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, errs.ErrMessageNotFound))
}

func TestReceiptQueries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	room := "room-" + uuid.NewString()
	m1, m2, m3 := msgAt(room, 100), msgAt(room, 200), msgAt(room, 300)
	for _, m := range []model.ChatMessage{m1, m2, m3} {
		require.NoError(t, s.SaveMessage(ctx, m))
	}

	_, ok, err := s.FindMaxReadTimestamp(ctx, room, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := s.FindUnreadMessageIDs(ctx, room, "alice", m3.SentAt, nil, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{m1.MessageID, m2.MessageID, m3.MessageID}, ids)

	r := model.ReadReceipt{MessageID: m2.MessageID, RoomID: room, ReaderID: "alice", ReadAt: time.Now().UTC()}
	require.NoError(t, s.InsertReceipt(ctx, r))
	assert.ErrorIs(t, s.InsertReceipt(ctx, r), receipt.ErrDuplicate)

	exists, err := s.ReceiptExists(ctx, m2.MessageID, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	maxTS, ok, err := s.FindMaxReadTimestamp(ctx, room, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m2.SentAt.Equal(maxTS))

	ids, err = s.FindUnreadMessageIDs(ctx, room, "alice", m3.SentAt, &maxTS, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{m3.MessageID}, ids)

	batch := []model.ReadReceipt{
		{MessageID: m3.MessageID, RoomID: room, ReaderID: "alice", ReadAt: time.Now().UTC()},
		{MessageID: m3.MessageID, RoomID: room, ReaderID: "bob", ReadAt: time.Now().UTC()},
	}
	inserted, err := s.InsertReceipts(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	// 重复的批次什么都不写，也不返回
	inserted, err = s.InsertReceipts(ctx, append(batch, model.ReadReceipt{
		MessageID: m1.MessageID, RoomID: room, ReaderID: "bob", ReadAt: time.Now().UTC(),
	}))
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, m1.MessageID, inserted[0].MessageID)

	readers, err := s.Readers(ctx, m3.MessageID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, readers)
	n, err := s.CountReaders(ctx, m3.MessageID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMembership(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	room := "room-" + uuid.NewString()

	require.NoError(t, s.AddMember(ctx, room, "bob"))
	require.NoError(t, s.AddMember(ctx, room, "alice"))
	require.NoError(t, s.AddMember(ctx, room, "alice"))

	ok, err := s.IsMember(ctx, "alice", room)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsMember(ctx, "mallory", room)
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := s.MembersOf(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)
}
