package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessageWireUsesMillis(t *testing.T) {
	sent := time.Date(2024, 5, 1, 12, 0, 0, 123_000_000, time.UTC)
	msg := ChatMessage{MessageID: "m1", RoomID: "r1", SenderID: "u1", Body: "hi", SentAt: sent}

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, float64(sent.UnixMilli()), raw["sentAt"])
	assert.NotContains(t, raw, "ttlDays")

	var back ChatMessage
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, sent.Equal(back.SentAt))
	assert.Equal(t, DefaultRetentionDays, back.Retention())
}

func TestChatMessageValid(t *testing.T) {
	ok := ChatMessage{MessageID: "m", RoomID: "r", SenderID: "s", Body: "b", SentAt: time.Now()}
	assert.True(t, ok.Valid())

	blank := ok
	blank.Body = "   "
	assert.False(t, blank.Valid())

	noTime := ok
	noTime.SentAt = time.Time{}
	assert.False(t, noTime.Valid())
}

func TestChatReceiveFrame(t *testing.T) {
	m := ChatMessage{
		MessageID: "m1",
		RoomID:    "r1",
		SenderID:  "alice",
		Body:      "hi",
		SentAt:    time.UnixMilli(1_700_000_000_123).UTC(),
	}
	b, err := ChatReceive(m)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	assert.Equal(t, EventChatReceive, env.Event)
	assert.Equal(t, "r1", env.RoomID)
	assert.Equal(t, "m1", env.MessageID)

	var got ChatMessage
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, m.Body, got.Body)
	assert.True(t, m.SentAt.Equal(got.SentAt))
}

func TestOutWithoutPayload(t *testing.T) {
	env, err := Out(EventPong, nil)
	require.NoError(t, err)
	env.Timestamp = 42
	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pong","timestamp":42}`, string(b))
}
