package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"linkwave/module/chat/model"
	"linkwave/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventKind(t *testing.T) {
	for name, kind := range eventNames {
		assert.Equal(t, kind, ParseEventKind(name))
		assert.Equal(t, name, kind.String())
	}
	assert.Equal(t, EventUnknown, ParseEventKind("chat.delete"))
	assert.Equal(t, "unknown", EventUnknown.String())
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"chat.send","roomId":"r1","payload":{"body":"hi","ttlDays":2}}`))
	require.NoError(t, err)
	assert.Equal(t, EventChatSend, f.Kind)
	assert.Equal(t, "r1", f.RoomID)
	assert.Equal(t, "hi", f.Payload["body"])

	f, err = ParseFrame([]byte(`{"event":"read.message","roomId":"r1","messageId":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", f.MessageID)

	// 未知事件不是协议错误
	f, err = ParseFrame([]byte(`{"event":"whatever"}`))
	require.NoError(t, err)
	assert.Equal(t, EventUnknown, f.Kind)
	assert.Equal(t, "whatever", f.Name)
}

func TestParseFrameProtocolErrors(t *testing.T) {
	cases := map[string]string{
		"not json":          `hello`,
		"array":             `[1,2]`,
		"no event":          `{"roomId":"r1"}`,
		"typing no room":    `{"event":"typing.stop"}`,
		"send body number":  `{"event":"chat.send","roomId":"r1","payload":{"body":1}}`,
		"send no payload":   `{"event":"chat.send","roomId":"r1"}`,
		"read no messageId": `{"event":"read.message","roomId":"r1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrame([]byte(raw))
			assert.ErrorIs(t, err, errs.ErrProtocol)
		})
	}
}

func TestCloseReasonTruncated(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	reason := closeReason(errs.ErrProtocol.WrapMsg(string(long)))
	assert.Len(t, reason, maxCloseReason)
	assert.Equal(t, "protocol error", closeReason(context.Canceled))

	// 多字节字符不能被截断
	wide := strings.Repeat("字", 50)
	reason = closeReason(errs.ErrProtocol.WrapMsg(wide))
	assert.True(t, utf8.ValidString(reason))
	assert.LessOrEqual(t, len(reason), maxCloseReason)
}

type captureSender struct{ frames [][]byte }

func (c *captureSender) Send(payload []byte) error {
	c.frames = append(c.frames, payload)
	return nil
}

func TestDispatcherIgnoresUnknown(t *testing.T) {
	d := NewDispatcher()
	out := &captureSender{}
	s := NewSession("c1", "alice", out)
	d.Register(pingHandler{now: func() time.Time { return time.UnixMilli(42) }})

	require.NoError(t, d.Dispatch(context.Background(), s, Frame{Kind: EventUnknown, Name: "x"}))
	assert.Empty(t, out.frames)

	require.NoError(t, d.Dispatch(context.Background(), s, Frame{Kind: EventPing, Name: "ping"}))
	require.Len(t, out.frames, 1)
	var env model.Envelope
	require.NoError(t, json.Unmarshal(out.frames[0], &env))
	assert.Equal(t, model.EventPong, env.Event)
	assert.Equal(t, int64(42), env.Timestamp)
}
