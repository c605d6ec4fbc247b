package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ===== 常量 =====
const (
	MaxBodyBytes         = 4096 // 单条消息正文上限
	DefaultRetentionDays = 7    // 未指定保留期时的默认值
)

// ChatMessage 一条聊天消息；从发送端经 broker 原样传到消费端
// sentAt <= deliveredAt <= readAt（后两者存在时）
type ChatMessage struct {
	MessageID     string
	RoomID        string
	SenderID      string
	Body          string
	SentAt        time.Time
	DeliveredAt   *time.Time
	ReadAt        *time.Time
	RetentionDays *int
}

// wire 格式：时间戳统一用毫秒
type chatMessageWire struct {
	MessageID   string `json:"messageId"`
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	Body        string `json:"body"`
	SentAt      int64  `json:"sentAt"`
	DeliveredAt *int64 `json:"deliveredAt,omitempty"`
	ReadAt      *int64 `json:"readAt,omitempty"`
	TTLDays     *int   `json:"ttlDays,omitempty"`
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(chatMessageWire{
		MessageID:   m.MessageID,
		RoomID:      m.RoomID,
		SenderID:    m.SenderID,
		Body:        m.Body,
		SentAt:      m.SentAt.UnixMilli(),
		DeliveredAt: millisPtr(m.DeliveredAt),
		ReadAt:      millisPtr(m.ReadAt),
		TTLDays:     m.RetentionDays,
	})
}

func (m *ChatMessage) UnmarshalJSON(b []byte) error {
	var w chatMessageWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = ChatMessage{
		MessageID:     w.MessageID,
		RoomID:        w.RoomID,
		SenderID:      w.SenderID,
		Body:          w.Body,
		SentAt:        time.UnixMilli(w.SentAt).UTC(),
		DeliveredAt:   timePtr(w.DeliveredAt),
		ReadAt:        timePtr(w.ReadAt),
		RetentionDays: w.TTLDays,
	}
	return nil
}

// Retention 返回保留天数，未设置时取默认值
func (m ChatMessage) Retention() int {
	if m.RetentionDays == nil || *m.RetentionDays <= 0 {
		return DefaultRetentionDays
	}
	return *m.RetentionDays
}

// Valid 校验 broker 上收到的消息是否可落库
func (m ChatMessage) Valid() bool {
	return m.MessageID != "" && m.RoomID != "" && m.SenderID != "" &&
		strings.TrimSpace(m.Body) != "" && !m.SentAt.IsZero()
}

// Millis 当前时间截断到毫秒，保证经过 JSON/DB 往返后仍可比较
func Millis(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
