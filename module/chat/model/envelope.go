package model

import "encoding/json"

// 下行事件名
const (
	EventPong          = "pong"
	EventChatSent      = "chat.sent"
	EventChatReceive   = "chat.receive"
	EventHeartbeatAck  = "presence.heartbeat.ack"
	EventTyping        = "typing.event"
	EventReadReceipt   = "read.receipt"
	EventConnectionAck = "connection.ack"
	EventError         = "error"
)

// Envelope 一帧 JSON；上下行共用
type Envelope struct {
	Event     string          `json:"event"`
	RoomID    string          `json:"roomId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Status    string          `json:"status,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Out 构造下行帧；payload 为 nil 时不带 payload 字段
func Out(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Payload = b
	return env, nil
}

// ChatReceive 推给房间成员的新消息帧
func ChatReceive(m ChatMessage) ([]byte, error) {
	env, err := Out(EventChatReceive, m)
	if err != nil {
		return nil, err
	}
	env.RoomID = m.RoomID
	env.MessageID = m.MessageID
	return json.Marshal(env)
}

type TypingPayload struct {
	Action    string `json:"action"`
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
}

type ReceiptPayload struct {
	ReaderID  string `json:"readerId"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type SentPayload struct {
	MessageID string `json:"messageId"`
}
