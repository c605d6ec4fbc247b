package gateway

import (
	"encoding/json"

	"linkwave/tools/decode"
	"linkwave/tools/errs"
)

// EventKind is the closed set of inbound events. Anything else parses to
// EventUnknown.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventPing
	EventChatSend
	EventHeartbeat
	EventTypingStart
	EventTypingStop
	EventReadUpTo
	EventReadMessage
)

var eventNames = map[string]EventKind{
	"ping":               EventPing,
	"chat.send":          EventChatSend,
	"presence.heartbeat": EventHeartbeat,
	"typing.start":       EventTypingStart,
	"typing.stop":        EventTypingStop,
	"read.up_to":         EventReadUpTo,
	"read.message":       EventReadMessage,
}

func ParseEventKind(s string) EventKind {
	if k, ok := eventNames[s]; ok {
		return k
	}
	return EventUnknown
}

func (k EventKind) String() string {
	for name, v := range eventNames {
		if v == k {
			return name
		}
	}
	return "unknown"
}

// requirement 每种事件的必填字段
type requirement struct {
	roomID, messageID bool
	payload           []string
}

var requirements = map[EventKind]requirement{
	EventChatSend:    {roomID: true, payload: []string{"body"}},
	EventTypingStart: {roomID: true},
	EventTypingStop:  {roomID: true},
	EventReadUpTo:    {roomID: true, messageID: true},
	EventReadMessage: {roomID: true, messageID: true},
}

// Frame 解析后的上行帧
type Frame struct {
	Kind      EventKind
	Name      string
	RoomID    string
	MessageID string
	Payload   map[string]any
}

type inbound struct {
	Event     string         `json:"event"`
	RoomID    string         `json:"roomId"`
	MessageID string         `json:"messageId"`
	Payload   map[string]any `json:"payload"`
}

// ParseFrame decodes one client frame. Malformed JSON, a missing event name
// or a missing required field of a known event yield errs.ErrProtocol.
func ParseFrame(data []byte) (Frame, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, errs.ErrProtocol.WrapMsg("invalid json")
	}
	if in.Event == "" {
		return Frame{}, errs.ErrProtocol.WrapMsg("missing event")
	}
	f := Frame{
		Kind:      ParseEventKind(in.Event),
		Name:      in.Event,
		RoomID:    in.RoomID,
		MessageID: in.MessageID,
		Payload:   in.Payload,
	}
	req, ok := requirements[f.Kind]
	if !ok {
		return f, nil
	}
	if req.roomID && f.RoomID == "" {
		return f, errs.ErrProtocol.WrapMsg("missing roomId", "event", in.Event)
	}
	if req.messageID && f.MessageID == "" {
		return f, errs.ErrProtocol.WrapMsg("missing messageId", "event", in.Event)
	}
	for _, key := range req.payload {
		if _, err := decode.ReadString(f.Payload, key); err != nil {
			return f, errs.ErrProtocol.WrapMsg("missing payload."+key, "event", in.Event)
		}
	}
	return f, nil
}

// ChatSendPayload chat.send 的 payload
type ChatSendPayload struct {
	Body    string `json:"body"`
	TTLDays *int   `json:"ttlDays"`
}
