package gateway

import (
	"context"
	"time"

	"linkwave/logger"
	"linkwave/module/chat/model"
	"linkwave/service/chat"
	"linkwave/service/pipeline"
	"linkwave/service/presence"
	"linkwave/service/receipt"
	"linkwave/service/typing"
	"linkwave/tools/decode"
	"linkwave/tools/errs"

	"go.uber.org/zap"
)

// ---- ping ----

type pingHandler struct {
	now func() time.Time
}

func (pingHandler) Kind() EventKind { return EventPing }

func (h pingHandler) Handle(_ context.Context, s *Session, _ Frame) error {
	s.Reply(model.Envelope{Event: model.EventPong, Timestamp: h.now().UnixMilli()})
	return nil
}

// ---- chat.send ----

type chatSendHandler struct {
	pub *pipeline.Publisher
}

func (chatSendHandler) Kind() EventKind { return EventChatSend }

func (h chatSendHandler) Handle(ctx context.Context, s *Session, f Frame) error {
	p, err := decode.DecodeMap[ChatSendPayload](f.Payload)
	if err != nil {
		return errs.ErrProtocol.WrapMsg("bad chat.send payload")
	}
	msg, err := h.pub.Send(ctx, f.RoomID, s.UserID, p.Body, p.TTLDays)
	if err != nil {
		return err
	}
	env, _ := model.Out(model.EventChatSent, model.SentPayload{MessageID: msg.MessageID})
	s.Reply(env)
	return nil
}

// ---- presence.heartbeat ----

type heartbeatHandler struct {
	presence *presence.Tracker
}

func (heartbeatHandler) Kind() EventKind { return EventHeartbeat }

func (h heartbeatHandler) Handle(ctx context.Context, s *Session, _ Frame) error {
	status := h.presence.RecordHeartbeat(ctx, s.UserID)
	s.Reply(model.Envelope{Event: model.EventHeartbeatAck, Status: status.String()})
	return nil
}

// ---- typing.start / typing.stop ----

type typingHandler struct {
	kind    EventKind
	typing  *typing.Manager
	members pipeline.Membership
	fanout  *chat.Fanout
	now     func() time.Time
}

func (h typingHandler) Kind() EventKind { return h.kind }

func (h typingHandler) Handle(ctx context.Context, s *Session, f Frame) error {
	ok, err := h.members.IsMember(ctx, s.UserID, f.RoomID)
	if err != nil {
		return errs.ErrStore.WrapMsg(err.Error(), "op", "isMember")
	}
	if !ok {
		return errs.ErrNotRoomMember.WrapMsg("", "roomId", f.RoomID)
	}

	action := "start"
	changed := false
	if h.kind == EventTypingStart {
		changed = h.typing.MarkStart(f.RoomID, s.UserID, s.ConnID)
	} else {
		action = "stop"
		changed = h.typing.MarkStop(f.RoomID, s.UserID, s.ConnID)
	}
	if !changed {
		// 限流或本来就没在输入，不广播
		return nil
	}
	broadcastTyping(ctx, h.fanout, f.RoomID, s.UserID, action, h.now())
	return nil
}

func broadcastTyping(ctx context.Context, fanout *chat.Fanout, roomID, userID, action string, at time.Time) {
	env, err := model.Out(model.EventTyping, model.TypingPayload{
		Action:    action,
		SenderID:  userID,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		return
	}
	env.RoomID = roomID
	if _, err := fanout.ToRoomJSON(ctx, roomID, env, userID); err != nil {
		logger.Warn("[Gateway] typing broadcast failed", zap.String("room", roomID), zap.Error(err))
	}
}

// ---- read.up_to / read.message ----

type readUpToHandler struct {
	receipts *receipt.Service
	fanout   *chat.Fanout
}

func (readUpToHandler) Kind() EventKind { return EventReadUpTo }

func (h readUpToHandler) Handle(ctx context.Context, s *Session, f Frame) error {
	rs, err := h.receipts.MarkReadUpTo(ctx, f.RoomID, f.MessageID, s.UserID)
	if err != nil {
		return err
	}
	for _, r := range rs {
		broadcastReceipt(ctx, h.fanout, r)
	}
	return nil
}

type readMessageHandler struct {
	receipts *receipt.Service
	fanout   *chat.Fanout
}

func (readMessageHandler) Kind() EventKind { return EventReadMessage }

func (h readMessageHandler) Handle(ctx context.Context, s *Session, f Frame) error {
	res, err := h.receipts.MarkRead(ctx, f.MessageID, f.RoomID, s.UserID)
	if err != nil {
		return err
	}
	switch r := res.(type) {
	case receipt.NewRead:
		broadcastReceipt(ctx, h.fanout, r.Receipt)
	case receipt.AlreadyRead:
		// 已读过，什么都不做
	}
	return nil
}

func broadcastReceipt(ctx context.Context, fanout *chat.Fanout, r model.ReadReceipt) {
	env, err := model.Out(model.EventReadReceipt, model.ReceiptPayload{
		ReaderID:  r.ReaderID,
		Timestamp: r.ReadAt.UnixMilli(),
	})
	if err != nil {
		return
	}
	env.RoomID = r.RoomID
	env.MessageID = r.MessageID
	if _, err := fanout.ToRoomJSON(ctx, r.RoomID, env, r.ReaderID); err != nil {
		logger.Warn("[Gateway] receipt broadcast failed", zap.String("room", r.RoomID), zap.Error(err))
	}
}
