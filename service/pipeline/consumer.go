package pipeline

import (
	"context"
	"encoding/json"

	"linkwave/logger"
	"linkwave/module/chat/model"
	"linkwave/service/chat"
	"linkwave/tools/errs"

	"go.uber.org/zap"
)

// MessageStore persists consumed messages. SaveMessage must be idempotent on
// messageId because the broker delivers at least once.
type MessageStore interface {
	SaveMessage(ctx context.Context, m model.ChatMessage) error
}

// Consumer 消费端：落库后推给房间成员
type Consumer struct {
	store  MessageStore
	fanout *chat.Fanout
	log    *zap.Logger
}

func NewConsumer(store MessageStore, fanout *chat.Fanout) *Consumer {
	return &Consumer{store: store, fanout: fanout, log: logger.Named("pipeline.consumer")}
}

// Handle has the signature both broker drivers expect. A nil return commits
// the record; an error leaves it for redelivery.
func (c *Consumer) Handle(ctx context.Context, key, value []byte) error {
	var msg model.ChatMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		// 永远不会成功的消息，记日志后直接确认
		c.log.Error("poison message dropped", zap.ByteString("key", key), zap.Error(err))
		return nil
	}
	if !msg.Valid() {
		c.log.Error("invalid message dropped",
			zap.ByteString("key", key),
			zap.String("messageId", msg.MessageID),
		)
		return nil
	}
	if len(key) > 0 && string(key) != msg.RoomID {
		c.log.Warn("key does not match roomId", zap.ByteString("key", key), zap.String("room", msg.RoomID))
	}

	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return errs.ErrStore.WrapMsg(err.Error(), "op", "saveMessage", "messageId", msg.MessageID)
	}

	frame, err := model.ChatReceive(msg)
	if err != nil {
		c.log.Error("encode chat.receive", zap.String("messageId", msg.MessageID), zap.Error(err))
		return nil
	}
	n, err := c.fanout.ToRoom(ctx, msg.RoomID, frame)
	if err != nil {
		// 已落库，重投只会重复推送
		return errs.ErrStore.WrapMsg(err.Error(), "op", "membersOf", "room", msg.RoomID)
	}
	c.log.Debug("delivered",
		zap.String("room", msg.RoomID),
		zap.String("messageId", msg.MessageID),
		zap.Int("online", n),
	)
	return nil
}
