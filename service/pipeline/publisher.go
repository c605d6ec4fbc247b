package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"linkwave/logger"
	"linkwave/module/chat/model"
	"linkwave/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broker is an ordered, keyed message transport. Records with the same key
// are delivered in publish order. Publish returns once the broker has
// acknowledged the record or retries are exhausted.
type Broker interface {
	Publish(ctx context.Context, key, msgID string, value []byte) error
}

type Membership interface {
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
}

// Publisher 发送端：校验、组装消息、按 roomId 发布
type Publisher struct {
	broker  Broker
	members Membership
	now     func() time.Time
	newID   func() string
	log     *zap.Logger
}

func NewPublisher(broker Broker, members Membership) *Publisher {
	return &Publisher{
		broker:  broker,
		members: members,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     logger.Named("pipeline.publisher"),
	}
}

// Send publishes a new message from senderID to roomID and returns it once
// the broker has accepted it. retentionDays may be nil.
func (p *Publisher) Send(ctx context.Context, roomID, senderID, body string, retentionDays *int) (model.ChatMessage, error) {
	if roomID == "" {
		return model.ChatMessage{}, errs.ErrInvalidArgument.WrapMsg("roomId is required")
	}
	if strings.TrimSpace(body) == "" {
		return model.ChatMessage{}, errs.ErrInvalidArgument.WrapMsg("body is empty")
	}
	if len(body) > model.MaxBodyBytes {
		return model.ChatMessage{}, errs.ErrInvalidArgument.WrapMsg("body too large", "bytes", len(body), "max", model.MaxBodyBytes)
	}
	if retentionDays != nil && *retentionDays <= 0 {
		return model.ChatMessage{}, errs.ErrInvalidArgument.WrapMsg("ttlDays must be positive")
	}

	ok, err := p.members.IsMember(ctx, senderID, roomID)
	if err != nil {
		return model.ChatMessage{}, errs.ErrStore.WrapMsg(err.Error(), "op", "isMember")
	}
	if !ok {
		return model.ChatMessage{}, errs.ErrNotRoomMember.WrapMsg("", "roomId", roomID)
	}

	msg := model.ChatMessage{
		MessageID:     p.newID(),
		RoomID:        roomID,
		SenderID:      senderID,
		Body:          body,
		SentAt:        model.Millis(p.now()),
		RetentionDays: retentionDays,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return model.ChatMessage{}, errs.ErrInternal.WrapMsg(err.Error())
	}
	if err := p.broker.Publish(ctx, roomID, msg.MessageID, value); err != nil {
		if errors.Is(err, errs.ErrPublishFailed) {
			return model.ChatMessage{}, err
		}
		return model.ChatMessage{}, errs.ErrPublishFailed.WrapMsg(err.Error(), "messageId", msg.MessageID)
	}
	p.log.Debug("published", zap.String("room", roomID), zap.String("messageId", msg.MessageID))
	return msg, nil
}
