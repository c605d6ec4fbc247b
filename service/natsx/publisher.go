package natsx

import (
	"context"

	"linkwave/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// HeaderRoomID 原始 roomId；subject 里的 token 可能被替换过
const HeaderRoomID = "Linkwave-Room-Id"

// Publish 发布到 <Subject>.<roomId>。Nats-Msg-Id 设为消息 id，
// 去重窗口内的重发由服务端丢弃。
func (c *Client) Publish(ctx context.Context, key, msgID string, value []byte) error {
	msg := nats.NewMsg(c.subjectFor(key))
	msg.Data = value
	msg.Header.Set(nats.MsgIdHdr, msgID)
	msg.Header.Set(HeaderRoomID, key)

	ack, err := c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errs.ErrPublishFailed.WrapMsg(err.Error(), "key", key)
	}
	if ack.Duplicate {
		c.log.Debug("duplicate publish dropped", zap.String("msgId", msgID))
	}
	return nil
}
