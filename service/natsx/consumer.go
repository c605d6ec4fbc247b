package natsx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Handler 处理一条消息；返回 error 时消息被 NAK，延迟后重投
type Handler func(ctx context.Context, key, value []byte) error

// Consume 拉取消费直到 ctx 取消。消费者是显式创建的 durable，
// 退出时只解绑订阅，不删除消费者。
func (c *Client) Consume(ctx context.Context, h Handler) error {
	_, err := c.js.AddConsumer(c.cfg.Stream, &nats.ConsumerConfig{
		Durable:       c.cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxAckPending: c.cfg.FetchBatch,
		DeliverPolicy: nats.DeliverAllPolicy,
		FilterSubject: c.cfg.Subject + ".>",
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return err
	}

	sub, err := c.js.PullSubscribe("", c.cfg.Durable, nats.Bind(c.cfg.Stream, c.cfg.Durable))
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(c.cfg.FetchBatch, nats.MaxWait(c.cfg.FetchWait))
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return nil
			}
			c.log.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		c.handleBatch(ctx, msgs, h)
	}
}

// handleBatch 顺序处理；一条失败后本批剩余消息一起 NAK，避免同一房间乱序
func (c *Client) handleBatch(ctx context.Context, msgs []*nats.Msg, h Handler) {
	for i, m := range msgs {
		if err := h(ctx, []byte(c.keyOf(m)), m.Data); err != nil {
			c.log.Warn("handle failed, nak",
				zap.String("subject", m.Subject),
				zap.Int("pending", len(msgs)-i),
				zap.Error(err),
			)
			for _, rest := range msgs[i:] {
				_ = rest.NakWithDelay(c.cfg.NakDelay)
			}
			return
		}
		if err := m.Ack(); err != nil {
			c.log.Warn("ack failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}
}

func (c *Client) keyOf(m *nats.Msg) string {
	if room := m.Header.Get(HeaderRoomID); room != "" {
		return room
	}
	return strings.TrimPrefix(m.Subject, c.cfg.Subject+".")
}
