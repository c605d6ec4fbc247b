package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"linkwave/logger"
	"linkwave/tools/safe"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Consumer runs a consumer group over the router's topics. Messages of one
// partition are handled one at a time, in offset order.
type Consumer struct {
	group   sarama.ConsumerGroup
	router  *Router
	backoff time.Duration
	log     *zap.Logger
}

func NewConsumer(c Config, router *Router) (*Consumer, error) {
	cfg, err := BuildConfig(c)
	if err != nil {
		return nil, err
	}
	_ = c.norm()
	group, err := sarama.NewConsumerGroup(c.Brokers, c.GroupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		group:   group,
		router:  router,
		backoff: c.RebalanceBackoff,
		log:     logger.Named("kafka.consumer"),
	}, nil
}

// Run 阻塞到 ctx 取消。handler 出错时会话结束，退避后重新加入消费组，
// 从最后提交的 offset 继续。
func (c *Consumer) Run(ctx context.Context) error {
	topics := c.router.Topics()
	if len(topics) == 0 {
		return errors.New("kafka consumer: no topics registered")
	}

	safe.SafeGo("kafka.consumer.errors", func() {
		for err := range c.group.Errors() {
			c.log.Warn("consumer group error", zap.Error(err))
		}
	})

	h := &groupHandler{router: c.router, log: c.log}
	for {
		err := c.group.Consume(ctx, topics, h)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			c.log.Warn("consume returned", zap.Error(err))
		}
		if err != nil || h.takeFailed() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	router *Router
	log    *zap.Logger
	failed atomic.Bool
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group setup", zap.Int32("generation", sess.GenerationID()))
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group cleanup")
	return nil
}

// ConsumeClaim 只有处理成功才 MarkMessage；失败直接返回，让 sarama 结束本次会话
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			handler, err := h.router.Lookup(msg.Topic)
			if err != nil {
				h.log.Error("drop message", zap.String("topic", msg.Topic), zap.Error(err))
				sess.MarkMessage(msg, "")
				continue
			}
			if err := handler(sess.Context(), msg.Key, msg.Value); err != nil {
				h.log.Warn("handle failed, offset not committed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
				h.failed.Store(true)
				return err
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (h *groupHandler) takeFailed() bool {
	return h.failed.Swap(false)
}
