package kafka

import (
	"context"
	"sync"
	"time"

	"linkwave/logger"
	"linkwave/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Producer 内部是 AsyncProducer，Publish 对调用方是同步的：
// 每条消息带一个结果 channel（放在 Metadata 里），等 broker ack 或最终失败。
type Producer struct {
	ap      sarama.AsyncProducer
	topic   string
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewProducer(c Config) (*Producer, error) {
	cfg, err := BuildConfig(c)
	if err != nil {
		return nil, err
	}
	_ = c.norm()
	ap, err := sarama.NewAsyncProducer(c.Brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newProducer(ap, c), nil
}

func newProducer(ap sarama.AsyncProducer, c Config) *Producer {
	p := &Producer{
		ap:      ap,
		topic:   c.Topic,
		timeout: c.PublishTimeout,
		log:     logger.Named("kafka.producer"),
		done:    make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// dispatch 把 Successes/Errors 回送给等待中的 Publish，两个 channel 都关闭后退出
func (p *Producer) dispatch() {
	defer close(p.done)
	successes, failures := p.ap.Successes(), p.ap.Errors()
	for successes != nil || failures != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			reply(msg, nil)
		case perr, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			p.log.Warn("publish failed",
				zap.String("topic", perr.Msg.Topic),
				zap.Error(perr.Err),
			)
			reply(perr.Msg, perr.Err)
		}
	}
}

func reply(msg *sarama.ProducerMessage, err error) {
	if ch, ok := msg.Metadata.(chan error); ok {
		ch <- err
	}
}

// HeaderMessageID 记录头里携带的消息 id，消费端排查重复投递用
const HeaderMessageID = "message-id"

// Publish 写入 topic，key 决定分区
func (p *Producer) Publish(ctx context.Context, key, msgID string, value []byte) error {
	if _, ok := ctx.Deadline(); !ok && p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result := make(chan error, 1)
	msg := &sarama.ProducerMessage{
		Topic:    p.topic,
		Key:      sarama.StringEncoder(key),
		Value:    sarama.ByteEncoder(value),
		Metadata: result,
		Headers:  []sarama.RecordHeader{
			{Key: []byte(HeaderMessageID), Value: []byte(msgID)},
		},
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errs.ErrPublishFailed.WrapMsg("producer closed", "key", key)
	}
	select {
	case p.ap.Input() <- msg:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return errs.ErrPublishFailed.WrapMsg(ctx.Err().Error(), "key", key)
	}

	select {
	case err := <-result:
		if err != nil {
			return errs.ErrPublishFailed.WrapMsg(err.Error(), "key", key)
		}
		return nil
	case <-ctx.Done():
		// 结果可能稍后到达，result 有缓冲不会阻塞 dispatch
		return errs.ErrPublishFailed.WrapMsg(ctx.Err().Error(), "key", key)
	}
}

// Close 先 flush 再退出；重复调用是安全的
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	p.ap.AsyncClose()
	p.mu.Unlock()
	<-p.done
	return nil
}
