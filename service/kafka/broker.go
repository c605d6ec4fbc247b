package kafka

import (
	"context"
	"errors"
	"sync"
)

// Broker 生产者 + 按需创建的消费组，组合根只持有这一个对象
type Broker struct {
	*Producer
	conf Config

	mu       sync.Mutex
	consumer *Consumer
	closed   bool
}

func NewBroker(c Config) (*Broker, error) {
	if err := c.norm(); err != nil {
		return nil, err
	}
	p, err := NewProducer(c)
	if err != nil {
		return nil, err
	}
	return &Broker{Producer: p, conf: c}, nil
}

// Consume 在配置的 topic 上加入消费组，阻塞到 ctx 取消或 Close
func (b *Broker) Consume(ctx context.Context, h Handler) error {
	router := NewRouter()
	router.Handle(b.conf.Topic, h)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("kafka broker closed")
	}
	if b.consumer != nil {
		b.mu.Unlock()
		return errors.New("kafka broker already consuming")
	}
	c, err := NewConsumer(b.conf, router)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.consumer = c
	b.mu.Unlock()

	return c.Run(ctx)
}

// Close 先退出消费组，再 flush 生产者
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true
	c := b.consumer
	b.mu.Unlock()

	var errList []error
	if c != nil {
		errList = append(errList, c.Close())
	}
	errList = append(errList, b.Producer.Close())
	return errors.Join(errList...)
}
