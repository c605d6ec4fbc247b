package natsx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"linkwave/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config 客户端与 JetStream 流的配置
type Config struct {
	Servers         []string
	Name            string
	User            string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	Stream          string
	Subject         string // 房间消息发布到 <Subject>.<roomId>
	Durable         string
	AckWait         time.Duration
	NakDelay        time.Duration
	FetchBatch      int
	FetchWait       time.Duration
	DuplicateWindow time.Duration
}

func (c *Config) norm() error {
	if len(c.Servers) == 0 {
		return errors.New("nats servers missing")
	}
	if c.Name == "" {
		c.Name = "linkwave"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.Stream == "" {
		c.Stream = "CHAT_MESSAGES"
	}
	if c.Subject == "" {
		c.Subject = "chat.messages"
	}
	if c.Durable == "" {
		c.Durable = "linkwave-chat"
	}
	if c.AckWait == 0 {
		c.AckWait = 30 * time.Second
	}
	if c.NakDelay == 0 {
		c.NakDelay = 2 * time.Second
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 64
	}
	if c.FetchWait == 0 {
		c.FetchWait = 500 * time.Millisecond
	}
	if c.DuplicateWindow == 0 {
		c.DuplicateWindow = 2 * time.Minute
	}
	return nil
}

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

// Connect 连接 NATS 并确保流存在
func Connect(cfg Config) (*Client, error) {
	if err := cfg.norm(); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	log := logger.Named("natsx")
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	c := &Client{cfg: cfg, nc: nc, js: js, log: log}
	if err := c.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureStream() error {
	_, err := c.js.StreamInfo(c.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:       c.cfg.Stream,
		Subjects:   []string{c.cfg.Subject + ".>"},
		Storage:    nats.FileStorage,
		Duplicates: c.cfg.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	c.log.Info("stream created", zap.String("stream", c.cfg.Stream))
	return nil
}

// Close 优雅关闭：先 drain 再断开
func (c *Client) Close() error {
	if c == nil || c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

// subjectFor 房间 id 里的通配符和分隔符替换掉，保证是单个 token
func (c *Client) subjectFor(roomID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, roomID)
	return c.cfg.Subject + "." + token
}
