package chat

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"linkwave/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrQueueFull  = errors.New("send queue full")
)

// ===== 配置 =====

type WsConnConf struct {
	SendQueue      int           // 每连接发送队列长度
	WriteWait      time.Duration // 单次写超时
	PingInterval   time.Duration // 服务端 ping 周期
	PongWait       time.Duration // 读超时；收到 pong 时续期
	MaxMessageSize int64         // 单帧上限
}

func (c *WsConnConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval * 2
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 << 10
	}
}

type closeFrame struct {
	code   int
	reason string
}

// WsConn 一个 websocket 连接；所有写操作都由 writePump 串行完成
type WsConn struct {
	id     string
	userID string
	conn   *websocket.Conn
	conf   WsConnConf

	CreatedAt time.Time

	send      chan []byte
	closing   chan closeFrame
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewWsConn(id, userID string, ws *websocket.Conn, conf WsConnConf) *WsConn {
	conf.norm()
	return &WsConn{
		id:        id,
		userID:    userID,
		conn:      ws,
		conf:      conf,
		CreatedAt: time.Now(),
		send:      make(chan []byte, conf.SendQueue),
		closing:   make(chan closeFrame, 1),
		done:      make(chan struct{}),
	}
}

func (c *WsConn) ID() string     { return c.id }
func (c *WsConn) UserID() string { return c.userID }
func (c *WsConn) IsOpen() bool   { return !c.closed.Load() }

// Done 写协程退出（底层连接已关闭）后关闭
func (c *WsConn) Done() <-chan struct{} { return c.done }

// Start 设置读参数并启动写协程，只调用一次
func (c *WsConn) Start() {
	c.conn.SetReadLimit(c.conf.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})
	go c.writePump()
}

// ReadFrame 读取下一帧文本/二进制数据，只能由读协程调用
func (c *WsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	}
	return data, err
}

func (c *WsConn) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *WsConn) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(b)
}

func (c *WsConn) Close() error { return c.CloseWithStatus(websocket.CloseNormalClosure, "session closed") }

// CloseReplaced 被同一用户的新连接顶掉
func (c *WsConn) CloseReplaced() error {
	return c.CloseWithStatus(websocket.CloseNormalClosure, "session replaced")
}

// CloseWithStatus 标记关闭并交给写协程发送 close 帧；重复调用无副作用
func (c *WsConn) CloseWithStatus(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closing <- closeFrame{code: code, reason: reason}
	})
	return nil
}

func (c *WsConn) writePump() {
	ticker := time.NewTicker(c.conf.PingInterval)
	defer func() {
		ticker.Stop()
		c.closed.Store(true)
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				logger.Debug("[WS] write payload err", zap.String("conn", c.id), zap.String("uid", c.userID), zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteWait)); err != nil {
				logger.Debug("[WS] ping err", zap.String("conn", c.id), zap.String("uid", c.userID), zap.Error(err))
				return
			}

		case cf := <-c.closing:
			// 先把已入队的帧写完，再发 close
			c.flush()
			msg := websocket.FormatCloseMessage(cf.code, cf.reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.conf.WriteWait))
			return
		}
	}
}

func (c *WsConn) flush() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *WsConn) write(mt int, payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
	return c.conn.WriteMessage(mt, payload)
}
