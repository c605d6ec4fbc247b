package gateway

import (
	"context"
	"encoding/json"

	"linkwave/logger"
	"linkwave/module/chat/model"

	"go.uber.org/zap"
)

// Sender 下行通道；WsConn 是生产实现
type Sender interface {
	Send(payload []byte) error
}

// Session 一个连接在读循环里的上下文
type Session struct {
	ConnID string
	UserID string
	out    Sender
}

func NewSession(connID, userID string, out Sender) *Session {
	return &Session{ConnID: connID, UserID: userID, out: out}
}

// Reply 回给当前连接；发送失败只记日志
func (s *Session) Reply(env model.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		logger.Error("[Gateway] encode reply", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if err := s.out.Send(b); err != nil {
		logger.Debug("[Gateway] reply dropped", zap.String("conn", s.ConnID), zap.Error(err))
	}
}

type Handler interface {
	Kind() EventKind
	Handle(ctx context.Context, s *Session, f Frame) error
}

// Dispatcher 按事件类型分发；一个连接的帧在读协程里顺序处理
type Dispatcher struct {
	handlers map[EventKind]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventKind]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Kind()] = h }

// Dispatch ignores unknown events and events without a handler.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, f Frame) error {
	h, ok := d.handlers[f.Kind]
	if !ok {
		logger.Info("[Gateway] ignore event",
			zap.String("event", f.Name),
			zap.String("conn", s.ConnID),
		)
		return nil
	}
	return h.Handle(ctx, s, f)
}
