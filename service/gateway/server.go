package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"linkwave/logger"
	"linkwave/middleware"
	midsec "linkwave/middleware/security"
	"linkwave/module/chat/model"
	"linkwave/service/chat"
	"linkwave/service/pipeline"
	"linkwave/service/presence"
	"linkwave/service/receipt"
	"linkwave/service/typing"
	"linkwave/tools/errs"
	"linkwave/tools/ids"
	"linkwave/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	frameTimeout   = 5 * time.Second
	cleanupTimeout = 2 * time.Second
	maxCloseReason = 120 // close 帧 reason 上限 123 字节
)

// Rooms 成员关系与历史消息；由存储层实现
type Rooms interface {
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
	MembersOf(ctx context.Context, roomID string) ([]string, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error)
}

// Deps 由组合根构建后注入
type Deps struct {
	Registry       *chat.Registry
	Presence       *presence.Tracker
	Typing         *typing.Manager
	Receipts       *receipt.Service
	Publisher      *pipeline.Publisher
	Rooms          Rooms
	Resolver       midsec.Resolver
	Conn           chat.WsConnConf
	AllowedOrigins []string
	Clock          func() time.Time
}

// Gateway owns the WebSocket endpoint and the REST surface. Each accepted
// socket gets one reader goroutine running the event loop below plus the
// write pump owned by chat.WsConn.
type Gateway struct {
	deps     Deps
	fanout   *chat.Fanout
	disp     *Dispatcher
	upgrader websocket.Upgrader
	base     context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
	log      *zap.Logger
}

func New(d Deps) *Gateway {
	safe.MustNotNil(d.Registry, "Registry")
	safe.MustNotNil(d.Presence, "Presence")
	safe.MustNotNil(d.Typing, "Typing")
	safe.MustNotNil(d.Receipts, "Receipts")
	safe.MustNotNil(d.Publisher, "Publisher")
	safe.MustNotNil(d.Rooms, "Rooms")
	safe.MustNotNil(d.Resolver, "Resolver")
	if d.Clock == nil {
		d.Clock = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		deps:   d,
		fanout: chat.NewFanout(d.Registry, d.Rooms),
		disp:   NewDispatcher(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin 由 middleware.Origin 检查
			CheckOrigin: func(*http.Request) bool { return true },
		},
		base:   base,
		cancel: cancel,
		log:    logger.Named("gateway"),
	}

	g.disp.Register(pingHandler{now: d.Clock})
	g.disp.Register(chatSendHandler{pub: d.Publisher})
	g.disp.Register(heartbeatHandler{presence: d.Presence})
	g.disp.Register(typingHandler{kind: EventTypingStart, typing: d.Typing, members: d.Rooms, fanout: g.fanout, now: d.Clock})
	g.disp.Register(typingHandler{kind: EventTypingStop, typing: d.Typing, members: d.Rooms, fanout: g.fanout, now: d.Clock})
	g.disp.Register(readUpToHandler{receipts: d.Receipts, fanout: g.fanout})
	g.disp.Register(readMessageHandler{receipts: d.Receipts, fanout: g.fanout})
	return g
}

// Fanout 供消费端复用同一个注册表
func (g *Gateway) Fanout() *chat.Fanout { return g.fanout }

// Shutdown cancels in-flight frame handling, closes every registered socket
// and waits until their cleanup has run or ctx expires.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.cancel()
	n := g.deps.Registry.CloseAll()
	g.log.Info("shutting down", zap.Int("connections", n))

	done := make(chan struct{})
	go func() {
		g.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Engine 组装 gin 路由
func (g *Gateway) Engine() *gin.Engine {
	r := gin.New()
	mids := middleware.NewManager()
	mids.Add(middleware.Recovery())
	mids.Add(middleware.AccessLog())
	mids.Add(middleware.Origin(g.deps.AllowedOrigins))
	r.Use(mids.Handlers()...)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ws", g.ServeWS)
	g.mountAPI(r.Group("/api/v1"))
	return r
}

// ServeWS 握手前解析身份；失败 401，不升级
func (g *Gateway) ServeWS(c *gin.Context) {
	uid, err := g.deps.Resolver.Resolve(c.Request)
	if err != nil || uid == "" {
		g.log.Info("handshake rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":   errs.CodeUnauthorized,
			"reason": "unauthenticated",
		})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		g.log.Info("upgrade failed", zap.Error(err))
		return
	}

	g.sessions.Add(1)
	defer g.sessions.Done()

	conn := chat.NewWsConn(ids.GenerateString(), uid, ws, g.deps.Conn)
	conn.Start()
	g.deps.Registry.Register(uid, conn)

	ctx, cancel := context.WithTimeout(g.base, frameTimeout)
	g.deps.Presence.MarkOnline(ctx, uid)
	cancel()

	g.log.Info("connected", zap.String("conn", conn.ID()), zap.String("uid", presence.MaskUserID(uid)))
	_ = conn.SendJSON(model.Envelope{Event: model.EventConnectionAck, Status: "connected"})

	g.readLoop(conn)
	g.cleanup(conn)
}

func (g *Gateway) readLoop(conn *chat.WsConn) {
	sess := NewSession(conn.ID(), conn.UserID(), conn)
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			g.logReadErr(conn, err)
			return
		}

		f, err := ParseFrame(data)
		if err == nil {
			ctx, cancel := context.WithTimeout(g.base, frameTimeout)
			err = g.disp.Dispatch(ctx, sess, f)
			cancel()
		}
		if err != nil && !g.handleErr(conn, sess, f, err) {
			return
		}
	}
}

// handleErr 返回 false 表示连接已关闭，读循环退出
func (g *Gateway) handleErr(conn *chat.WsConn, sess *Session, f Frame, err error) bool {
	fields := []zap.Field{
		zap.String("conn", conn.ID()),
		zap.String("event", f.Name),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, errs.ErrProtocol):
		g.log.Warn("protocol error, closing", fields...)
		_ = conn.CloseWithStatus(websocket.CloseInvalidFramePayloadData, closeReason(err))
		return false
	case errors.Is(err, errs.ErrUnauthorized):
		// 不回包，连接保持
		g.log.Warn("unauthorized", fields...)
		return true
	default:
		g.log.Warn("rejected", fields...)
		env, _ := model.Out(model.EventError, model.ErrorPayload{
			Code:   errorCode(err),
			Reason: errs.Reason(err),
		})
		env.RoomID = f.RoomID
		env.MessageID = f.MessageID
		sess.Reply(env)
		return true
	}
}

// cleanup 连接关闭后同步执行：注销、下线计数、清理输入状态
func (g *Gateway) cleanup(conn *chat.WsConn) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	uid := conn.UserID()
	current := g.deps.Registry.Deregister(conn)
	g.deps.Presence.MarkDisconnect(ctx, uid)
	rooms := g.deps.Typing.ClearAll(uid, conn.ID())
	now := g.deps.Clock()
	for _, room := range rooms {
		broadcastTyping(ctx, g.fanout, room, uid, "stop", now)
	}
	_ = conn.Close()

	select {
	case <-conn.Done():
	case <-ctx.Done():
	}
	g.log.Info("disconnected",
		zap.String("conn", conn.ID()),
		zap.String("uid", presence.MaskUserID(uid)),
		zap.Bool("current", current),
		zap.Int("typingRooms", len(rooms)),
	)
}

// TypingNotifier 扫描器移除的过期输入状态，逐条广播 stop
func (g *Gateway) TypingNotifier() typing.Notifier {
	return func(states []typing.State) {
		ctx, cancel := context.WithTimeout(g.base, frameTimeout)
		defer cancel()
		now := g.deps.Clock()
		for _, st := range states {
			broadcastTyping(ctx, g.fanout, st.RoomID, st.UserID, "stop", now)
		}
	}
}

func (g *Gateway) logReadErr(conn *chat.WsConn, err error) {
	fields := []zap.Field{zap.String("conn", conn.ID()), zap.Error(err)}
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		g.log.Debug("peer closed", fields...)
	case errors.As(err, &ne) && ne.Timeout():
		g.log.Info("read timeout", fields...)
	default:
		g.log.Debug("read error", fields...)
	}
}

func errorCode(err error) int {
	if c := errs.Code(err); c != 0 {
		return c
	}
	return errs.CodeInternal
}

func closeReason(err error) string {
	var ce *errs.CodeError
	reason := "protocol error"
	if errors.As(err, &ce) && ce.Detail != "" {
		reason = ce.Detail
	}
	if len(reason) > maxCloseReason {
		cut := maxCloseReason
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return reason
}
