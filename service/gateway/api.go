package gateway

import (
	"net/http"
	"strconv"

	"linkwave/middleware"
	midsec "linkwave/middleware/security"
	"linkwave/module/chat/model"
	"linkwave/tools/errs"

	"github.com/gin-gonic/gin"
)

const (
	maxBulkPresence    = 200
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

func (g *Gateway) mountAPI(r gin.IRoutes) {
	opt := middleware.RouteOpt{Auth: midsec.Middleware(g.deps.Resolver)}
	middleware.GET(r, "/presence/:userId", g.getPresence, opt)
	middleware.POST(r, "/presence/bulk", g.bulkPresence, opt)
	middleware.GET(r, "/messages/:messageId/readers", g.readers, opt)
	middleware.GET(r, "/rooms/:roomId/messages", g.recentMessages, opt)
	middleware.GET(r, "/rooms/:roomId/typing", g.typingUsers, opt)
	middleware.GET(r, "/stats", g.stats, opt)
}

func abortErr(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errs.HTTPStatus(err), gin.H{
		"code":   errorCode(err),
		"reason": errs.Reason(err),
	})
}

func (g *Gateway) getPresence(c *gin.Context) {
	uid := c.Param("userId")
	resp := gin.H{"userId": uid, "online": g.deps.Presence.IsOnline(c, uid)}
	if ts, ok := g.deps.Presence.LastSeen(c, uid); ok {
		resp["lastSeen"] = ts.UnixMilli()
	}
	c.JSON(http.StatusOK, resp)
}

type bulkPresenceReq struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

func (g *Gateway) bulkPresence(c *gin.Context) {
	var req bulkPresenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		abortErr(c, errs.ErrInvalidArgument.WrapMsg(err.Error()))
		return
	}
	if len(req.UserIDs) > maxBulkPresence {
		abortErr(c, errs.ErrInvalidArgument.WrapMsg("too many userIds", "max", maxBulkPresence))
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": g.deps.Presence.BulkPresence(c, req.UserIDs)})
}

// readers 只对消息所在房间的成员开放
func (g *Gateway) readers(c *gin.Context) {
	id := c.Param("messageId")
	roomID, err := g.deps.Receipts.RoomOf(c, id)
	if err != nil {
		abortErr(c, err)
		return
	}
	if !g.requireMember(c, roomID) {
		return
	}
	readers, err := g.deps.Receipts.Readers(c, id)
	if err != nil {
		abortErr(c, err)
		return
	}
	n, err := g.deps.Receipts.ReadCount(c, id)
	if err != nil {
		abortErr(c, err)
		return
	}
	if readers == nil {
		readers = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"messageId": id, "readers": readers, "count": n})
}

// requireMember 非成员 403
func (g *Gateway) requireMember(c *gin.Context, roomID string) bool {
	ok, err := g.deps.Rooms.IsMember(c, midsec.UserID(c), roomID)
	if err != nil {
		abortErr(c, errs.ErrStore.WrapMsg(err.Error()))
		return false
	}
	if !ok {
		abortErr(c, errs.ErrNotRoomMember.WrapMsg("", "roomId", roomID))
		return false
	}
	return true
}

func (g *Gateway) recentMessages(c *gin.Context) {
	roomID := c.Param("roomId")
	limit := defaultRecentLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			abortErr(c, errs.ErrInvalidArgument.WrapMsg("bad limit"))
			return
		}
		limit = min(n, maxRecentLimit)
	}
	if !g.requireMember(c, roomID) {
		return
	}
	msgs, err := g.deps.Rooms.RecentMessages(c, roomID, limit)
	if err != nil {
		abortErr(c, errs.ErrStore.WrapMsg(err.Error()))
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "messages": msgs})
}

func (g *Gateway) typingUsers(c *gin.Context) {
	roomID := c.Param("roomId")
	if !g.requireMember(c, roomID) {
		return
	}
	users := g.deps.Typing.TypingUsers(roomID)
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "users": users})
}

func (g *Gateway) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": g.deps.Registry.Count(),
		"typing":      g.deps.Typing.Stats(),
	})
}
