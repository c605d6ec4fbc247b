package security

import (
	"errors"
	"net/http"
	"strings"

	"linkwave/tools/errs"
	tokens "linkwave/tools/security"

	"github.com/gin-gonic/gin"
)

// CtxUserIDKey 鉴权通过后 userId 写入 gin.Context 的 key
const CtxUserIDKey = "userId"

var ErrNoIdentity = errors.New("no identity on request")

// Resolver extracts the caller's user id from a request. The gateway never
// authenticates users itself; it trusts whatever issued the credential.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// JWTResolver 读取 Authorization: Bearer xxx，或者 ?token=xxx（浏览器 WebSocket 不能带头）
type JWTResolver struct {
	Opts tokens.Options
}

func (j JWTResolver) Resolve(r *http.Request) (string, error) {
	token := bearer(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return "", ErrNoIdentity
	}
	claims, err := tokens.Verify(j.Opts, token)
	if err != nil {
		return "", err
	}
	return claims.UID, nil
}

// HeaderResolver 信任前置代理写入的头
type HeaderResolver struct {
	Header string // 默认 X-User-Id
}

func (h HeaderResolver) Resolve(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = "X-User-Id"
	}
	uid := strings.TrimSpace(r.Header.Get(name))
	if uid == "" {
		return "", ErrNoIdentity
	}
	return uid, nil
}

func bearer(authz string) string {
	authz = strings.TrimSpace(authz)
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// Middleware 解析身份失败直接 401；成功后 userId 可用 UserID(c) 读取
func Middleware(res Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := res.Resolve(c.Request)
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":   errs.CodeUnauthorized,
				"reason": "unauthenticated",
			})
			return
		}
		c.Set(CtxUserIDKey, uid)
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
