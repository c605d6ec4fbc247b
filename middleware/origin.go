package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origin 只检查 /ws 握手的 Origin 头；allowed 为空表示不限制
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(strings.ToLower(o)); o != "" {
			set[o] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if len(set) == 0 || c.Request.Method != http.MethodGet || c.Request.URL.Path != "/ws" {
			c.Next()
			return
		}
		origin := strings.ToLower(c.GetHeader("Origin"))
		if origin == "" {
			// 非浏览器客户端不带 Origin
			c.Next()
			return
		}
		if _, ok := set[origin]; !ok {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
