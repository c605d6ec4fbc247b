package middleware

import (
	"github.com/gin-gonic/gin"
)

// RouteOpt 单个路由的选项
type RouteOpt struct {
	Auth gin.HandlerFunc // 非空时挂在 handler 前面
}

func (o RouteOpt) chain(h gin.HandlerFunc) []gin.HandlerFunc {
	if o.Auth == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{o.Auth, h}
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, opt.chain(handler)...)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.chain(handler)...)
}
