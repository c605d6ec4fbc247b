package middleware

import (
	"sync"
	"time"

	"linkwave/logger"
	"linkwave/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MiddlewareManager 收集全局中间件，按注册顺序挂到 Engine 上
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

func (m *MiddlewareManager) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

// Handlers returns a snapshot for engine.Use. Each middleware is its own
// link in gin's chain, so c.Next inside one of them resumes the rest.
// Changes made after the engine is built do not apply to it.
func (m *MiddlewareManager) Handlers() []gin.HandlerFunc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]gin.HandlerFunc{}, m.mids...)
}

// AccessLog 请求日志
func AccessLog() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
		)
	}
}

// Recovery panic 转成 500，不让单个请求打挂进程
func Recovery() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", zap.String("path", c.Request.URL.Path), zap.Error(errs.ErrPanic(r)))
				c.AbortWithStatusJSON(500, gin.H{"code": errs.CodeInternal, "reason": "internal error"})
			}
		}()
		c.Next()
	}
}
