package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"linkwave/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 用于初始化 Redis；Addrs 多于一个时走集群客户端
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	PoolSize int
}

func (c *Config) norm() {
	if len(c.Addrs) == 0 {
		c.Addrs = []string{"127.0.0.1:6379"}
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 50
	}
}

// Open 建立客户端并 ping 一次
func Open(ctx context.Context, c Config) (redis.UniversalClient, error) {
	c.norm()
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Username: c.Username,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", strings.Join(c.Addrs, ","), err)
	}
	logger.Info("[Redis] connected", zap.Strings("addrs", c.Addrs), zap.Int("db", c.DB))
	return rdb, nil
}
