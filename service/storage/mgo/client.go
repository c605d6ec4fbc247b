package mgo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkwave/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	collMessages = "chat_messages"
	collReceipts = "read_receipts"
	collMembers  = "room_members"
)

// Config represents the MongoDB configuration.
type Config struct {
	URI          string
	Database     string
	MaxPoolSize  uint64
	MaxRetry     int
	Transactions bool // 副本集/mongos 才支持事务；单机部署关掉
}

func (c *Config) norm() error {
	if c.URI == "" {
		return errors.New("mongo uri is required")
	}
	if c.Database == "" {
		c.Database = "linkwave"
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 20
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 3
	}
	return nil
}

// Connect 连接并 ping；可重试的错误按固定间隔重试 MaxRetry 次
func Connect(ctx context.Context, c Config) (*mongo.Database, error) {
	if err := c.norm(); err != nil {
		return nil, err
	}
	opts := options.Client().ApplyURI(c.URI).SetMaxPoolSize(c.MaxPoolSize)

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < c.MaxRetry; i++ {
		cli, err = connectMongo(ctx, opts)
		if err == nil {
			break
		}
		logger.Warn("[Mongo] connect failed", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second / 2):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	logger.Info("[Mongo] connected", zap.String("db", c.Database))
	return cli.Database(c.Database), nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// EnsureIndexes 幂等建索引
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	idx := map[string][]mongo.IndexModel{
		collMessages: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "sent_at", Value: 1}}},
		},
		collReceipts: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "reader_id", Value: 1}, {Key: "msg_sent_at", Value: -1}}},
			{Keys: bson.D{{Key: "message_id", Value: 1}, {Key: "read_at", Value: 1}}},
		},
		collMembers: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for coll, models := range idx {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}
