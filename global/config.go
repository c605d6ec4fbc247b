package global

import (
	"context"
	"fmt"

	"linkwave/global/config"
	"linkwave/logger"
	midsec "linkwave/middleware/security"
	"linkwave/service/gateway"
	"linkwave/service/kafka"
	"linkwave/service/natsx"
	"linkwave/service/pipeline"
	"linkwave/service/receipt"
	"linkwave/service/storage/mgo"
	"linkwave/service/storage/postgres"
	redisx "linkwave/service/storage/redis"
	tokens "linkwave/tools/security"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Storage 两种存储驱动都要实现的全部读写
type Storage interface {
	receipt.Store
	gateway.Rooms
	pipeline.MessageStore
}

var (
	_ Storage = (*postgres.Store)(nil)
	_ Storage = (*mgo.Store)(nil)
)

// HandlerFunc 消费端回调；返回 error 时消息稍后重投
type HandlerFunc func(ctx context.Context, key, value []byte) error

// Broker 发布 + 消费；kafka 和 nats 二选一
type Broker interface {
	pipeline.Broker
	Consume(ctx context.Context, h HandlerFunc) error
	Close() error
}

type kafkaBroker struct{ *kafka.Broker }

func (b kafkaBroker) Consume(ctx context.Context, h HandlerFunc) error {
	return b.Broker.Consume(ctx, kafka.Handler(h))
}

type natsBroker struct{ *natsx.Client }

func (b natsBroker) Consume(ctx context.Context, h HandlerFunc) error {
	return b.Client.Consume(ctx, natsx.Handler(h))
}

var (
	_ Broker = kafkaBroker{}
	_ Broker = natsBroker{}
)

// ConfigLog 日志级别
func ConfigLog(c *config.AppConfig) {
	logger.SetLevel(c.Log.Level)
}

func ConfigRedis(ctx context.Context, c *config.AppConfig) (redis.UniversalClient, error) {
	return redisx.Open(ctx, redisx.Config{
		Addrs:    c.Redis.Addrs,
		Username: c.Redis.Username,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		PoolSize: c.Redis.PoolSize,
	})
}

// ConfigStorage 按 STORAGE_DRIVER 建存储；返回的 closer 在退出时调用
func ConfigStorage(ctx context.Context, c *config.AppConfig) (Storage, func(context.Context) error, error) {
	switch c.StorageDriver {
	case config.StoragePostgres:
		pool, err := postgres.Open(ctx, postgres.Config{
			DSN:      c.Postgres.DSN,
			MaxConns: c.Postgres.MaxConns,
			Migrate:  c.Postgres.Migrate,
		})
		if err != nil {
			return nil, nil, err
		}
		closer := func(context.Context) error {
			pool.Close()
			return nil
		}
		return postgres.NewStore(pool), closer, nil

	case config.StorageMongo:
		db, err := mgo.Connect(ctx, mgo.Config{
			URI:          c.Mongo.URI,
			Database:     c.Mongo.Database,
			MaxPoolSize:  c.Mongo.MaxPoolSize,
			Transactions: c.Mongo.Transactions,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := mgo.EnsureIndexes(ctx, db); err != nil {
			_ = db.Client().Disconnect(ctx)
			return nil, nil, err
		}
		return mgo.NewStore(db, c.Mongo.Transactions), db.Client().Disconnect, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", c.StorageDriver)
}

// ConfigBroker 按 BROKER_DRIVER 建消息通道
func ConfigBroker(c *config.AppConfig) (Broker, error) {
	switch c.BrokerDriver {
	case config.BrokerKafka:
		b, err := kafka.NewBroker(kafka.Config{
			Brokers:       c.Kafka.Brokers,
			ClientID:      c.Kafka.ClientID,
			Topic:         c.Kafka.Topic,
			GroupID:       c.Kafka.GroupID,
			Version:       c.Kafka.Version,
			Compression:   c.Kafka.Compression,
			InitialOffset: c.Kafka.InitialOffset,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("[Broker] kafka ready", zap.Strings("brokers", c.Kafka.Brokers))
		return kafkaBroker{b}, nil

	case config.BrokerNATS:
		cli, err := natsx.Connect(natsx.Config{
			Servers:  c.NATS.Servers,
			Name:     "linkwave",
			User:     c.NATS.User,
			Password: c.NATS.Password,
			Stream:   c.NATS.Stream,
			Subject:  c.NATS.Subject,
			Durable:  c.NATS.Durable,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("[Broker] nats ready", zap.Strings("servers", c.NATS.Servers))
		return natsBroker{cli}, nil
	}
	return nil, fmt.Errorf("unknown broker driver %q", c.BrokerDriver)
}

// ConfigIdentity 握手和 REST 用同一个身份解析器
func ConfigIdentity(c *config.AppConfig) midsec.Resolver {
	if c.Auth.Mode == config.AuthHeader {
		logger.Warn("[Auth] header identity enabled, gateway must sit behind a trusted proxy")
		return midsec.HeaderResolver{Header: c.Auth.Header}
	}
	opts := tokens.DefaultOptions([]byte(c.Auth.Secret))
	opts.Issuer = c.Auth.Issuer
	return midsec.JWTResolver{Opts: opts}
}
