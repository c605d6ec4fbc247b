package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"linkwave/global"
	"linkwave/global/config"
	"linkwave/logger"
	"linkwave/service/chat"
	"linkwave/service/gateway"
	"linkwave/service/pipeline"
	"linkwave/service/presence"
	"linkwave/service/receipt"
	"linkwave/service/typing"
	"linkwave/tools/ids"
	"linkwave/tools/safe"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "linkwave.Gateway"

func main() {
	defer logger.Sync()

	// 1) 配置
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	global.ConfigLog(cfg)
	ids.SetNodeID(cfg.NodeID)

	// 2) 外部依赖
	ctx := context.Background()
	rdb, err := global.ConfigRedis(ctx, cfg)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	store, closeStore, err := global.ConfigStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("storage", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}
	broker, err := global.ConfigBroker(cfg)
	if err != nil {
		logger.Fatal("broker", zap.String("driver", cfg.BrokerDriver), zap.Error(err))
	}

	// 3) 组件
	registry := chat.NewRegistry()
	tracker := presence.NewTracker(rdb, presence.Conf{
		Prefix:            cfg.Presence.Prefix,
		TTL:               cfg.Presence.TTL,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
	})
	typingMgr := typing.NewManager(typing.Conf{
		Timeout:    cfg.Typing.Timeout,
		RateWindow: cfg.Typing.RateWindow,
	})
	gw := gateway.New(gateway.Deps{
		Registry:  registry,
		Presence:  tracker,
		Typing:    typingMgr,
		Receipts:  receipt.NewService(store, store),
		Publisher: pipeline.NewPublisher(broker, store),
		Rooms:     store,
		Resolver:  global.ConfigIdentity(cfg),
		Conn: chat.WsConnConf{
			SendQueue:    cfg.HTTP.SendQueue,
			PingInterval: cfg.HTTP.PingInterval,
			PongWait:     cfg.HTTP.PongWait,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	consumer := pipeline.NewConsumer(store, gw.Fanout())
	sweeper := typing.NewSweeper(typingMgr, cfg.Typing.SweepInterval, gw.TypingNotifier())

	// 4) 后台任务
	runCtx, stopRun := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           gw.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("[HTTP] listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		logger.Info("[gRPC] listening", zap.String("addr", cfg.GRPC.Addr))
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		return broker.Consume(gctx, consumer.Handle)
	})
	sweeper.Start(gctx)

	served := make(chan struct{})
	safe.SafeGo("main.errgroup", func() {
		defer close(served)
		if err := g.Wait(); err != nil {
			logger.Error("background task failed, shutting down", zap.Error(err))
			// 交给下面的信号处理走同一套关闭流程
			if p, perr := os.FindProcess(os.Getpid()); perr == nil {
				_ = p.Signal(syscall.SIGTERM)
			}
		}
	})
	drained := make(chan struct{})

	// 5) 优雅退出；每个资源一个操作
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"gateway": func(ctx context.Context) error {
			defer close(drained)
			healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
			if err := httpSrv.Shutdown(ctx); err != nil {
				return err
			}
			return gw.Shutdown(ctx)
		},
		"grpc": func(ctx context.Context) error {
			healthSrv.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		},
		"typing": func(context.Context) error {
			sweeper.Stop()
			return nil
		},
		"broker": func(context.Context) error {
			stopRun()
			return broker.Close()
		},
		"storage": func(ctx context.Context) error {
			if err := waitAll(ctx, served, drained); err != nil {
				return err
			}
			return closeStore(ctx)
		},
		"redis": func(ctx context.Context) error {
			if err := waitAll(ctx, served, drained); err != nil {
				return err
			}
			return rdb.Close()
		},
	})

	code := <-wait
	logger.Info("exited", zap.Int("code", code))
	logger.Sync()
	os.Exit(code)
}

// waitAll 存储要等连接清理和消费端都退出后才能关
func waitAll(ctx context.Context, chans ...<-chan struct{}) error {
	for _, ch := range chans {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
