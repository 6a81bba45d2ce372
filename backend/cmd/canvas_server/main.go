package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"canvasServer/backend/config"
	"canvasServer/backend/internal/canvas"
	"canvasServer/backend/internal/httpapi/handlers"
	"canvasServer/backend/internal/pubsub"
	"canvasServer/backend/internal/store"
	"canvasServer/backend/internal/ws"
)

// 构建时通过 -ldflags "-X main.buildTime=..." 注入
var buildTime string

func newLogger(level, format string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	if err := run(); err != nil {
		slog.Error("canvas server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}
	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	if buildTime == "" {
		buildTime = time.Now().Format(time.RFC3339)
	}
	logger.Info("starting canvas server", "port", cfg.Running.Port, "log_backend", cfg.Log.Backend,
		"pubsub_backend", cfg.Pubsub.Backend, "build_time", buildTime)

	// 进程级 ctx：收到 SIGINT/SIGTERM 后取消，桥接和连接随之退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb redis.UniversalClient
	var ping handlers.PingFunc
	if cfg.NeedsRedis() {
		// 一个地址是单机，多个地址是集群
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var orderedLog store.OrderedLog
	switch cfg.Log.Backend {
	case config.BackendRedis:
		orderedLog = store.NewRedisStreamLog(rdb)
	case config.BackendMySQL:
		db, err := store.OpenMySQL(cfg.Mysql.DSN)
		if err != nil {
			return fmt.Errorf("connect mysql: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		orderedLog = store.NewMySQLLog(db)
	default:
		orderedLog = store.NewMemoryLog()
	}

	var ps pubsub.Client
	if cfg.Pubsub.Backend == config.BackendRedis {
		ps = pubsub.NewRedis(rdb)
	} else {
		ps = pubsub.NewMemory()
	}

	metrics := canvas.NewMetrics()

	// === 可选：Kafka 事件导出 ===
	var exporter canvas.Exporter
	var dispatcher *canvas.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()
		dispatcher = canvas.NewKafkaDispatcher(producer, cfg.Kafka.Topic, canvas.NewSemaphoreControl(8),
			canvas.KafkaDispatcherOptions{
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  time.Second,
				Logger:      logger,
				Metrics:     metrics,
			})
		exporter = dispatcher
	}

	hub := ws.NewHub(ws.HubOptions{
		BroadcastWorkers: cfg.WS.BroadcastWorkers,
		DeliverTimeout:   cfg.WS.DeliverTimeout,
		MaxFailures:      cfg.WS.MaxFailures,
		Metrics:          metrics,
		Logger:           logger,
	})
	svc := canvas.NewService(ps, orderedLog, canvas.ServiceOptions{
		ReplayBatch: cfg.Log.ReplayBatch,
		Semaphore:   canvas.NewSemaphoreControl(canvas.DefaultSemaphoreSize),
		Exporter:    exporter,
		Metrics:     metrics,
		Logger:      logger,
	})
	bridges := canvas.NewBridges(ctx, ps, hub, canvas.BridgeOptions{Metrics: metrics, Logger: logger})
	manager := ws.NewManager(ctx, hub, svc, bridges, ws.ManagerOptions{
		SendBuffer:     cfg.WS.SendBuffer,
		WriteTimeout:   cfg.WS.WriteTimeout,
		AllowedOrigins: cfg.WS.AllowedOrigins,
		Metrics:        metrics,
		Logger:         logger,
	})
	canvasHandler := handlers.NewCanvasHandler(bridges, ping)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Cors.AllowOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// 路由
	r.GET("/ws/:canvasId", manager.WebSocketConnect)
	r.GET("/sub/:canvasId", canvasHandler.Subscribe)
	r.GET("/uuid", canvasHandler.NewCanvasID)
	r.GET("/healthz", canvasHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	stop()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	bridges.Wait()
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("kafka dispatcher drain", "error", err)
		}
	}
	return nil
}
