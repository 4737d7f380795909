// Command judged runs the judge daemon: the HTTP API, the worker pool
// and the sandbox behind it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	commonmw "gavel/internal/common/http/middleware"
	"gavel/internal/common/mq"
	"gavel/internal/common/storage"
	"gavel/internal/contest/scoring"
	"gavel/internal/judge/controller"
	"gavel/internal/judge/queue"
	"gavel/internal/judge/registry"
	"gavel/internal/judge/repository"
	"gavel/internal/judge/sandbox"
	"gavel/internal/judge/sandbox/engine"
	"gavel/internal/judge/sandbox/runner"
	"gavel/internal/judge/sandbox/security"
	"gavel/internal/judge/service"
	"gavel/pkg/utils/logger"
)

const defaultConfigPath = "configs/judged.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	// Kafka and MinIO are optional; a judge without them still grades,
	// it just skips event publishing and data pack problems.
	var publisher repository.EventPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mqClient.Close()
		}()
		publisher = repository.NewEventPublisher(mqClient)
	}

	var dataPacks *repository.DataPackCache
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		dataPacks = repository.NewDataPackCache(objStorage, redisCache, appCfg.Judge.PackRoot)
	}

	reg := registry.New(appCfg.Language.Bounds, appCfg.Language.Overrides...)
	resolver := security.NewResolver(security.DefaultProfiles(appCfg.Sandbox.RootFS))
	eng, err := engine.NewEngine(appCfg.Sandbox.toEngineConfig(), resolver)
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}
	caseRunner, err := runner.NewDefaultRunner(eng)
	if err != nil {
		logger.Error(context.Background(), "init runner failed", zap.Error(err))
		return
	}
	box, err := sandbox.NewManager(reg, caseRunner, eng, appCfg.Judge.WorkRoot)
	if err != nil {
		logger.Error(context.Background(), "init sandbox manager failed", zap.Error(err))
		return
	}

	scoreEngine := scoring.NewEngine(redisCache, publisher)
	for _, contestCfg := range appCfg.Contests {
		if err := scoreEngine.RegisterContest(contestCfg.toContest()); err != nil {
			logger.Error(context.Background(), "register contest failed",
				zap.String("contest_id", contestCfg.ID), zap.Error(err))
			return
		}
	}

	pool, err := queue.NewPool(appCfg.Worker.PoolSize)
	if err != nil {
		logger.Error(context.Background(), "init worker pool failed", zap.Error(err))
		return
	}

	judgeSvc, err := service.NewService(service.Config{
		Registry:      reg,
		Sandbox:       box,
		Pool:          pool,
		Submissions:   repository.NewSubmissionStore(mysqlDB),
		Problems:      repository.NewProblemStore(mysqlDB, redisCache),
		StatusRepo:    repository.NewStatusRepository(redisCache, appCfg.Judge.StatusTTL),
		Publisher:     publisher,
		Scoring:       scoreEngine,
		DataPacks:     dataPacks,
		RetryAttempts: appCfg.Worker.RetryAttempts,
		RetryBase:     appCfg.Worker.RetryBase,
		RetryCap:      appCfg.Worker.RetryCap,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}
	judgeSvc.Start()

	httpServer := buildHTTPServer(appCfg.Server, judgeSvc)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	judgeSvc.Shutdown(ctx)
}

func buildHTTPServer(cfg ServerConfig, judgeSvc *service.Service) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	controller.NewJudgeController(judgeSvc).RegisterRoutes(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
