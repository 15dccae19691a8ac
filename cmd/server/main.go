package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletbridge/internal/config"
	"walletbridge/internal/directory"
	"walletbridge/internal/handler"
	"walletbridge/internal/infrastructure/cache"
	"walletbridge/internal/infrastructure/database"
	"walletbridge/internal/infrastructure/logger"
	"walletbridge/internal/infrastructure/mq"
	"walletbridge/internal/job"
	"walletbridge/internal/metrics"
	"walletbridge/internal/repository"
	"walletbridge/internal/service"
	"walletbridge/internal/wallet"
	"walletbridge/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// 本地开发时从 .env 注入 WALLETBRIDGE_* 环境变量，文件不存在不报错
	_ = godotenv.Load()

	configPath := os.Getenv("WALLETBRIDGE_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("walletbridge", cfg.Log.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := idgen.Init(1); err != nil {
		return err
	}

	db, err := database.Init(&cfg.Database)
	if err != nil {
		return err
	}

	redisClient, err := cache.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	producer, err := mq.NewSyncProducer(&cfg.Kafka)
	if err != nil {
		return err
	}
	publisher := mq.NewPublisher(producer)
	defer func() { _ = publisher.Close() }()

	m := metrics.New(prometheus.DefaultRegisterer)

	// 仓储
	betRepo := repository.NewBetRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	retryRepo := repository.NewRetryJobRepository(db, cfg.Kafka.Topic.RetryJob)
	outboxRepo := repository.NewOutboxRepository(db)

	// 代理与游戏目录，Redis 做读缓存
	agents := directory.NewAgentDirectory(repository.NewAgentRepository(db),
		directory.WithCache(redisClient, cfg.Redis.CacheTTL()),
		directory.WithLogger(log),
	)
	catalog := directory.NewGameCatalog(repository.NewGameRepository(db),
		directory.WithCache(redisClient, cfg.Redis.CacheTTL()),
		directory.WithLogger(log),
	)

	gateway := service.NewWalletGateway(agents, auditRepo, retryRepo,
		wallet.NewClient(cfg.Wallet.HTTPTimeout(), cfg.Wallet.SuccessStatus),
		service.WithGameMetadata(catalog),
		service.WithGatewayMetrics(m),
		service.WithGatewayLogger(log),
		service.WithAuditTimeout(cfg.Wallet.AuditTimeout()),
	)
	ledger := service.NewBetLedger(betRepo,
		service.WithGameValidator(catalog),
		service.WithLedgerLogger(log),
	)
	wager := service.NewWagerService(ledger, gateway, redisClient, log)

	// 后台任务
	outboxSender := job.NewOutboxSender(outboxRepo, publisher, cfg.Business.MaxRetryCount, m, log)
	go outboxSender.Start(ctx)

	stuckBetJob := job.NewStuckBetJob(ledger, outboxRepo, cfg.Kafka.Topic.StuckBet,
		cfg.Business.StuckBetMaxAge(), cfg.Business.StuckBetScanInterval(), m, log)
	go stuckBetJob.Start(ctx)

	retention, err := job.NewRetentionScheduler(ledger, cfg.Business.RetentionDays, log)
	if err != nil {
		return err
	}
	if err := retention.Start(ctx); err != nil {
		return err
	}

	if cfg.Log.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.SetupRouter(handler.NewHandler(wager, ledger, auditRepo, agents, catalog), prometheus.DefaultGatherer, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info("正在关闭服务...")

	// 先停止接收请求，再等待异步审计写完，最后停后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("服务关闭异常", zap.Error(err))
	}
	gateway.Wait()

	cancel()
	outboxSender.Stop()
	stuckBetJob.Stop()
	if err := retention.Stop(); err != nil {
		log.Warn("停止清理任务失败", zap.Error(err))
	}

	log.Info("服务已关闭")
	return nil
}
