package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/handler"
	"storefront/internal/infra/db"
	"storefront/internal/infra/gateway"
	"storefront/internal/infra/kafka"
	"storefront/internal/infra/logger"
	infraRepo "storefront/internal/infra/repository"
	"storefront/internal/metrics"
	"storefront/internal/outbox"
	"storefront/internal/reconcile"
	"storefront/internal/server"
	"storefront/internal/usecase"
	"storefront/internal/validator"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// .envは無くてもよい
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	appLogger, err := logger.New(cfg.GoEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Fatal("storefront stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, appLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	//Repository（GORM実装）
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)
	auditRepo := infraRepo.NewAuditLogGormRepository(gormDB)
	attemptRepo := infraRepo.NewCheckoutAttemptGormRepository(gormDB)
	txm := infraRepo.NewTxManagerGorm(gormDB)

	//metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	//決済ゲートウェイ
	gw, err := newGateway(cfg.Gateway)
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}
	appLogger.Info("payment gateway configured", zap.String("mode", cfg.Gateway.Mode))

	//Kafka
	producer := kafka.NewProducer(cfg.Kafka.Brokers, appLogger)
	defer func() { _ = producer.Close() }()
	alerter := kafka.NewChargeAlerter(producer, cfg.Kafka.ReconciliationTopic)

	//Usecase
	authUC := usecase.NewAuthUsecase(userRepo, validator.NewAuthValidator(userRepo), cfg.JWTSecret, cfg.JWTTTL, appLogger)
	productUC := usecase.NewProductUsecase(productRepo, auditRepo, txm)
	checkoutUC := usecase.NewCheckoutUsecase(txm, productRepo, attemptRepo, gw, alerter, m, appLogger, cfg.Gateway.Timeout)
	orderUC := usecase.NewOrderUsecase(txm)
	adminOrderUC := usecase.NewAdminOrderUsecase(txm, appLogger)

	//Handler
	e := server.New(cfg, appLogger, m, reg, userRepo, server.Handlers{
		Auth:         handler.NewAuthHandler(authUC),
		Product:      handler.NewProductHandler(productUC),
		AdminProduct: handler.NewAdminProductHandler(productUC),
		Payment:      handler.NewPaymentHandler(checkoutUC),
		Order:        handler.NewOrderHandler(orderUC),
		AdminOrder:   handler.NewAdminOrderHandler(adminOrderUC),
	})

	//outbox relay
	relay := outbox.NewRelay(txm, producer, cfg.Kafka.OrderEventsTopic, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, m, appLogger)
	//PENDINGのまま止まった決済試行の検出
	sweeper := reconcile.NewSweeper(checkoutUC, cfg.Checkout.StaleAfter, cfg.Checkout.SweepInterval, cfg.Outbox.BatchSize, appLogger)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	err = server.Run(ctx, e, ":"+cfg.Port, appLogger)
	stop()
	wg.Wait()
	return err
}

func newGateway(cfg config.GatewayConfig) (usecase.PaymentGateway, error) {
	switch cfg.Mode {
	case config.GatewayModeHTTP:
		gw, err := gateway.NewHTTPGateway(gateway.HTTPConfig{
			BaseURL:    cfg.BaseURL,
			MerchantID: cfg.MerchantID,
			PublicKey:  cfg.PublicKey,
			PrivateKey: cfg.PrivateKey,
		}, &http.Client{Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		return gw, nil
	case config.GatewayModeSandbox:
		return gateway.NewSandboxGateway(), nil
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.Mode)
	}
}
