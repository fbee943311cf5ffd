package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shinyyama/leadmarket-backend/internal/config"
	"github.com/shinyyama/leadmarket-backend/internal/db"
	"github.com/shinyyama/leadmarket-backend/internal/idgen"
	"github.com/shinyyama/leadmarket-backend/internal/lock"
	"github.com/shinyyama/leadmarket-backend/internal/logger"
	"github.com/shinyyama/leadmarket-backend/internal/metrics"
	appmw "github.com/shinyyama/leadmarket-backend/internal/middleware"
	"github.com/shinyyama/leadmarket-backend/internal/notify"
	"github.com/shinyyama/leadmarket-backend/internal/payment"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shinyyama/leadmarket-backend/internal/repository/memory"
	"github.com/shinyyama/leadmarket-backend/internal/scheduler"
	"github.com/shinyyama/leadmarket-backend/internal/server"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"github.com/shinyyama/leadmarket-backend/internal/signing"
	"github.com/shinyyama/leadmarket-backend/internal/storage"
	"go.uber.org/zap"
)

var (
	gitSHA    = "dev"
	buildTime = "unknown"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	zlog, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, zlog *zap.Logger) error {
	store, err := openStore(cfg, zlog)
	if err != nil {
		return err
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		client, err := lock.Connect(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedisLocker(client, cfg.LockTTL)
		zlog.Info("using redis purchase locks", zap.String("addr", cfg.RedisAddr))
	}

	ids, err := idgen.New(cfg.SnowflakeNode)
	if err != nil {
		return err
	}
	m := metrics.New()

	var publisher notify.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
		if err != nil {
			return err
		}
		defer kp.Close()
		publisher = kp
	}

	var artifacts storage.ArtifactStore = storage.NewMemoryStore()
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.CredentialsFile)
		if err != nil {
			return err
		}
		defer gcs.Close()
		artifacts = gcs
	}

	webhookSecret := cfg.PaymentWebhookSecret
	if webhookSecret == "" {
		// nothing can sign against a random secret, so every event is rejected
		webhookSecret = uuid.NewString()
		zlog.Warn("PAYMENT_WEBHOOK_SECRET not set; payment webhooks will be rejected")
	}
	codec, err := signing.New(webhookSecret, signing.WithTolerance(cfg.SignatureTolerance))
	if err != nil {
		return err
	}

	var purchaseOpts service.PurchaseOptions
	purchaseOpts.Metrics = m
	if cfg.CardPaymentsEnabled() {
		handoff, err := payment.NewHandoffSigner(cfg.HandoffSecret, cfg.HandoffTTL)
		if err != nil {
			return err
		}
		purchaseOpts.Gateway = payment.NewHTTPGateway(cfg.PaymentAPIURL, cfg.PaymentAPIKey, cfg.PaymentCurrency, 15*time.Second)
		purchaseOpts.Handoff = handoff
	}

	notifications := service.NewNotificationService(store.Notifications(), zlog)
	var kafkaTopic string
	if publisher != nil {
		kafkaTopic = cfg.KafkaTopic
	}
	dispatcher := service.NewDispatcher(store, notify.NewWebhookSender(cfg.NotifyTimeout), publisher, notifications, zlog, service.DispatcherOptions{
		GlobalURL:    cfg.NotifyEndpointURL,
		GlobalSecret: cfg.NotifySigningSecret,
		KafkaTopic:   kafkaTopic,
		MaxAttempts:  cfg.NotifyMaxAttempts,
		Workers:      cfg.NotifyWorkers,
		Timeout:      cfg.NotifyTimeout,
		Metrics:      m,
	})
	settlement := service.NewSettlementService(store, locker, ids, zlog, service.SettlementOptions{
		AppBaseURL: cfg.AppBaseURL,
		Listener:   dispatcher,
		Metrics:    m,
	})

	var auth *appmw.AuthMiddleware
	if cfg.AuthDisabled {
		zlog.Warn("AUTH_DISABLED set; trusting identity headers")
		auth = appmw.NewDevAuthMiddleware()
	} else {
		auth, err = appmw.NewAuthMiddleware(ctx, cfg.FirebaseProjectID, cfg.CredentialsFile)
		if err != nil {
			return err
		}
	}

	srv := server.New(server.Deps{
		Purchases:      service.NewPurchaseService(store, settlement, ids, zlog, purchaseOpts),
		Exports:        service.NewExportService(store, artifacts, zlog),
		PaymentEvents:  service.NewPaymentEventService(codec, settlement, m, zlog),
		Credits:        service.NewCreditService(store, ids, zlog),
		Earnings:       service.NewEarningsService(store),
		Notifications:  notifications,
		Deliveries:     dispatcher,
		Auth:           auth,
		Metrics:        m,
		Logger:         zlog,
		OriginSuffixes: cfg.CORSOriginSuffixes,
	}, gitSHA, buildTime)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	dispatcher.Start(workerCtx)

	jobs, err := scheduler.NewManager(zlog)
	if err != nil {
		cancelWorkers()
		return err
	}
	if err := jobs.Register(scheduler.NewDeliverySweepJob(dispatcher, cfg.NotifySweepInterval, zlog)); err != nil {
		cancelWorkers()
		return err
	}
	jobs.Start()

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		zlog.Info("starting server", zap.String("addr", addr), zap.String("store", cfg.StoreDriver))
		errCh <- srv.Start(addr)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		zlog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	jobs.Stop()
	cancelWorkers()
	dispatcher.Wait()
	return serveErr
}

func openStore(cfg *config.Config, zlog *zap.Logger) (repository.Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		zlog.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	conn, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn); err != nil {
		return nil, err
	}
	return repository.NewStore(conn), nil
}
