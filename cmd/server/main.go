package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appointment-service/config"
	"appointment-service/internal/api"
	"appointment-service/internal/broker"
	"appointment-service/internal/invoice"
	"appointment-service/internal/redisclient"
	"appointment-service/internal/service"
	"appointment-service/internal/store"
	"appointment-service/internal/util"
	"appointment-service/internal/whatsapp"
	"appointment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting appointment service")

	tp, err := util.InitTracer("appointment-service", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	loc, err := time.LoadLocation(cfg.Business.Timezone)
	if err != nil {
		logger.Warn("Unknown timezone, using UTC", zap.String("timezone", cfg.Business.Timezone), zap.Error(err))
		loc = time.UTC
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	readiness := map[string]api.Pinger{"postgres": db}

	var cache service.Cache
	var stockCache service.StockCache
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, running without locks and stock cache", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache, stockCache = redisClient, redisClient
		readiness["redis"] = redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAppointment)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	var mailer service.InvoiceMailer
	if cfg.SMTP.Enabled() {
		mailer = invoice.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
	}

	contacts := service.NewContactResolver(db)
	reminders := service.NewReminderService(db, cfg.Business.ReminderLead, cfg.Business.ReminderMaxAttempts,
		cfg.Business.ReminderBackoff)
	statusNotifier := service.NewStatusNotifier(db, contacts, whatsapp.NewService(newSender(cfg.WhatsApp), loc), reminders, db)
	inventoryClient := service.NewInventoryClient(db, stockCache)

	appointmentService := service.NewAppointmentService(service.AppointmentDeps{
		Store:       db,
		Cache:       cache,
		Publisher:   eventPublisher,
		Contacts:    contacts,
		Inventory:   inventoryClient,
		Commissions: service.NewCommissionService(db),
		Invoices:    service.NewInvoiceService(db, contacts, mailer, loc),
		Reminders:   reminders,
		Notifier:    statusNotifier,
		LockTTL:     cfg.Business.AppointmentLockTTL,
		ClaimTTL:    cfg.Business.IdempotencyTTL,
	})

	ctx := context.Background()
	if err := inventoryClient.SyncStockToRedis(ctx); err != nil {
		logger.Warn("Failed to sync supply stock to Redis", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	poller := worker.NewReminderPoller(db, eventPublisher,
		cfg.Business.ReminderPollInterval, cfg.Business.ReminderBatchSize, cfg.Business.ReminderBackoff)
	go func() {
		if err := poller.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Reminder poller error", zap.Error(err))
		}
	}()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAppointment, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, statusNotifier.DeliverReminder)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(appointmentService, cfg.Auth.JWTSecret, readiness)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Warn("Error stopping notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newSender picks the WhatsApp provider
func newSender(cfg config.WhatsAppConfig) whatsapp.Sender {
	switch cfg.Provider {
	case "cloud":
		return whatsapp.NewCloudSender(cfg.APIURL, cfg.AccessToken)
	case "twilio":
		return whatsapp.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
	default:
		return whatsapp.NewNoopSender()
	}
}
