package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/guzmanclinic/anabot/internal/api/router"
	"github.com/guzmanclinic/anabot/internal/calendar"
	"github.com/guzmanclinic/anabot/internal/channels/telegram"
	"github.com/guzmanclinic/anabot/internal/channels/whatsapp"
	appconfig "github.com/guzmanclinic/anabot/internal/config"
	"github.com/guzmanclinic/anabot/internal/conversation"
	"github.com/guzmanclinic/anabot/internal/events"
	"github.com/guzmanclinic/anabot/internal/http/handlers"
	"github.com/guzmanclinic/anabot/internal/messaging"
	"github.com/guzmanclinic/anabot/internal/notify"
	"github.com/guzmanclinic/anabot/internal/observability/metrics"
	"github.com/guzmanclinic/anabot/internal/patients"
	"github.com/guzmanclinic/anabot/internal/reminders"
	"github.com/guzmanclinic/anabot/internal/scheduling"
	"github.com/guzmanclinic/anabot/internal/session"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting anabot API server", "env", cfg.Env, "port", cfg.Port)

	ctx := context.Background()

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid clinic timezone", "error", err, "timezone", cfg.ClinicTimezone)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// The audit log store runs on database/sql; same database, pgx stdlib driver.
	logDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open postgres for audit store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logDB.Close() }()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, dedup falls back to postgres only", "error", err)
		}
	}

	var cal calendar.Client
	googleCal, err := calendar.NewGoogleClient(ctx, calendar.GoogleConfig{
		CalendarID: cfg.GoogleCalendarID,
		TokenJSON:  cfg.GoogleCalendarTokenJSON,
		Timezone:   cfg.ClinicTimezone,
	}, logger)
	if err != nil {
		logger.Error("failed to create google calendar client", "error", err)
		os.Exit(1)
	}
	if googleCal != nil {
		cal = googleCal
	} else {
		logger.Warn("google calendar not configured, bookings are registered locally only")
		cal = calendar.NewNoop(logger)
	}

	patientRepo := patients.NewRepository(pool)
	resolver := patients.NewResolver(patientRepo, logger)
	sessions := session.NewStore(pool)
	processed := events.NewProcessedStore(pool)
	dedup := events.NewDedupWindow(redisClient, processed)

	apptRepo := scheduling.NewRepository(pool)
	coord := scheduling.NewCoordinator(apptRepo, cal, scheduling.DefaultHours(), scheduling.Policy{
		Duration:  time.Duration(cfg.AppointmentDurationMin) * time.Minute,
		Gap:       time.Duration(cfg.AppointmentGapMin) * time.Minute,
		Lookahead: time.Duration(cfg.SlotLookaheadDays) * 24 * time.Hour,
		Location:  loc,
	}, logger)

	dispatcher := messaging.NewDispatcher(logger)
	if cfg.WhatsAppToken != "" {
		dispatcher.Register(events.ChannelWhatsApp,
			whatsapp.NewClient(cfg.WhatsAppToken, cfg.WhatsAppPhoneNumberID, cfg.ProviderTimeout, logger))
	}
	if cfg.TelegramBotToken != "" {
		dispatcher.Register(events.ChannelTelegram,
			telegram.NewClient(cfg.TelegramBotToken, cfg.ProviderTimeout, logger))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	convMetrics := metrics.NewConversationMetrics(registry)

	logStore := conversation.NewLogStore(logDB)

	svc := conversation.NewService(conversation.ServiceDeps{
		Locks:      session.NewKeyedLock(),
		Dedup:      dedup,
		Resolver:   resolver,
		Sessions:   sessions,
		Coord:      coord,
		Logs:       logStore,
		Dispatcher: dispatcher,
		Metrics:    convMetrics,
		Policy: conversation.Policy{
			MissLimit:   cfg.IntentMissLimit,
			IdleTimeout: cfg.SessionIdleTimeout,
			Location:    loc,
		},
		SlotSuggestionDays: cfg.SlotLookaheadDays,
		Logger:             logger,
	})

	var email notify.EmailSender = notify.NewStubEmailSender(logger)
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		email = sg
	}

	reminderSvc := reminders.NewService(reminders.Config{
		Appointments: apptRepo,
		Patients:     patientRepo,
		Dispatcher:   dispatcher,
		Email:        email,
		Metrics:      convMetrics,
		Logger:       logger,
		LeadTime:     cfg.ReminderLeadTime,
		PollInterval: cfg.ReminderPollInterval,
		Location:     loc,
	})
	reminderCtx, stopReminders := context.WithCancel(ctx)
	go reminderSvc.Run(reminderCtx)

	webhooks := handlers.NewWebhookHandler(handlers.WebhookConfig{
		Processor:             svc,
		Logger:                logger,
		WhatsAppVerifyToken:   cfg.WhatsAppVerifyToken,
		TelegramWebhookSecret: cfg.TelegramWebhookSecret,
	})
	admin := handlers.NewAdminHandler(logStore, coord, logger)

	r := router.New(&router.Config{
		Logger:          logger,
		Webhooks:        webhooks,
		Admin:           admin,
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stopReminders()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
