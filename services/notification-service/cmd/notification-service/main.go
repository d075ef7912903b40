package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/peterlianpi/appointment-scheduler-sub001/libs/config"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/db"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/httpx"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/kafkax"
	otelx "github.com/peterlianpi/appointment-scheduler-sub001/libs/otel"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/runtime"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/consumer"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/dispatch"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/email"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/inbox"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/outbox"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/sms"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/notification-service/internal/storage"
)

// Topics carrying attendee-facing appointment events. Topic names match the
// event types published by the scheduling service.
var defaultTopics = []string{
	"scheduling.appointment.created.v1",
	"scheduling.appointment.confirmed.v1",
	"scheduling.appointment.rescheduled.v1",
	"scheduling.appointment.cancelled.v1",
	"scheduling.appointment.completed.v1",
	"scheduling.reminder.due.v1",
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	deliveriesRepo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@scheduler.local"),
	)

	var smsSender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "webhook":
		smsSender = sms.NewWebhookSender(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_WEBHOOK_TOKEN", ""),
		)
	default:
		smsSender = sms.NewNoopSender()
	}

	dispatcher := dispatch.New(emailSender, smsSender, deliveriesRepo, outboxRepo, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers: brokers,
	})
	go publisher.Run(ctx)

	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	topics := defaultTopics
	if raw := strings.TrimSpace(config.String("KAFKA_TOPICS", "")); raw != "" {
		topics = nil
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	for _, topic := range topics {
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, func(ctx context.Context, msg kafka.Message) error {
			meta := kafkax.ExtractEventMeta(msg)
			eventType := meta.EventType
			if eventType == "" {
				eventType = msg.Topic
			}
			return dispatcher.Handle(ctx, eventType, msg.Value)
		})
		go eventConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
