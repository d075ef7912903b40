package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/peterlianpi/appointment-scheduler-sub001/libs/config"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/db"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/grpcx"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/httpx"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/kafkax"
	otelx "github.com/peterlianpi/appointment-scheduler-sub001/libs/otel"
	"github.com/peterlianpi/appointment-scheduler-sub001/libs/runtime"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/audit"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/handlers"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/lifecycle"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/metrics"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/outbox"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/reminders"
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8081")
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

	metrics.Register()

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	auditRepo := audit.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	store := storage.NewStore(pool, auditRepo, outboxRepo)
	engine := lifecycle.NewEngine(store, logger, lifecycle.Config{
		MonthlyCap: config.Int("MONTHLY_APPOINTMENT_CAP", 200),
	})
	reminderRepo := reminders.NewRepository(pool, outboxRepo,
		config.Duration("REMINDER_LEAD", 24*time.Hour))

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var rdb *redis.Client
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = rdb.Close() }()
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", promhttp.Handler())

	appointmentHandler := handlers.NewAppointmentHandler(engine, store, logger)
	auditHandler := handlers.NewAuditHandler(auditRepo, logger)
	reminderHandler := handlers.NewReminderHandler(reminderRepo, logger)

	api := http.NewServeMux()
	handlers.RegisterRoutes(api, appointmentHandler, auditHandler, reminderHandler)

	apiMiddleware := []httpx.Middleware{
		handlers.WithAuth(jwtSecret),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(15 * time.Second),
	}
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, service)
		apiMiddleware = append(apiMiddleware, limiter.Middleware(logger, true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute)
	} else {
		limiter := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		apiMiddleware = append(apiMiddleware, limiter.Middleware())
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}
	mux.Handle("/api/", httpx.Chain(api, apiMiddleware...))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	var grpcServer *grpc.Server
	if grpcPort := config.String("GRPC_PORT", ""); grpcPort != "" {
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			logger.Error("grpc listen failed", "err", err)
		} else {
			grpcServer = grpc.NewServer(
				grpc.StatsHandler(otelgrpc.NewServerHandler()),
				grpc.UnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
			)
			healthServer := health.NewServer()
			healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			healthpb.RegisterHealthServer(grpcServer, healthServer)
			go func() {
				logger.Info("grpc server starting", "addr", lis.Addr().String())
				if err := grpcServer.Serve(lis); err != nil {
					logger.Error("grpc server error", "err", err)
				}
			}()
		}
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	logger.Info("server stopped")
}
