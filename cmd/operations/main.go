package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/plazmica10/fitness-center/internal/client"
	"github.com/plazmica10/fitness-center/internal/config"
	"github.com/plazmica10/fitness-center/internal/events"
	"github.com/plazmica10/fitness-center/internal/metrics"
	"github.com/plazmica10/fitness-center/internal/repository"
	"github.com/plazmica10/fitness-center/internal/service"
	"github.com/plazmica10/fitness-center/pkg/audit"
	"github.com/plazmica10/fitness-center/pkg/health"
	"github.com/plazmica10/fitness-center/pkg/logger"
	commonredis "github.com/plazmica10/fitness-center/pkg/redis"
	"github.com/plazmica10/fitness-center/pkg/response"
	"github.com/plazmica10/fitness-center/pkg/snowflake"
	"github.com/plazmica10/fitness-center/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log.Printf("Starting %s...", cfg.ServiceName)
	appLog := logger.New(cfg.ServiceName, nil)

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}

	// 连接数据库
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Printf("Connected to PostgreSQL")

	// Redis 只服务事件发布和通知，连不上降级为不发事件
	var redisClient *commonredis.Client
	tlsConfig, err := commonredis.TLSConfigFromEnv()
	if err != nil {
		log.Fatalf("Invalid Redis TLS config: %v", err)
	}
	redisCfg := commonredis.DefaultConfig
	redisCfg.Addr = cfg.RedisAddr
	redisCfg.Password = cfg.RedisPassword
	redisCfg.TLS = tlsConfig
	redisClient, err = commonredis.NewClient(&redisCfg)
	if err != nil {
		appLog.WithError(err).Warnf("Redis unavailable, booking events disabled", map[string]interface{}{
			"addr": cfg.RedisAddr,
		})
		redisClient = nil
	} else {
		log.Printf("Connected to Redis")
	}

	idGen, err := snowflake.New(cfg.WorkerID)
	if err != nil {
		log.Fatalf("Failed to init id generator: %v", err)
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		log.Fatalf("Failed to init audit logger: %v", err)
	}
	defer auditLogger.Close()

	m := metrics.New()

	// 仓储与外部客户端
	classRepo := repository.NewClassRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	trainerRepo := repository.NewTrainerRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	ledger := client.NewLedgerClient(cfg.LedgerBaseURL, cfg.LedgerToken, cfg.LedgerTimeout)

	var publisher *events.Publisher
	if redisClient != nil {
		stream := commonredis.NewStreamClient(redisClient.Client).WithMaxLen(cfg.BookingStreamMaxLen)
		publisher = events.NewPublisher(stream, cfg.BookingStream, appLog, m)
	}

	// 业务层
	validator := service.NewAvailabilityValidator(classRepo, attendanceRepo)
	bookingSvc := service.NewBookingService(validator, paymentRepo, attendanceRepo, ledger, appLog,
		service.BookingOptions{
			Publisher: publisher,
			Audit:     auditLogger,
			IDs:       idGen,
			Metrics:   m,
		})
	classSvc := service.NewClassService(classRepo, roomRepo, trainerRepo, validator, appLog,
		service.ClassOptions{Audit: auditLogger, IDs: idGen})
	attendanceSvc := service.NewAttendanceService(attendanceRepo)

	// 健康检查
	checks := health.New()
	checks.Register(health.NewPostgresChecker(db))
	if redisClient != nil {
		checks.Register(health.NewRedisChecker(redisClient.Client))
	}
	checks.Register(health.NewHTTPChecker("ledger", cfg.LedgerBaseURL+"/health"))
	checks.SetReady(true)

	h := &handlers{
		bookings:    bookingSvc,
		classes:     classSvc,
		attendance:  attendanceSvc,
		payments:    paymentRepo,
		attendances: attendanceRepo,
		audit:       auditLogger,
		log:         appLog,
	}

	mux := http.NewServeMux()
	h.routes(mux)
	mux.HandleFunc("/health", checks.HealthHandler())
	mux.HandleFunc("/ready", checks.ReadyHandler())
	mux.HandleFunc("/live", checks.LiveHandler())
	mux.Handle("/metrics", m.Handler())

	handler := response.RequestIDMiddleware(
		response.RecoveryMiddleware(
			tracing.HTTPMiddleware(mux)))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler,
	}

	// 消费预约事件做会员通知
	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	defer stopNotifier()
	if cfg.NotifierEnabled && redisClient != nil {
		stream := commonredis.NewStreamClient(redisClient.Client)
		notifier := events.NewNotifier(stream, cfg.BookingStream, cfg.NotifierGroup, cfg.NotifierConsumerName, appLog, m)
		go func() {
			if err := notifier.Run(notifierCtx); err != nil && notifierCtx.Err() == nil {
				appLog.WithError(err).Errorf("notifier stopped", nil)
			}
		}()
	}

	go func() {
		log.Printf("HTTP server listening on :%d", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	checks.SetReady(false)
	stopNotifier()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	shutdownTracing(ctx)
	if redisClient != nil {
		redisClient.Close()
	}
	log.Println("Shutdown complete")
}
