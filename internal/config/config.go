// Package config 配置
package config

import (
	"strconv"
	"time"

	commonconfig "github.com/plazmica10/fitness-center/pkg/config"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr     string
	RedisPassword string

	// Streams
	BookingStream        string
	BookingStreamMaxLen  int64
	NotifierGroup        string
	NotifierConsumerName string
	NotifierEnabled      bool

	// Ledger（会员余额）
	LedgerBaseURL string
	LedgerToken   string
	LedgerTimeout time.Duration

	WorkerID int64

	// Tracing
	TracingEnabled    bool
	JaegerEndpoint    string
	TracingSampleRate float64
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: commonconfig.GetEnv("SERVICE_NAME", "fitness-operations"),
		HTTPPort:    commonconfig.GetEnvInt("HTTP_PORT", 8084),

		DBHost:     commonconfig.GetEnv("DB_HOST", "localhost"),
		DBPort:     commonconfig.GetEnvInt("DB_PORT", 5436),
		DBUser:     commonconfig.GetEnv("DB_USER", "fitness"),
		DBPassword: commonconfig.GetEnv("DB_PASSWORD", "fitness123"),
		DBName:     commonconfig.GetEnv("DB_NAME", "fitness"),

		RedisAddr:     commonconfig.GetEnv("REDIS_ADDR", "localhost:6380"),
		RedisPassword: commonconfig.GetEnv("REDIS_PASSWORD", ""),

		BookingStream:        commonconfig.GetEnv("BOOKING_STREAM", "fitness:bookings"),
		BookingStreamMaxLen:  commonconfig.GetEnvInt64("BOOKING_STREAM_MAXLEN", 100000),
		NotifierGroup:        commonconfig.GetEnv("NOTIFIER_GROUP", "booking-notifier-group"),
		NotifierConsumerName: commonconfig.GetEnv("NOTIFIER_CONSUMER_NAME", "booking-notifier-1"),
		NotifierEnabled:      commonconfig.GetEnvBool("NOTIFIER_ENABLED", true),

		LedgerBaseURL: commonconfig.GetEnv("LEDGER_BASE_URL", "http://localhost:8085"),
		LedgerToken:   commonconfig.GetEnv("LEDGER_TOKEN", ""),
		LedgerTimeout: commonconfig.GetEnvDuration("LEDGER_TIMEOUT", 5*time.Second),

		WorkerID: commonconfig.GetEnvInt64("WORKER_ID", 4),

		TracingEnabled:    commonconfig.GetEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint:    commonconfig.GetEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TracingSampleRate: float64(commonconfig.GetEnvInt("TRACING_SAMPLE_PERCENT", 10)) / 100,
	}
}

// DSN 返回数据库连接字符串
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}
