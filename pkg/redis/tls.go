// Package redis Redis 客户端封装
package redis

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	envRedisTLS        = "REDIS_TLS"
	envRedisCACert     = "REDIS_CACERT"
	envRedisCert       = "REDIS_CERT"
	envRedisKey        = "REDIS_KEY"
	envRedisServerName = "REDIS_SERVER_NAME"
)

// TLSConfigFromEnv 根据环境变量构造 Redis TLS 配置。
// REDIS_TLS 关闭时返回 (nil, nil)，调用方直接跳过 TLS。
//
// 可用变量: REDIS_TLS, REDIS_CACERT, REDIS_CERT, REDIS_KEY, REDIS_SERVER_NAME。
func TLSConfigFromEnv() (*tls.Config, error) {
	enabled, err := boolFromEnv(envRedisTLS)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", envRedisTLS, err)
	}
	if !enabled {
		return nil, nil
	}

	certPath := strings.TrimSpace(os.Getenv(envRedisCert))
	keyPath := strings.TrimSpace(os.Getenv(envRedisKey))
	if (certPath == "") != (keyPath == "") {
		return nil, fmt.Errorf("%s and %s must be set together", envRedisCert, envRedisKey)
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: strings.TrimSpace(os.Getenv(envRedisServerName)),
	}

	if caPath := strings.TrimSpace(os.Getenv(envRedisCACert)); caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", envRedisCACert, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("append %s: no valid certificates found", envRedisCACert)
		}
		cfg.RootCAs = pool
	}

	if certPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", envRedisCert, envRedisKey, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func boolFromEnv(key string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
