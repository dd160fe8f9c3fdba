package config

// This file defines the Redis settings and client constructor.  Redis backs
// the versioned record store when STORE_BACKEND=redis and the distributed
// rate limiter on the reservation route.  When the server cannot be reached
// the constructor returns an error; callers that only need Redis for rate
// limiting degrade by disabling it.

import (
    "context"
    "crypto/tls"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings read from REDIS_* variables.
type RedisConfig struct {
    Addr     string
    Password string
    DB       int
    TLS      bool
}

// LoadRedisConfig reads:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand (host/port win when both are set)
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS when "true" or "1"
func LoadRedisConfig() RedisConfig {
    host := os.Getenv("REDIS_HOST")
    port := os.Getenv("REDIS_PORT")
    addr := os.Getenv("REDIS_ADDR")
    if host != "" && port != "" {
        addr = host + ":" + port
    }
    if addr == "" {
        addr = "localhost:6379"
    }
    tlsEnv := os.Getenv("REDIS_TLS")
    return RedisConfig{
        Addr:     addr,
        Password: os.Getenv("REDIS_PASSWORD"),
        DB:       envInt("REDIS_DB", 0),
        TLS:      strings.EqualFold(tlsEnv, "true") || tlsEnv == "1",
    }
}

// NewRedisClient builds a client and pings it with a short timeout.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
    var tlsConf *tls.Config
    if cfg.TLS {
        tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      cfg.Addr,
        Password:  cfg.Password,
        DB:        cfg.DB,
        TLSConfig: tlsConf,
    })
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
    }
    return client, nil
}
