package config

import (
    "fmt"
    "os"

    log "github.com/sirupsen/logrus"
)

// SetupLogging configures the logrus standard logger from cfg and returns
// the base entry components derive their loggers from.
func SetupLogging(cfg Config) (*log.Entry, error) {
    level, err := log.ParseLevel(cfg.LogLevel)
    if err != nil {
        return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
    }
    logger := log.StandardLogger()
    logger.SetOutput(os.Stdout)
    logger.SetLevel(level)
    switch cfg.LogFormat {
    case "json":
        logger.SetFormatter(&log.JSONFormatter{})
    default:
        logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
    }
    return log.WithFields(log.Fields{"service": "ticket-pool", "env": cfg.Env}), nil
}
