package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/bursar/internal/config"
	"github.com/smallbiznis/bursar/internal/observability/logger"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	SQLLogLevel         string
	SQLSlowThreshold    time.Duration
	LedgerSlowThreshold time.Duration
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "bursar"
	}
	logFormat := obs.LogFormat
	if logFormat == "" {
		logFormat = "json"
	}
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             obs.LogLevel,
		LogFormat:            logFormat,
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: obs.OtelProtocol,
		OtelSamplingRatio:    obs.OtelSamplingRatio,
		SQLLogLevel:          obs.SQLLogLevel,
		SQLSlowThreshold:     time.Duration(obs.SQLSlowMs) * time.Millisecond,
		LedgerSlowThreshold:  time.Duration(obs.SQLLedgerSlowMs) * time.Millisecond,
	}
}

// Debug is on for debug logging and for dev, local and test environments.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// GormLogger returns the SQL logger settings. An unset level follows debug mode.
func (c Config) GormLogger() logger.GormLoggerConfig {
	level := logger.ParseGormLevel(c.SQLLogLevel)
	if c.Debug() && strings.TrimSpace(c.SQLLogLevel) == "" {
		level = logger.ParseGormLevel("info")
	}
	return logger.GormLoggerConfig{
		Level:               level,
		SlowThreshold:       c.SQLSlowThreshold,
		LedgerSlowThreshold: c.LedgerSlowThreshold,
	}
}
