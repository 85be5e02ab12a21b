package observability

import (
	"testing"
	"time"

	"github.com/smallbiznis/bursar/internal/config"
	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestLoadConfigMapsApplicationConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:   " 1.2.0 ",
		Environment:  "production",
		OTLPEndpoint: "collector:4317",
		Observability: config.ObservabilityConfig{
			LogLevel:          "info",
			OtelEnabled:       true,
			OtelProtocol:      "http",
			OtelSamplingRatio: 0.5,
			SQLLogLevel:       "error",
			SQLSlowMs:         300,
			SQLLedgerSlowMs:   40,
		},
	})

	assert.Equal(t, "bursar", cfg.ServiceName)
	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.False(t, cfg.Debug())

	sql := cfg.GormLogger()
	assert.Equal(t, gormlogger.Error, sql.Level)
	assert.Equal(t, 300*time.Millisecond, sql.SlowThreshold)
	assert.Equal(t, 40*time.Millisecond, sql.LedgerSlowThreshold)
}

func TestDebugFollowsEnvironmentAndLevel(t *testing.T) {
	assert.True(t, Config{Environment: "local"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "DEBUG"}.Debug())
	assert.False(t, Config{Environment: "staging"}.Debug())

	assert.Equal(t, gormlogger.Info, Config{Environment: "test"}.GormLogger().Level)
	assert.Equal(t, gormlogger.Warn, Config{Environment: "staging"}.GormLogger().Level)
}
