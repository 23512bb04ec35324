package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/app"
	"github.com/domainlink/linkauditor/internal/config"
	"github.com/domainlink/linkauditor/internal/linkaudit"
)

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 18080},
		Queue:   config.QueueConfig{Backend: "memory", MaxAttempts: 3},
		Worker:  config.WorkerConfig{Concurrency: 1},
		Render:  config.RenderConfig{MaxParallel: 1},
		Sheets:  config.SheetsConfig{MaxColumns: linkaudit.ResultRangeWidth},
		Storage: config.StorageConfig{Backend: "memory"},
		Logging: config.LoggingConfig{Development: true},
	}
}

func TestBuild_WiresMemoryBackendsAndCloses(t *testing.T) {
	a, err := app.Build(context.Background(), testConfig())
	require.NoError(t, err)
	require.NotNil(t, a)

	require.NoError(t, a.Close(context.Background()))
}

func TestBuild_AcceptsUnreachableRedisBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.Backend = "redis"
	cfg.Queue.RedisAddr = "127.0.0.1:0"

	a, err := app.Build(context.Background(), cfg)
	require.NoError(t, err, "Build only wires a client; connection errors surface at use time")
	require.NotNil(t, a)
	require.NoError(t, a.Close(context.Background()))
}
