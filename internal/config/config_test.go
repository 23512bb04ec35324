package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
queue:
  backend: redis
  redis_addr: localhost:6379
  max_attempts: 5
worker:
  concurrency: 8
render:
  timeout_ms: 45000
  max_parallel: 3
proxy:
  base_url: https://proxy.example
  api_token: tok
sheets:
  max_columns: 5
storage:
  backend: postgres
  dsn: postgres://example
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Queue.Backend != "redis" || cfg.Queue.MaxAttempts != 5 {
		t.Fatalf("expected queue overrides to apply, got %+v", cfg.Queue)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("expected worker concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if !cfg.Proxy.Enabled() {
		t.Fatalf("expected proxy enabled with api token set")
	}
	if got := cfg.LeaseTimeout(); got != time.Duration(float64(45000)*1.5)*time.Millisecond {
		t.Fatalf("unexpected lease timeout: %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Worker: WorkerConfig{Concurrency: 1},
		Queue:  QueueConfig{MaxAttempts: 1},
		Sheets: SheetsConfig{MaxColumns: 5},
		Render: RenderConfig{MaxParallel: 1},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid worker concurrency",
			cfg: func() Config {
				c := base
				c.Worker.Concurrency = 0
				return c
			}(),
			want: "worker.concurrency",
		},
		{
			name: "invalid queue attempts",
			cfg: func() Config {
				c := base
				c.Queue.MaxAttempts = 0
				return c
			}(),
			want: "queue.max_attempts",
		},
		{
			name: "wrong sheet column count",
			cfg: func() Config {
				c := base
				c.Sheets.MaxColumns = 3
				return c
			}(),
			want: "sheets.max_columns",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "render missing max parallel",
			cfg: func() Config {
				c := base
				c.Render.MaxParallel = 0
				return c
			}(),
			want: "render.max_parallel",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
