package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scoutquest/xerrors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scoutquest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := New(WithConfigPaths(t.TempDir())).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.EnableCORS)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 30, cfg.HealthCheck.IntervalSeconds)
	assert.Equal(t, 10, cfg.HealthCheck.TimeoutSeconds)
	assert.Equal(t, 3, cfg.HealthCheck.MaxFailures)
	assert.Equal(t, 300, cfg.HealthCheck.EvictAfterSeconds)

	assert.Equal(t, "Up", cfg.Registry.InitialStatus)
	assert.Equal(t, 1000, cfg.Security.RateLimitPerMinute)
	assert.Equal(t, "reject", cfg.Network.DenyAction)
	assert.Equal(t, "1.2", cfg.TLS.MinVersion)
	assert.Equal(t, "1.3", cfg.TLS.MaxVersion)
	assert.Equal(t, 3001, cfg.TLS.HTTPPort)
	assert.Equal(t, 256, cfg.Events.QueueSize)
}

func TestLoadPriority(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 7000
  host: 127.0.0.1
logging:
  level: debug
health_check:
  max_failures: 5
network:
  enabled: true
  allowed_cidrs: ["10.0.0.0/8"]
`)

	t.Run("配置文件覆盖默认值", func(t *testing.T) {
		cfg, err := New(WithConfigFile(path)).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 5, cfg.HealthCheck.MaxFailures)
		assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Network.AllowedCIDRs)
	})

	t.Run("环境变量覆盖配置文件", func(t *testing.T) {
		t.Setenv("SCOUTQUEST_SERVER_PORT", "7100")
		t.Setenv("SCOUTQUEST_NETWORK_DENIED_CIDRS", "10.0.0.5/32,10.0.0.6/32")

		cfg, err := New(WithConfigFile(path)).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7100, cfg.Server.Port)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, []string{"10.0.0.5/32", "10.0.0.6/32"}, cfg.Network.DeniedCIDRs)
	})

	t.Run("命令行参数优先级最高", func(t *testing.T) {
		t.Setenv("SCOUTQUEST_SERVER_PORT", "7100")

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		RegisterFlags(fs)
		require.NoError(t, fs.Parse([]string{"--config", path, "--port", "7200", "--log-level", "WARN"}))

		cfg, err := New(WithFlags(fs)).Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7200, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		// 未显式设置的参数不覆盖配置文件
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	})
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"端口越界", "server:\n  port: 70000\n"},
		{"非法拒绝动作", "network:\n  deny_action: drop\n"},
		{"TLS 版本倒置", "tls:\n  min_version: \"1.3\"\n  max_version: \"1.2\"\n"},
		{"非法 TLS 版本", "tls:\n  min_version: \"2.0\"\n"},
		{"非法初始状态", "registry:\n  initial_status: Down\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithConfigFile(writeConfig(t, tt.content))).Load(context.Background())
			require.Error(t, err)
			assert.True(t, xerrors.Is(err, ErrValidationFailed))
			assert.Equal(t, "INVALID_CONFIG", xerrors.GetCode(err))
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := New(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))).Load(context.Background())
	assert.Error(t, err)
}
