package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLATFORMD_SECRET_KEY", "s3cr3t")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 15*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 30*time.Second, cfg.PollTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 4, cfg.ReconcileWorkers)
	assert.Equal(t, []string{"Cluster in healthy state"}, cfg.HealthyPhases)
	assert.Equal(t, "s3cr3t", cfg.SecretKey)
}

func TestLoadLegacyAndPrefixedEnv(t *testing.T) {
	t.Setenv("SECRET_KEY", "legacy")
	t.Setenv("APP_PORT", "9001")
	t.Setenv("DATABASE_TYPE", "MySQL")
	t.Setenv("PLATFORMD_RECONCILE_INTERVAL", "1m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "legacy", cfg.SecretKey)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "mysql", cfg.DatabaseType)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Contains(t, cfg.AllowedOrigins, "https://b.example")
}

func TestLoadRequiresSecretKey(t *testing.T) {
	t.Setenv("PLATFORMD_SECRET_KEY", "")
	t.Setenv("SECRET_KEY", "")
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := load(viper.New())
	assert.Error(t, err)
}
