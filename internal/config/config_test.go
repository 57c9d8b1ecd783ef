package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8181", cfg.AdminPort)
	assert.Equal(t, "/etc", cfg.Paths.Etc)
	assert.Equal(t, "/var/lib", cfg.Paths.Lib)
	assert.Equal(t, "/var/log", cfg.Paths.Log)
	assert.Equal(t, "/var/lib/openstack", cfg.Paths.State)
	assert.Equal(t, "/app/config", cfg.ConfigSourceDir)
	assert.Equal(t, "postgresql", cfg.DefaultDBType)
	assert.Equal(t, "admin", cfg.KeystoneAdminPassword)
	assert.Equal(t, "http://localhost:5000/v3", cfg.AuthURL)
	assert.Equal(t, 0, cfg.MaxRestarts)
	assert.Equal(t, 10, cfg.StopGraceSec)
	assert.Equal(t, 120, cfg.DBWaitSec)
	assert.Empty(t, cfg.ObjectStore.Endpoint)
	assert.Equal(t, "glance-images", cfg.ObjectStore.Bucket)
	assert.False(t, cfg.ObjectStore.UseSSL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STACKINIT_ADMIN_PORT", "9999")
	t.Setenv("STACKINIT_STATE_DIR", "/data/openstack")
	t.Setenv("OPENSTACK_DEFAULT_DB_TYPE", "sqlite")
	t.Setenv("KEYSTONE_ADMIN_PASSWORD", "s3cret")
	t.Setenv("STACKINIT_MAX_RESTARTS", "3")
	t.Setenv("GLANCE_S3_ENDPOINT", "minio:9000")
	t.Setenv("GLANCE_S3_USE_SSL", "true")

	cfg := Load()

	assert.Equal(t, "9999", cfg.AdminPort)
	assert.Equal(t, "/data/openstack", cfg.Paths.State)
	assert.Equal(t, "sqlite", cfg.DefaultDBType)
	assert.Equal(t, "s3cret", cfg.KeystoneAdminPassword)
	assert.Equal(t, 3, cfg.MaxRestarts)
	assert.Equal(t, "minio:9000", cfg.ObjectStore.Endpoint)
	assert.True(t, cfg.ObjectStore.UseSSL)
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("STACKINIT_MAX_RESTARTS", "many")
	t.Setenv("GLANCE_S3_USE_SSL", "yep")

	cfg := Load()

	assert.Equal(t, 0, cfg.MaxRestarts)
	assert.False(t, cfg.ObjectStore.UseSSL)
}
