package config

import (
	"os"
	"strconv"
)

// ObjectStoreConfig holds S3-compatible settings for the Glance backing store.
// The store is only prepared when Endpoint is non-empty.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Paths are the filesystem roots the bootstrap writes under. They default to
// the usual container locations and are overridable for tests.
type Paths struct {
	Etc   string
	Lib   string
	Log   string
	State string
}

// AppConfig is the centralized configuration struct for the entrypoint.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AdminPort string
	Paths     Paths

	// ConfigSourceDir holds the shipped base INI files (keystone.conf etc).
	ConfigSourceDir string

	// DefaultDBType selects the fallback database flavor; "sqlite" forces
	// file-backed databases for every service.
	DefaultDBType string

	KeystoneAdminPassword string
	AuthURL               string

	// MaxRestarts is the per-process restart budget before the container
	// gives up and exits. 0 means any child exit is fatal.
	MaxRestarts  int
	StopGraceSec int
	DBWaitSec    int

	// SeedImageDir, when set, is walked for images to upload into the
	// object store bucket after it is prepared.
	SeedImageDir string
	ObjectStore  ObjectStoreConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AdminPort: getEnv("STACKINIT_ADMIN_PORT", "8181"),
		Paths: Paths{
			Etc:   getEnv("STACKINIT_ETC_DIR", "/etc"),
			Lib:   getEnv("STACKINIT_LIB_DIR", "/var/lib"),
			Log:   getEnv("STACKINIT_LOG_DIR", "/var/log"),
			State: getEnv("STACKINIT_STATE_DIR", "/var/lib/openstack"),
		},
		ConfigSourceDir:       getEnv("STACKINIT_CONFIG_DIR", "/app/config"),
		DefaultDBType:         getEnv("OPENSTACK_DEFAULT_DB_TYPE", "postgresql"),
		KeystoneAdminPassword: getEnv("KEYSTONE_ADMIN_PASSWORD", "admin"),
		AuthURL:               getEnv("KEYSTONE_AUTH_URL", "http://localhost:5000/v3"),
		MaxRestarts:           getEnvInt("STACKINIT_MAX_RESTARTS", 0),
		StopGraceSec:          getEnvInt("STACKINIT_STOP_GRACE_SEC", 10),
		DBWaitSec:             getEnvInt("STACKINIT_DB_WAIT_SEC", 120),
		SeedImageDir:          getEnv("GLANCE_SEED_DIR", ""),
		ObjectStore: ObjectStoreConfig{
			Endpoint:  getEnv("GLANCE_S3_ENDPOINT", ""),
			AccessKey: getEnv("GLANCE_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("GLANCE_S3_SECRET_KEY", ""),
			Bucket:    getEnv("GLANCE_S3_BUCKET", "glance-images"),
			UseSSL:    getEnvBool("GLANCE_S3_USE_SSL", false),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
