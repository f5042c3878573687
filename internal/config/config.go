package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds runtime configuration loaded from platformd.yaml and the environment.
type Settings struct {
	Host             string   `mapstructure:"host"`
	Port             int      `mapstructure:"port"`
	DatabaseType     string   `mapstructure:"database_type"`
	SQLiteDBPath     string   `mapstructure:"sqlite_db_path"`
	DatabaseHost     string   `mapstructure:"database_host"`
	DatabasePort     int      `mapstructure:"database_port"`
	DatabaseName     string   `mapstructure:"database_name"`
	DatabaseUser     string   `mapstructure:"database_user"`
	DatabasePassword string   `mapstructure:"database_password"`
	JWTSecretKey     string   `mapstructure:"jwt_secret_key"`
	JWTAlgorithm     string   `mapstructure:"jwt_algorithm"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`

	SecretKey    string `mapstructure:"secret_key"`
	TemplateRoot string `mapstructure:"template_root"`

	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileWorkers  int           `mapstructure:"reconcile_workers"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	HealthyPhases     []string      `mapstructure:"healthy_phases"`

	KubeTimeout time.Duration `mapstructure:"kube_timeout"`
	KubeQPS     float64       `mapstructure:"kube_qps"`
	KubeBurst   int           `mapstructure:"kube_burst"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// legacyEnv lists the bare environment names accepted next to the PLATFORMD_ prefixed ones.
var legacyEnv = map[string][]string{
	"host":              {"HOST"},
	"port":              {"APP_PORT", "BACKEND_PORT"},
	"database_type":     {"DATABASE_TYPE"},
	"sqlite_db_path":    {"SQLITE_DB_PATH"},
	"database_host":     {"DATABASE_HOST"},
	"database_port":     {"DATABASE_PORT"},
	"database_name":     {"DATABASE_NAME"},
	"database_user":     {"DATABASE_USER"},
	"database_password": {"DATABASE_PASSWORD"},
	"jwt_secret_key":    {"JWT_SECRET_KEY"},
	"jwt_algorithm":     {"JWT_ALGORITHM"},
	"secret_key":        {"SECRET_KEY"},
}

func Load() (Settings, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (Settings, error) {
	v.SetConfigName("platformd")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/platformd/")
	v.AddConfigPath(".")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("database_type", "sqlite")
	v.SetDefault("sqlite_db_path", firstExistingPath("backend/platformd.db", "platformd.db"))
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", 3306)
	v.SetDefault("database_name", "platformd")
	v.SetDefault("database_user", "platformd")
	v.SetDefault("database_password", "")
	v.SetDefault("jwt_secret_key", "")
	v.SetDefault("jwt_algorithm", "HS256")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("secret_key", "")
	v.SetDefault("template_root", "templates")
	v.SetDefault("reconcile_interval", 15*time.Second)
	v.SetDefault("reconcile_workers", 4)
	v.SetDefault("poll_timeout", 30*time.Second)
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("healthy_phases", []string{"Cluster in healthy state"})
	v.SetDefault("kube_timeout", 30*time.Second)
	v.SetDefault("kube_qps", 0)
	v.SetDefault("kube_burst", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetEnvPrefix("PLATFORMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		bind := append([]string{key, "PLATFORMD_" + strings.ToUpper(key)}, names...)
		if err := v.BindEnv(bind...); err != nil {
			return Settings{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DatabaseType = strings.ToLower(strings.TrimSpace(cfg.DatabaseType))
	if extra := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); extra != "" {
		for _, item := range strings.Split(extra, ",") {
			if item = strings.TrimSpace(item); item != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, item)
			}
		}
	}
	if cfg.ReconcileWorkers < 1 {
		cfg.ReconcileWorkers = 1
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = cfg.JWTSecretKey
	}
	if cfg.SecretKey == "" {
		return Settings{}, errors.New("secret_key must be set (PLATFORMD_SECRET_KEY)")
	}
	return cfg, nil
}

func firstExistingPath(paths ...string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Clean(paths[len(paths)-1])
}
