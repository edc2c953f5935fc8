package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is either "mysql" or "sqlite".
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	// Path is the database file used by the sqlite driver.
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
	Namespace string        `mapstructure:"namespace"`
}

type ObjectStoreConfig struct {
	// Backend is either "s3" or "filesystem".
	Backend      string `mapstructure:"backend"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	BasePath     string `mapstructure:"base_path"`
	// CleanupTimeout bounds deletion of replaced or removed images.
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`
}

type UploadConfig struct {
	MaxSize   string `mapstructure:"max_size"`
	KeyPrefix string `mapstructure:"key_prefix"`

	MaxBytes int64 `mapstructure:"-"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

var defaults = map[string]any{
	"http.port":                   3000,
	"http.timeout":                "30s",
	"http.shutdown_timeout":       "10s",
	"database.driver":             "mysql",
	"database.host":               "localhost",
	"database.port":               "3306",
	"database.user":               "root",
	"database.password":           "",
	"database.name":               "aprohirdeto",
	"database.path":               "classifieds.db",
	"redis.enabled":               false,
	"redis.addr":                  "localhost:6379",
	"redis.password":              "",
	"redis.db":                    0,
	"redis.ttl":                   "10m",
	"redis.namespace":             "classifieds",
	"objectstore.backend":         "s3",
	"objectstore.bucket":          "",
	"objectstore.region":          "eu-central-1",
	"objectstore.endpoint":        "",
	"objectstore.access_key":      "",
	"objectstore.secret_key":      "",
	"objectstore.use_path_style":  false,
	"objectstore.base_path":       "./data",
	"objectstore.cleanup_timeout": "30s",
	"upload.max_size":             "10MB",
	"upload.key_prefix":           "uploads/",
	"tracing.enabled":             false,
	"tracing.endpoint":            "localhost:4318",
	"tracing.service_name":        "classifieds",
	"tracing.environment":         "development",
	"tracing.version":             "dev",
	"tracing.sample_ratio":        1.0,
	"logger.level":                "info",
	"logger.file":                 "",
}

// LoadConfig reads config.yaml from dir (when present) and applies environment
// overrides such as DATABASE_DRIVER or OBJECTSTORE_BUCKET.
func LoadConfig(dir string) (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	maxBytes, err := humanize.ParseBytes(config.Upload.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("invalid upload.max_size %q: %w", config.Upload.MaxSize, err)
	}
	config.Upload.MaxBytes = int64(maxBytes)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}

	switch c.ObjectStore.Backend {
	case "s3":
		if c.ObjectStore.Bucket == "" {
			return errors.New("objectstore.bucket must be set for the s3 backend")
		}
	case "filesystem":
	default:
		return fmt.Errorf("unsupported objectstore.backend %q", c.ObjectStore.Backend)
	}

	if c.ObjectStore.CleanupTimeout <= 0 {
		return errors.New("objectstore.cleanup_timeout must be positive")
	}

	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_size must be positive")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio %v is outside [0, 1]", c.Tracing.SampleRatio)
	}
	return nil
}

func MustLoadConfig() *Config {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "."
	}

	config, err := LoadConfig(dir)
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}
	return config
}
