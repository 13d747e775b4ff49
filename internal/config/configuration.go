package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// VerifyMode controls how the callback receiver treats broker signatures.
type VerifyMode string

const (
	VerifySoft   VerifyMode = "soft"
	VerifyStrict VerifyMode = "strict"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int    `mapstructure:"WEBSERVER_PORT"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL" validate:"omitempty,url"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Media policy
	MaxClipSeconds     int `mapstructure:"MAX_CLIP_SECONDS" validate:"gt=0"`
	TargetMaxDimension int `mapstructure:"TARGET_MAX_DIMENSION" validate:"gt=0"`

	// Object storage
	S3Bucket        string `mapstructure:"S3_BUCKET"`
	S3Region        string `mapstructure:"S3_REGION"`
	S3Endpoint      string `mapstructure:"S3_ENDPOINT" validate:"omitempty,url"`
	S3PublicBaseURL string `mapstructure:"S3_PUBLIC_BASE_URL" validate:"omitempty,url"`
	S3AccessKeyID   string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretKey     string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	// Dispatch backends
	WorkerURL     string        `mapstructure:"WORKER_URL" validate:"omitempty,url"`
	WorkerTimeout time.Duration `mapstructure:"WORKER_TIMEOUT"`
	BrokerURL     string        `mapstructure:"BROKER_URL" validate:"omitempty,url"`
	BrokerToken   string        `mapstructure:"BROKER_TOKEN"`
	BrokerQueue   string        `mapstructure:"BROKER_QUEUE"`

	// Callback verification
	CallbackSigningKey     string     `mapstructure:"CALLBACK_SIGNING_KEY"`
	CallbackNextSigningKey string     `mapstructure:"CALLBACK_NEXT_SIGNING_KEY"`
	CallbackVerifyMode     VerifyMode `mapstructure:"CALLBACK_VERIFY_MODE" validate:"oneof=soft strict"`

	// Identity
	SessionSecret   string `mapstructure:"SESSION_SECRET"`
	AuthTokenSecret string `mapstructure:"AUTH_TOKEN_SECRET"`

	// Sweeps
	ProcessingTimeout time.Duration `mapstructure:"PROCESSING_TIMEOUT"`
	RedispatchAfter   time.Duration `mapstructure:"REDISPATCH_AFTER"`

	// Worker process
	WorkDir    string `mapstructure:"WORK_DIR"`
	WorkerPort int    `mapstructure:"WORKER_PORT"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=text json"`
	LogFile   string `mapstructure:"LOG_FILE"`
}

// WorkerConfigured reports whether an external normalization worker is reachable.
func (c Config) WorkerConfigured() bool {
	return strings.TrimSpace(c.WorkerURL) != ""
}

// BrokerConfigured reports whether a broker is usable: an AMQP URL, or an
// HTTP broker URL with its token.
func (c Config) BrokerConfigured() bool {
	if c.BrokerIsAMQP() {
		return true
	}
	return strings.TrimSpace(c.BrokerURL) != "" && strings.TrimSpace(c.BrokerToken) != ""
}

// BrokerIsAMQP reports whether BROKER_URL points at a RabbitMQ-style broker.
func (c Config) BrokerIsAMQP() bool {
	u := strings.ToLower(strings.TrimSpace(c.BrokerURL))
	return strings.HasPrefix(u, "amqp://") || strings.HasPrefix(u, "amqps://")
}

// ObjectStoreConfigured reports whether S3 is the object store. Without a
// bucket the services fall back to the in-memory store.
func (c Config) ObjectStoreConfigured() bool {
	return strings.TrimSpace(c.S3Bucket) != ""
}

// CallbackURL is where brokers deliver normalization results.
func (c Config) CallbackURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/api/videos/callback"
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func setDefaults() {
	viper.SetDefault("WEBSERVER_PORT", 8080)
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("MAX_CLIP_SECONDS", 30)
	viper.SetDefault("TARGET_MAX_DIMENSION", 1280)
	viper.SetDefault("WORKER_TIMEOUT", 5*time.Minute)
	viper.SetDefault("BROKER_QUEUE", "video-normalize")
	viper.SetDefault("CALLBACK_VERIFY_MODE", string(VerifySoft))
	viper.SetDefault("PROCESSING_TIMEOUT", 15*time.Minute)
	viper.SetDefault("REDISPATCH_AFTER", 2*time.Minute)
	viper.SetDefault("WORK_DIR", "")
	viper.SetDefault("WORKER_PORT", 8090)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
}

// LoadConfig loads and validates the full configuration of the web service.
func LoadConfig(ctx context.Context) (*Config, error) {
	return load(ctx)
}

// LoadWorkerConfig is LoadConfig for processes that never open the
// database: the normalization worker and the CLIs.
func LoadWorkerConfig(ctx context.Context) (*Config, error) {
	return load(ctx, "DatabaseDSN")
}

func load(ctx context.Context, skip ...string) (*Config, error) {
	// A missing .env is the normal case in containers.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	bindEnv(Config{})
	viper.AutomaticEnv()
	setDefaults()

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	var err error
	if len(skip) > 0 {
		err = validate.StructExcept(cfg, skip...)
	} else {
		err = validate.Struct(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	slog.Info("Loaded configuration",
		"port", cfg.WebServerPort,
		"max_clip_seconds", cfg.MaxClipSeconds,
		"worker_configured", cfg.WorkerConfigured(),
		"broker_configured", cfg.BrokerConfigured(),
		"callback_verify_mode", cfg.CallbackVerifyMode,
	)

	return &cfg, nil
}
