package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"storyboard-server/logger"
)

type Config struct {
	Server struct {
		Port         string   `yaml:"port" env:"SERVER_PORT" env-default:":8080"`
		AllowOrigins []string `yaml:"allow_origins" env:"SERVER_ALLOW_ORIGINS" env-default:"*"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver" env:"DATABASE_DRIVER" env-default:"sqlite"`
		DSN    string `yaml:"dsn" env:"DATABASE_DSN" env-default:"storyboard.db"`
	} `yaml:"database"`
	AI struct {
		APIKey     string        `yaml:"api_key" env:"GEMINI_API_KEY"`
		BaseURL    string        `yaml:"base_url" env:"GEMINI_BASE_URL" env-default:"https://generativelanguage.googleapis.com/v1beta"`
		TextModel  string        `yaml:"text_model" env:"GEMINI_TEXT_MODEL" env-default:"gemini-2.5-flash"`
		ImageModel string        `yaml:"image_model" env:"GEMINI_IMAGE_MODEL" env-default:"imagen-4.0-generate-001"`
		Timeout    time.Duration `yaml:"timeout" env:"GEMINI_TIMEOUT" env-default:"60s"`
	} `yaml:"ai"`
	Poller struct {
		Interval    time.Duration `yaml:"interval" env:"POLL_INTERVAL" env-default:"10s"`
		MaxWait     time.Duration `yaml:"max_wait" env:"POLL_MAX_WAIT" env-default:"30m"`
		MaxAttempts int           `yaml:"max_attempts" env:"POLL_MAX_ATTEMPTS" env-default:"0"`
	} `yaml:"poller"`
	Queue struct {
		// inline: 进程内 goroutine；asynq: 走 redis 队列
		Backend     string `yaml:"backend" env:"QUEUE_BACKEND" env-default:"inline"`
		Concurrency int    `yaml:"concurrency" env:"QUEUE_CONCURRENCY" env-default:"5"`
	} `yaml:"queue"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"redis"`
	Media struct {
		Backend    string `yaml:"backend" env:"MEDIA_BACKEND" env-default:"local"`
		Dir        string `yaml:"dir" env:"MEDIA_DIR" env-default:"data/media"`
		PublicPath string `yaml:"public_path" env:"MEDIA_PUBLIC_PATH" env-default:"/media"`
		Minio      struct {
			Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
			AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
			SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
			Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
			UseSSL    bool   `yaml:"use_ssl" env:"MINIO_USE_SSL"`
			PublicURL string `yaml:"public_url" env:"MINIO_PUBLIC_URL"`
		} `yaml:"minio"`
	} `yaml:"media"`
	Logger logger.Config `yaml:"logger"`
}

// Load 读取 yaml 配置，环境变量优先
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = strings.TrimSpace(os.Getenv("API_KEY"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AI.APIKey) == "" {
		return errors.New("config: GEMINI_API_KEY (or API_KEY) is required")
	}
	if c.Poller.Interval <= 0 {
		return errors.New("config: poller interval must be positive")
	}
	switch c.Queue.Backend {
	case "inline", "asynq":
	default:
		return fmt.Errorf("config: unknown queue backend %q", c.Queue.Backend)
	}
	switch c.Media.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("config: unknown media backend %q", c.Media.Backend)
	}
	return nil
}
