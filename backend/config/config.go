package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
		DB       int      `mapstructure:"db"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Log struct {
		// redis | mysql | memory
		Backend     string `mapstructure:"backend"`
		ReplayBatch int    `mapstructure:"replay_batch"`
	} `mapstructure:"log"`
	Pubsub struct {
		// redis | memory
		Backend string `mapstructure:"backend"`
	} `mapstructure:"pubsub"`
	WS struct {
		SendBuffer       int           `mapstructure:"send_buffer"`
		DeliverTimeout   time.Duration `mapstructure:"deliver_timeout"`
		WriteTimeout     time.Duration `mapstructure:"write_timeout"`
		MaxFailures      int           `mapstructure:"max_failures"`
		BroadcastWorkers int           `mapstructure:"broadcast_workers"`
		AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"ws"`
	Cors struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

const (
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
	BackendMemory = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8080)
	v.SetDefault("redis.addrs", []string{"127.0.0.1:6379"})
	v.SetDefault("kafka.topic", "canvas-events")
	v.SetDefault("log.backend", BackendRedis)
	v.SetDefault("log.replay_batch", 100)
	v.SetDefault("pubsub.backend", BackendRedis)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.deliver_timeout", time.Second)
	v.SetDefault("ws.write_timeout", 5*time.Second)
	v.SetDefault("ws.max_failures", 3)
	v.SetDefault("ws.broadcast_workers", 16)
	v.SetDefault("cors.allow_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load 读取 canvasConfig.yaml；找不到文件时只用默认值和环境变量（CANVAS_ 前缀）
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("canvasConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("CANVAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Running.Port <= 0 || c.Running.Port > 65535 {
		return fmt.Errorf("config: invalid running.port %d", c.Running.Port)
	}
	switch c.Log.Backend {
	case BackendRedis, BackendMemory:
	case BackendMySQL:
		if c.Mysql.DSN == "" {
			return errors.New("config: log.backend is mysql but mysql.dsn is empty")
		}
	default:
		return fmt.Errorf("config: unknown log.backend %q", c.Log.Backend)
	}
	switch c.Pubsub.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("config: unknown pubsub.backend %q", c.Pubsub.Backend)
	}
	if c.NeedsRedis() && len(c.Redis.Addrs) == 0 {
		return errors.New("config: redis.addrs is empty")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka.brokers set but kafka.topic is empty")
	}
	if c.Log.ReplayBatch <= 0 {
		return fmt.Errorf("config: invalid log.replay_batch %d", c.Log.ReplayBatch)
	}
	if c.WS.DeliverTimeout <= 0 || c.WS.WriteTimeout <= 0 {
		return errors.New("config: ws.deliver_timeout and ws.write_timeout must be positive")
	}
	if c.WS.MaxFailures <= 0 || c.WS.BroadcastWorkers <= 0 || c.WS.SendBuffer <= 0 {
		return errors.New("config: ws.max_failures, ws.broadcast_workers and ws.send_buffer must be positive")
	}
	return nil
}

func (c *Config) NeedsRedis() bool {
	return c.Log.Backend == BackendRedis || c.Pubsub.Backend == BackendRedis
}
