package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Session    SessionConfig    `mapstructure:"session"`
	API        APIConfig        `mapstructure:"api"`
	Realtime   RealtimeConfig   `mapstructure:"realtime"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// SessionConfig 当前登录用户与会话级参数
type SessionConfig struct {
	UserID      string        `mapstructure:"user_id"`
	UserName    string        `mapstructure:"user_name"`
	DisplayName string        `mapstructure:"display_name"`
	ProjectID   string        `mapstructure:"project_id"`
	Product     string        `mapstructure:"product"`
	EchoTTL     time.Duration `mapstructure:"echo_ttl"`
	TypingTTL   time.Duration `mapstructure:"typing_ttl"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RealtimeConfig struct {
	URL          string        `mapstructure:"url"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BroadcastConfig 多标签页同步通道
// Driver: memory | redis | kafka | none
type BroadcastConfig struct {
	Driver string `mapstructure:"driver"`
	Topic  string `mapstructure:"topic"`
}

// CacheConfig 本地持久化缓存
// Driver: memory | redis | postgres
type CacheConfig struct {
	Driver string `mapstructure:"driver"`
	Prefix string `mapstructure:"prefix"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	MaxRetries     int      `mapstructure:"max_retries"`
	RetryBackoffMs int      `mapstructure:"retry_backoff_ms"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
}

// RateLimitConfig 本地意图接口的每分钟配额，0 表示不限流
type RateLimitConfig struct {
	SendPerMinute   int `mapstructure:"send_per_minute"`
	IntentPerMinute int `mapstructure:"intent_per_minute"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

// BroadcastTopic 返回跨标签页主题名，未配置时为 "<product>-chat"
func (c *Config) BroadcastTopic() string {
	if c.Broadcast.Topic != "" {
		return c.Broadcast.Topic
	}
	return c.Session.Product + "-chat"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.product", "chatsync")
	v.SetDefault("session.echo_ttl", 5*time.Second)
	v.SetDefault("session.typing_ttl", 3*time.Second)
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("realtime.ping_interval", 54*time.Second)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("broadcast.driver", "memory")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.prefix", "")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff_ms", 100)
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("server.port", 9100)
	v.SetDefault("server.mode", "release")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("jwt.refresh_hours", 2)
	v.SetDefault("rate_limit.send_per_minute", 60)
	v.SetDefault("rate_limit.intent_per_minute", 600)
	v.SetDefault("worker_pool.size", 4)
	v.SetDefault("worker_pool.queue_size", 256)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖，例如 CHATSYNC_SESSION_USER_ID
	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 检查启动会话所必需的字段
func (c *Config) Validate() error {
	if c.Session.UserID == "" {
		return fmt.Errorf("session.user_id is required")
	}
	switch c.Broadcast.Driver {
	case "memory", "redis", "kafka", "none":
	default:
		return fmt.Errorf("unknown broadcast driver %q", c.Broadcast.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Broadcast.Driver == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required for the kafka broadcast driver")
	}
	return nil
}
