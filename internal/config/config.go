package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/zaliubovskiy/chatrelay/pkg/config"
	"github.com/zaliubovskiy/chatrelay/pkg/database"
	"github.com/zaliubovskiy/chatrelay/pkg/log"
	"github.com/zaliubovskiy/chatrelay/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Database  database.Config
	Redis     RedisConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Chat      ChatConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type RedisConfig struct {
	Enabled     bool
	Address     string
	Password    string
	DB          int
	CachePrefix string        `mapstructure:"cache_prefix"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type StorageConfig struct {
	Backend string              // local, s3
	URLTTL  time.Duration       `mapstructure:"url_ttl"`
	Local   storage.LocalConfig `mapstructure:"local"`
	S3      storage.S3Config    `mapstructure:"s3"`
}

type AuthConfig struct {
	Mode      string // token (opaque DB token), jwt
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type ChatConfig struct {
	PageSize          int      `mapstructure:"page_size"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 1<<20)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chatrelay.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_prefix", "chat:history")
	v.SetDefault("redis.cache_ttl", "30s")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.url_ttl", "15m")
	v.SetDefault("storage.local.base_path", "chat_files")
	v.SetDefault("auth.mode", "token")
	v.SetDefault("chat.page_size", 20)
	v.SetDefault("chat.allowed_extensions", []string{
		".jpg", ".jpeg", ".png", ".gif", ".pdf", ".doc", ".docx", ".txt", ".mp4", ".mov",
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chatrelay")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.backend", "STORAGE_BACKEND")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("auth.mode", "AUTH_MODE")
	v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Redis.CacheTTL = parseDuration(v, "redis.cache_ttl", 30*time.Second)
	cfg.Storage.URLTTL = parseDuration(v, "storage.url_ttl", 15*time.Minute)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
