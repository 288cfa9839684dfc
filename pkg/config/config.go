package config

import (
	"os"
	"strconv"
	"time"

	"levelup/pkg/circuitbreaker"
)

// RemoteConfig 远端存储配置
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig Redis配置（快照缓存）
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	SnapshotKey string        `yaml:"snapshot_key"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// TrackerConfig 看板相关参数
type TrackerConfig struct {
	RecentDays       int `yaml:"recent_days"`
	BenchmarkDays    int `yaml:"benchmark_days"`
	ConsistencyLimit int `yaml:"consistency_limit"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Remote  RemoteConfig          `yaml:"remote"`
	Breaker circuitbreaker.Config `yaml:"breaker"`
	Redis   RedisConfig           `yaml:"redis"`
	Tracker TrackerConfig         `yaml:"tracker"`
	Log     LogConfig             `yaml:"log"`
}

// Default 没有配置文件时使用的默认值
func Default() Config {
	return Config{
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Breaker: circuitbreaker.DefaultConfig(),
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			SnapshotKey: "levelup:snapshot",
			SnapshotTTL: 7 * 24 * time.Hour,
		},
		Tracker: TrackerConfig{
			RecentDays:       4,
			BenchmarkDays:    30,
			ConsistencyLimit: 5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// OverrideRemoteFromEnv 从环境变量覆盖远端存储配置
func OverrideRemoteFromEnv(cfg *RemoteConfig) {
	if url := os.Getenv("REMOTE_BASE_URL"); url != "" {
		cfg.BaseURL = url
	}
	if timeout := os.Getenv("REMOTE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Timeout = d
		}
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
		cfg.Enabled = true
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.DB = n
		}
	}
}

// OverrideLogFromEnv 从环境变量覆盖日志级别
func OverrideLogFromEnv(cfg *LogConfig) {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
}
