package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
}

type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	Mode      string          `mapstructure:"mode"`      // debug, release
	APIToken  string          `mapstructure:"api_token"` // 为空时不校验
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig 分析接口按客户端限流
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type DatabaseConfig struct {
	Type       string `mapstructure:"type"` // mysql, sqlite
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"db_name"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Worker 数量
	QueueSize   int `mapstructure:"queue_size"`  // 任务队列大小
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// AnalysisConfig 静态分析配置
type AnalysisConfig struct {
	MaxUploadMB   int      `mapstructure:"max_upload_mb"`
	MaxEntryBytes int64    `mapstructure:"max_entry_bytes"` // 单个条目解压上限
	MaxTotalBytes int64    `mapstructure:"max_total_bytes"` // 整个包解压上限
	Extractors    []string `mapstructure:"extractors"`      // androidbinary, aapt2, manifest
	AaptPath      string   `mapstructure:"aapt_path"`
	Similarity    string   `mapstructure:"similarity"` // ratio, token
	UploadDir     string   `mapstructure:"upload_dir"`
}

// MaxUploadBytes 上传大小上限（字节）
func (c AnalysisConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// ClassifierConfig 风险模型配置
type ClassifierConfig struct {
	Mode       string `mapstructure:"mode"` // none, remote, local
	ServerURL  string `mapstructure:"server_url"`
	Timeout    int    `mapstructure:"timeout"`     // seconds
	MaxRetries int    `mapstructure:"max_retries"` // 最大重试次数
	RetryDelay int    `mapstructure:"retry_delay"` // 重试间隔(毫秒)
	ModelPath  string `mapstructure:"model_path"`  // local 模式的权重文件
}

// CacheConfig 结果缓存配置
type CacheConfig struct {
	MemoryTTLMinutes int    `mapstructure:"memory_ttl_minutes"`
	PebbleEnabled    bool   `mapstructure:"pebble_enabled"`
	PebbleDir        string `mapstructure:"pebble_dir"`
}

// WatcherConfig 投递目录监听配置
type WatcherConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"`
}

// setDefaults 写入所有可调参数的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests_per_second", 2.0)
	v.SetDefault("server.rate_limit.burst", 5)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", "apk_risk")
	v.SetDefault("database.sqlite_path", "./data/apk_risk.db")

	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.queue", "apk_analysis_jobs")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("analysis.max_upload_mb", 200)
	v.SetDefault("analysis.max_entry_bytes", 64<<20)
	v.SetDefault("analysis.max_total_bytes", 512<<20)
	v.SetDefault("analysis.extractors", []string{"androidbinary", "manifest"})
	v.SetDefault("analysis.aapt_path", "aapt2")
	v.SetDefault("analysis.similarity", "ratio")
	v.SetDefault("analysis.upload_dir", "./data/uploads")

	v.SetDefault("classifier.mode", "none")
	v.SetDefault("classifier.server_url", "")
	v.SetDefault("classifier.timeout", 10)
	v.SetDefault("classifier.max_retries", 3)
	v.SetDefault("classifier.retry_delay", 500)
	v.SetDefault("classifier.model_path", "./models/risk_model.json")

	v.SetDefault("cache.memory_ttl_minutes", 60)
	v.SetDefault("cache.pebble_enabled", false)
	v.SetDefault("cache.pebble_dir", "./data/cache")

	v.SetDefault("watcher.enabled", false)
	v.SetDefault("watcher.dir", "./data/inbox")
	v.SetDefault("watcher.pattern", "*.apk")
}

// Load 读取配置文件，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 环境变量覆盖（支持嵌套配置）
	v.AutomaticEnv()

	// 绑定环境变量到嵌套配置路径
	// RabbitMQ
	v.BindEnv("rabbitmq.enabled", "RABBITMQ_ENABLED")
	v.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	v.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	// Database
	v.BindEnv("database.type", "DB_TYPE")
	v.BindEnv("database.host", "MYSQL_HOST")
	v.BindEnv("database.port", "MYSQL_PORT")
	v.BindEnv("database.user", "MYSQL_USER")
	v.BindEnv("database.password", "MYSQL_PASS")
	v.BindEnv("database.db_name", "MYSQL_DB")

	// Server / Classifier
	v.BindEnv("server.api_token", "API_TOKEN")
	v.BindEnv("classifier.mode", "CLASSIFIER_MODE")
	v.BindEnv("classifier.server_url", "CLASSIFIER_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
