// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Extraction    ExtractionConfig    `mapstructure:"extraction"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Schema        SchemaConfig        `mapstructure:"schema"`
	Manifest      ManifestConfig      `mapstructure:"manifest"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储操作员令牌相关的配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ReportBucket    string `mapstructure:"report_bucket"`
	PageBucket      string `mapstructure:"page_bucket"`
}

// ExtractionConfig 存储抽取模型（视觉大模型）相关的配置。
type ExtractionConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// IngestConfig 存储摄取管道相关的配置。
type IngestConfig struct {
	// Concurrency 是全局同时在途的页面数上限（不是文档数上限）。
	Concurrency int `mapstructure:"concurrency"`
	// MaxRetries 是单个页面瞬时错误的最大重试次数。
	MaxRetries int `mapstructure:"max_retries"`
	// BackoffBaseMS 是指数退避的基础延迟（毫秒）。
	BackoffBaseMS int `mapstructure:"backoff_base_ms"`
	// BackoffMaxMS 是单次退避延迟的上限（毫秒）。
	BackoffMaxMS int `mapstructure:"backoff_max_ms"`
	// PageTimeoutSeconds 是单页抽取调用的超时时间（秒）。
	PageTimeoutSeconds int `mapstructure:"page_timeout_seconds"`
	// MinSuccessRate 低于该文档成功率时，-once 模式以非零码退出。
	MinSuccessRate float64 `mapstructure:"min_success_rate"`
}

// SchemaConfig 存储字段注册表相关的配置。
type SchemaConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
}

// ManifestConfig 存储处理清单相关的配置。
type ManifestConfig struct {
	Path         string `mapstructure:"path"`
	ErrorLogPath string `mapstructure:"error_log_path"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)
}

// applyDefaults 为未配置的摄取参数填充默认值。
func applyDefaults(c *Config) {
	if c.Ingest.Concurrency <= 0 {
		c.Ingest.Concurrency = 32
	}
	if c.Ingest.MaxRetries <= 0 {
		c.Ingest.MaxRetries = 3
	}
	if c.Ingest.BackoffBaseMS <= 0 {
		c.Ingest.BackoffBaseMS = 500
	}
	if c.Ingest.BackoffMaxMS <= 0 {
		c.Ingest.BackoffMaxMS = 30000
	}
	if c.Ingest.PageTimeoutSeconds <= 0 {
		c.Ingest.PageTimeoutSeconds = 120
	}
	if c.Schema.RegistryPath == "" {
		c.Schema.RegistryPath = "data/schema_registry.json"
	}
	if c.Manifest.Path == "" {
		c.Manifest.Path = "data/manifest.json"
	}
	if c.Manifest.ErrorLogPath == "" {
		c.Manifest.ErrorLogPath = "data/ingest_errors.log"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "yanbao-go-consumer"
	}
}
