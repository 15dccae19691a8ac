package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig Driver 取值 mysql 或 postgres
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	RetryJob string `mapstructure:"retry_job"`
	StuckBet string `mapstructure:"stuck_bet"`
}

// WalletConfig 外部钱包调用参数
type WalletConfig struct {
	HTTPTimeoutMs  int    `mapstructure:"http_timeout_ms"`
	SuccessStatus  string `mapstructure:"success_status"`
	AuditTimeoutMs int    `mapstructure:"audit_timeout_ms"`
}

type BusinessConfig struct {
	StuckBetMaxAgeMinutes int `mapstructure:"stuck_bet_max_age_minutes"`
	StuckBetScanSeconds   int `mapstructure:"stuck_bet_scan_seconds"`
	RetentionDays         int `mapstructure:"retention_days"`
	MaxRetryCount         int `mapstructure:"max_retry_count"`
}

type LogConfig struct {
	Env string `mapstructure:"env"`
}

var GlobalConfig *Config

// Default 返回一份可直接使用的默认配置，测试和工具无需配置文件
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:       "mysql",
			Host:         "127.0.0.1",
			Port:         3306,
			User:         "root",
			Database:     "walletbridge",
			SSLMode:      "disable",
			MaxOpenConns: 50,
			MaxIdleConns: 10,
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379, CacheTTLSeconds: 60},
		Kafka: KafkaConfig{
			Brokers: []string{"127.0.0.1:9092"},
			Topic: KafkaTopicConfig{
				RetryJob: "wallet.retry_job",
				StuckBet: "wallet.stuck_bet",
			},
		},
		Wallet: WalletConfig{
			HTTPTimeoutMs:  10000,
			SuccessStatus:  "RS_OK",
			AuditTimeoutMs: 5000,
		},
		Business: BusinessConfig{
			StuckBetMaxAgeMinutes: 30,
			StuckBetScanSeconds:   60,
			RetentionDays:         90,
			MaxRetryCount:         5,
		},
		Log: LogConfig{Env: "local"},
	}
}

// LoadConfig 加载配置文件，环境变量 WALLETBRIDGE_* 可覆盖同名配置项
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WALLETBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c WalletConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

func (c WalletConfig) AuditTimeout() time.Duration {
	return time.Duration(c.AuditTimeoutMs) * time.Millisecond
}

func (c RedisConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c BusinessConfig) StuckBetMaxAge() time.Duration {
	return time.Duration(c.StuckBetMaxAgeMinutes) * time.Minute
}

func (c BusinessConfig) StuckBetScanInterval() time.Duration {
	return time.Duration(c.StuckBetScanSeconds) * time.Second
}
