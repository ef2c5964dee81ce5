package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	TrackSync TrackSyncConfig `yaml:"tracksync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                        string `yaml:"host"`
	Port                        int    `yaml:"port"`
	ConsignmentUpdatedTopicName string `yaml:"consignment_updated_topic_name"`
	ProviderPushTopicName       string `yaml:"provider_push_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SyncPairConfig — пара tenant/provider, которую воркер обслуживает по тикеру.
type SyncPairConfig struct {
	TenantID   string `yaml:"tenant_id"`
	ProviderID string `yaml:"provider_id"`
}

// CredentialConfig — статические ключи доступа (для демо и тестов;
// боевое хранилище ключей живёт снаружи).
type CredentialConfig struct {
	TenantID    string `yaml:"tenant_id"`
	ProviderID  string `yaml:"provider_id"`
	APIKey      string `yaml:"api_key"`
	AccountCode string `yaml:"account_code"`
	BaseURL     string `yaml:"base_url"`
}

// RiskSlabConfig — допуск срока доставки по префиксу идентификатора.
type RiskSlabConfig struct {
	Prefix        string `yaml:"prefix"`
	AllowanceDays int    `yaml:"allowance_days"`
}

type TrackSyncConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`

	SyncIntervalSeconds int `yaml:"sync_interval_seconds"`
	SyncBatchSize       int `yaml:"sync_batch_size"`

	FetchChunkSize      int `yaml:"fetch_chunk_size"`
	FetchConcurrency    int `yaml:"fetch_concurrency"`
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
	RateLimitPerMinute  int `yaml:"rate_limit_per_minute"`

	ShipraBaseURL    string `yaml:"shipra_base_url"`
	ParcelJetBaseURL string `yaml:"parceljet_base_url"`
	UseFakeProvider  bool   `yaml:"use_fake_provider"`

	SyncPairs   []SyncPairConfig   `yaml:"sync_pairs"`
	Credentials []CredentialConfig `yaml:"credentials"`

	RiskDefaultAllowanceDays int              `yaml:"risk_default_allowance_days"`
	RiskSlabs                []RiskSlabConfig `yaml:"risk_slabs"`
	RiskStaleWarningHours    int              `yaml:"risk_stale_warning_hours"`
	RiskStaleCriticalHours   int              `yaml:"risk_stale_critical_hours"`
	RiskStaleSensitiveHours  int              `yaml:"risk_stale_sensitive_hours"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
