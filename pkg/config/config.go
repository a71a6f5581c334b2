// Package config loads AdSync configuration from the environment.
//
// Every setting maps to one environment variable with a sensible default for
// the docker-compose topology (service-name hosts). Viper handles the
// binding so values can also come from an optional config file if one is
// ever mounted.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PostgresConfig holds source database connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// DSN returns a keyword/value connection string for pgx.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		c.Host, c.Port, c.Database, c.User, c.Password)
}

// ClickhouseConfig holds sink database connection settings.
type ClickhouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Addr returns the native-protocol address.
func (c ClickhouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig holds change-event source settings.
type KafkaConfig struct {
	Brokers         []string
	GroupID         string
	AutoOffsetReset string
	MaxPollRecords  int
	PollTimeout     time.Duration

	AdvertiserTopic  string
	CampaignTopic    string
	ImpressionsTopic string
	ClicksTopic      string
}

// Topics returns all subscribed topics in a stable order.
func (c KafkaConfig) Topics() []string {
	return []string{c.AdvertiserTopic, c.CampaignTopic, c.ImpressionsTopic, c.ClicksTopic}
}

// SyncConfig holds batch pipeline settings.
type SyncConfig struct {
	Interval   time.Duration
	SchemaPath string
	ViewsPath  string
}

// DebeziumConfig holds Kafka Connect bootstrap settings.
type DebeziumConfig struct {
	ConnectorURL string
	PgHost       string
	PgPort       int
	PgUser       string
	PgPassword   string
	PgDatabase   string
}

// Config is the top-level application configuration.
type Config struct {
	Postgres    PostgresConfig
	Clickhouse  ClickhouseConfig
	Kafka       KafkaConfig
	Sync        SyncConfig
	Debezium    DebeziumConfig
	LogLevel    string
	MetricsAddr string
}

// envBindings maps viper keys to environment variables.
var envBindings = map[string]string{
	"postgres.host":            "POSTGRES_HOST",
	"postgres.port":            "POSTGRES_PORT",
	"postgres.database":        "POSTGRES_DB",
	"postgres.user":            "POSTGRES_USER",
	"postgres.password":        "POSTGRES_PASSWORD",
	"clickhouse.host":          "CLICKHOUSE_HOST",
	"clickhouse.port":          "CLICKHOUSE_PORT",
	"clickhouse.database":      "CLICKHOUSE_DB",
	"clickhouse.user":          "CLICKHOUSE_USER",
	"clickhouse.password":      "CLICKHOUSE_PASSWORD",
	"kafka.brokers":            "KAFKA_BOOTSTRAP_SERVERS",
	"kafka.group_id":           "KAFKA_GROUP_ID",
	"kafka.auto_offset_reset":  "KAFKA_AUTO_OFFSET_RESET",
	"kafka.max_poll_records":   "KAFKA_MAX_POLL_RECORDS",
	"kafka.topics.advertiser":  "KAFKA_TOPICS_ADVERTISER",
	"kafka.topics.campaign":    "KAFKA_TOPICS_CAMPAIGN",
	"kafka.topics.impressions": "KAFKA_TOPICS_IMPRESSIONS",
	"kafka.topics.clicks":      "KAFKA_TOPICS_CLICKS",
	"sync.interval":            "SYNC_INTERVAL",
	"sync.schema_path":         "SCHEMA_PATH",
	"sync.views_path":          "VIEWS_PATH",
	"debezium.connector_url":   "DEBEZIUM_CONNECTOR_URL",
	"debezium.pg_host":         "DEBEZIUM_PG_HOST",
	"debezium.pg_port":         "DEBEZIUM_PG_PORT",
	"debezium.pg_user":         "DEBEZIUM_PG_USER",
	"debezium.pg_password":     "DEBEZIUM_PG_PASSWORD",
	"debezium.pg_database":     "DEBEZIUM_PG_DBNAME",
	"log.level":                "LOG_LEVEL",
	"metrics.addr":             "METRICS_ADDR",
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "postgres")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")

	v.SetDefault("clickhouse.host", "clickhouse")
	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "analytics")
	v.SetDefault("clickhouse.user", "sysadmin")
	v.SetDefault("clickhouse.password", "sysadmin")

	v.SetDefault("kafka.brokers", "kafka:9092")
	v.SetDefault("kafka.group_id", "adtech-etl-group")
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.max_poll_records", 100)
	v.SetDefault("kafka.poll_timeout", "1s")
	v.SetDefault("kafka.topics.advertiser", "postgres.public.advertiser")
	v.SetDefault("kafka.topics.campaign", "postgres.public.campaign")
	v.SetDefault("kafka.topics.impressions", "postgres.public.impressions")
	v.SetDefault("kafka.topics.clicks", "postgres.public.clicks")

	v.SetDefault("sync.interval", "300s")
	v.SetDefault("sync.schema_path", "schema/clickhouse/init.sql")
	v.SetDefault("sync.views_path", "schema/clickhouse/kpi_views.sql")

	v.SetDefault("debezium.connector_url", "http://debezium:8083/connectors")
	v.SetDefault("debezium.pg_host", "postgres")
	v.SetDefault("debezium.pg_port", 5432)
	v.SetDefault("debezium.pg_user", "postgres")
	v.SetDefault("debezium.pg_password", "postgres")
	v.SetDefault("debezium.pg_database", "postgres")

	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	cfg := &Config{
		Postgres: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			Database: v.GetString("postgres.database"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
		},
		Clickhouse: ClickhouseConfig{
			Host:     v.GetString("clickhouse.host"),
			Port:     v.GetInt("clickhouse.port"),
			Database: v.GetString("clickhouse.database"),
			User:     v.GetString("clickhouse.user"),
			Password: v.GetString("clickhouse.password"),
		},
		Kafka: KafkaConfig{
			Brokers:          splitBrokers(v.GetString("kafka.brokers")),
			GroupID:          v.GetString("kafka.group_id"),
			AutoOffsetReset:  v.GetString("kafka.auto_offset_reset"),
			MaxPollRecords:   v.GetInt("kafka.max_poll_records"),
			PollTimeout:      v.GetDuration("kafka.poll_timeout"),
			AdvertiserTopic:  v.GetString("kafka.topics.advertiser"),
			CampaignTopic:    v.GetString("kafka.topics.campaign"),
			ImpressionsTopic: v.GetString("kafka.topics.impressions"),
			ClicksTopic:      v.GetString("kafka.topics.clicks"),
		},
		Sync: SyncConfig{
			Interval:   v.GetDuration("sync.interval"),
			SchemaPath: v.GetString("sync.schema_path"),
			ViewsPath:  v.GetString("sync.views_path"),
		},
		Debezium: DebeziumConfig{
			ConnectorURL: v.GetString("debezium.connector_url"),
			PgHost:       v.GetString("debezium.pg_host"),
			PgPort:       v.GetInt("debezium.pg_port"),
			PgUser:       v.GetString("debezium.pg_user"),
			PgPassword:   v.GetString("debezium.pg_password"),
			PgDatabase:   v.GetString("debezium.pg_database"),
		},
		LogLevel:    v.GetString("log.level"),
		MetricsAddr: v.GetString("metrics.addr"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitBrokers turns a comma-separated bootstrap server list into a slice.
func splitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// Validate checks settings that would otherwise fail deep inside a pipeline.
func (c *Config) Validate() error {
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Kafka.MaxPollRecords <= 0 {
		return fmt.Errorf("kafka max poll records must be positive, got %d", c.Kafka.MaxPollRecords)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	return nil
}
