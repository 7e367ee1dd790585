// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Saga     SagaConfig     `mapstructure:"saga"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Alerts   AlertConfig    `mapstructure:"alerts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// --- Broker Config ---

type KafkaConfig struct {
	Brokers []string     `mapstructure:"brokers"`
	GroupID string       `mapstructure:"group_id"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig names the inbound acknowledgement topics the consumer layer
// subscribes to. Outbound topics are derived from outbox event types via the
// event registry.
type TopicsConfig struct {
	ApplicationSubmitted  string `mapstructure:"application_submitted"`
	UserUpdateCompleted   string `mapstructure:"user_update_completed"`
	UserUpdateFailed      string `mapstructure:"user_update_failed"`
	StatusCreateCompleted string `mapstructure:"status_create_completed"`
	StatusCreateFailed    string `mapstructure:"status_create_failed"`
}

// --- Saga/Outbox Config ---

type OutboxConfig struct {
	PollInterval  int `mapstructure:"poll_interval"`  // milliseconds
	BatchSize     int `mapstructure:"batch_size"`
	RetentionDays int `mapstructure:"retention_days"` // dispatched rows kept this long
	SweepInterval int `mapstructure:"sweep_interval"` // milliseconds
}

type SagaConfig struct {
	Timeout       int `mapstructure:"timeout"`        // milliseconds before a stalled saga is escalated
	SweepInterval int `mapstructure:"sweep_interval"` // milliseconds between deadline sweeps
	LockStripes   int `mapstructure:"lock_stripes"`
	DedupTTL      int `mapstructure:"dedup_ttl"` // milliseconds for redis dedup keys
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AlertConfig holds operator alerting settings for FAILED sagas.
type AlertConfig struct {
	Enabled bool `mapstructure:"enabled"`
	AWS     struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
		ToEmail   string `mapstructure:"to_email"`
	} `mapstructure:"email"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// HTTPConfig holds the metrics/health listener settings.
type HTTPConfig struct {
	Address string `mapstructure:"address"`
}
