// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Messaging     MessagingConfig         `mapstructure:"messaging"`
	Integrations  IntegrationConfig       `mapstructure:"integrations"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Substitution  SubstitutionConfig      `mapstructure:"substitution"`
	HTTP          HTTPConfig              `mapstructure:"http"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
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
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	URL         string   `mapstructure:"url"` // Single URL for backwards compatibility
	EventsIndex string   `mapstructure:"events_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MessagingConfig holds event bus settings.
type MessagingConfig struct {
	NATS struct {
		Enabled       bool   `mapstructure:"enabled"`
		URL           string `mapstructure:"url"`
		Name          string `mapstructure:"name"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// IntegrationConfig holds settings for external services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// NotificationConfig holds settings for the notification gateway.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	WhatsApp struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"whatsapp"`
	Push struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"push"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	Burst              int     `mapstructure:"burst"`
	DedupeTTL          int     `mapstructure:"dedupe_ttl"`        // milliseconds
	ContactCacheTTL    int     `mapstructure:"contact_cache_ttl"` // milliseconds
	Timeout            int     `mapstructure:"timeout"`           // milliseconds
}

// SubstitutionConfig tunes the handoff engine.
type SubstitutionConfig struct {
	Store              string `mapstructure:"store"`               // postgres | memory
	ConfirmationWindow int    `mapstructure:"confirmation_window"` // milliseconds
	SweepSchedule      string `mapstructure:"sweep_schedule"`
	SweepEnabled       bool   `mapstructure:"sweep_enabled"`
	SweepTimeout       int    `mapstructure:"sweep_timeout"` // milliseconds
	StoreTimeout       int    `mapstructure:"store_timeout"` // milliseconds
	BatchSize          int    `mapstructure:"batch_size"`
}

// HTTPConfig holds settings for the API server.
type HTTPConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Window returns the confirmation window as a duration.
func (s SubstitutionConfig) Window() time.Duration {
	return GetDuration(s.ConfirmationWindow)
}
