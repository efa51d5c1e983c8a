package config

import "time"

// Config is the process configuration for the engagement engine.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Redis         RedisConfig        `mapstructure:"redis"`
	AWS           AWSConfig          `mapstructure:"aws"`
	Email         EmailConfig        `mapstructure:"email"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Engagement    EngagementConfig   `mapstructure:"engagement"`
	Outbox        OutboxConfig       `mapstructure:"outbox"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
	// Migrate applies the embedded schema at startup.
	Migrate bool `mapstructure:"migrate"`
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Address    string        `mapstructure:"address"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	ChannelTTL time.Duration `mapstructure:"channel_ttl"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
}

type EmailConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	FromAddress    string `mapstructure:"from_address"`
	TemplatePrefix string `mapstructure:"template_prefix"`
}

type NotificationConfig struct {
	// BestEffort downgrades notification sink failures to logged warnings.
	BestEffort  bool   `mapstructure:"best_effort"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

type EngagementConfig struct {
	DefaultCurrency       string `mapstructure:"default_currency"`
	AbsorbRoundingResidue bool   `mapstructure:"absorb_rounding_residue"`
}

type OutboxConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	AMQPURL      string        `mapstructure:"amqp_url"`
	Exchange     string        `mapstructure:"exchange"`
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
