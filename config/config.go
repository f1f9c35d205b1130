package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type VaultConfig struct {
	Secret string `yaml:"secret"`
}

// IMAPConfig holds the mailbox provider endpoint. Per-user credentials live
// in the credential store, encrypted by the vault.
type IMAPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`
}

// SMTPConfig holds the outbound transport endpoint. An empty host switches
// the transmission client into simulated mode.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSL      bool   `yaml:"ssl"`
}

type OutboxConfig struct {
	UndoDelaySeconds  int `yaml:"undo_delay_seconds"`
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`
	MaxAttempts       int `yaml:"max_attempts"`
	BatchSize         int `yaml:"batch_size"`
	TickMillis        int `yaml:"tick_millis"`
}

type SyncConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	FetchLimit      int `yaml:"fetch_limit"`
}

type Config struct {
	DB     DBConfig     `yaml:"db"`
	MQ     MQConfig     `yaml:"mq"`
	Redis  RedisConfig  `yaml:"redis"`
	Vault  VaultConfig  `yaml:"vault"`
	IMAP   IMAPConfig   `yaml:"imap"`
	SMTP   SMTPConfig   `yaml:"smtp"`
	Outbox OutboxConfig `yaml:"outbox"`
	Sync   SyncConfig   `yaml:"sync"`
}

func Load() *Config {
	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Outbox.UndoDelaySeconds <= 0 {
		cfg.Outbox.UndoDelaySeconds = 10
	}
	if cfg.Outbox.RetryDelaySeconds <= 0 {
		cfg.Outbox.RetryDelaySeconds = 30
	}
	if cfg.Outbox.MaxAttempts <= 0 {
		cfg.Outbox.MaxAttempts = 3
	}
	if cfg.Outbox.BatchSize <= 0 {
		cfg.Outbox.BatchSize = 10
	}
	if cfg.Outbox.TickMillis <= 0 {
		cfg.Outbox.TickMillis = 1000
	}
	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = 300
	}
	if cfg.Sync.FetchLimit <= 0 {
		cfg.Sync.FetchLimit = 100
	}
}

// TickInterval returns the dispatcher tick interval as a duration.
func (c OutboxConfig) TickInterval() time.Duration {
	return time.Duration(c.TickMillis) * time.Millisecond
}

// UndoDelay returns the undo window as a duration.
func (c OutboxConfig) UndoDelay() time.Duration {
	return time.Duration(c.UndoDelaySeconds) * time.Second
}

// RetryDelay returns the delay before a failed entry is retried.
func (c OutboxConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Interval returns the background mailbox sync interval.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if secret := os.Getenv("VAULT_SECRET"); secret != "" {
		cfg.Vault.Secret = secret
	}

	if host := os.Getenv("IMAP_HOST"); host != "" {
		cfg.IMAP.Host = host
	}
	if port := os.Getenv("IMAP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.IMAP.Port = p
		}
	}

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTP.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.SMTP.Username = user
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.SMTP.Password = password
	}
}
