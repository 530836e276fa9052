package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type SenderConfig struct {
	BackoffMin      time.Duration `mapstructure:"backoff_min"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	LockBackoff     time.Duration `mapstructure:"lock_backoff"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

type ApnsConfig struct {
	Host    string `mapstructure:"host"`
	KeyFile string `mapstructure:"key_file"`
	KeyID   string `mapstructure:"key_id"`
	TeamID  string `mapstructure:"team_id"`
	Topic   string `mapstructure:"topic"`
}

type FcmConfig struct {
	KeyFile   string `mapstructure:"key_file"`
	ProjectID string `mapstructure:"project_id"`
}

type Config struct {
	DatabaseURL string       `mapstructure:"database_url"`
	ServerPort  string       `mapstructure:"server_port"`
	Sender      SenderConfig `mapstructure:"sender"`
	Apns        ApnsConfig   `mapstructure:"apns"`
	Fcm         FcmConfig    `mapstructure:"fcm"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "3001"
	}
	if config.DatabaseURL == "" {
		log.Fatal("database_url must be set in the config file")
	}

	if config.Sender.BackoffMin == 0 {
		config.Sender.BackoffMin = time.Second
	}
	if config.Sender.BackoffMax == 0 {
		config.Sender.BackoffMax = 60 * time.Second
	}
	if config.Sender.DispatchTimeout == 0 {
		config.Sender.DispatchTimeout = 21 * time.Second
	}
	if config.Sender.LockBackoff == 0 {
		config.Sender.LockBackoff = 100 * time.Millisecond
	}
	if config.Apns.Host == "" {
		config.Apns.Host = "https://api.push.apple.com"
	}

	return &config
}

// ValidatePush reports missing push-gateway credentials. The sender refuses
// to start without them rather than run degraded.
func (c *Config) ValidatePush() error {
	if c.Apns.KeyFile == "" || c.Apns.KeyID == "" || c.Apns.TeamID == "" || c.Apns.Topic == "" {
		return fmt.Errorf("apns key_file, key_id, team_id and topic must all be set")
	}
	if c.Fcm.KeyFile == "" || c.Fcm.ProjectID == "" {
		return fmt.Errorf("fcm key_file and project_id must be set")
	}
	return nil
}
