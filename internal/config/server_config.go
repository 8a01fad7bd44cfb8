package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the configuration of the monitor
type AppConfig struct {
	Server  ServerSettings  `yaml:"server"`
	Storage StorageSettings `yaml:"storage"`
	Logging LoggingConfig   `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	HistorySize    int           `yaml:"history_size"`
}

// Addr returns the listen address
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageSettings contains storage configuration
type StorageSettings struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	DBPath        string        `yaml:"db_path"`
	RetentionDays int           `yaml:"retention_days"`
	FlushPeriod   time.Duration `yaml:"flush_period"`

	// SteadyRetentionDays expires ticks that neither switched nor failed
	// sooner. Zero keeps them for RetentionDays.
	SteadyRetentionDays int `yaml:"steady_retention_days"`
}

// LoadAppConfig loads the monitor configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (s *ServerSettings) applyDefaults() {
	if s.Port == 0 {
		s.Port = 8081
	}
	if s.Host == "" {
		s.Host = "localhost"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 60 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.HistorySize == 0 {
		s.HistorySize = 288
	}
}

func (s *StorageSettings) applyDefaults(dbPath string) {
	if s.BufferSize == 0 {
		s.BufferSize = 100
	}
	if s.DBPath == "" {
		s.DBPath = dbPath
	}
	if s.RetentionDays == 0 {
		s.RetentionDays = 30
	}
	if s.FlushPeriod == 0 {
		s.FlushPeriod = 5 * time.Second
	}
}

// ApplyDefaults sets default values for the monitor config
func (ac *AppConfig) ApplyDefaults() {
	ac.Server.applyDefaults()
	ac.Storage.applyDefaults("./data/wmc-monitor.db")
	ac.Logging.applyDefaults()
}

// OverrideFromEnv overrides config from environment variables
func (ac *AppConfig) OverrideFromEnv() {
	if v := os.Getenv("WMC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			ac.Server.Port = port
		}
	}
	if v := os.Getenv("WMC_SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("WMC_SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
}

func (s ServerSettings) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if s.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	return nil
}

// Validate checks if the monitor configuration is valid
func (ac *AppConfig) Validate() error {
	if err := ac.Server.validate(); err != nil {
		return err
	}
	return ac.Storage.validate()
}

func (s StorageSettings) validate() error {
	if s.BufferSize < 10 {
		return fmt.Errorf("buffer size must be at least 10")
	}
	if s.SteadyRetentionDays < 0 {
		return fmt.Errorf("storage.steady_retention_days must not be negative")
	}
	if s.Enabled && s.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	return nil
}

// String returns a safe string representation (hides auth token)
func (ac *AppConfig) String() string {
	server := ac.Server
	server.AuthToken = maskToken(server.AuthToken)
	return fmt.Sprintf("AppConfig{Server: %+v, Storage: %+v, Logging: %+v}",
		server,
		ac.Storage,
		ac.Logging,
	)
}
