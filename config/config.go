package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultFreeDailyLimit     = 5
	DefaultFreeMaxFileSize    = 2000 << 20
	DefaultPremiumMaxFileSize = 4000 << 20
)

type Config struct {
	DownloadBaseDir    string  `json:"download_base_dir"     yaml:"download_base_dir"`
	SessionDir         string  `json:"session_dir"           yaml:"session_dir"`
	DBPath             string  `json:"db_path"               yaml:"db_path"`
	LogChannelID       string  `json:"log_channel_id"        yaml:"log_channel_id"`
	ForceSubChannel    string  `json:"force_sub_channel"     yaml:"force_sub_channel"`
	AdminIDs           []int64 `json:"admin_ids"             yaml:"admin_ids"`
	FreeDailyLimit     int     `json:"free_daily_limit"      yaml:"free_daily_limit"`
	FreeMaxFileSize    int64   `json:"free_max_file_size"    yaml:"free_max_file_size"`
	PremiumMaxFileSize int64   `json:"premium_max_file_size" yaml:"premium_max_file_size"`
}

func (cfg *Config) applyDefaults() {
	if cfg.FreeDailyLimit == 0 {
		cfg.FreeDailyLimit = DefaultFreeDailyLimit
	}

	if cfg.FreeMaxFileSize == 0 {
		cfg.FreeMaxFileSize = DefaultFreeMaxFileSize
	}

	if cfg.PremiumMaxFileSize == 0 {
		cfg.PremiumMaxFileSize = DefaultPremiumMaxFileSize
	}
}

func (cfg *Config) validate() error {
	if cfg.DownloadBaseDir == "" {
		return errors.New("download base dir is empty")
	}

	if cfg.SessionDir == "" {
		return errors.New("session dir is empty")
	}

	if cfg.DBPath == "" {
		return errors.New("database path is empty")
	}

	if cfg.FreeDailyLimit < 0 {
		return errors.New("free daily limit must not be negative")
	}

	if cfg.FreeMaxFileSize <= 0 {
		return errors.New("free max file size must be positive")
	}

	if cfg.PremiumMaxFileSize < cfg.FreeMaxFileSize {
		return errors.New("premium max file size must not be less than free max file size")
	}

	return nil
}

func FromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %q: %v", filePath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config file %q: %v", filePath, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}

func FromString(data string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(data), &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}
