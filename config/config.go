package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"udemy-course-watcher/security"
)

const (
	DayModeFixed    = "fixed"
	DayModePerCycle = "per_cycle"
)

// Config mirrors config.yaml. JSON files are accepted too since YAML is a superset.
type Config struct {
	DBName           string   `yaml:"db_name"`
	DatabaseDir      string   `yaml:"database_dir"`
	KeepRunning      bool     `yaml:"keep_running"`
	KeywordPauseTime int      `yaml:"keyword_pause_time"`
	FinishPauseTime  int      `yaml:"finish_pause_time"`
	Pages            int      `yaml:"pages"`
	DayMode          string   `yaml:"day_mode"`
	Domain           string   `yaml:"domain"`
	APIBaseURL       string   `yaml:"api_base_url"`
	SearchTimeout    int      `yaml:"search_timeout"`
	DetailTimeout    int      `yaml:"detail_timeout"`
	UserAgents       []string `yaml:"user_agents"`

	Logging struct {
		Dir   string `yaml:"dir"`
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Telegram struct {
		Token     string `yaml:"token"`
		ChannelID string `yaml:"channel_id"`
	} `yaml:"telegram"`
}

// Default returns the settings used for every option missing from the file.
func Default() *Config {
	cfg := &Config{
		DBName:           "database.db",
		DatabaseDir:      "database",
		KeepRunning:      false,
		KeywordPauseTime: 1,
		FinishPauseTime:  600,
		Pages:            5,
		DayMode:          DayModeFixed,
		Domain:           "https://www.udemy.com",
		APIBaseURL:       "https://www.udemy.com",
		SearchTimeout:    10,
		DetailTimeout:    5,
	}
	cfg.Logging.Dir = "logs"
	cfg.Logging.Level = "info"
	return cfg
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if set
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if channelID := os.Getenv("TELEGRAM_CHANNEL_ID"); channelID != "" {
		config.Telegram.ChannelID = channelID
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if err := security.ValidateFileName(c.DBName); err != nil {
		return fmt.Errorf("invalid db_name: %w", err)
	}

	if err := security.ValidateFilePath(c.DatabaseDir); err != nil {
		return fmt.Errorf("invalid database_dir: %w", err)
	}

	if err := security.ValidatePages(c.Pages); err != nil {
		return err
	}

	if c.KeywordPauseTime < 0 {
		return fmt.Errorf("keyword_pause_time cannot be negative")
	}

	if c.FinishPauseTime < 0 {
		return fmt.Errorf("finish_pause_time cannot be negative")
	}

	if c.SearchTimeout <= 0 || c.DetailTimeout <= 0 {
		return fmt.Errorf("search_timeout and detail_timeout must be positive")
	}

	if c.DayMode != DayModeFixed && c.DayMode != DayModePerCycle {
		return fmt.Errorf("unknown day_mode %q", c.DayMode)
	}

	if err := security.ValidateURL(c.Domain); err != nil {
		return fmt.Errorf("invalid domain: %w", err)
	}

	if err := security.ValidateURL(c.APIBaseURL); err != nil {
		return fmt.Errorf("invalid api_base_url: %w", err)
	}

	if err := security.ValidateFilePath(c.Logging.Dir); err != nil {
		return fmt.Errorf("invalid log dir: %w", err)
	}

	if c.TelegramEnabled() {
		if err := security.ValidateChannelID(c.Telegram.ChannelID); err != nil {
			return fmt.Errorf("invalid channel ID: %w", err)
		}
	}

	return nil
}

// TelegramEnabled reports whether new courses should be announced.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.Token != ""
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DatabaseDir, c.DBName)
}

func (c *Config) KeywordPause() time.Duration {
	return time.Duration(c.KeywordPauseTime) * time.Second
}

func (c *Config) FinishPause() time.Duration {
	return time.Duration(c.FinishPauseTime) * time.Second
}

// LoadList reads a newline-delimited list such as keywords.txt or categories.txt.
// Blank lines are skipped; a missing or empty file is an error.
func LoadList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var items []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, line)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%s is empty, please add at least one entry", path)
	}

	return items, nil
}
