package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_trade_pinbar/internal/usecase"
	"gopkg.in/yaml.v3"
)

type ExchangeConfig struct {
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
}

type StrategyConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	DuplicateWait     time.Duration `yaml:"duplicate_wait"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	Timeframes        []string      `yaml:"timeframes"`
	TrailingTimeframe string        `yaml:"trailing_timeframe"`
	MinNotional       float64       `yaml:"min_notional"`
	DefaultQtyStep    float64       `yaml:"default_qty_step"`
}

type StorageConfig struct {
	Driver        string `yaml:"driver"`
	SQLitePath    string `yaml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
}

type Config struct {
	Exchanges     []ExchangeConfig `yaml:"exchanges"`
	Strategy      StrategyConfig   `yaml:"strategy"`
	Storage       StorageConfig    `yaml:"storage"`
	Notifications struct {
		Buffer       int  `yaml:"buffer"`
		RedisPublish bool `yaml:"redis_publish"`
	} `yaml:"notifications"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads the YAML file at path, then applies .env and environment overrides
// for exchange credentials (<NAME>_API_KEY, <NAME>_API_SECRET).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	for i := range c.Exchanges {
		prefix := strings.ToUpper(strings.TrimSpace(c.Exchanges[i].Name))
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			c.Exchanges[i].APIKey = v
		}
		if v := os.Getenv(prefix + "_API_SECRET"); v != "" {
			c.Exchanges[i].APISecret = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "pinbar.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Engine merges the strategy section over the built-in engine defaults.
func (c *Config) Engine() usecase.EngineSettings {
	s := usecase.DefaultEngineSettings()
	if c.Strategy.PollInterval > 0 {
		s.PollInterval = c.Strategy.PollInterval
	}
	if c.Strategy.DuplicateWait > 0 {
		s.DuplicateWait = c.Strategy.DuplicateWait
	}
	if c.Strategy.ErrorBackoff > 0 {
		s.ErrorBackoff = c.Strategy.ErrorBackoff
	}
	if len(c.Strategy.Timeframes) > 0 {
		s.Timeframes = append([]string(nil), c.Strategy.Timeframes...)
	}
	if c.Strategy.TrailingTimeframe != "" {
		s.TrailingTimeframe = c.Strategy.TrailingTimeframe
	}
	if c.Strategy.MinNotional > 0 {
		s.MinNotional = c.Strategy.MinNotional
	}
	if c.Strategy.DefaultQtyStep > 0 {
		s.DefaultQtyStep = c.Strategy.DefaultQtyStep
	}
	return s
}

func (c *Config) Exchange(name string) (ExchangeConfig, bool) {
	for _, ex := range c.Exchanges {
		if strings.EqualFold(ex.Name, name) {
			return ex, true
		}
	}
	return ExchangeConfig{}, false
}
