package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Coin is one entry of the tracked universe: the provider id plus the display fields.
type Coin struct {
	ID     string `yaml:"id"`
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Upstream struct {
		BaseURL      string        `yaml:"base_url" default:"https://api.coingecko.com/api/v3"`
		APIKey       string        `yaml:"api_key"`
		APIKeyHeader string        `yaml:"api_key_header" default:"x-cg-demo-api-key"`
		VsCurrency   string        `yaml:"vs_currency" default:"usd"`
		Timeout      time.Duration `yaml:"timeout" default:"15s"`
		Coins        []Coin        `yaml:"coins"`
	} `yaml:"upstream"`
	Cache struct {
		Backend       string        `yaml:"backend" default:"file"`
		Dir           string        `yaml:"dir" default:"cache"`
		Key           string        `yaml:"key" default:"crypto-prices"`
		TTL           time.Duration `yaml:"ttl" default:"10m"`
		MaxAge        time.Duration `yaml:"max_age" default:"1h"`
		TooOld        time.Duration `yaml:"too_old" default:"24h"`
		SweepInterval time.Duration `yaml:"sweep_interval" default:"1h"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"64"`
		Redis         struct {
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"coinpull"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Gate struct {
		StaleThreshold time.Duration `yaml:"stale_threshold" default:"30s"`
		TTL            time.Duration `yaml:"ttl" default:"45s"`
	} `yaml:"gate"`
	Scheduler struct {
		Enabled     bool          `yaml:"enabled" default:"true"`
		Period      time.Duration `yaml:"period" default:"9m"`
		RetryBase   time.Duration `yaml:"retry_base" default:"30s"`
		RetryFactor float64       `yaml:"retry_factor" default:"1.5"`
		RetryMax    time.Duration `yaml:"retry_max" default:"5m"`
	} `yaml:"scheduler"`
	Fanout struct {
		Path         string        `yaml:"path" default:"/ws/prices"`
		SendBuffer   int           `yaml:"send_buffer" default:"8"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"fanout"`
	RateLimit struct {
		Enabled bool    `yaml:"enabled" default:"true"`
		RPS     float64 `yaml:"rps" default:"5"`
		Burst   int     `yaml:"burst" default:"10"`
	} `yaml:"ratelimit"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic" default:"coinpull.prices"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"snappy"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Relay        struct {
			Enabled bool   `yaml:"enabled"`
			GroupID string `yaml:"group_id" default:"coinpull-relay"`
			Workers int    `yaml:"workers" default:"1"`
		} `yaml:"relay"`
	} `yaml:"kafka"`
}

// Load reads a YAML file on top of struct defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a Config from YAML bytes.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := getenv("COINPULL_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := getenv("CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := getenv("CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Upstream.Coins) == 0 {
		return fmt.Errorf("upstream.coins cannot be empty")
	}
	seen := make(map[string]struct{}, len(c.Upstream.Coins))
	for i, coin := range c.Upstream.Coins {
		if coin.ID == "" || coin.Symbol == "" {
			return fmt.Errorf("upstream.coins[%d]: id and symbol are required", i)
		}
		if _, dup := seen[coin.ID]; dup {
			return fmt.Errorf("upstream.coins[%d]: duplicate id %q", i, coin.ID)
		}
		seen[coin.ID] = struct{}{}
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Cache.Backend != "file" && c.Cache.Backend != "redis" {
		return fmt.Errorf("cache.backend must be 'file' or 'redis', got '%s'", c.Cache.Backend)
	}
	if c.Cache.Key == "" {
		return fmt.Errorf("cache.key is required")
	}
	if c.Cache.TTL <= 0 || c.Cache.MaxAge <= 0 || c.Cache.TooOld <= 0 {
		return fmt.Errorf("cache.ttl, cache.max_age and cache.too_old must be positive")
	}
	if c.Gate.StaleThreshold <= 0 || c.Gate.TTL < c.Gate.StaleThreshold {
		return fmt.Errorf("gate.ttl must be >= gate.stale_threshold > 0")
	}
	if c.Scheduler.Period <= 0 || c.Scheduler.RetryBase <= 0 || c.Scheduler.RetryMax < c.Scheduler.RetryBase {
		return fmt.Errorf("scheduler.period and retry_base must be positive and retry_max >= retry_base")
	}
	if c.Scheduler.RetryFactor < 1 {
		return fmt.Errorf("scheduler.retry_factor must be >= 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	return nil
}

// CoinIDs returns the provider ids in configured order.
func (c *Config) CoinIDs() []string {
	ids := make([]string, len(c.Upstream.Coins))
	for i, coin := range c.Upstream.Coins {
		ids[i] = coin.ID
	}
	return ids
}
