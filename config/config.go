// Package config loads the bot configuration from a YAML file, a .env file
// and the process environment. Precedence, lowest first: defaults, the file
// named by CONFIG_FILE, environment variables (including .env).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"signalbot/internal/indicator"
	"signalbot/internal/strategy"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Broker names.
const (
	BrokerAlpaca = "alpaca"
	BrokerPaper  = "paper"
)

const defaultStreamURL = "wss://paper-api.alpaca.markets/stream"

// Config holds all application configuration.
type Config struct {
	// Alpaca credentials
	AlpacaAPIKey    string `yaml:"alpaca_api_key"`
	AlpacaSecretKey string `yaml:"alpaca_secret_key"`
	AlpacaBaseURL   string `yaml:"alpaca_base_url"`
	StreamURL       string `yaml:"stream_url"`

	// Instruments and indicators
	Symbols      []string         `yaml:"symbols"`
	Indicators   indicator.Config `yaml:"indicators"`
	BarRetention int              `yaml:"bar_retention"` // 0 = unbounded

	// Rules and orders
	RSIOversold   float64  `yaml:"rsi_oversold"`
	RSIOverbought float64  `yaml:"rsi_overbought"`
	SignalPolicy  string   `yaml:"signal_policy"`
	RuleOrder     []string `yaml:"rule_order"`
	OrderQty      int64    `yaml:"order_qty"`
	TimeInForce   string   `yaml:"time_in_force"`

	// Execution venue
	Broker           string  `yaml:"broker"` // alpaca | paper
	PaperSlippageBps float64 `yaml:"paper_slippage_bps"`

	// Infrastructure
	SQLitePath    string        `yaml:"sqlite_path"`
	JournalPath   string        `yaml:"journal_path"`
	RedisAddr     string        `yaml:"redis_addr"` // empty disables publishing
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	LogLevel      string        `yaml:"log_level"`
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// Notifications (empty disables)
	NotifyWebhookURL    string `yaml:"notify_webhook_url"`
	NotifyTelegramToken string `yaml:"notify_telegram_token"`
	NotifyTelegramChat  string `yaml:"notify_telegram_chat"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		AlpacaBaseURL:    "https://paper-api.alpaca.markets",
		StreamURL:        defaultStreamURL,
		Symbols:          []string{"AAPL", "MSFT", "GOOGL"},
		Indicators:       indicator.DefaultConfig(),
		BarRetention:     1000,
		RSIOversold:      30,
		RSIOverbought:    70,
		SignalPolicy:     "first_match",
		RuleOrder:        []string{"rsi", "macd"},
		OrderQty:         10,
		TimeInForce:      "gtc",
		Broker:           BrokerAlpaca,
		PaperSlippageBps: 5,
		SQLitePath:       "data/bars.db",
		JournalPath:      "data/orders.db",
		MetricsAddr:      ":9090",
		LogLevel:         "info",
		ProbeInterval:    15 * time.Second,
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if
// set) and the environment, then validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults without consulting the
// environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.AlpacaAPIKey = getEnv("ALPACA_API_KEY", c.AlpacaAPIKey)
	c.AlpacaSecretKey = getEnv("ALPACA_SECRET_KEY", c.AlpacaSecretKey)
	c.AlpacaBaseURL = getEnv("ALPACA_BASE_URL", c.AlpacaBaseURL)
	c.StreamURL = getEnv("ALPACA_STREAM_URL", c.StreamURL)

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := os.Getenv("RULE_ORDER"); v != "" {
		c.RuleOrder = splitList(v)
	}
	c.SignalPolicy = getEnv("SIGNAL_POLICY", c.SignalPolicy)
	c.TimeInForce = getEnv("TIME_IN_FORCE", c.TimeInForce)
	c.Broker = strings.ToLower(getEnv("BROKER", c.Broker))

	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.NotifyWebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.NotifyWebhookURL)
	c.NotifyTelegramToken = getEnv("NOTIFY_TELEGRAM_TOKEN", c.NotifyTelegramToken)
	c.NotifyTelegramChat = getEnv("NOTIFY_TELEGRAM_CHAT", c.NotifyTelegramChat)

	var errs []error
	ints := []struct {
		key string
		dst *int
	}{
		{"SHORT_WINDOW", &c.Indicators.ShortWindow},
		{"LONG_WINDOW", &c.Indicators.LongWindow},
		{"RSI_PERIOD", &c.Indicators.RSIPeriod},
		{"MACD_FAST", &c.Indicators.MACDFast},
		{"MACD_SLOW", &c.Indicators.MACDSlow},
		{"MACD_SIGNAL", &c.Indicators.MACDSignal},
		{"BAR_RETENTION", &c.BarRetention},
		{"REDIS_DB", &c.RedisDB},
	}
	for _, f := range ints {
		v, err := getEnvInt(f.key, *f.dst)
		errs = append(errs, err)
		*f.dst = v
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"RSI_OVERSOLD", &c.RSIOversold},
		{"RSI_OVERBOUGHT", &c.RSIOverbought},
		{"PAPER_SLIPPAGE_BPS", &c.PaperSlippageBps},
	}
	for _, f := range floats {
		v, err := getEnvFloat(f.key, *f.dst)
		errs = append(errs, err)
		*f.dst = v
	}

	qty, err := getEnvInt("ORDER_QTY", int(c.OrderQty))
	errs = append(errs, err)
	c.OrderQty = int64(qty)

	if v := os.Getenv("PROBE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: PROBE_INTERVAL: %w", err))
		} else {
			c.ProbeInterval = d
		}
	}
	return errors.Join(errs...)
}

// Validate checks the configuration for values the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("config: at least one symbol is required"))
	}
	if err := c.Indicators.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.BarRetention < 0 {
		errs = append(errs, fmt.Errorf("config: bar retention must be >= 0, got %d", c.BarRetention))
	}
	if c.OrderQty <= 0 {
		errs = append(errs, fmt.Errorf("config: order qty must be positive, got %d", c.OrderQty))
	}
	if _, err := strategy.ParsePolicy(c.SignalPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Rules(); err != nil {
		errs = append(errs, err)
	}
	switch c.Broker {
	case BrokerAlpaca:
		if c.AlpacaAPIKey == "" || c.AlpacaSecretKey == "" {
			errs = append(errs, errors.New("config: ALPACA_API_KEY and ALPACA_SECRET_KEY are required for the alpaca broker"))
		}
	case BrokerPaper:
	default:
		errs = append(errs, fmt.Errorf("config: unknown broker %q (want alpaca or paper)", c.Broker))
	}
	if c.PaperSlippageBps < 0 {
		errs = append(errs, fmt.Errorf("config: paper slippage must be >= 0, got %v", c.PaperSlippageBps))
	}
	return errors.Join(errs...)
}

// Policy returns the parsed signal policy.
func (c *Config) Policy() strategy.Policy {
	p, _ := strategy.ParsePolicy(c.SignalPolicy)
	return p
}

// Rules builds the rule set in configured order.
func (c *Config) Rules() ([]strategy.Rule, error) {
	return strategy.BuildRules(c.RuleOrder, strategy.Thresholds{
		RSIOversold:   c.RSIOversold,
		RSIOverbought: c.RSIOverbought,
	})
}

// NormalizedSymbols returns the configured symbols upper-cased and
// de-duplicated, in order.
func (c *Config) NormalizedSymbols() []string {
	seen := make(map[string]bool, len(c.Symbols))
	out := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
