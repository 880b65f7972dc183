package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can say "60s" or "5m";
// yaml.v3 has no native duration support.
type Duration time.Duration

// UnmarshalYAML parses Go duration notation.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the root configuration for the trading agent. Every recognized
// option is enumerated here with its default; nothing is read from loose maps.
type Config struct {
	Bot           BotConfig          `yaml:"bot"`
	Risk          RiskConfig         `yaml:"risk"`
	Executor      ExecutorConfig     `yaml:"executor"`
	Exchange      ExchangeConfig     `yaml:"exchange"`
	Feed          FeedConfig         `yaml:"feed"`
	Models        ModelsConfig       `yaml:"models"`
	KillSwitch    KillSwitchConfig   `yaml:"kill_switch"`
	Notifications NotificationConfig `yaml:"notifications"`
	TradeLog      TradeLogConfig     `yaml:"trade_log"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	LogLevel      string             `yaml:"log_level" default:"info"`
	LogFile       string             `yaml:"log_file" default:"logs/bot.log"`
}

// BotConfig controls the trading loop itself.
type BotConfig struct {
	Symbol         string   `yaml:"symbol" default:"SOLUSDT" validate:"required"`
	Leverage       int      `yaml:"leverage" default:"5" validate:"gte=1,lte=125"`
	CheckInterval  Duration `yaml:"check_interval" validate:"gt=0"`
	InitialBalance float64  `yaml:"initial_balance" default:"10000" validate:"gt=0"`
	Simulation     bool     `yaml:"simulation" default:"true"`
}

// SetDefaults fills the duration fields the default tags cannot express.
func (c *BotConfig) SetDefaults() {
	if c.CheckInterval == 0 {
		c.CheckInterval = Duration(60 * time.Second)
	}
}

// RiskConfig holds the risk manager thresholds.
type RiskConfig struct {
	MaxPositionSize      float64 `yaml:"max_position_size" default:"0.2" validate:"gt=0,lte=1"`
	RiskPerTrade         float64 `yaml:"risk_per_trade" default:"0.02" validate:"gt=0,lte=1"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss" default:"0.03" validate:"gt=0,lte=1"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day" default:"20" validate:"gte=1"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" default:"5" validate:"gte=1"`
	MinNotional          float64 `yaml:"min_notional" default:"10"`
}

// ExecutorConfig holds order executor retry settings.
type ExecutorConfig struct {
	MaxRetries    int      `yaml:"max_retries" default:"3" validate:"gte=1"`
	RetryDelay    Duration `yaml:"retry_delay" validate:"gt=0"`
	QtyDecimals   int      `yaml:"qty_decimals" default:"3"`
	PriceDecimals int      `yaml:"price_decimals" default:"2"`
}

func (c *ExecutorConfig) SetDefaults() {
	if c.RetryDelay == 0 {
		c.RetryDelay = Duration(2 * time.Second)
	}
}

// ExchangeConfig holds venue connection settings. The API key and secret are
// never read from the YAML file; they come from the environment.
type ExchangeConfig struct {
	Category string `yaml:"category" default:"linear"`
	Testnet  bool   `yaml:"testnet" default:"true"`
	Demo     bool   `yaml:"demo" default:"false"`

	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// FeedConfig holds market data feed settings.
type FeedConfig struct {
	Interval       string   `yaml:"interval" default:"5m"`
	ReconnectDelay Duration `yaml:"reconnect_delay"`
	OIPeriod       string   `yaml:"oi_period" default:"5min"`
}

func (c *FeedConfig) SetDefaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = Duration(5 * time.Second)
	}
}

// ModelsConfig points at serialized model artifacts. When a path is empty or
// the file is missing, the rule-based stand-in is used instead.
type ModelsConfig struct {
	PredictorWeights string `yaml:"predictor_weights"`
	PolicyWeights    string `yaml:"policy_weights"`
}

// KillSwitchConfig configures the halt-marker store shared with the
// killswitch CLI.
type KillSwitchConfig struct {
	Store      string `yaml:"store" default:"file" validate:"oneof=file redis"`
	MarkerPath string `yaml:"marker_path" default:"/tmp/EMERGENCY_KILL_SWITCH"`
	AuditLog   string `yaml:"audit_log" default:"logs/kill_switch_audit.log"`
	RedisAddr  string `yaml:"redis_addr" default:"localhost:6379"`
	RedisKey   string `yaml:"redis_key" default:"bot:kill_switch"`
}

// NotificationConfig configures the Telegram channel. Token comes from env.
type NotificationConfig struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	ChatID  string `yaml:"chat_id"`
	Token   string `yaml:"-"`
}

// TradeLogConfig selects the trade log backend.
type TradeLogConfig struct {
	Backend string `yaml:"backend" default:"jsonl" validate:"oneof=jsonl sqlite"`
	Path    string `yaml:"path" default:"logs/trades.jsonl"`
	DBPath  string `yaml:"db_path" default:"data/trades.db"`
}

// MonitoringConfig holds ports for the metrics and health endpoints.
type MonitoringConfig struct {
	MetricsPort int `yaml:"metrics_port" default:"8080" validate:"gte=0,lte=65535"`
	HealthPort  int `yaml:"health_port" default:"8081" validate:"gte=0,lte=65535"`
}

// Load reads the YAML config file, applies defaults, pulls secrets from the
// environment and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Exchange.APIKey = os.Getenv("BYBIT_API_KEY")
	cfg.Exchange.APISecret = os.Getenv("BYBIT_API_SECRET")
	cfg.Notifications.Token = os.Getenv("TELEGRAM_TOKEN")
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		cfg.Notifications.ChatID = chat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against the struct tags plus a few
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if !c.Bot.Simulation && c.Exchange.APIKey == "" {
		return fmt.Errorf("live trading requires BYBIT_API_KEY to be set")
	}
	if c.Notifications.Enabled && c.Notifications.ChatID == "" {
		return fmt.Errorf("notifications enabled but no chat id configured")
	}
	return nil
}
