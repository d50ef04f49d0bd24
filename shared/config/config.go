package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type TelegramConfig struct {
	BotToken          string  `mapstructure:"bot_token"`
	OpsChatID         int64   `mapstructure:"ops_chat_id"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type BitqueryConfig struct {
	Endpoint          string  `mapstructure:"endpoint"`
	APIKey            string  `mapstructure:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type MonitorConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff        time.Duration `mapstructure:"error_backoff"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	BondingThresholds   []float64     `mapstructure:"-"`
	MarketCapThresholds []float64     `mapstructure:"-"`
	ListLimit           int           `mapstructure:"list_limit"`
	GraduatingMin       float64       `mapstructure:"graduating_min"`
}

// CurveConfig holds the venue constants of the bonding curve being watched.
type CurveConfig struct {
	ProgramAddress      string `mapstructure:"program_address"`
	TotalSupply         uint64 `mapstructure:"total_supply"`
	ReservedTokens      uint64 `mapstructure:"reserved_tokens"`
	InitialRealReserves uint64 `mapstructure:"initial_real_reserves"`
}

// Config defines the global configuration structure
type Config struct {
	App struct {
		Port        string `mapstructure:"port"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"app"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Helius struct {
		RPCURL string `mapstructure:"rpc_url"`
	} `mapstructure:"helius"`

	DexScreener struct {
		Enabled bool   `mapstructure:"enabled"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"dexscreener"`

	Telegram TelegramConfig `mapstructure:"telegram"`
	Bitquery BitqueryConfig `mapstructure:"bitquery"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Curve    CurveConfig    `mapstructure:"curve"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("helius.rpc_url", "")
	v.SetDefault("dexscreener.enabled", true)
	v.SetDefault("dexscreener.base_url", "https://api.dexscreener.com/tokens/v1/solana")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.ops_chat_id", 0)
	v.SetDefault("telegram.messages_per_second", 25)
	v.SetDefault("telegram.burst", 5)

	v.SetDefault("bitquery.endpoint", "https://streaming.bitquery.io/eap")
	v.SetDefault("bitquery.api_key", "")
	v.SetDefault("bitquery.requests_per_second", 5)
	v.SetDefault("bitquery.burst", 5)

	v.SetDefault("monitor.poll_interval", "30s")
	v.SetDefault("monitor.error_backoff", "60s")
	v.SetDefault("monitor.fetch_timeout", "20s")
	v.SetDefault("monitor.bonding_thresholds", []float64{50, 75, 90, 95, 99})
	v.SetDefault("monitor.market_cap_thresholds", []float64{10000, 50000, 100000, 500000, 1000000})
	v.SetDefault("monitor.list_limit", 10)
	v.SetDefault("monitor.graduating_min", 95)

	v.SetDefault("curve.program_address", "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	v.SetDefault("curve.total_supply", 1_000_000_000)
	v.SetDefault("curve.reserved_tokens", 206_900_000)
	v.SetDefault("curve.initial_real_reserves", 793_100_000)
}

// LoadConfig merges defaults, an optional yaml file, environment variables and flags.
// Nested keys map to APP_ prefixed variables (monitor.poll_interval -> APP_MONITOR_POLL_INTERVAL);
// the well-known credentials are also bound to their bare names.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	bindings := map[string]string{
		"app.port":             "PORT",
		"app.environment":      "ENVIRONMENT",
		"logging.level":        "LOG_LEVEL",
		"database.url":         "DATABASE_URL",
		"helius.rpc_url":       "HELIUS_RPC_URL",
		"telegram.bot_token":   "TELEGRAM_BOT_TOKEN",
		"telegram.ops_chat_id": "TELEGRAM_OPS_CHAT_ID",
		"bitquery.api_key":     "BITQUERY_API_KEY",
		"bitquery.endpoint":    "BITQUERY_ENDPOINT",
	}
	for key, envName := range bindings {
		if err := v.BindEnv(key, "APP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), envName); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", envName, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			log.Printf("INFO: Config file %s not found, using defaults and environment", path)
		} else {
			log.Printf("INFO: Loaded configuration from file: %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	// Threshold lists are decoded by hand; env values arrive as "50, 75,90".
	var err error
	if cfg.Monitor.BondingThresholds, err = getFloatSlice(v, "monitor.bonding_thresholds"); err != nil {
		return nil, err
	}
	if cfg.Monitor.MarketCapThresholds, err = getFloatSlice(v, "monitor.market_cap_thresholds"); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func getFloatSlice(v *viper.Viper, key string) ([]float64, error) {
	switch typed := v.Get(key).(type) {
	case nil:
		return nil, nil
	case []float64:
		return typed, nil
	case []interface{}:
		out := make([]float64, 0, len(typed))
		for _, item := range typed {
			f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprintf("%v", item)), 64)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid number %v", key, item)
			}
			out = append(out, f)
		}
		return out, nil
	case []string:
		return parseFloats(key, typed)
	case string:
		return parseFloats(key, strings.Split(typed, ","))
	default:
		return nil, fmt.Errorf("%s: unsupported type %T", key, typed)
	}
}

func parseFloats(key string, parts []string) ([]float64, error) {
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid number %q", key, p)
		}
		out = append(out, f)
	}
	return out, nil
}

// Validate reports every missing credential and inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.Bitquery.APIKey == "" {
		errs = append(errs, errors.New("BITQUERY_API_KEY is required"))
	}
	if err := c.ValidateMonitor(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateMonitor checks intervals, thresholds and curve constants only.
func (c *Config) ValidateMonitor() error {
	var errs []error
	m := c.Monitor
	if m.PollInterval <= 0 {
		errs = append(errs, errors.New("monitor.poll_interval must be positive"))
	}
	if m.ErrorBackoff <= m.PollInterval {
		errs = append(errs, fmt.Errorf("monitor.error_backoff (%s) must be longer than monitor.poll_interval (%s)", m.ErrorBackoff, m.PollInterval))
	}
	if m.FetchTimeout <= 0 {
		errs = append(errs, errors.New("monitor.fetch_timeout must be positive"))
	}
	if err := ascending("monitor.bonding_thresholds", m.BondingThresholds); err != nil {
		errs = append(errs, err)
	}
	for _, t := range m.BondingThresholds {
		if t < 0 || t > 100 {
			errs = append(errs, fmt.Errorf("monitor.bonding_thresholds: %g outside [0,100]", t))
			break
		}
	}
	if err := ascending("monitor.market_cap_thresholds", m.MarketCapThresholds); err != nil {
		errs = append(errs, err)
	}
	if m.GraduatingMin < 0 || m.GraduatingMin > 100 {
		errs = append(errs, fmt.Errorf("monitor.graduating_min %g outside [0,100]", m.GraduatingMin))
	}
	if c.Curve.TotalSupply == 0 || c.Curve.InitialRealReserves == 0 {
		errs = append(errs, errors.New("curve.total_supply and curve.initial_real_reserves must be positive"))
	}
	return errors.Join(errs...)
}

func ascending(key string, values []float64) error {
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			return fmt.Errorf("%s must be strictly ascending, got %v", key, values)
		}
	}
	return nil
}
