package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs"
)

type Telegram struct {
	Token string
	// SourceChannelID откуда читаем сигналы.
	SourceChannelID int64
	// TargetChannelID куда пересылаем сигналы и уведомления.
	TargetChannelID int64
}

type OKX struct {
	APIKey     string
	APISecret  string
	Passphrase string
	BaseURL    string
	WSURL      string
	// Simulated демо-торговля (x-simulated-trading: 1).
	Simulated bool
}

type Binance struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

type Exchange struct {
	Name      string // okx | binance
	OKX       OKX
	Binance   Binance
	RateLimit float64 // запросов в секунду
	RateBurst int
}

type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Risk struct {
	RiskPercent        decimal.Decimal
	MaxLeverage        int
	WalletAllocation   decimal.Decimal
	MarketTolerancePct decimal.Decimal
}

type Signal struct {
	QuoteAsset           string
	AutoStopLoss         bool
	AutoStopLossPct      decimal.Decimal
	ScaleStopByLeverage  bool
	DefaultTakeProfitPct decimal.Decimal
	DefaultAllocationPct decimal.Decimal
	MappingsFile         string
}

type Trading struct {
	CloseAfterTrade bool
	MonitorTimeout  time.Duration
	EntryTimeout    time.Duration
	PollInterval    time.Duration
	AccountRefresh  time.Duration
	DuplicatePolicy string // reject | queue
}

type Notify struct {
	Signals  bool
	Entries  bool
	Fills    bool
	Failures bool
	Rejects  bool
	Profit   bool
	// ProfitManualOnly отчёт о прибыли только по закрытым вручную.
	ProfitManualOnly bool
}

type Store struct {
	Driver     string // memory | postgres | sqlite
	DSN        string
	SQLitePath string
}

type Tracing struct {
	Host string
	Port int
}

// Config ...
type Config struct {
	LogLevel   string
	HealthAddr string

	Telegram Telegram
	Exchange Exchange
	Retry    Retry
	Risk     Risk
	Signal   Signal
	Trading  Trading
	Notify   Notify
	Store    Store
	Tracing  Tracing
}

var defaults = map[string]any{
	"log_level":   "info",
	"health_addr": ":8080",

	"exchange":            "okx",
	"okx_base_url":        "https://www.okx.com",
	"okx_ws_url":          "wss://ws.okx.com:8443/ws/v5/private",
	"okx_simulated":       false,
	"binance_testnet":     false,
	"exchange_rate_limit": 10.0,
	"exchange_rate_burst": 20,

	"retry_max_attempts": 5,
	"retry_base_delay":   "200ms",
	"retry_max_delay":    "5s",

	"default_risk_percent":       "2",
	"max_leverage":               20,
	"wallet_allocation":          "1",
	"market_entry_tolerance_pct": "0.3",

	"quote_asset":               "USDT",
	"enable_auto_sl":            true,
	"auto_sl_percent":           "5",
	"auto_sl_scale_by_leverage": false,
	"default_tp_percent":        "0",
	"default_tp_allocation_pct": "0",
	"symbol_mappings_file":      "",

	"close_positions_after_trade": false,
	"position_monitor_timeout":    "24h",
	"entry_timeout":               "30m",
	"monitor_poll_interval":       "5s",
	"account_refresh_interval":    "30s",
	"duplicate_signal_policy":     "reject",

	"enable_signal_forwarding":          true,
	"enable_entry_notifications":        true,
	"enable_fill_notifications":         true,
	"enable_failure_notifications":      true,
	"enable_reject_notifications":       true,
	"enable_profit_notifications":       true,
	"send_profit_only_for_manual_exits": false,

	"store_driver": "memory",
	"database_dsn": "",
	"sqlite_path":  "data/signal_bot.db",

	"jaeger_host": "",
	"jaeger_port": 6831,
}

// NewConfig .env -> configs/<CONFIG_FILE> -> переменные окружения (приоритет у окружения).
func NewConfig() (*Config, error) {
	_ = godotenv.Load()
	return Load(os.Getenv(configFilePathENV))
}

// Load читает конфиг; file пустой - только окружение и дефолты.
func Load(file string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(resolve(file))
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", file)
		}
	}

	r := reader{v: v}
	cfg := &Config{
		LogLevel:   v.GetString("log_level"),
		HealthAddr: v.GetString("health_addr"),
		Telegram: Telegram{
			Token:           v.GetString("telegram_token"),
			SourceChannelID: v.GetInt64("source_channel_id"),
			TargetChannelID: v.GetInt64("target_channel_id"),
		},
		Exchange: Exchange{
			Name: strings.ToLower(v.GetString("exchange")),
			OKX: OKX{
				APIKey:     v.GetString("okx_api_key"),
				APISecret:  v.GetString("okx_api_secret"),
				Passphrase: v.GetString("okx_passphrase"),
				BaseURL:    v.GetString("okx_base_url"),
				WSURL:      v.GetString("okx_ws_url"),
				Simulated:  v.GetBool("okx_simulated"),
			},
			Binance: Binance{
				APIKey:    v.GetString("binance_api_key"),
				APISecret: v.GetString("binance_api_secret"),
				Testnet:   v.GetBool("binance_testnet"),
			},
			RateLimit: v.GetFloat64("exchange_rate_limit"),
			RateBurst: v.GetInt("exchange_rate_burst"),
		},
		Retry: Retry{
			MaxAttempts: v.GetInt("retry_max_attempts"),
			BaseDelay:   r.duration("retry_base_delay"),
			MaxDelay:    r.duration("retry_max_delay"),
		},
		Risk: Risk{
			RiskPercent:        r.decimal("default_risk_percent"),
			MaxLeverage:        v.GetInt("max_leverage"),
			WalletAllocation:   r.decimal("wallet_allocation"),
			MarketTolerancePct: r.decimal("market_entry_tolerance_pct"),
		},
		Signal: Signal{
			QuoteAsset:           strings.ToUpper(v.GetString("quote_asset")),
			AutoStopLoss:         v.GetBool("enable_auto_sl"),
			AutoStopLossPct:      r.decimal("auto_sl_percent"),
			ScaleStopByLeverage:  v.GetBool("auto_sl_scale_by_leverage"),
			DefaultTakeProfitPct: r.decimal("default_tp_percent"),
			DefaultAllocationPct: r.decimal("default_tp_allocation_pct"),
			MappingsFile:         v.GetString("symbol_mappings_file"),
		},
		Trading: Trading{
			CloseAfterTrade: v.GetBool("close_positions_after_trade"),
			MonitorTimeout:  r.duration("position_monitor_timeout"),
			EntryTimeout:    r.duration("entry_timeout"),
			PollInterval:    r.duration("monitor_poll_interval"),
			AccountRefresh:  r.duration("account_refresh_interval"),
			DuplicatePolicy: strings.ToLower(v.GetString("duplicate_signal_policy")),
		},
		Notify: Notify{
			Signals:          v.GetBool("enable_signal_forwarding"),
			Entries:          v.GetBool("enable_entry_notifications"),
			Fills:            v.GetBool("enable_fill_notifications"),
			Failures:         v.GetBool("enable_failure_notifications"),
			Rejects:          v.GetBool("enable_reject_notifications"),
			Profit:           v.GetBool("enable_profit_notifications"),
			ProfitManualOnly: v.GetBool("send_profit_only_for_manual_exits"),
		},
		Store: Store{
			Driver:     strings.ToLower(v.GetString("store_driver")),
			DSN:        v.GetString("database_dsn"),
			SQLitePath: v.GetString("sqlite_path"),
		},
		Tracing: Tracing{
			Host: v.GetString("jaeger_host"),
			Port: v.GetInt("jaeger_port"),
		},
	}
	if len(r.errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(r.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve голое имя файла ищется в configs/.
func resolve(file string) string {
	if filepath.IsAbs(file) || strings.ContainsRune(file, filepath.Separator) {
		return file
	}
	return filepath.Join(configDir, file)
}

var (
	hundred = decimal.NewFromInt(100)
	ten     = decimal.NewFromInt(10)
	one     = decimal.NewFromInt(1)
)

// Validate пределы как у исходного бота.
func (c *Config) Validate() error {
	var errs []string
	fail := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !c.Risk.RiskPercent.IsPositive() || c.Risk.RiskPercent.GreaterThan(ten) {
		fail("DEFAULT_RISK_PERCENT must be in (0, 10], got %s", c.Risk.RiskPercent)
	}
	if c.Risk.MaxLeverage < 1 || c.Risk.MaxLeverage > 125 {
		fail("MAX_LEVERAGE must be in [1, 125], got %d", c.Risk.MaxLeverage)
	}
	if !c.Risk.WalletAllocation.IsPositive() || c.Risk.WalletAllocation.GreaterThan(one) {
		fail("WALLET_ALLOCATION must be in (0, 1], got %s", c.Risk.WalletAllocation)
	}
	if c.Risk.MarketTolerancePct.IsNegative() {
		fail("MARKET_ENTRY_TOLERANCE_PCT must not be negative")
	}
	if c.Signal.AutoStopLoss && !c.Signal.AutoStopLossPct.IsPositive() {
		fail("AUTO_SL_PERCENT must be positive when ENABLE_AUTO_SL is set")
	}
	if c.Signal.DefaultTakeProfitPct.IsNegative() {
		fail("DEFAULT_TP_PERCENT must not be negative")
	}
	if c.Signal.DefaultAllocationPct.IsNegative() || c.Signal.DefaultAllocationPct.GreaterThan(hundred) {
		fail("DEFAULT_TP_ALLOCATION_PCT must be in [0, 100]")
	}
	if c.Signal.QuoteAsset == "" {
		fail("QUOTE_ASSET is empty")
	}
	switch c.Exchange.Name {
	case "okx", "binance":
	default:
		fail("EXCHANGE must be okx or binance, got %q", c.Exchange.Name)
	}
	if c.Exchange.RateLimit < 0 || c.Exchange.RateBurst < 0 {
		fail("EXCHANGE_RATE_LIMIT and EXCHANGE_RATE_BURST must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		fail("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	switch c.Trading.DuplicatePolicy {
	case "reject", "queue":
	default:
		fail("DUPLICATE_SIGNAL_POLICY must be reject or queue, got %q", c.Trading.DuplicatePolicy)
	}
	if c.Trading.PollInterval <= 0 {
		fail("MONITOR_POLL_INTERVAL must be positive")
	}
	if c.Trading.MonitorTimeout < 0 || c.Trading.EntryTimeout < 0 {
		fail("POSITION_MONITOR_TIMEOUT and ENTRY_TIMEOUT must not be negative")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			fail("DATABASE_DSN is required for STORE_DRIVER=postgres")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			fail("SQLITE_PATH is required for STORE_DRIVER=sqlite")
		}
	default:
		fail("STORE_DRIVER must be memory, postgres or sqlite, got %q", c.Store.Driver)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// reader копит ошибки разбора, чтобы показать их все разом.
type reader struct {
	v    *viper.Viper
	errs []string
}

func (r *reader) decimal(key string) decimal.Decimal {
	raw := strings.TrimSpace(r.v.GetString(key))
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %q is not a number", strings.ToUpper(key), raw))
	}
	return d
}

func (r *reader) duration(key string) time.Duration {
	raw := strings.TrimSpace(r.v.GetString(key))
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %q is not a duration", strings.ToUpper(key), raw))
	}
	return d
}
