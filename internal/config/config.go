// Package config loads the riskguard YAML configuration and holds the
// hot-reloadable rule settings store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the riskguard daemon.
type Config struct {
	Storage     Storage     `yaml:"storage"`
	Server      Server      `yaml:"server"`
	Broker      Broker      `yaml:"broker"`
	Logging     Logging     `yaml:"logging"`
	Enforcement Enforcement `yaml:"enforcement"`
	Quotes      Quotes      `yaml:"quotes"`
	Calendar    Calendar    `yaml:"calendar"`
	Accounts    []Account   `yaml:"accounts"`
	Rules       Rules       `yaml:"rules"`

	// Instruments is the static contract metadata table keyed by symbol.
	// Futures tick parameters are not served by the broker API, so they are
	// configured here.
	Instruments map[string]Instrument `yaml:"instruments"`
}

// Instrument is the pricing metadata for one tradable contract.
type Instrument struct {
	TickSize  float64 `yaml:"tick_size"`
	TickValue float64 `yaml:"tick_value"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the admin API listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Broker holds credentials and endpoints for the broker API.
type Broker struct {
	Provider  string `yaml:"provider"` // "alpaca" or "simulator"
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Enforcement tunes the enforcement coordinator.
type Enforcement struct {
	MaxRetries      int `yaml:"max_retries"`
	RetryBackoffMS  int `yaml:"retry_backoff_ms"`
	TimeoutMS       int `yaml:"timeout_ms"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// Timeout returns the per-call broker timeout.
func (e Enforcement) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// Backoff returns the initial retry backoff.
func (e Enforcement) Backoff() time.Duration {
	return time.Duration(e.RetryBackoffMS) * time.Millisecond
}

// Quotes configures quote staleness and polling.
type Quotes struct {
	StalenessMS    int `yaml:"staleness_ms"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

// Staleness returns the maximum quote age usable for P&L math.
func (q Quotes) Staleness() time.Duration {
	return time.Duration(q.StalenessMS) * time.Millisecond
}

// Calendar configures the holiday calendar.
type Calendar struct {
	Holidays          []string `yaml:"holidays"` // YYYY-MM-DD
	UseBrokerCalendar bool     `yaml:"use_broker_calendar"`
}

// Account describes one monitored account.
type Account struct {
	ID        string `yaml:"id"`
	Timezone  string `yaml:"timezone"`   // e.g. "America/Chicago"
	ResetTime string `yaml:"reset_time"` // "HH:MM" local to Timezone
}

// ---------------------------------------------------------------------------
// Rule settings (hot-reloadable, data not code)
// ---------------------------------------------------------------------------

// Rules holds per-rule settings. Priority lists rule names in evaluation
// order; the first breaching rule wins and no others fire for that event.
// Enabled rules missing from Priority are appended in default order.
type Rules struct {
	Priority []string `yaml:"priority"`

	MaxContracts        MaxContracts        `yaml:"max_contracts"`
	InstrumentContracts InstrumentContracts `yaml:"instrument_contracts"`
	DailyLoss           Threshold           `yaml:"daily_loss"`
	ProfitTarget        Threshold           `yaml:"profit_target"`
	Drawdown            Threshold           `yaml:"drawdown"`
	TradeFrequency      TradeFrequency      `yaml:"trade_frequency"`
	NoStopLoss          NoStopLoss          `yaml:"no_stop_loss"`
	SessionHours        SessionHours        `yaml:"session_hours"`
	AuthLoss            AuthLoss            `yaml:"auth_loss"`
}

// MaxContracts caps the absolute net contract count across instruments.
type MaxContracts struct {
	Enabled bool   `yaml:"enabled"`
	Limit   int    `yaml:"limit"`
	Action  string `yaml:"action"` // "close_all" or "reduce"
}

// InstrumentContracts caps the position size per instrument.
type InstrumentContracts struct {
	Enabled bool           `yaml:"enabled"`
	Limits  map[string]int `yaml:"limits"`
	Action  string         `yaml:"action"` // "close" or "reduce"
}

// Threshold is a simple dollar threshold rule (daily loss, profit target,
// unrealized drawdown). Limits are positive numbers.
type Threshold struct {
	Enabled bool    `yaml:"enabled"`
	Limit   float64 `yaml:"limit"`
}

// TradeFrequency limits trades per rolling minute, hour, and session.
// A zero window limit disables that window.
type TradeFrequency struct {
	Enabled           bool `yaml:"enabled"`
	PerMinute         int  `yaml:"per_minute"`
	PerHour           int  `yaml:"per_hour"`
	PerSession        int  `yaml:"per_session"`
	MinuteCooldownSec int  `yaml:"minute_cooldown_sec"`
	HourCooldownSec   int  `yaml:"hour_cooldown_sec"`
}

// NoStopLoss requires a protective stop within a grace period of a position
// opening.
type NoStopLoss struct {
	Enabled  bool `yaml:"enabled"`
	GraceSec int  `yaml:"grace_sec"`
}

// SessionHours forbids open positions outside the trading window. Open and
// Close are "HH:MM" in the account's timezone. SweepSec is the cadence of
// the periodic re-check so quiet accounts are still flattened at close.
type SessionHours struct {
	Enabled  bool   `yaml:"enabled"`
	Open     string `yaml:"open"`
	Close    string `yaml:"close"`
	SweepSec int    `yaml:"sweep_sec"`
}

// AuthLoss locks the account when the broker reports loss of authorization.
// It only locks; it never closes positions.
type AuthLoss struct {
	Enabled bool `yaml:"enabled"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("BROKER_API_SECRET"); v != "" {
		cfg.Broker.APISecret = v
	}
	if v := os.Getenv("BROKER_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Broker.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Broker.APISecret = v
	}
}

// applyDefaults fills zero values with safe operating defaults.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "riskguard.db")
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Enforcement.MaxRetries == 0 {
		cfg.Enforcement.MaxRetries = 3
	}
	if cfg.Enforcement.RetryBackoffMS == 0 {
		cfg.Enforcement.RetryBackoffMS = 250
	}
	if cfg.Enforcement.TimeoutMS == 0 {
		cfg.Enforcement.TimeoutMS = 5000
	}
	if cfg.Enforcement.RateLimitPerMin == 0 {
		cfg.Enforcement.RateLimitPerMin = 120
	}
	if cfg.Quotes.StalenessMS == 0 {
		cfg.Quotes.StalenessMS = 5000
	}
	if cfg.Quotes.PollIntervalMS == 0 {
		cfg.Quotes.PollIntervalMS = 1000
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Timezone == "" {
			cfg.Accounts[i].Timezone = "America/Chicago"
		}
		if cfg.Accounts[i].ResetTime == "" {
			cfg.Accounts[i].ResetTime = "17:00"
		}
	}
	if cfg.Rules.NoStopLoss.GraceSec == 0 {
		cfg.Rules.NoStopLoss.GraceSec = 120
	}
	if cfg.Rules.SessionHours.SweepSec == 0 {
		cfg.Rules.SessionHours.SweepSec = 30
	}
	if cfg.Rules.TradeFrequency.MinuteCooldownSec == 0 {
		cfg.Rules.TradeFrequency.MinuteCooldownSec = 60
	}
	if cfg.Rules.TradeFrequency.HourCooldownSec == 0 {
		cfg.Rules.TradeFrequency.HourCooldownSec = 600
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("account with empty id")
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		if _, err := time.LoadLocation(a.Timezone); err != nil {
			return fmt.Errorf("account %s: bad timezone %q: %w", a.ID, a.Timezone, err)
		}
		if _, _, err := ParseClock(a.ResetTime); err != nil {
			return fmt.Errorf("account %s: bad reset_time %q: %w", a.ID, a.ResetTime, err)
		}
	}
	for sym, inst := range c.Instruments {
		if inst.TickSize <= 0 || inst.TickValue <= 0 {
			return fmt.Errorf("instrument %s: tick_size and tick_value must be positive", sym)
		}
	}
	if c.Rules.SessionHours.Enabled {
		for _, v := range []string{c.Rules.SessionHours.Open, c.Rules.SessionHours.Close} {
			if _, _, err := ParseClock(v); err != nil {
				return fmt.Errorf("session_hours: bad time %q: %w", v, err)
			}
		}
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock string.
func ParseClock(s string) (hour, minute int, err error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("out of range: %s", s)
	}
	return h, m, nil
}
