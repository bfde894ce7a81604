package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Provider  ProviderConfig  `yaml:"provider"`
	Chains    ChainsConfig    `yaml:"chains"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Digest    DigestConfig    `yaml:"digest"`
	Retention RetentionConfig `yaml:"retention"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Stores    StoresConfig    `yaml:"stores"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	DataDir         string        `yaml:"data_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

// Polling cycle settings for the fetch scheduler
type MonitorConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxInflight   int           `yaml:"max_inflight"`    // bounded concurrent fetches inside a cycle
	BudgetPerHour int           `yaml:"budget_per_hour"` // provider-wide request budget
	DegradedAfter int           `yaml:"degraded_after"`  // consecutive failures before a wallet is degraded
	BackoffFactor float64       `yaml:"backoff_factor"`  // interval multiplier after a 429
	BackoffMax    float64       `yaml:"backoff_max"`
	MaxLookback   int           `yaml:"max_lookback"` // diff bound when the marker left the provider window
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	PriceURL  string        `yaml:"price_url"`
	PriceTTL  time.Duration `yaml:"price_ttl"`
	PerSecond float64       `yaml:"per_second"` // courtesy pacing below the hourly budget
	Timeout   time.Duration `yaml:"timeout"`
}

// Per-chain thresholds, enumerated statically for the supported chains
type ChainConfig struct {
	Enabled           bool   `yaml:"enabled"`
	WalletsFile       string `yaml:"wallets_file"`
	LargeTxThreshold  string `yaml:"large_tx_threshold"`  // native units, decimal string
	LargeUSDThreshold string `yaml:"large_usd_threshold"` // USD, decimal string

	// parsed by Validate
	LargeTx  decimal.Decimal `yaml:"-"`
	LargeUSD decimal.Decimal `yaml:"-"`
}

type ChainsConfig struct {
	BTC  ChainConfig `yaml:"btc"`
	DOGE ChainConfig `yaml:"doge"`
	LTC  ChainConfig `yaml:"ltc"`
}

type ClassifyConfig struct {
	UnusualWindow     time.Duration `yaml:"unusual_window"`     // trailing window for activity comparison
	UnusualMultiplier float64       `yaml:"unusual_multiplier"` // x times the historical average
	BaselineDays      int           `yaml:"baseline_days"`      // history length behind the average
	TrendWindow       time.Duration `yaml:"trend_window"`       // accumulation/distribution trailing window
	NetFlowFraction   float64       `yaml:"net_flow_fraction"`  // |net flow| must reach this fraction of the balance proxy
	AlertMinScore     int           `yaml:"alert_min_score"`    // immediate alert threshold, 0 disables
}

type DigestConfig struct {
	Time       string `yaml:"time"`     // "HH:MM" local to Timezone
	Timezone   string `yaml:"timezone"` // IANA name
	TopEvents  int    `yaml:"top_events"`
	MostActive int    `yaml:"most_active"`
}

type RetentionConfig struct {
	KeepDays int    `yaml:"keep_days"`
	RunTime  string `yaml:"run_time"` // "HH:MM", digest timezone
}

type BloomConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Key      string  `yaml:"key"`
	Capacity int64   `yaml:"capacity"`
	ErrRate  float64 `yaml:"err_rate"`
}

type DedupeConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
	Bloom  BloomConfig   `yaml:"bloom"` // optional RedisBloom prefilter
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	DSN    string                 `yaml:"dsn"`
	Writer ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type PubSubConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type WebhookConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"` // pacing between consecutive sends
}

type DispatchConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

type JWTConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Alg           string        `yaml:"alg"` // RS256
	PublicKeyPath string        `yaml:"public_key_path"`
	Audience      string        `yaml:"audience"`
	Issuer        string        `yaml:"issuer"`
	Leeway        time.Duration `yaml:"leeway"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// RateBucket is one token-bucket dimension of the API rate limiter
type RateBucket struct {
	RefillPerSec int           `yaml:"refill_per_sec"`
	Burst        int           `yaml:"burst"`
	TTL          time.Duration `yaml:"ttl"` // idle key expiry
}

type RateLimitConfig struct {
	ByIP  RateBucket `yaml:"by_ip"`
	ByJWT RateBucket `yaml:"by_jwt"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type PyroscopeConfig struct {
	Enabled    bool              `yaml:"enabled"`
	AppName    string            `yaml:"app_name"`
	ServerAddr string            `yaml:"server_addr"`
	AuthToken  string            `yaml:"auth_token"`
	Tags       map[string]string `yaml:"tags"`
}

type MetricsConfig struct {
	Pyroscope PyroscopeConfig `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 10 * time.Minute
	}
	if c.Monitor.MaxInflight <= 0 {
		c.Monitor.MaxInflight = 4
	}
	if c.Monitor.BudgetPerHour <= 0 {
		c.Monitor.BudgetPerHour = 200 // BlockCypher free tier
	}
	if c.Monitor.DegradedAfter <= 0 {
		c.Monitor.DegradedAfter = 3
	}
	if c.Monitor.BackoffFactor <= 1 {
		c.Monitor.BackoffFactor = 2.0
	}
	if c.Monitor.BackoffMax <= 1 {
		c.Monitor.BackoffMax = 4.0
	}
	if c.Monitor.MaxLookback <= 0 {
		c.Monitor.MaxLookback = 25
	}
	if c.Monitor.FetchTimeout <= 0 {
		c.Monitor.FetchTimeout = 15 * time.Second
	}
	if c.Provider.PriceTTL <= 0 {
		c.Provider.PriceTTL = 5 * time.Minute
	}
	if c.Provider.PerSecond <= 0 {
		c.Provider.PerSecond = 2.8
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = 10 * time.Second
	}
	if c.Classify.UnusualWindow <= 0 {
		c.Classify.UnusualWindow = 24 * time.Hour
	}
	if c.Classify.UnusualMultiplier <= 0 {
		c.Classify.UnusualMultiplier = 3.0
	}
	if c.Classify.BaselineDays <= 0 {
		c.Classify.BaselineDays = 30
	}
	if c.Classify.TrendWindow <= 0 {
		c.Classify.TrendWindow = 7 * 24 * time.Hour
	}
	if c.Classify.NetFlowFraction <= 0 {
		c.Classify.NetFlowFraction = 0.10
	}
	if c.Digest.Time == "" {
		c.Digest.Time = "20:00"
	}
	if c.Digest.Timezone == "" {
		c.Digest.Timezone = "America/New_York"
	}
	if c.Digest.TopEvents <= 0 {
		c.Digest.TopEvents = 5
	}
	if c.Digest.MostActive <= 0 {
		c.Digest.MostActive = 5
	}
	if c.Retention.KeepDays <= 0 {
		c.Retention.KeepDays = 30
	}
	if c.Retention.RunTime == "" {
		c.Retention.RunTime = "03:30"
	}
	if c.Dedupe.TTL <= 0 {
		c.Dedupe.TTL = 45 * 24 * time.Hour // outlives the raw retention window
	}
	if c.Dedupe.Prefix == "" {
		c.Dedupe.Prefix = "whale:seen:"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "data"
	}

	defaultChain(&c.Chains.BTC, "top_100_bitcoin_wallets.txt", "50", "1000000")
	defaultChain(&c.Chains.DOGE, "top_100_dogecoin_wallets.txt", "10000000", "500000")
	defaultChain(&c.Chains.LTC, "top_100_litecoin_wallets.txt", "5000", "500000")
}

func defaultChain(cc *ChainConfig, walletsFile, largeTx, largeUSD string) {
	if cc.WalletsFile == "" {
		cc.WalletsFile = walletsFile
	}
	if cc.LargeTxThreshold == "" {
		cc.LargeTxThreshold = largeTx
	}
	if cc.LargeUSDThreshold == "" {
		cc.LargeUSDThreshold = largeUSD
	}
}

// Validate fails fast on infeasible or malformed settings so that bad config is
// a startup error, never a provider 429 discovered mid-run.
func (c *Config) Validate() error {
	if c.Monitor.PollInterval < 5*time.Minute {
		return fmt.Errorf("monitor.poll_interval %s is below the 5m provider floor", c.Monitor.PollInterval)
	}
	if c.Monitor.BackoffFactor > c.Monitor.BackoffMax {
		return fmt.Errorf("monitor.backoff_factor %.1f exceeds backoff_max %.1f", c.Monitor.BackoffFactor, c.Monitor.BackoffMax)
	}

	if _, err := ParseClock(c.Digest.Time); err != nil {
		return fmt.Errorf("digest.time: %w", err)
	}
	if _, err := ParseClock(c.Retention.RunTime); err != nil {
		return fmt.Errorf("retention.run_time: %w", err)
	}
	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		return fmt.Errorf("digest.timezone %q: %w", c.Digest.Timezone, err)
	}

	if c.Classify.NetFlowFraction >= 1 {
		return fmt.Errorf("classify.net_flow_fraction %.2f must be below 1", c.Classify.NetFlowFraction)
	}

	enabled := 0
	for _, p := range []struct {
		name string
		cc   *ChainConfig
	}{
		{"btc", &c.Chains.BTC},
		{"doge", &c.Chains.DOGE},
		{"ltc", &c.Chains.LTC},
	} {
		if !p.cc.Enabled {
			continue
		}
		enabled++

		var err error
		if p.cc.LargeTx, err = decimal.NewFromString(p.cc.LargeTxThreshold); err != nil {
			return fmt.Errorf("chains.%s.large_tx_threshold %q: %w", p.name, p.cc.LargeTxThreshold, err)
		}
		if p.cc.LargeUSD, err = decimal.NewFromString(p.cc.LargeUSDThreshold); err != nil {
			return fmt.Errorf("chains.%s.large_usd_threshold %q: %w", p.name, p.cc.LargeUSDThreshold, err)
		}
		if !p.cc.LargeTx.IsPositive() {
			return fmt.Errorf("chains.%s.large_tx_threshold must be positive", p.name)
		}
	}
	if enabled == 0 {
		return errors.New("no chains enabled")
	}

	if c.Dispatch.Webhook.Enabled && c.Dispatch.Webhook.URL == "" {
		return errors.New("dispatch.webhook.url is required when the webhook is enabled")
	}

	return nil
}

// ChainsEnabled returns the enabled chains in stable order
func (c *Config) ChainsEnabled() []string {
	out := make([]string, 0, 3)
	if c.Chains.BTC.Enabled {
		out = append(out, "BTC")
	}
	if c.Chains.DOGE.Enabled {
		out = append(out, "DOGE")
	}
	if c.Chains.LTC.Enabled {
		out = append(out, "LTC")
	}
	return out
}

// ForChain returns the per-chain block for a chain name; ok=false for unknown
func (c *Config) ForChain(name string) (ChainConfig, bool) {
	switch name {
	case "BTC":
		return c.Chains.BTC, c.Chains.BTC.Enabled
	case "DOGE":
		return c.Chains.DOGE, c.Chains.DOGE.Enabled
	case "LTC":
		return c.Chains.LTC, c.Chains.LTC.Enabled
	}
	return ChainConfig{}, false
}

// ClockTime is a wall-clock "HH:MM" point in some location
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClock(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d", &ct.Hour, &ct.Minute); err != nil {
		return ct, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
		return ct, fmt.Errorf("clock time %q out of range", s)
	}
	return ct, nil
}

// Next returns the first instant at this clock time strictly after t in loc
func (ct ClockTime) Next(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), ct.Hour, ct.Minute, 0, 0, loc)
	if !next.After(lt) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
