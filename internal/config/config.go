// Package config provides configuration management for the automation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/jhalpert/dunder_hedger/internal/models"
)

const (
	// defaultTickCron runs a pass every five minutes during regular
	// trading hours, Monday through Friday.
	defaultTickCron = "*/5 9-16 * * 1-5"
	// defaultTimezone is the exchange timezone.
	defaultTimezone = "America/New_York"
	// defaultStoragePath is used when storage.path is unset.
	defaultStoragePath = "dunder_hedger.db"
	// defaultOrderPollInterval is used when schedule.order_poll_interval is unset.
	defaultOrderPollInterval = "5s"
	// defaultOrderPollTimeout is used when schedule.order_poll_timeout is unset.
	defaultOrderPollTimeout = "2m"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Health      HealthConfig      `yaml:"health"`
	Accounts    []AccountConfig   `yaml:"accounts"`
	RuleSets    []RuleSetConfig   `yaml:"rule_sets"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	APIKey        string `yaml:"api_key"`
	DelayedQuotes bool   `yaml:"delayed_quotes"`
}

// ScheduleConfig defines when automation passes run.
type ScheduleConfig struct {
	TickCron          string `yaml:"tick_cron"` // cron spec for decision passes
	Timezone          string `yaml:"timezone"`
	OrderPollInterval string `yaml:"order_poll_interval"`
	OrderPollTimeout  string `yaml:"order_poll_timeout"`
}

// StorageConfig defines the SQLite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// HealthConfig defines the health/metrics HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// AccountConfig binds one brokerage account to an underlying and a rule set.
type AccountConfig struct {
	ID             string `yaml:"id"`
	Underlying     string `yaml:"underlying"`
	RuleSet        string `yaml:"rule_set"`
	Scale          int    `yaml:"scale"`           // divisor for proxy underlyings, 1 = full size
	HedgeContracts int    `yaml:"hedge_contracts"` // target hedge size when opening
	PreviewOnly    bool   `yaml:"preview_only"`    // never route live orders for this account
}

// RuleSetConfig is the yaml form of a rule set. Numeric semantics live
// in models.RuleSet; this struct only maps field names.
type RuleSetConfig struct {
	Name                  string  `yaml:"name"`
	TradeStartDelayMin    int     `yaml:"trade_start_delay_min"`
	LateCutoff            string  `yaml:"late_cutoff"`
	EnforceLateCutoff     bool    `yaml:"enforce_late_cutoff"`
	GapThreshold          float64 `yaml:"gap_threshold"`
	SpreadWidth           float64 `yaml:"spread_width"`
	MinPremium            float64 `yaml:"min_premium"`
	MaxPremium            float64 `yaml:"max_premium"`
	MaxBidAskWidth        float64 `yaml:"max_bid_ask_width"`
	SpreadSizeFactor      float64 `yaml:"spread_size_factor"`
	HedgeMinDelta         float64 `yaml:"hedge_min_delta"`
	HedgeMaxDelta         float64 `yaml:"hedge_max_delta"`
	HedgeMinDTE           int     `yaml:"hedge_min_dte"`
	HedgeTargetDTE        int     `yaml:"hedge_target_dte"`
	NakedHedgeThetaFactor float64 `yaml:"naked_hedge_theta_factor"`
	PanicThresholdPerUnit float64 `yaml:"panic_threshold_per_unit"`
	PanicMinDropPct       float64 `yaml:"panic_min_drop_pct"`
	RollTriggerMultiplier float64 `yaml:"roll_trigger_multiplier"`
	ProfitTargetFraction  float64 `yaml:"profit_target_fraction"`
}

// RuleSet converts the yaml form into the domain record.
func (r RuleSetConfig) RuleSet() models.RuleSet {
	return models.RuleSet{
		Name:                  r.Name,
		TradeStartDelayMin:    r.TradeStartDelayMin,
		LateCutoff:            r.LateCutoff,
		EnforceLateCutoff:     r.EnforceLateCutoff,
		GapThreshold:          r.GapThreshold,
		SpreadWidth:           r.SpreadWidth,
		MinPremium:            r.MinPremium,
		MaxPremium:            r.MaxPremium,
		MaxBidAskWidth:        r.MaxBidAskWidth,
		SpreadSizeFactor:      r.SpreadSizeFactor,
		HedgeMinDelta:         r.HedgeMinDelta,
		HedgeMaxDelta:         r.HedgeMaxDelta,
		HedgeMinDTE:           r.HedgeMinDTE,
		HedgeTargetDTE:        r.HedgeTargetDTE,
		NakedHedgeThetaFactor: r.NakedHedgeThetaFactor,
		PanicThresholdPerUnit: r.PanicThresholdPerUnit,
		PanicMinDropPct:       r.PanicMinDropPct,
		RollTriggerMultiplier: r.RollTriggerMultiplier,
		ProfitTargetFraction:  r.ProfitTargetFraction,
	}
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// normalizing defaults along the way.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}

	c.normalize()

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Schedule.OrderPollInterval); err != nil {
		return fmt.Errorf("schedule.order_poll_interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Schedule.OrderPollTimeout); err != nil {
		return fmt.Errorf("schedule.order_poll_timeout invalid: %w", err)
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}

	ruleSetNames := make(map[string]bool, len(c.RuleSets))
	for i := range c.RuleSets {
		rules := c.RuleSets[i].RuleSet()
		if err := rules.Validate(); err != nil {
			return fmt.Errorf("rule_sets[%d]: %w", i, err)
		}
		if ruleSetNames[rules.Name] {
			return fmt.Errorf("rule_sets: duplicate name %q", rules.Name)
		}
		ruleSetNames[rules.Name] = true
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.ID == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if a.Underlying == "" {
			return fmt.Errorf("accounts[%d]: underlying is required", i)
		}
		key := a.ID + "/" + a.Underlying
		if seen[key] {
			return fmt.Errorf("accounts[%d]: duplicate account/underlying %s", i, key)
		}
		seen[key] = true
		if !ruleSetNames[a.RuleSet] {
			return fmt.Errorf("accounts[%d]: unknown rule_set %q", i, a.RuleSet)
		}
		if a.Scale < 1 {
			return fmt.Errorf("accounts[%d]: scale must be >= 1", i)
		}
		if a.HedgeContracts <= 0 {
			return fmt.Errorf("accounts[%d]: hedge_contracts must be > 0", i)
		}
	}

	return nil
}

func (c *Config) normalize() {
	if c.Schedule.TickCron == "" {
		c.Schedule.TickCron = defaultTickCron
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.OrderPollInterval == "" {
		c.Schedule.OrderPollInterval = defaultOrderPollInterval
	}
	if c.Schedule.OrderPollTimeout == "" {
		c.Schedule.OrderPollTimeout = defaultOrderPollTimeout
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
	for i := range c.Accounts {
		if c.Accounts[i].Scale == 0 {
			c.Accounts[i].Scale = 1
		}
	}
}

// IsPaperTrading reports whether the process routes to the sandbox.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the configured exchange timezone. Validate has
// already checked it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// OrderPollInterval returns the parsed polling interval.
func (c *Config) OrderPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.OrderPollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// OrderPollTimeout returns the parsed polling deadline.
func (c *Config) OrderPollTimeout() time.Duration {
	d, err := time.ParseDuration(c.Schedule.OrderPollTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}
