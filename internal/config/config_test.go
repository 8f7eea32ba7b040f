package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: info

broker:
  api_key: ${DH_TEST_API_KEY}

schedule:
  timezone: America/New_York

storage:
  path: /tmp/dh-test.db

health:
  enabled: true

rule_sets:
  - name: spx-default
    trade_start_delay_min: 45
    late_cutoff: "13:30"
    enforce_late_cutoff: true
    gap_threshold: 0.01
    spread_width: 25
    min_premium: 0.80
    max_premium: 2.00
    max_bid_ask_width: 0.40
    spread_size_factor: 2.0
    hedge_min_delta: 0.20
    hedge_max_delta: 0.60
    hedge_min_dte: 90
    hedge_target_dte: 270
    naked_hedge_theta_factor: 5.0
    panic_threshold_per_unit: 4000
    panic_min_drop_pct: 0.005
    roll_trigger_multiplier: 2.5
    profit_target_fraction: 0.70

accounts:
  - id: acct-1
    underlying: SPX
    rule_set: spx-default
    hedge_contracts: 2
  - id: acct-2
    underlying: XSP
    rule_set: spx-default
    scale: 10
    hedge_contracts: 1
    preview_only: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("DH_TEST_API_KEY", "secret-token")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, "secret-token", cfg.Broker.APIKey, "env vars expand before parsing")
	assert.Equal(t, "/tmp/dh-test.db", cfg.Storage.Path)

	// Defaults normalized during validation.
	assert.Equal(t, defaultTickCron, cfg.Schedule.TickCron)
	assert.Equal(t, ":8080", cfg.Health.Addr)
	assert.Equal(t, 1, cfg.Accounts[0].Scale, "missing scale defaults to full size")
	assert.Equal(t, 10, cfg.Accounts[1].Scale)
	assert.True(t, cfg.Accounts[1].PreviewOnly)

	rules := cfg.RuleSets[0].RuleSet()
	assert.Equal(t, "spx-default", rules.Name)
	assert.InDelta(t, 2.5, rules.RollTriggerMultiplier, 1e-9)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Setenv("DH_TEST_API_KEY", "secret-token")
	_, err := Load(writeConfig(t, validYAML+"\nmystery_knob: 42\n"))
	assert.ErrorContains(t, err, "parsing config")
}

func TestValidateFailures(t *testing.T) {
	t.Setenv("DH_TEST_API_KEY", "secret-token")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Environment.Mode = "yolo" }, "environment.mode"},
		{"missing api key", func(c *Config) { c.Broker.APIKey = "" }, "broker.api_key"},
		{"no accounts", func(c *Config) { c.Accounts = nil }, "at least one account"},
		{"unknown rule set", func(c *Config) { c.Accounts[0].RuleSet = "nope" }, "unknown rule_set"},
		{"zero hedge contracts", func(c *Config) { c.Accounts[0].HedgeContracts = 0 }, "hedge_contracts"},
		{"duplicate account pair", func(c *Config) { c.Accounts[1] = c.Accounts[0] }, "duplicate account/underlying"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"bad poll interval", func(c *Config) { c.Schedule.OrderPollInterval = "soon" }, "order_poll_interval"},
		{"invalid rule set", func(c *Config) { c.RuleSets[0].RollTriggerMultiplier = 0.5 }, "roll_trigger_multiplier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}
