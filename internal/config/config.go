package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ============================================================
// MAIN CONFIG
// ============================================================

type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Poller    PollerConfig    `yaml:"poller"`
	Registry  RegistryConfig  `yaml:"registry"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Log       LogConfig       `yaml:"log"`
}

// ============================================================
// BACKEND / POLLER CONFIG
// ============================================================

type BackendConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

type PollerConfig struct {
	Network       string `yaml:"network"`
	Interval      string `yaml:"interval"`
	BatchSize     int    `yaml:"batch_size"`
	DefaultWindow int    `yaml:"default_window"`
	MaxWindow     int    `yaml:"max_window"`
}

type RegistryConfig struct {
	DefaultNetworks []string `yaml:"default_networks"`
	DefaultClients  []string `yaml:"default_clients"`
	RefreshInterval string   `yaml:"refresh_interval"`
}

// ============================================================
// DASHBOARD CONFIG
// ============================================================

type DashboardConfig struct {
	Port       int              `yaml:"port"`
	HideLogs   bool             `yaml:"hide_logs"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

type PrometheusConfig struct {
	MetricsPrefix string `yaml:"metrics_prefix"`
	Port          int    `yaml:"port"`
}

// ============================================================
// ALERTS CONFIG
// ============================================================

type AlertsConfig struct {
	CheckInterval string        `yaml:"check_interval"`
	DashboardURL  string        `yaml:"dashboard_url"`
	Channels      AlertChannels `yaml:"channels"`
	Rules         AlertRules    `yaml:"rules"`
}

type AlertChannels struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Slack     SlackConfig     `yaml:"slack"`
	PagerDuty PagerDutyConfig `yaml:"pagerduty"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Webhook string `yaml:"webhook"`
}

type PagerDutyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Severity string `yaml:"severity"`
}

type AlertRules struct {
	FetchFailing      AlertRule          `yaml:"slot_fetch_failing"`
	ClientAbsent      AlertRule          `yaml:"client_absent"`
	ClientMissedRatio AlertThresholdRule `yaml:"client_missed_ratio"`
}

type AlertRule struct {
	FireAfter string `yaml:"fire_after"`
}

type AlertThresholdRule struct {
	Threshold string `yaml:"threshold"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	NoColor bool   `yaml:"no_color"`
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

// ParseDuration parses duration strings like "12s", "5m". Empty or invalid input yields 0.
func ParseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// ParsePercent parses percent strings like "50%".
func ParsePercent(s string) int {
	if s == "" {
		return 0
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return val
}

// Enabled returns true if the rule has fire_after set
func (r AlertRule) Enabled() bool {
	return r.FireAfter != ""
}

func (r AlertRule) FireDuration() time.Duration {
	return ParseDuration(r.FireAfter)
}

func (r AlertThresholdRule) Enabled() bool {
	return r.Threshold != ""
}

func (r AlertThresholdRule) ThresholdPercent() int {
	return ParsePercent(r.Threshold)
}

func (c BackendConfig) TimeoutDuration() time.Duration {
	return ParseDuration(c.Timeout)
}

func (c PollerConfig) IntervalDuration() time.Duration {
	return ParseDuration(c.Interval)
}

// ============================================================
// LOAD FUNCTION
// ============================================================

// Load reads the YAML config at path, loads an optional .env file from the same
// directory, overlays INTEROP_* environment variables and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// .env never overrides variables already present in the environment
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied, used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("INTEROP_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("INTEROP_NETWORK"); v != "" {
		c.Poller.Network = v
	}
	if v := os.Getenv("INTEROP_DASHBOARD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Dashboard.Port = port
		}
	}
	if v := os.Getenv("INTEROP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("INTEROP_TELEGRAM_TOKEN"); v != "" {
		c.Alerts.Channels.Telegram.Token = v
	}
	if v := os.Getenv("INTEROP_TELEGRAM_CHAT_ID"); v != "" {
		c.Alerts.Channels.Telegram.ChatID = v
	}
	if v := os.Getenv("INTEROP_DISCORD_WEBHOOK"); v != "" {
		c.Alerts.Channels.Discord.Webhook = v
	}
	if v := os.Getenv("INTEROP_SLACK_WEBHOOK"); v != "" {
		c.Alerts.Channels.Slack.Webhook = v
	}
	if v := os.Getenv("INTEROP_PAGERDUTY_KEY"); v != "" {
		c.Alerts.Channels.PagerDuty.APIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:5000/api"
	}
	c.Backend.URL = strings.TrimRight(c.Backend.URL, "/")
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "30s"
	}
	if c.Poller.Network == "" {
		c.Poller.Network = "mainnet"
	}
	if c.Poller.Interval == "" || c.Poller.IntervalDuration() <= 0 {
		c.Poller.Interval = "12s"
	}
	if c.Poller.BatchSize <= 0 {
		c.Poller.BatchSize = 20
	}
	if c.Poller.MaxWindow <= 0 {
		c.Poller.MaxWindow = 20
	}
	if c.Poller.DefaultWindow <= 0 {
		c.Poller.DefaultWindow = 5
	}
	if c.Poller.DefaultWindow > c.Poller.MaxWindow {
		c.Poller.DefaultWindow = c.Poller.MaxWindow
	}
	if len(c.Registry.DefaultNetworks) == 0 {
		c.Registry.DefaultNetworks = []string{"mainnet", "sepolia", "holesky"}
	}
	if len(c.Registry.DefaultClients) == 0 {
		c.Registry.DefaultClients = []string{"lighthouse", "prysm", "teku", "nimbus", "lodestar"}
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8888
	}
	if c.Dashboard.Prometheus.MetricsPrefix == "" {
		c.Dashboard.Prometheus.MetricsPrefix = "interop"
	}
	if c.Dashboard.Prometheus.Port == 0 {
		c.Dashboard.Prometheus.Port = c.Dashboard.Port
	}
	if c.Alerts.DashboardURL == "" {
		c.Alerts.DashboardURL = "http://localhost:" + strconv.Itoa(c.Dashboard.Port)
	}
	c.Alerts.DashboardURL = strings.TrimRight(c.Alerts.DashboardURL, "/")
	if c.Alerts.CheckInterval == "" {
		c.Alerts.CheckInterval = "30s"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
