// Package config loads the monitor's configuration from a TOML file with
// MONITOR_-prefixed environment variable overrides, via spf13/viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config mirrors the recognized options in §6.
type Config struct {
	Log string `mapstructure:"log"`

	ExecutionHTTPURL         string   `mapstructure:"execution_http_url"`
	MainExecutionWSURL       string   `mapstructure:"main_execution_ws_url"`
	SecondaryExecutionWSURLs []string `mapstructure:"secondary_execution_ws_urls"`
	ConsensusHTTPURL         string   `mapstructure:"consensus_http_url"`
	SyncCheckEnabled         bool     `mapstructure:"sync_check_enabled"`

	DBEnabled    bool   `mapstructure:"db_enabled"`
	DBConnection string `mapstructure:"db_connection"`

	MetricsEndpoint string `mapstructure:"metrics_endpoint"`
	NonceCacheSize  int    `mapstructure:"nonce_cache_size"`
	PropagationTime int    `mapstructure:"propagation_time"`

	APIDBConnection    string `mapstructure:"api_db_connection"`
	APIHost            string `mapstructure:"api_host"`
	APIPort            int    `mapstructure:"api_port"`
	APIMaxResponseRows int    `mapstructure:"api_max_response_rows"`
}

// ExecutionWSURLs returns the main WS URL followed by every secondary, the
// ordering that fixes node id 0 as primary.
func (c *Config) ExecutionWSURLs() []string {
	urls := make([]string, 0, 1+len(c.SecondaryExecutionWSURLs))
	urls = append(urls, c.MainExecutionWSURL)
	urls = append(urls, c.SecondaryExecutionWSURLs...)
	return urls
}

// Quorum is derived as len(execution_ws_urls) — "unanimous across configured
// sources" — per the resolved Open Question in §9.
func (c *Config) Quorum() int {
	return len(c.ExecutionWSURLs())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log", "info,monitor=debug")
	v.SetDefault("sync_check_enabled", true)
	v.SetDefault("metrics_endpoint", "127.0.0.1:8080")
	v.SetDefault("nonce_cache_size", 1000)
	v.SetDefault("propagation_time", 12)
	v.SetDefault("api_host", "127.0.0.1")
	v.SetDefault("api_port", 8090)
	v.SetDefault("api_max_response_rows", 1000)
}

// configKeys lists every recognized mapstructure key. AutomaticEnv alone
// only resolves a MONITOR_-prefixed override for a key viper already knows
// about, either because it carries a default or appears in the loaded TOML
// file; keys that have neither (e.g. execution_http_url when it is supplied
// purely via the environment) are otherwise invisible to Unmarshal. Binding
// each key explicitly makes every field in Config overridable by environment
// alone.
var configKeys = []string{
	"log",
	"execution_http_url",
	"main_execution_ws_url",
	"secondary_execution_ws_urls",
	"consensus_http_url",
	"sync_check_enabled",
	"db_enabled",
	"db_connection",
	"metrics_endpoint",
	"nonce_cache_size",
	"propagation_time",
	"api_db_connection",
	"api_host",
	"api_port",
	"api_max_response_rows",
}

// Load reads configuration from path (a TOML file) if non-empty, applies
// defaults, and overlays environment variables prefixed MONITOR_ (e.g.
// MONITOR_EXECUTION_HTTP_URL overrides execution_http_url).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
