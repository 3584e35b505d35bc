package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the publish engine.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	EtcdEndpoints     []string          `mapstructure:"etcd_endpoints"`
	EtcdTimeout       time.Duration     `mapstructure:"etcd_timeout"`
	HttpListenAddr    string            `mapstructure:"http_listen_addr"`
	DispatchInterval  time.Duration     `mapstructure:"dispatch_interval"`
	AdapterTimeout    time.Duration     `mapstructure:"adapter_timeout"`
	SignalTimeout     time.Duration     `mapstructure:"signal_timeout"`
	SignalProviderURL string            `mapstructure:"signal_provider_url"`
	ChannelBaseURLs   map[string]string `mapstructure:"channel_base_urls"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetDefault("etcd_timeout", "5s")
	viper.SetDefault("http_listen_addr", ":8080")
	viper.SetDefault("dispatch_interval", "15s")
	viper.SetDefault("adapter_timeout", "30s")
	viper.SetDefault("signal_timeout", "5s")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file; defaults and env vars carry the load.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
