package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. OPENBOX_LISTEN_ADDR.
const EnvPrefix = "OPENBOX"

// NewViper returns a viper instance seeded with DefaultConfig and bound to
// the environment. When file is empty, openbox.yaml is looked up in the
// working directory.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("openbox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	def := DefaultConfig()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("verbose", def.Verbose)
	v.SetDefault("api_endpoint", def.APIEndpoint)
	v.SetDefault("api_key", def.APIKey)
	v.SetDefault("source_timeout", def.SourceTimeout)
	v.SetDefault("connect_timeout", def.ConnectTimeout)
	v.SetDefault("max_conns", def.MaxConns)
	v.SetDefault("max_conns_per_host", def.MaxConnsPerHost)
	v.SetDefault("client_max_age", def.ClientMaxAge)
	v.SetDefault("outbound_rps", def.OutboundRPS)
	v.SetDefault("sources_file", def.SourcesFile)
	v.SetDefault("session_timeout", def.SessionTimeout)
	v.SetDefault("heartbeat_interval", def.HeartbeatInterval)
	v.SetDefault("cancel_grace", def.CancelGrace)
	v.SetDefault("write_timeout", def.WriteTimeout)
	v.SetDefault("strict_price_filter", def.StrictPriceFilter)
	v.SetDefault("requests_per_minute", def.RequestsPerMinute)
	v.SetDefault("max_clients", def.MaxClients)
	v.SetDefault("client_ttl", def.ClientTTL)
	v.SetDefault("purge_interval", def.PurgeInterval)
	v.SetDefault("stale_search_after", def.StaleSearchAfter)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The automation provider documents its key as MINO_API_KEY.
	_ = v.BindEnv("api_key", EnvPrefix+"_API_KEY", "MINO_API_KEY")

	return v
}

// Load reads the optional config file behind v and decodes the result.
// A missing default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
