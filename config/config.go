package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds aggregator configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Verbose    bool   `mapstructure:"verbose"`

	// Automation backend.
	APIEndpoint     string        `mapstructure:"api_endpoint"`
	APIKey          string        `mapstructure:"api_key"`
	SourceTimeout   time.Duration `mapstructure:"source_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
	ClientMaxAge    time.Duration `mapstructure:"client_max_age"`
	OutboundRPS     float64       `mapstructure:"outbound_rps"`
	SourcesFile     string        `mapstructure:"sources_file"`

	// Session supervision.
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	CancelGrace       time.Duration `mapstructure:"cancel_grace"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	StrictPriceFilter bool          `mapstructure:"strict_price_filter"`

	// Admission.
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxClients        int           `mapstructure:"max_clients"`
	ClientTTL         time.Duration `mapstructure:"client_ttl"`
	PurgeInterval     time.Duration `mapstructure:"purge_interval"`
	StaleSearchAfter  time.Duration `mapstructure:"stale_search_after"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8000",
		Verbose:    false,

		APIEndpoint:     "https://agent.tinyfish.ai/v1/automation/run-sse",
		APIKey:          "",
		SourceTimeout:   250 * time.Second,
		ConnectTimeout:  10 * time.Second,
		MaxConns:        20,
		MaxConnsPerHost: 5,
		ClientMaxAge:    time.Hour,
		OutboundRPS:     0,
		SourcesFile:     "",

		SessionTimeout:    5 * time.Minute,
		HeartbeatInterval: time.Second,
		CancelGrace:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		StrictPriceFilter: true,

		RequestsPerMinute: 9,
		MaxClients:        10000,
		ClientTTL:         2 * time.Minute,
		PurgeInterval:     30 * time.Second,
		StaleSearchAfter:  6 * time.Minute,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.APIEndpoint == "" {
		return fmt.Errorf("api endpoint cannot be empty")
	}
	parsedURL, err := url.Parse(c.APIEndpoint)
	if err != nil {
		return fmt.Errorf("invalid api endpoint: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("api endpoint must include a host")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("api endpoint scheme must be http or https")
	}

	if c.SourceTimeout <= 0 {
		return fmt.Errorf("source timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max conns must be positive")
	}
	if c.MaxConnsPerHost <= 0 {
		return fmt.Errorf("max conns per host must be positive")
	}
	if c.MaxConnsPerHost > c.MaxConns {
		return fmt.Errorf("max conns per host (%d) cannot exceed max conns (%d)", c.MaxConnsPerHost, c.MaxConns)
	}
	if c.ClientMaxAge <= 0 {
		return fmt.Errorf("client max age must be positive")
	}
	if c.OutboundRPS < 0 {
		return fmt.Errorf("outbound rps cannot be negative")
	}

	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.HeartbeatInterval >= c.SessionTimeout {
		return fmt.Errorf("heartbeat interval (%s) must be shorter than session timeout (%s)", c.HeartbeatInterval, c.SessionTimeout)
	}
	if c.CancelGrace <= 0 {
		return fmt.Errorf("cancel grace must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be positive")
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("max clients must be positive")
	}
	if c.ClientTTL < time.Minute {
		return fmt.Errorf("client ttl (%s) cannot be shorter than the 1m rate window", c.ClientTTL)
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("purge interval must be positive")
	}
	if c.StaleSearchAfter < c.SessionTimeout {
		return fmt.Errorf("stale search after (%s) cannot be shorter than session timeout (%s)", c.StaleSearchAfter, c.SessionTimeout)
	}

	return nil
}
