package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultGatewayBaseURL is the Cloud API endpoint used when the config
// does not override it.
const DefaultGatewayBaseURL = "https://graph.facebook.com/v19.0"

// DefaultSendTimeout bounds one gateway round-trip.
const DefaultSendTimeout = 15 * time.Second

// Config represents the global ~/.inbox/config.toml.
type Config struct {
	DefaultSession string        `toml:"default_session"`
	Gateway        GatewayConfig `toml:"gateway"`
	Webhook        WebhookConfig `toml:"webhook"`
}

// GatewayConfig holds the Cloud API credentials for outbound sends.
type GatewayConfig struct {
	BaseURL            string `toml:"base_url"`
	PhoneNumberID      string `toml:"phone_number_id"`
	Token              string `toml:"token"`
	SendTimeoutSeconds int    `toml:"send_timeout_seconds"`
}

// SendTimeout returns the configured gateway timeout, or the default.
func (g GatewayConfig) SendTimeout() time.Duration {
	if g.SendTimeoutSeconds <= 0 {
		return DefaultSendTimeout
	}
	return time.Duration(g.SendTimeoutSeconds) * time.Second
}

// WebhookConfig holds the inbound push-feed listener settings. An empty
// ListenAddr disables the receiver.
type WebhookConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	VerifyToken string `toml:"verify_token"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = DefaultGatewayBaseURL
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
